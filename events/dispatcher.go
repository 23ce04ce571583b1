package events

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jamiemulcahy/yart/domain"
)

// Sink delivers a batch of events somewhere durable.
type Sink interface {
	Deliver(ctx context.Context, events []domain.Event) error
}

// Config sizes the worker pool.
type Config struct {
	Workers        int
	Buffer         int
	HandoffTimeout time.Duration
	EnqueueTimeout time.Duration
}

// Dispatcher hands events from room engines to a pool of workers that deliver
// them to a Sink. Publish never blocks longer than the handoff timeout.
type Dispatcher struct {
	sink Sink
	log  *log.Logger
	cfg  Config

	mu     sync.RWMutex
	jobs   chan domain.Event
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(sink Sink, cfg Config, logger *log.Logger) *Dispatcher {
	if sink == nil {
		panic("events.NewDispatcher: sink is nil")
	}
	if logger == nil {
		panic("Logger is not initialized")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 30 * time.Second
	}
	d := &Dispatcher{
		sink: sink,
		log:  logger,
		cfg:  cfg,
		jobs: make(chan domain.Event, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.EnqueueTimeout, cfg.HandoffTimeout)
	return d
}

// Publish queues ev for delivery. Events are dropped with a warning when the
// pool stays saturated past the handoff timeout.
func (d *Dispatcher) Publish(ev domain.Event) {
	if !d.tryEnqueue(ev) {
		d.log.WithFields(log.Fields{"room": ev.RoomID, "kind": ev.Kind}).Warn("event dropped, dispatcher saturated")
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for ev := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.EnqueueTimeout)
		err := d.sink.Deliver(ctx, []domain.Event{ev})
		cancel()

		if err != nil {
			d.log.Errorf("event delivery failed, err: %v, room: %s, kind: %s, worker: %d", err, ev.RoomID, ev.Kind, id)
		}
	}
}

func (d *Dispatcher) tryEnqueue(ev domain.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.jobs <- ev:
		return true
	default:
	}

	if d.cfg.HandoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(d.cfg.HandoffTimeout)
	defer timer.Stop()

	select {
	case d.jobs <- ev:
		return true
	case <-timer.C:
		return false
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Deliver(context.Context, []domain.Event) error { return nil }
