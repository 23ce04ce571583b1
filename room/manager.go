package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jamiemulcahy/yart/domain"
	"github.com/jamiemulcahy/yart/storage"
)

const tracerName = "github.com/jamiemulcahy/yart/room"

// Options configures a Manager. Store and Log are required.
type Options struct {
	Store          storage.Store
	Templates      domain.Templates
	Log            *log.Logger
	Sink           EventSink
	TracerProvider trace.TracerProvider
	InboxSize      int
	IdleTTL        time.Duration
	Now            func() time.Time
	NewID          func() string
}

type engineDeps struct {
	store     storage.Store
	sink      EventSink
	tracer    trace.Tracer
	log       *log.Logger
	now       func() time.Time
	newID     func() string
	inboxSize int
}

// Created is returned once, to the caller that created the room.
type Created struct {
	RoomID     string `json:"roomId"`
	AdminToken string `json:"adminToken"`
}

// Manager owns the running room engines, starting them on demand and stopping
// them once they have been idle for IdleTTL.
type Manager struct {
	deps      engineDeps
	templates domain.Templates
	idleTTL   time.Duration

	mu       sync.Mutex
	engines  map[string]*Engine
	starting map[string]*pendingStart
	closed   bool
}

// pendingStart is a room whose state is still loading. Callers for the same
// room wait on done instead of loading it again.
type pendingStart struct {
	done   chan struct{}
	engine *Engine
	err    error
}

func NewManager(opts Options) *Manager {
	if opts.Store == nil {
		panic("room.NewManager: store is nil")
	}
	if opts.Log == nil {
		panic("Logger is not initialized")
	}
	if opts.Templates == nil {
		opts.Templates = domain.BuiltinTemplates()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 256
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Manager{
		deps: engineDeps{
			store:     opts.Store,
			sink:      opts.Sink,
			tracer:    opts.TracerProvider.Tracer(tracerName),
			log:       opts.Log,
			now:       opts.Now,
			newID:     opts.NewID,
			inboxSize: opts.InboxSize,
		},
		templates: opts.Templates,
		idleTTL:   opts.IdleTTL,
		engines:   make(map[string]*Engine),
		starting:  make(map[string]*pendingStart),
	}
}

// Create initializes a new room from the named template and returns its id and
// admin secret. An empty template selects the default one.
func (m *Manager) Create(ctx context.Context, template string) (Created, error) {
	if template == "" {
		template = domain.DefaultTemplate
	}
	token := uuid.NewString()
	roomID := m.deps.newID()
	e, err := m.Get(ctx, roomID)
	if err != nil {
		return Created{}, err
	}
	if err := e.initialize(ctx, template, token, m.templates.Columns(template)); err != nil {
		return Created{}, err
	}
	m.deps.log.WithFields(log.Fields{"room": roomID, "template": template}).Info("room created")
	return Created{RoomID: roomID, AdminToken: token}, nil
}

// Get returns the running engine for roomID, starting it if needed.
func (m *Manager) Get(ctx context.Context, roomID string) (*Engine, error) {
	if roomID == "" || len(roomID) > domain.MaxIDLength {
		return nil, ErrInvalidRoomID
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrEngineStopped
	}
	if e, ok := m.engines[roomID]; ok {
		m.mu.Unlock()
		return e, nil
	}
	p, ok := m.starting[roomID]
	if !ok {
		p = &pendingStart{done: make(chan struct{})}
		m.starting[roomID] = p
		go m.start(ctx, roomID, p)
	}
	m.mu.Unlock()

	select {
	case <-p.done:
		return p.engine, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// start loads roomID without holding the manager lock, so a slow load only
// delays callers of that room.
func (m *Manager) start(ctx context.Context, roomID string, p *pendingStart) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	e, err := startEngine(ctx, roomID, m.deps)

	var orphan *Engine
	m.mu.Lock()
	delete(m.starting, roomID)
	switch {
	case err != nil:
	case m.closed:
		orphan, e, err = e, nil, ErrEngineStopped
	default:
		m.engines[roomID] = e
	}
	p.engine, p.err = e, err
	m.mu.Unlock()
	close(p.done)

	if orphan != nil {
		orphan.Stop()
	}
}

// Join connects s to the room, retrying once if the engine was reaped between
// lookup and join.
func (m *Manager) Join(ctx context.Context, roomID string, s *Session) (*Engine, error) {
	for attempt := 0; ; attempt++ {
		e, err := m.Get(ctx, roomID)
		if err != nil {
			return nil, err
		}
		err = e.Join(ctx, s)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, ErrEngineStopped) || attempt > 0 {
			return nil, err
		}
		m.forget(e)
	}
}

// Connect resolves the caller's role from the admin token, then joins a new
// session for conn. The role is fixed for the life of the connection.
func (m *Manager) Connect(ctx context.Context, roomID, token, authorID string, conn Conn) (*Engine, *Session, error) {
	e, err := m.Get(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}
	isAdmin, err := e.Authorize(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	s := NewSession(conn, isAdmin, authorID)
	e, err = m.Join(ctx, roomID, s)
	if err != nil {
		return nil, nil, err
	}
	return e, s, nil
}

// View returns the anonymous projection of a room. Rooms without a running
// engine are read straight from the store.
func (m *Manager) View(ctx context.Context, roomID string, isAdmin bool, authorID string) (domain.View, error) {
	if roomID == "" || len(roomID) > domain.MaxIDLength {
		return domain.View{}, ErrInvalidRoomID
	}
	m.mu.Lock()
	e, ok := m.engines[roomID]
	m.mu.Unlock()
	if ok {
		v, err := e.View(ctx, isAdmin, authorID)
		if !errors.Is(err, ErrEngineStopped) {
			return v, err
		}
	}
	state, err := m.deps.store.LoadRoom(ctx, roomID)
	if err != nil {
		return domain.View{}, err
	}
	state.Normalize()
	return domain.Project(state, isAdmin, authorID), nil
}

// Running reports how many engines are live.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.engines)
}

// Run stops idle engines every interval until ctx is done, then stops them all.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return
		case <-ticker.C:
			m.Reap()
		}
	}
}

// Reap stops engines that have had no sessions for longer than the idle TTL.
func (m *Manager) Reap() int {
	now := m.deps.now()
	var idle []*Engine
	m.mu.Lock()
	for id, e := range m.engines {
		since := e.IdleSince()
		if !since.IsZero() && now.Sub(since) >= m.idleTTL {
			delete(m.engines, id)
			idle = append(idle, e)
		}
	}
	m.mu.Unlock()

	for _, e := range idle {
		e.Stop()
	}
	if len(idle) > 0 {
		m.deps.log.WithField("rooms", len(idle)).Debug("reaped idle rooms")
	}
	return len(idle)
}

// Close stops every engine. Later calls to Get fail with ErrEngineStopped.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	engines := make([]*Engine, 0, len(m.engines))
	for id, e := range m.engines {
		delete(m.engines, id)
		engines = append(engines, e)
	}
	m.mu.Unlock()

	for _, e := range engines {
		e.Stop()
	}
}

func (m *Manager) forget(e *Engine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.engines[e.roomID] == e {
		delete(m.engines, e.roomID)
	}
}
