// Package client keeps a board view in sync with a YART room over a WebSocket,
// reconnecting with exponential backoff when the connection drops.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/jamiemulcahy/yart/domain"
)

// Status is the connection state reported to OnStatus.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

var ErrNotConnected = errors.New("not connected")

// Conn is the subset of *websocket.Conn the controller uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a connection to a room endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type gorillaDialer struct {
	dialer *websocket.Dialer
}

func (d gorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Scheduler runs f once after d. The returned func cancels it.
type Scheduler func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// NewBackOff returns the reconnect policy: 1s doubling to a 30s cap, no jitter,
// retrying forever.
func NewBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Options configures a Controller. BaseURL and RoomID are required.
type Options struct {
	BaseURL    string
	RoomID     string
	AdminToken string
	Identity   string

	Dialer   Dialer
	BackOff  backoff.BackOff
	Schedule Scheduler
	Log      *log.Logger

	// OnState and OnStatus run one at a time, never after Close returns. They
	// must not call Start or Close.
	OnState  func(domain.View)
	OnStatus func(Status)
}

// Controller owns one logical connection to a room. Each connect attempt gets a
// generation number; anything reported by an older generation is ignored.
type Controller struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc

	// callbacks serializes OnState and OnStatus. It is taken before mu.
	callbacks sync.Mutex

	mu        sync.Mutex
	gen       uint64
	conn      Conn
	status    Status
	view      *domain.View
	identity  string
	stopTimer func() bool
	closed    bool
}

func New(opts Options) (*Controller, error) {
	if opts.BaseURL == "" || opts.RoomID == "" {
		return nil, errors.New("client: base url and room id are required")
	}
	if _, err := roomURL(opts.BaseURL, opts.RoomID, "", ""); err != nil {
		return nil, err
	}
	if opts.Dialer == nil {
		opts.Dialer = gorillaDialer{dialer: websocket.DefaultDialer}
	}
	if opts.BackOff == nil {
		opts.BackOff = NewBackOff()
	}
	if opts.Schedule == nil {
		opts.Schedule = afterFunc
	}
	if opts.Log == nil {
		opts.Log = log.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		status:   StatusDisconnected,
		identity: opts.Identity,
	}, nil
}

// Start begins connecting. It returns immediately. Calling it again drops the
// current connection and dials afresh.
func (c *Controller) Start() {
	c.connect()
}

// Status returns the current connection status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// State returns the last synced view, if any.
func (c *Controller) State() (domain.View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view == nil {
		return domain.View{}, false
	}
	return *c.view, true
}

// IdentityToken returns the reconnect token last issued by the server.
func (c *Controller) IdentityToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Close cancels any pending reconnect, drops the live connection and stops
// all further callbacks.
func (c *Controller) Close() error {
	// Holding callbacks waits out a running callback and keeps new ones out.
	c.callbacks.Lock()
	defer c.callbacks.Unlock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.gen++
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Controller) connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
	superseded := c.conn
	c.conn = nil
	c.gen++
	gen := c.gen
	target, err := roomURL(c.opts.BaseURL, c.opts.RoomID, c.opts.AdminToken, c.identity)
	c.status = StatusConnecting
	c.mu.Unlock()

	if superseded != nil {
		_ = superseded.Close()
	}
	c.notifyStatus(gen, StatusConnecting)
	if err != nil {
		c.fail(gen, err)
		return
	}
	go c.run(gen, target)
}

func (c *Controller) run(gen uint64, target string) {
	conn, err := c.opts.Dialer.Dial(c.ctx, target)
	if err != nil {
		c.fail(gen, err)
		return
	}

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.status = StatusConnected
	c.opts.BackOff.Reset()
	c.mu.Unlock()
	c.notifyStatus(gen, StatusConnected)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.setStatus(gen, StatusError)
			}
			_ = conn.Close()
			c.disconnected(gen)
			return
		}
		c.handleFrame(gen, payload)
	}
}

func (c *Controller) fail(gen uint64, err error) {
	c.opts.Log.WithError(err).WithField("room", c.opts.RoomID).Debug("room connection failed")
	c.setStatus(gen, StatusError)
	c.disconnected(gen)
}

// disconnected schedules the single reconnect for gen.
func (c *Controller) disconnected(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.status = StatusDisconnected
	delay := c.opts.BackOff.NextBackOff()
	if delay == backoff.Stop {
		c.mu.Unlock()
		c.notifyStatus(gen, StatusDisconnected)
		return
	}
	if c.stopTimer != nil {
		c.stopTimer()
	}
	c.stopTimer = c.opts.Schedule(delay, func() { c.reconnect(gen) })
	c.mu.Unlock()

	c.opts.Log.WithFields(log.Fields{"room": c.opts.RoomID, "delay_ms": delay.Milliseconds()}).Debug("reconnect scheduled")
	c.notifyStatus(gen, StatusDisconnected)
}

func (c *Controller) reconnect(gen uint64) {
	c.mu.Lock()
	stale := c.closed || gen != c.gen
	c.mu.Unlock()
	if stale {
		return
	}
	c.connect()
}

func (c *Controller) handleFrame(gen uint64, payload []byte) {
	var env domain.Envelope
	if err := sonic.Unmarshal(payload, &env); err != nil {
		c.opts.Log.WithError(err).Debug("dropping malformed server frame")
		return
	}
	switch env.Type {
	case domain.FrameSync:
		var view domain.View
		if err := sonic.Unmarshal(env.Data, &view); err != nil {
			c.opts.Log.WithError(err).Debug("dropping malformed sync frame")
			return
		}
		c.mu.Lock()
		if c.closed || gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.view = &view
		c.mu.Unlock()
		if c.opts.OnState != nil {
			c.emit(gen, func() { c.opts.OnState(view) })
		}
	case domain.FrameIdentity:
		var ident domain.Identity
		if err := sonic.Unmarshal(env.Data, &ident); err != nil || ident.Token == "" {
			return
		}
		c.mu.Lock()
		if gen == c.gen {
			c.identity = ident.Token
		}
		c.mu.Unlock()
	default:
		c.opts.Log.WithField("type", env.Type).Debug("ignoring unknown server frame")
	}
}

func (c *Controller) setStatus(gen uint64, status Status) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()
	c.notifyStatus(gen, status)
}

func (c *Controller) notifyStatus(gen uint64, status Status) {
	if c.opts.OnStatus != nil {
		c.emit(gen, func() { c.opts.OnStatus(status) })
	}
}

// emit runs f unless the controller has closed or moved past gen.
func (c *Controller) emit(gen uint64, f func()) {
	c.callbacks.Lock()
	defer c.callbacks.Unlock()
	c.mu.Lock()
	live := !c.closed && gen == c.gen
	c.mu.Unlock()
	if live {
		f()
	}
}

// Send writes cmd to the room. It fails with ErrNotConnected unless the
// connection is open.
func (c *Controller) Send(cmd domain.Command) error {
	raw, err := domain.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusConnected || c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func roomURL(base, roomID, token, identity string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("client: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/rooms/" + roomID + "/ws"
	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	}
	if identity != "" {
		q.Set("identity", identity)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
