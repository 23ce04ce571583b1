package room

import (
	"context"
	"crypto/subtle"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jamiemulcahy/yart/domain"
	"github.com/jamiemulcahy/yart/storage"
)

const commitTimeout = 10 * time.Second

// EventSink receives committed mutations. Publish must not block.
type EventSink interface {
	Publish(ev domain.Event)
}

type joinRequest struct{ session *Session }

type leaveRequest struct{ sessionID string }

type commandRequest struct {
	session *Session
	cmd     domain.Command
}

type viewRequest struct {
	isAdmin  bool
	authorID string
	reply    chan domain.View
}

type authRequest struct {
	token string
	reply chan bool
}

type initRequest struct {
	template   string
	adminToken string
	columns    []domain.TemplateColumn
	reply      chan error
}

// Engine owns the canonical state of one room. A single goroutine processes
// its inbox, so mutations of a room never interleave.
type Engine struct {
	roomID   string
	store    storage.Store
	sink     EventSink
	tracer   trace.Tracer
	log      *log.Entry
	now      func() time.Time
	newID    func() string
	state    domain.RoomState
	registry *Registry

	inbox     chan any
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	idleSince atomic.Int64
}

// startEngine hydrates the room from store and starts its goroutine.
func startEngine(ctx context.Context, roomID string, deps engineDeps) (*Engine, error) {
	state, err := deps.store.LoadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	state.Normalize()
	e := &Engine{
		roomID:   roomID,
		store:    deps.store,
		sink:     deps.sink,
		tracer:   deps.tracer,
		log:      deps.log.WithField("room", roomID),
		now:      deps.now,
		newID:    deps.newID,
		state:    state,
		registry: NewRegistry(),
		inbox:    make(chan any, deps.inboxSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	e.idleSince.Store(e.now().UnixNano())
	go e.run()
	return e, nil
}

func (e *Engine) RoomID() string {
	return e.roomID
}

// Join registers s and pushes it an initial snapshot.
func (e *Engine) Join(ctx context.Context, s *Session) error {
	return e.enqueue(ctx, joinRequest{session: s})
}

// Leave unregisters the session. It is a no-op on a stopped engine.
func (e *Engine) Leave(sessionID string) {
	select {
	case e.inbox <- leaveRequest{sessionID: sessionID}:
	case <-e.stop:
	}
}

// Submit queues cmd from s. Authorization and effects are applied in order by
// the engine; nothing is reported back to the caller.
func (e *Engine) Submit(ctx context.Context, s *Session, cmd domain.Command) error {
	return e.enqueue(ctx, commandRequest{session: s, cmd: cmd})
}

// View returns the projection for the given viewer once every earlier request
// has been processed.
func (e *Engine) View(ctx context.Context, isAdmin bool, authorID string) (domain.View, error) {
	reply := make(chan domain.View, 1)
	if err := e.enqueue(ctx, viewRequest{isAdmin: isAdmin, authorID: authorID, reply: reply}); err != nil {
		return domain.View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-e.done:
		return domain.View{}, ErrEngineStopped
	case <-ctx.Done():
		return domain.View{}, ctx.Err()
	}
}

// Authorize reports whether token is the room's admin secret. Rooms without
// meta have no admin.
func (e *Engine) Authorize(ctx context.Context, token string) (bool, error) {
	reply := make(chan bool, 1)
	if err := e.enqueue(ctx, authRequest{token: token, reply: reply}); err != nil {
		return false, err
	}
	select {
	case ok := <-reply:
		return ok, nil
	case <-e.done:
		return false, ErrEngineStopped
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// initialize writes the room row and template columns.
func (e *Engine) initialize(ctx context.Context, template, adminToken string, columns []domain.TemplateColumn) error {
	reply := make(chan error, 1)
	req := initRequest{template: template, adminToken: adminToken, columns: columns, reply: reply}
	if err := e.enqueue(ctx, req); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts the engine down and closes every connected session.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
}

// IdleSince reports when the last session left. Zero means sessions are connected.
func (e *Engine) IdleSince() time.Time {
	ns := e.idleSince.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (e *Engine) enqueue(ctx context.Context, req any) error {
	select {
	case <-e.stop:
		return ErrEngineStopped
	default:
	}
	select {
	case e.inbox <- req:
		return nil
	case <-e.stop:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			e.shutdown()
			return
		case req := <-e.inbox:
			e.handle(req)
		}
	}
}

func (e *Engine) handle(req any) {
	switch r := req.(type) {
	case joinRequest:
		e.registry.Add(r.session)
		e.touch()
		if err := Sync(r.session, e.state); err != nil {
			e.registry.Remove(r.session.ID)
			_ = r.session.Close()
			e.touch()
		}
		e.log.WithFields(log.Fields{"session": r.session.ID, "admin": r.session.IsAdmin, "sessions": e.registry.Len()}).Debug("session joined")
	case leaveRequest:
		if e.registry.Remove(r.sessionID) {
			e.touch()
			e.log.WithFields(log.Fields{"session": r.sessionID, "sessions": e.registry.Len()}).Debug("session left")
		}
	case commandRequest:
		e.apply(r.session, r.cmd)
	case viewRequest:
		r.reply <- domain.Project(e.state, r.isAdmin, r.authorID)
	case authRequest:
		r.reply <- e.state.Meta != nil && secretsEqual(e.state.Meta.AdminToken, r.token)
	case initRequest:
		r.reply <- e.init(r)
	}
}

func (e *Engine) touch() {
	if e.registry.Len() == 0 {
		e.idleSince.Store(e.now().UnixNano())
	} else {
		e.idleSince.Store(0)
	}
}

func (e *Engine) apply(s *Session, cmd domain.Command) {
	_, span := e.tracer.Start(context.Background(), "room.apply", trace.WithAttributes(
		attribute.String("room.id", e.roomID),
		attribute.String("command.kind", cmd.Kind()),
		attribute.Bool("session.admin", s.IsAdmin),
	))
	defer span.End()

	if cmd.AdminOnly() && !s.IsAdmin {
		span.SetAttributes(attribute.String("outcome", "unauthorized"))
		e.log.WithFields(log.Fields{"session": s.ID, "kind": cmd.Kind()}).Debug("dropping admin command from participant")
		return
	}

	changes := changesFor(&e.state, cmd, mutation{authorID: s.AuthorID, now: e.now(), newID: e.newID})
	if len(changes) == 0 {
		span.SetAttributes(attribute.String("outcome", "noop"))
		return
	}
	span.SetAttributes(attribute.Int("rows", len(changes)))

	if err := e.commit(changes); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		span.SetAttributes(attribute.String("outcome", "failed"))
		e.log.WithFields(log.Fields{"kind": cmd.Kind(), "error": err}).Error("commit failed, mutation aborted")
		e.reload()
		return
	}
	span.SetAttributes(attribute.String("outcome", "applied"))
	e.publish(cmd.Kind(), s.AuthorID, s.IsAdmin, len(changes))
}

// commit persists changes, then applies and broadcasts them. State is
// untouched when the store rejects the write.
func (e *Engine) commit(changes []domain.Change) error {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	if err := e.store.Commit(ctx, e.roomID, changes); err != nil {
		return err
	}
	e.state.Apply(changes)
	if dropped := e.registry.Broadcast(e.state, e.log); dropped > 0 {
		e.touch()
	}
	return nil
}

// reload re-reads the room after a failed commit. A store that applied part of
// the change set is then reflected in memory and pushed to every session.
func (e *Engine) reload() {
	ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
	defer cancel()
	state, err := e.store.LoadRoom(ctx, e.roomID)
	if err != nil {
		e.log.WithError(err).Warn("reload after failed commit")
		return
	}
	state.Normalize()
	if sameState(e.state, state) {
		return
	}
	e.log.Warn("store diverged from memory after failed commit, resynced")
	e.state = state
	if dropped := e.registry.Broadcast(e.state, e.log); dropped > 0 {
		e.touch()
	}
}

func sameState(a, b domain.RoomState) bool {
	if (a.Meta == nil) != (b.Meta == nil) || (a.Meta != nil && *a.Meta != *b.Meta) {
		return false
	}
	return slices.Equal(a.Columns, b.Columns) && slices.Equal(a.Cards, b.Cards)
}

func (e *Engine) init(r initRequest) error {
	if e.state.Meta != nil {
		return ErrRoomExists
	}
	changes := initialize(e.roomID, r.template, r.adminToken, r.columns, mutation{now: e.now(), newID: e.newID})
	if err := e.commit(changes); err != nil {
		e.log.WithError(err).Error("room initialization failed")
		return err
	}
	e.publish(domain.KindCreateRoom, "", true, len(changes))
	return nil
}

func (e *Engine) publish(kind, authorID string, isAdmin bool, rows int) {
	if e.sink == nil {
		return
	}
	e.sink.Publish(domain.Event{
		RoomID:   e.roomID,
		Kind:     kind,
		AuthorID: authorID,
		IsAdmin:  isAdmin,
		Rows:     rows,
		At:       domain.Timestamp(e.now()),
	})
}

func (e *Engine) shutdown() {
	for _, s := range e.registry.Sessions() {
		e.registry.Remove(s.ID)
		_ = s.Close()
	}
	e.log.Debug("room engine stopped")
}

func secretsEqual(secret, token string) bool {
	if secret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(token)) == 1
}
