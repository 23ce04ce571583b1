package room

import (
	log "github.com/sirupsen/logrus"

	"github.com/jamiemulcahy/yart/domain"
)

// Registry is the set of sessions connected to one room. It is owned by the
// room's engine goroutine and is not safe for concurrent use.
type Registry struct {
	sessions map[string]*Session
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Add(s *Session) {
	if _, ok := r.sessions[s.ID]; ok {
		return
	}
	r.sessions[s.ID] = s
	r.order = append(r.order, s.ID)
}

// Remove reports whether the session was registered.
func (r *Registry) Remove(id string) bool {
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) Len() int {
	return len(r.sessions)
}

// Sessions returns the registered sessions in join order.
func (r *Registry) Sessions() []*Session {
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

// Sync pushes one projected snapshot of state to s.
func Sync(s *Session, state domain.RoomState) error {
	frame, err := domain.EncodeSync(domain.Project(state, s.IsAdmin, s.AuthorID))
	if err != nil {
		return err
	}
	return s.Send(frame)
}

// Broadcast sends every session its own projection of state. Sessions whose
// send fails are removed and closed; the rest still receive theirs. It returns
// the number of sessions dropped.
func (r *Registry) Broadcast(state domain.RoomState, logger *log.Entry) int {
	dropped := 0
	for _, s := range r.Sessions() {
		if err := Sync(s, state); err != nil {
			r.Remove(s.ID)
			_ = s.Close()
			dropped++
			logger.WithFields(log.Fields{"session": s.ID, "error": err}).Debug("dropping session after failed send")
		}
	}
	return dropped
}
