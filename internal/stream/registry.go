package stream

import (
	"sync"
	"time"
)

// Session is one live screen share.
type Session struct {
	UserID      string
	DisplayName string
	GuildID     string
	ChannelID   string
	ChannelName string
	StartedAt   time.Time
}

// Registry holds the currently live sessions in insertion order.
//
// Re-recording a user who is already live replaces the session data but keeps
// the original position.
type Registry struct {
	mu     sync.Mutex
	order  []string
	byUser map[string]Session
}

func NewRegistry() *Registry {
	return &Registry{byUser: map[string]Session{}}
}

func (r *Registry) RecordStart(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byUser[s.UserID]; !ok {
		r.order = append(r.order, s.UserID)
	}
	r.byUser[s.UserID] = s
}

// RecordStop removes the user's session and returns it. The second return
// reports whether a session existed.
func (r *Registry) RecordStop(userID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byUser[userID]
	if !ok {
		return Session{}, false
	}
	delete(r.byUser, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return s, true
}

// Sessions returns a snapshot of the live sessions in insertion order.
func (r *Registry) Sessions() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byUser[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
