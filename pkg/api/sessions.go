package api

import (
	"sync"

	"github.com/tarsy-oss/funnel/pkg/session"
)

// sessionStore keeps one session.State per session id alive across tasks, so
// a caller that sets preserve_state=true on a later request resumes the same
// ground-truth observations instead of starting from a blank State. It is
// process-scoped and lost on restart, matching the in-scope Session State
// module's own lifetime.
type sessionStore struct {
	mu     sync.Mutex
	states map[string]*session.State
}

func newSessionStore() *sessionStore {
	return &sessionStore{states: make(map[string]*session.State)}
}

// get returns the stored State for id when preserveState is true and one
// exists, otherwise a fresh State (stored for future preserve_state calls).
func (s *sessionStore) get(id string, preserveState bool) *session.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if preserveState {
		if st, ok := s.states[id]; ok {
			return st
		}
	}
	st := session.New()
	s.states[id] = st
	return st
}
