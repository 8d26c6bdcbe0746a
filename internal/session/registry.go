package session

import (
	"sync"
)

// Admission selects how Create treats an existing session under the same
// key.
type Admission int

const (
	// AdmitAlways creates a fresh session per request; sessions are keyed
	// by their own generated id.
	AdmitAlways Admission = iota
	// AdmitPerOwner keeps at most one live session per owner key: an
	// existing live session is returned unchanged, a dead one is evicted
	// and replaced.
	AdmitPerOwner
)

func AdmissionFromString(s string) Admission {
	if s == "per_owner" {
		return AdmitPerOwner
	}
	return AdmitAlways
}

// Registry is the store of live sessions. A single registry-wide lock
// serializes all mutations so concurrent start requests for the same key
// cannot race. It is constructed once and passed to handlers by
// reference.
type Registry struct {
	mu       sync.Mutex
	policy   Admission
	sessions map[string]*Session
}

func NewRegistry(policy Admission) *Registry {
	return &Registry{
		policy:   policy,
		sessions: make(map[string]*Session),
	}
}

// Create admits a session under key per the registry's policy. isNew
// reports whether s was stored; when an existing live session is reused,
// that session is returned instead. evicted, when non-nil, is a dead
// session removed to make room — the caller releases its resources.
func (r *Registry) Create(key string, s *Session) (sess *Session, isNew bool, evicted *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.policy == AdmitPerOwner {
		if existing, ok := r.sessions[key]; ok {
			if existing.Alive() {
				return existing, false, nil
			}
			delete(r.sessions, key)
			evicted = existing
		}
	}

	r.sessions[key] = s
	return s, true, evicted
}

func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// FindByID locates a session by its id regardless of the admission key.
func (r *Registry) FindByID(id string) (*Session, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, s := range r.sessions {
		if s.ID == id {
			return s, key, true
		}
	}
	return nil, "", false
}

// Remove pops the session under key. The second result is false if the
// key was absent; a session is never fabricated.
func (r *Registry) Remove(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return nil, false
	}
	delete(r.sessions, key)
	return s, true
}

// List returns a snapshot of the registered sessions.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Keys returns a snapshot of the admission keys currently registered.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for key := range r.sessions {
		out = append(out, key)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
