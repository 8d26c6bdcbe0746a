package session

import (
	"log"
	"os"
)

// Controller orchestrates session admission and teardown. Every teardown
// path — explicit stop, client disconnect, shutdown sweep — funnels
// through Destroy so the atomicity and idempotence guarantees live in one
// place.
type Controller struct {
	registry *Registry
}

func NewController(registry *Registry) *Controller {
	return &Controller{registry: registry}
}

// Admit registers s under key. If the policy returns an existing live
// session instead, the rejected candidate's resources are released. A
// dead session evicted to make room is released as well.
func (c *Controller) Admit(key string, s *Session) (*Session, bool) {
	sess, isNew, evicted := c.registry.Create(key, s)
	if evicted != nil {
		c.release(evicted)
	}
	if !isNew && sess != s {
		c.release(s)
	}
	return sess, isNew
}

// Destroy pops the session under key and releases it. Calling it again
// after the first is a no-op: the pop already failed, so there is nothing
// left to observe.
func (c *Controller) Destroy(key string) {
	s, ok := c.registry.Remove(key)
	if !ok {
		return
	}
	c.release(s)
}

// DestroyByID destroys the session with the given id, whatever key it was
// admitted under. Reports whether a session was found.
func (c *Controller) DestroyByID(id string) bool {
	_, key, ok := c.registry.FindByID(id)
	if !ok {
		return false
	}
	c.Destroy(key)
	return true
}

// DestroyAll sweeps every registered session. Used at process shutdown;
// each destroy is independent, so one failure never aborts the sweep.
func (c *Controller) DestroyAll() {
	for _, key := range c.registry.Keys() {
		c.Destroy(key)
	}
}

// release flips the session dead first so its relay loop self-terminates
// on the next poll, then closes the engine handle and removes any
// controller-owned workspace directory. All failures are logged and
// swallowed; resource release is never blocked by a partial error.
func (c *Controller) release(s *Session) {
	s.Kill()
	log.Printf("session %s: destroying", s.ID)

	if s.Engine != nil {
		if err := s.Engine.Close(); err != nil {
			log.Printf("session %s: engine close: %v", s.ID, err)
		}
	}

	if s.OwnsWorkspaceDir && s.Workspace != nil && s.Workspace.IsLocal() {
		if err := os.RemoveAll(s.Workspace.Root()); err != nil {
			log.Printf("session %s: workspace cleanup: %v", s.ID, err)
		}
	}
}
