// Package session holds the live-session state: the session entity, the
// bounded event channel bridging the engine callback to the relay, the
// registry of live sessions, and the lifecycle controller.
package session

import (
	"sync/atomic"
	"time"

	"github.com/agent-broker/backend/internal/engine"
	"github.com/agent-broker/backend/internal/workspace"
	"github.com/google/uuid"
)

// Session is one client-addressable run of the engine against a
// workspace. The engine handle, workspace handle, and event channel are
// owned exclusively by this session; only its relay goroutine and engine
// callback touch them.
type Session struct {
	ID        string
	OwnerKey  string
	Task      string
	Workspace *workspace.Workspace
	Engine    engine.Engine
	Events    *Channel
	CreatedAt time.Time

	// OwnsWorkspaceDir marks a local workspace directory created for this
	// session; the controller removes it on destroy.
	OwnsWorkspaceDir bool

	alive atomic.Bool
}

// New creates a session with a generated id and a live flag. The engine
// and workspace handles are attached by the caller after creation: the
// engine's event callback needs the session's channel to exist first.
func New(ownerKey, task string, channelCapacity int) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		OwnerKey:  ownerKey,
		Task:      task,
		Events:    NewChannel(channelCapacity),
		CreatedAt: time.Now().UTC(),
	}
	s.alive.Store(true)
	return s
}

// Alive reports whether the session is still live. The relay loop
// consults this flag between polls.
func (s *Session) Alive() bool {
	return s.alive.Load()
}

// Kill transitions the session to dead. The transition is monotonic; a
// killed session never comes back.
func (s *Session) Kill() {
	s.alive.Store(false)
}

// Info is the externally visible view of a session. Handles are redacted;
// the task is truncated for listings.
type Info struct {
	SessionID string    `json:"sessionId"`
	OwnerKey  string    `json:"userId"`
	Task      string    `json:"task"`
	IsAlive   bool      `json:"isAlive"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Session) Info() Info {
	task := s.Task
	if len(task) > 80 {
		task = task[:80]
	}
	return Info{
		SessionID: s.ID,
		OwnerKey:  s.OwnerKey,
		Task:      task,
		IsAlive:   s.Alive(),
		CreatedAt: s.CreatedAt,
	}
}
