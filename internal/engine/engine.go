// Package engine defines the boundary to the task-execution engine: the
// handle a session owns, the events the engine emits, and the classifier
// that turns those events into wire messages.
package engine

import (
	"context"
	"errors"
)

// ErrAuth marks credential rejection by the backing engine, surfaced
// distinctly so callers can prompt for a new key instead of retrying.
var ErrAuth = errors.New("engine rejected credentials")

// Event is one typed event emitted by the engine. Kind carries the
// engine's event kind name verbatim (e.g. "CmdRunAction"); the remaining
// fields are optional capabilities a kind may or may not expose.
type Event struct {
	Kind     string `json:"kind"`
	Content  string `json:"content,omitempty"`
	Command  string `json:"command,omitempty"`
	ExitCode *int   `json:"exitCode,omitempty"`
	Path     string `json:"path,omitempty"`
	Thought  string `json:"thought,omitempty"`
}

// Callback receives events as the engine produces them. It is invoked
// from the engine's own goroutine; implementations must not block.
type Callback func(Event)

// Engine is a handle to one engine conversation. Run blocks until the
// turn completes or the iteration cap is reached, emitting events through
// the callback supplied at construction. A handle is owned by exactly one
// session.
type Engine interface {
	SendMessage(text string) error
	Run(ctx context.Context) error
	Close() error
}
