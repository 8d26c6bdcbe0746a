// Package relay drains a session's event channel to its connected client
// and pushes workspace tree refreshes when the classifier flagged an
// event as file-changing.
package relay

import (
	"context"
	"log"
	"time"

	"github.com/agent-broker/backend/internal/protocol"
	"github.com/agent-broker/backend/internal/session"
	"github.com/agent-broker/backend/internal/workspace"
)

// Sender delivers one wire message to the client. Implementations must be
// safe for use alongside other writers on the same connection.
type Sender interface {
	Send(v any) error
}

// Relay consumes one session's event channel. One relay goroutine exists
// per session, started when the session is registered.
type Relay struct {
	sess   *session.Session
	sender Sender
	poll   time.Duration
}

func New(sess *session.Session, sender Sender, poll time.Duration) *Relay {
	if poll <= 0 {
		poll = time.Second
	}
	return &Relay{sess: sess, sender: sender, poll: poll}
}

// Run loops until the session dies, the client goes away, or ctx is
// cancelled. Each iteration waits at most one poll interval, so
// termination is prompt once any of those happens. Events are forwarded
// verbatim in the order they were produced; a flagged event additionally
// triggers a tree rebuild and a file_tree push.
func (r *Relay) Run(ctx context.Context) {
	for r.sess.Alive() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok := r.sess.Events.Pop(r.poll)
		if !ok {
			continue
		}

		if err := r.sender.Send(item.Msg); err != nil {
			// Client disconnected; teardown is the caller's job.
			return
		}

		if item.RefreshTree {
			r.pushTree(ctx)
		}
	}
}

// pushTree rebuilds the workspace tree and forwards it. A failed rebuild
// is logged and skipped; the session keeps running on its stale view.
func (r *Relay) pushTree(ctx context.Context) {
	tree, err := workspace.TryBuildTree(ctx, r.sess.Workspace)
	if err != nil {
		log.Printf("session %s: file tree refresh failed: %v", r.sess.ID, err)
		return
	}

	msg := protocol.FileTree{
		Type:      protocol.MsgFileTree,
		Tree:      tree,
		Timestamp: protocol.Timestamp(),
	}
	if err := r.sender.Send(msg); err != nil {
		return
	}
}
