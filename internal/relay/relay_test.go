package relay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agent-broker/backend/internal/protocol"
	"github.com/agent-broker/backend/internal/session"
	"github.com/agent-broker/backend/internal/workspace"
)

// captureSender records everything sent, with an optional failure switch
// to simulate a dropped client.
type captureSender struct {
	mu   sync.Mutex
	sent []any
	fail bool
}

func (s *captureSender) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("client gone")
	}
	s.sent = append(s.sent, v)
	return nil
}

func (s *captureSender) snapshot() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.sent...)
}

func newRelaySession(t *testing.T) *session.Session {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := session.New("owner", "task", 10)
	s.Workspace = workspace.NewLocal(dir)
	return s
}

func agentItem(content string, refresh bool) session.Item {
	return session.Item{
		Msg:         protocol.AgentEvent{Type: protocol.MsgAgentEvent, Content: content},
		RefreshTree: refresh,
	}
}

func TestRelayForwardsEventsInOrder(t *testing.T) {
	sess := newRelaySession(t)
	sender := &captureSender{}

	for _, s := range []string{"one", "two", "three", "four", "five"} {
		sess.Events.Push(agentItem(s, false))
	}
	sess.Events.Push(agentItem("write", true))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(sess, sender, 10*time.Millisecond).Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if len(sender.snapshot()) >= 7 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out, sent so far: %v", sender.snapshot())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	sent := sender.snapshot()
	want := []string{"one", "two", "three", "four", "five", "write"}
	for i, content := range want {
		ev, ok := sent[i].(protocol.AgentEvent)
		if !ok || ev.Content != content {
			t.Errorf("sent[%d] = %#v, want agent event %q", i, sent[i], content)
		}
	}

	// The flagged event is followed by a tree push.
	ft, ok := sent[6].(protocol.FileTree)
	if !ok {
		t.Fatalf("sent[6] = %#v, want a file tree", sent[6])
	}
	if len(ft.Tree) != 1 || ft.Tree[0].Name != "f.txt" {
		t.Errorf("pushed tree = %+v", ft.Tree)
	}
}

func TestRelayStopsOnDeadSession(t *testing.T) {
	sess := newRelaySession(t)
	sess.Kill()

	done := make(chan struct{})
	go func() {
		New(sess, &captureSender{}, 10*time.Millisecond).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop for a dead session")
	}
}

func TestRelayStopsWhenSessionDiesMidRun(t *testing.T) {
	sess := newRelaySession(t)

	done := make(chan struct{})
	go func() {
		New(sess, &captureSender{}, 10*time.Millisecond).Run(context.Background())
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	sess.Kill()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not notice the session dying")
	}
}

func TestRelayStopsOnSendFailure(t *testing.T) {
	sess := newRelaySession(t)
	sender := &captureSender{fail: true}
	sess.Events.Push(agentItem("hello", false))

	done := make(chan struct{})
	go func() {
		New(sess, sender, 10*time.Millisecond).Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after a failed send")
	}
}

func TestRelayStopsOnContextCancel(t *testing.T) {
	sess := newRelaySession(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		New(sess, &captureSender{}, 10*time.Millisecond).Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on context cancellation")
	}
}
