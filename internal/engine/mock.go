package engine

import (
	"context"
	"fmt"
	"sync"
)

// Mock is a deterministic stand-in engine used when no backing engine is
// reachable. It replays a fixed script of events for every message so the
// full channel/relay pipeline can run without external dependencies.
type Mock struct {
	cb Callback

	mu      sync.Mutex
	pending []string
	closed  bool
}

func NewMock(cb Callback) *Mock {
	return &Mock{cb: cb}
}

func (m *Mock) SendMessage(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock engine closed")
	}
	m.pending = append(m.pending, text)
	return nil
}

// Run replays the script for every pending message, in order. It honors
// cancellation between events so teardown stays prompt.
func (m *Mock) Run(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return fmt.Errorf("mock engine closed")
		}
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return nil
		}
		task := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()

		for _, ev := range mockScript(task) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			m.cb(ev)
		}
	}
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func intPtr(n int) *int { return &n }

// mockScript simulates one agent turn: think, set up a directory, write a
// file, run it. The file-write step exercises the tree-refresh path.
func mockScript(task string) []Event {
	return []Event{
		{
			Kind:    "ThinkAction",
			Content: fmt.Sprintf("Analyzing task: %q", task),
			Thought: "Let me break this down into steps...",
		},
		{
			Kind:    "CmdRunAction",
			Content: "mkdir -p /workspace && cd /workspace",
			Command: "mkdir -p /workspace && cd /workspace",
		},
		{
			Kind:     "CmdOutputObservation",
			Content:  "Directory created successfully.",
			ExitCode: intPtr(0),
		},
		{
			Kind:    "FileWriteAction",
			Content: `print("Hello, World!")`,
			Path:    "/workspace/hello.py",
		},
		{
			Kind:    "FileWriteObservation",
			Content: "File written: /workspace/hello.py",
			Path:    "/workspace/hello.py",
		},
		{
			Kind:    "CmdRunAction",
			Content: "python /workspace/hello.py",
			Command: "python /workspace/hello.py",
		},
		{
			Kind:     "CmdOutputObservation",
			Content:  "Hello, World!",
			ExitCode: intPtr(0),
		},
	}
}
