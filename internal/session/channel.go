package session

import (
	"time"

	"github.com/agent-broker/backend/internal/protocol"
)

// Item is one wire-ready event message together with the classifier's
// tree-refresh verdict, computed when the event was produced.
type Item struct {
	Msg         protocol.AgentEvent
	RefreshTree bool
}

// Channel is the bounded FIFO queue between the engine callback (single
// producer) and the session's relay loop (single consumer). That 1:1
// relationship means the Go channel's own synchronization is all the
// locking required.
type Channel struct {
	ch chan Item
}

const DefaultChannelCapacity = 100

func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	return &Channel{ch: make(chan Item, capacity)}
}

// Push enqueues without blocking. When the queue is full the incoming
// item is discarded (drop-newest) and Push reports false; the producer is
// never stalled by a slow consumer.
func (c *Channel) Push(item Item) bool {
	select {
	case c.ch <- item:
		return true
	default:
		return false
	}
}

// Pop waits up to timeout for the next item. The second result is false
// on timeout so the consumer can re-check session liveness and poll again.
func (c *Channel) Pop(timeout time.Duration) (Item, bool) {
	select {
	case item := <-c.ch:
		return item, true
	case <-time.After(timeout):
		return Item{}, false
	}
}

// Len reports the number of pending items.
func (c *Channel) Len() int {
	return len(c.ch)
}
