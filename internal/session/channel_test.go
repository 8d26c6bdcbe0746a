package session

import (
	"testing"
	"time"

	"github.com/agent-broker/backend/internal/protocol"
)

func item(content string) Item {
	return Item{Msg: protocol.AgentEvent{Type: protocol.MsgAgentEvent, Content: content}}
}

func TestChannelPreservesOrder(t *testing.T) {
	c := NewChannel(10)

	for _, s := range []string{"a", "b", "c"} {
		if !c.Push(item(s)) {
			t.Fatalf("Push(%q) reported drop on a non-full channel", s)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		got, ok := c.Pop(time.Second)
		if !ok {
			t.Fatalf("Pop timed out waiting for %q", want)
		}
		if got.Msg.Content != want {
			t.Errorf("Pop = %q, want %q", got.Msg.Content, want)
		}
	}
}

func TestChannelDropsNewestWhenFull(t *testing.T) {
	c := NewChannel(2)

	if !c.Push(item("one")) || !c.Push(item("two")) {
		t.Fatal("pushes within capacity should succeed")
	}
	if c.Push(item("three")) {
		t.Fatal("Push on a full channel should report a drop")
	}

	// The queued items survive; the overflow item is gone.
	first, _ := c.Pop(time.Second)
	second, _ := c.Pop(time.Second)
	if first.Msg.Content != "one" || second.Msg.Content != "two" {
		t.Errorf("survivors = %q, %q; want one, two", first.Msg.Content, second.Msg.Content)
	}
	if _, ok := c.Pop(10 * time.Millisecond); ok {
		t.Error("dropped item should not be delivered")
	}
}

func TestChannelPopTimeout(t *testing.T) {
	c := NewChannel(1)

	start := time.Now()
	_, ok := c.Pop(20 * time.Millisecond)
	if ok {
		t.Fatal("Pop on empty channel should time out")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Pop returned before the timeout elapsed")
	}
}

func TestChannelZeroCapacityGetsDefault(t *testing.T) {
	c := NewChannel(0)

	for i := 0; i < DefaultChannelCapacity; i++ {
		if !c.Push(item("x")) {
			t.Fatalf("push %d dropped; default capacity not applied", i)
		}
	}
	if c.Len() != DefaultChannelCapacity {
		t.Errorf("Len = %d, want %d", c.Len(), DefaultChannelCapacity)
	}
}

func TestChannelCarriesRefreshFlag(t *testing.T) {
	c := NewChannel(1)
	c.Push(Item{Msg: protocol.AgentEvent{Content: "write"}, RefreshTree: true})

	got, ok := c.Pop(time.Second)
	if !ok || !got.RefreshTree {
		t.Errorf("RefreshTree flag lost in transit: %+v ok=%v", got, ok)
	}
}
