package layercake

import (
	"testing"
	"time"
)

func TestBroadcasterPublishDeliversToSubscriber(t *testing.T) {
	b := NewBroadcaster(4)
	topic := Topic("test:topic")
	sub := b.Subscribe(topic)
	defer sub.Close()

	n := b.Publish(topic, Event{Kind: NodeStarted})
	if n != 1 {
		t.Fatalf("expected 1 subscriber notified, got %d", n)
	}

	select {
	case ev := <-sub.C:
		if ev.Kind != NodeStarted {
			t.Fatalf("expected NodeStarted, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestBroadcasterPublishNoSubscribersReturnsZero(t *testing.T) {
	b := NewBroadcaster(4)
	n := b.Publish(Topic("nobody:home"), Event{Kind: NodeCompleted})
	if n != 0 {
		t.Fatalf("expected 0 notified for an unsubscribed topic, got %d", n)
	}
}

func TestBroadcasterCloseRemovesSubscriber(t *testing.T) {
	b := NewBroadcaster(4)
	topic := Topic("test:close")
	sub := b.Subscribe(topic)
	if got := b.ReceiverCount(topic); got != 1 {
		t.Fatalf("expected 1 receiver, got %d", got)
	}
	sub.Close()
	if got := b.ReceiverCount(topic); got != 0 {
		t.Fatalf("expected 0 receivers after Close, got %d", got)
	}
}

func TestBroadcasterCleanupIdleRemovesEmptyTopics(t *testing.T) {
	b := NewBroadcaster(4)
	topic := Topic("test:idle")
	sub := b.Subscribe(topic)
	if got := b.ChannelCount(); got != 1 {
		t.Fatalf("expected 1 tracked channel, got %d", got)
	}
	sub.Close()

	removed := b.CleanupIdle()
	if removed != 1 {
		t.Fatalf("expected CleanupIdle to remove 1 idle topic, got %d", removed)
	}
	if got := b.ChannelCount(); got != 0 {
		t.Fatalf("expected 0 tracked channels after cleanup, got %d", got)
	}
}

func TestBroadcasterPublishDropsOldestWhenFull(t *testing.T) {
	b := NewBroadcaster(2)
	topic := Topic("test:full")
	sub := b.Subscribe(topic)
	defer sub.Close()

	b.Publish(topic, Event{Kind: NodeStarted, Payload: map[string]any{"seq": 1}})
	b.Publish(topic, Event{Kind: NodeStarted, Payload: map[string]any{"seq": 2}})
	b.Publish(topic, Event{Kind: NodeStarted, Payload: map[string]any{"seq": 3}})

	first := <-sub.C
	if first.Payload["seq"] != 2 {
		t.Fatalf("expected the oldest event (seq 1) to have been dropped, got seq %v first", first.Payload["seq"])
	}
}

func TestBroadcasterMultipleTopicsIndependent(t *testing.T) {
	b := NewBroadcaster(4)
	a := b.Subscribe(Topic("topic:a"))
	defer a.Close()
	_ = b.Subscribe(Topic("topic:b"))

	b.Publish(Topic("topic:a"), Event{Kind: NodeCompleted})
	select {
	case <-a.C:
	case <-time.After(time.Second):
		t.Fatal("expected topic:a subscriber to receive its event")
	}

	if n := b.ReceiverCount(Topic("topic:b")); n != 1 {
		t.Fatalf("expected topic:b to still have its own subscriber, got %d", n)
	}
}
