package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	b := NewBus(4)
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish("hello")

	select {
	case got := <-sub.C():
		assert.Equal(t, "hello", got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	b := NewBus(1)
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish("first")
	b.Publish("second") // buffer full, dropped

	select {
	case got := <-sub.C():
		assert.Equal(t, "first", got)
	default:
		t.Fatal("expected first event buffered")
	}

	select {
	case got := <-sub.C():
		t.Fatalf("unexpected second event delivered: %v", got)
	default:
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := NewBus(4)
	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	sub.Close()
	require.Equal(t, 0, b.SubscriberCount())

	// Publishing after close must not panic even though the channel
	// was removed from the subscriber set.
	b.Publish("ignored")
}

func TestMultipleSubscribersEachGetTheEvent(t *testing.T) {
	b := NewBus(4)
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Close()
	defer sub2.Close()

	b.Publish(42)

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case got := <-sub.C():
			assert.Equal(t, 42, got)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}
