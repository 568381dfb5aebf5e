package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBrokerBroadcastsToAllSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	first := b.Subscribe()
	second := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	ev := NewEvent(EventBuildNew, "build-A", "build-A #42 SUCCESS")
	require.True(t, b.Publish(ev))

	got := receive(t, first)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, EventBuildNew, got.Type)
	assert.Equal(t, "build-A", got.Pipeline)

	got = receive(t, second)
	assert.Equal(t, ev.ID, got.ID)
}

func TestBrokerAssignsIDAndTimestamp(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	require.True(t, b.Publish(&Event{Type: EventCycleCompleted}))

	got := receive(t, sub)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	_, open := <-sub
	assert.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBrokerPublishNeverBlocks(t *testing.T) {
	// Not started: nothing drains the queue
	b := NewBroker()

	accepted := 0
	for i := 0; i < 150; i++ {
		if b.Publish(NewEvent(EventBuildUpdated, "build-A", "")) {
			accepted++
		}
	}
	assert.Equal(t, 100, accepted)

	b.Stop()
	b.Stop()
	assert.False(t, b.Publish(NewEvent(EventBuildUpdated, "build-A", "")))
}
