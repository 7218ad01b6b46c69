package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stripekit/client"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(nil)
	bus.Start()
	defer bus.Stop()

	all, cancelAll := bus.Subscribe(10)
	defer cancelAll()
	health, cancelHealth := bus.Subscribe(10, EventAPIHealthy, EventAPIUnhealthy)
	defer cancelHealth()

	bus.Publish(Event{Type: EventConfigChanged, Source: "test"})
	bus.Publish(Event{Type: EventAPIUnhealthy, Source: "test", Data: map[string]any{"status": 503}})

	e := receive(t, all)
	assert.Equal(t, EventConfigChanged, e.Type)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, EventAPIUnhealthy, receive(t, all).Type)

	e = receive(t, health)
	assert.Equal(t, EventAPIUnhealthy, e.Type)
	assert.Equal(t, 503, e.Data["status"])

	require.Eventually(t, func() bool { return bus.GetStats().ProcessedEvents == 2 }, time.Second, 10*time.Millisecond)
	stats := bus.GetStats()
	assert.EqualValues(t, 2, stats.TotalEvents)
	assert.EqualValues(t, 1, stats.EventsByType[EventConfigChanged])
	assert.Equal(t, 2, stats.Subscribers)
}

func TestBus_CancelAndStop(t *testing.T) {
	bus := NewBus(nil)
	bus.Start()

	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)

	other, _ := bus.Subscribe(1)
	bus.Stop()
	_, ok = <-other
	assert.False(t, ok)

	bus.Publish(Event{Type: EventConfigChanged})
	assert.EqualValues(t, 0, bus.GetStats().TotalEvents)
	bus.Stop()
}

func TestBus_SlowSubscriberDropsEvents(t *testing.T) {
	bus := NewBus(nil)
	bus.Start()
	defer bus.Stop()

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	for range 5 {
		bus.Publish(Event{Type: EventAttempt})
	}
	require.Eventually(t, func() bool { return bus.GetStats().ProcessedEvents == 5 }, time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 4, bus.GetStats().DroppedEvents)
	assert.Len(t, ch, 1)
}

func TestBus_Observer(t *testing.T) {
	bus := NewBus(nil)
	bus.Start()
	defer bus.Stop()

	calls, cancel := bus.Subscribe(10, EventCallCompleted)
	defer cancel()

	var obs client.Observer = bus
	obs.OnAttempt(client.AttemptInfo{Method: "POST", Path: "/v1/refunds", Attempt: 1, Status: 500})
	start := time.Now()
	obs.OnComplete(client.CallInfo{
		Method:   "POST",
		Path:     "/v1/refunds",
		Policy:   "retry(3)",
		Attempts: 2,
		Status:   500,
		Err:      errors.New("boom"),
		Start:    start,
		Duration: 250 * time.Millisecond,
	})

	e := receive(t, calls)
	assert.Equal(t, EventCallCompleted, e.Type)
	assert.Equal(t, start.Add(250*time.Millisecond), e.Timestamp)
	assert.Equal(t, 2, e.Data["attempts"])
	assert.Equal(t, false, e.Data["success"])
	assert.Equal(t, "boom", e.Data["error"])
	assert.EqualValues(t, 250, e.Data["duration_ms"])
}
