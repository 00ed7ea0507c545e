package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadgen-cli/internal/model"
)

func TestEventHub_FanOut(t *testing.T) {
	hub := NewEventHub()
	defer hub.Close()

	ch1, cancel1 := hub.Subscribe()
	ch2, cancel2 := hub.Subscribe()
	defer cancel1()
	defer cancel2()

	hub.Publish(Event{Type: EventStatus, RunID: "r1", Status: model.RunStatusRunning})

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := <-ch
		assert.Equal(t, EventStatus, ev.Type)
		assert.Equal(t, model.RunStatusRunning, ev.Status)
	}
}

func TestEventHub_SlowSubscriberDropsEvents(t *testing.T) {
	hub := NewEventHub()
	defer hub.Close()

	ch, cancel := hub.Subscribe()
	defer cancel()

	// Overfill the buffer; Publish must never block.
	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Publish(Event{Type: EventLog, RunID: "r1"})
	}

	var got int
	for {
		select {
		case <-ch:
			got++
			continue
		default:
		}
		break
	}
	assert.Equal(t, subscriberBuffer, got)
}

func TestEventHub_CloseEndsSubscribers(t *testing.T) {
	hub := NewEventHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Close()

	_, open := <-ch
	assert.False(t, open)

	// After close: publishing is a no-op, new subscriptions come closed.
	hub.Publish(Event{Type: EventLog})
	ch2, cancel2 := hub.Subscribe()
	defer cancel2()
	_, open = <-ch2
	assert.False(t, open)
}

func TestEventHub_CancelIsIdempotent(t *testing.T) {
	hub := NewEventHub()
	defer hub.Close()

	_, cancel := hub.Subscribe()
	cancel()
	require.NotPanics(t, func() { cancel() })
}
