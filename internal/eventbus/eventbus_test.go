package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewInMemoryEventBus(4)

	bus.Publish(context.Background(), Event{RequestID: "r1", Status: 200})
	bus.Publish(context.Background(), Event{RequestID: "r2", Status: 429})

	ch := bus.Subscribe()
	select {
	case evt := <-ch:
		assert.Equal(t, "r1", evt.RequestID)
	case <-time.After(time.Second):
		t.Fatal("expected buffered event")
	}
	select {
	case evt := <-ch:
		assert.Equal(t, 429, evt.Status)
	case <-time.After(time.Second):
		t.Fatal("expected buffered event")
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewInMemoryEventBus(1)

	bus.Publish(context.Background(), Event{RequestID: "kept"})
	// Buffer is full; this must not block.
	done := make(chan struct{})
	go func() {
		bus.Publish(context.Background(), Event{RequestID: "dropped"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full buffer")
	}

	evt := <-bus.Subscribe()
	require.Equal(t, "kept", evt.RequestID)
	select {
	case <-bus.Subscribe():
		t.Fatal("dropped event was delivered")
	default:
	}
}
