package feed

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := NewHub(4)
	id1, ch1 := h.Subscribe()
	id2, ch2 := h.Subscribe()
	defer h.Unsubscribe(id1)
	defer h.Unsubscribe(id2)

	h.Publish(Event{Kind: KindCommitted, Origin: "p1/a0/s0", Variant: "memory", Bytes: 500})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, KindCommitted, ev.Kind)
			assert.Equal(t, "p1/a0/s0", ev.Origin)
			assert.False(t, ev.Time.IsZero(), "publish must stamp the time")
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub(2)
	id, ch := h.Subscribe()
	defer h.Unsubscribe(id)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			h.Publish(Event{Kind: KindAnnounced})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 2, "buffer should hold exactly its capacity")
	assert.Equal(t, uint64(8), h.Dropped())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub(1)
	id, ch := h.Subscribe()
	require.Equal(t, 1, h.Subscribers())

	h.Unsubscribe(id)
	assert.Zero(t, h.Subscribers())

	_, open := <-ch
	assert.False(t, open)

	// Repeat and unknown ids are harmless.
	h.Unsubscribe(id)
	h.Unsubscribe(99)
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	h := NewHub(1)
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		id, ch := h.Subscribe()
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range ch {
			}
		}()
		go func() {
			defer wg.Done()
			h.Unsubscribe(id)
		}()
	}
	for i := 0; i < 100; i++ {
		h.Publish(Event{Kind: KindFailed, Err: "boom"})
	}
	wg.Wait()
	assert.Zero(t, h.Subscribers())
}
