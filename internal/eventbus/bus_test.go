package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_NotifyInOrder(t *testing.T) {
	var r Registry[int]
	var got []string

	r.Subscribe(func(v int) { got = append(got, "a") })
	r.Subscribe(func(v int) { got = append(got, "b") })
	r.Notify(1)

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_UnsubscribeFromInsideHandler(t *testing.T) {
	var r Registry[int]
	calls := 0

	var unsubscribe func()
	unsubscribe = r.Subscribe(func(int) {
		calls++
		unsubscribe()
	})

	r.Notify(1)
	r.Notify(2)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, r.Len())

	// Calling it again is harmless.
	unsubscribe()
}

func TestRegistry_UnsubscribedMidDispatchIsSkipped(t *testing.T) {
	var r Registry[int]
	var unsubscribeSecond func()
	secondCalls := 0

	r.Subscribe(func(int) { unsubscribeSecond() })
	unsubscribeSecond = r.Subscribe(func(int) { secondCalls++ })

	r.Notify(1)
	assert.Equal(t, 0, secondCalls)
}

func TestRegistry_SubscribeFromInsideHandler(t *testing.T) {
	var r Registry[int]
	lateCalls := 0

	r.Subscribe(func(v int) {
		if v == 1 {
			r.Subscribe(func(int) { lateCalls++ })
		}
	})

	r.Notify(1) // late handler is not part of this dispatch
	r.Notify(2)
	assert.Equal(t, 1, lateCalls)
}

func TestRegistry_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	var r Registry[int]
	reached := false

	r.Subscribe(func(int) { panic("boom") })
	r.Subscribe(func(int) { reached = true })

	assert.NotPanics(t, func() { r.Notify(1) })
	assert.True(t, reached)
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	b := New[int]()
	defer b.Close(context.Background())

	const n = 500
	got := make(chan int, n)
	b.Subscribe(func(v int) { got <- v })

	for i := 0; i < n; i++ {
		require.True(t, b.Publish(i))
	}

	for want := 0; want < n; want++ {
		select {
		case v := <-got:
			require.Equal(t, want, v)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", want)
		}
	}
}

func TestBus_EveryListenerOnce(t *testing.T) {
	b := New[string]()

	var mu sync.Mutex
	counts := map[string]int{}
	for _, name := range []string{"x", "y", "z"} {
		name := name
		b.Subscribe(func(string) {
			mu.Lock()
			counts[name]++
			mu.Unlock()
		})
	}

	b.Publish("event")
	b.Close(context.Background())

	assert.Equal(t, map[string]int{"x": 1, "y": 1, "z": 1}, counts)
}

func TestBus_PublishFromHandler(t *testing.T) {
	b := New[int]()
	defer b.Close(context.Background())

	got := make(chan int, 4)
	b.Subscribe(func(v int) {
		got <- v
		if v == 1 {
			b.Publish(2)
		}
	})
	b.Publish(1)

	assert.Equal(t, 1, <-got)
	select {
	case v := <-got:
		assert.Equal(t, 2, v)
	case <-time.After(2 * time.Second):
		t.Fatal("re-entrant publish was not delivered")
	}
}

func TestBus_CloseDrainsAndRejects(t *testing.T) {
	b := New[int]()

	var mu sync.Mutex
	var got []int
	b.Subscribe(func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})

	for i := 0; i < 10; i++ {
		b.Publish(i)
	}
	b.Close(context.Background())

	assert.Len(t, got, 10)
	assert.False(t, b.Publish(99))
	assert.Equal(t, 0, b.Pending())

	// Second close returns immediately.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b.Close(ctx)
}
