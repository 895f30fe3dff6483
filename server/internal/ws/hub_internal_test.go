package ws

import (
	"sync"
	"testing"
	"time"
)

// Readings and alerts are pushed from ingest request goroutines, so broadcast
// runs concurrently with itself. A slow client whose buffer is full gets
// disconnected; concurrent broadcasts must agree on who closes its channel.
func TestBroadcastConcurrentSlowClient(t *testing.T) {
	h := New(nil, time.Minute)

	slow := &client{send: make(chan []byte, 1)}
	slow.send <- []byte(`{"event":"status"}`) // buffer already full
	h.register(slow)

	fast := &client{send: make(chan []byte, 512)} // roomy enough for every send below
	h.register(fast)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.broadcast([]byte(`{"event":"reading"}`))
			}
		}()
	}
	wg.Wait()

	if got := h.Count(); got != 1 {
		t.Errorf("connected clients = %d, want 1 (slow client dropped)", got)
	}
	if _, ok := h.clients[fast]; !ok {
		t.Error("fast client was dropped")
	}
}

func TestUnregisterTwiceClosesOnce(t *testing.T) {
	h := New(nil, time.Minute)
	c := &client{send: make(chan []byte, 1)}
	h.register(c)

	h.unregister(c)
	h.unregister(c) // second call must be a no-op, not a double close

	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed and drained")
	}
}

func TestTrySendSkipsUnregisteredClient(t *testing.T) {
	h := New(nil, time.Minute)
	c := &client{send: make(chan []byte, 1)}
	h.register(c)
	h.unregister(c)

	// Must not panic by sending on the closed channel.
	h.trySend(c, []byte(`{"event":"status"}`))
}
