package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/najoast/msgbus/cluster"
	"github.com/najoast/msgbus/wire"
)

// fakeSubs is a minimal cluster.SubscriptionMap recording
// RemoveAllForValue calls, so pool failure cleanup can be asserted
// without pulling in the full LocalSubscriptionMap.
type fakeSubs struct {
	mu     sync.Mutex
	purged []wire.NodeID
}

func (f *fakeSubs) Add(context.Context, string, wire.NodeID) error    { return nil }
func (f *fakeSubs) Remove(context.Context, string, wire.NodeID) error { return nil }

func (f *fakeSubs) RemoveAllForValue(_ context.Context, node wire.NodeID) error {
	f.mu.Lock()
	f.purged = append(f.purged, node)
	f.mu.Unlock()
	return nil
}

func (f *fakeSubs) Get(context.Context, string) (cluster.ChoosableSet, error) {
	return nil, nil
}

func TestPoolWriteToDeliversAndQueuesWhilePending(t *testing.T) {
	var mu sync.Mutex
	var received []*wire.Message

	s, err := NewServer("127.0.0.1", 0, "", 0, func(msg *wire.Message) {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer s.Close()
	go s.Serve()

	peer := s.NodeID()
	self := wire.NodeID{Host: "127.0.0.1", Port: 1}
	pool := NewPool(self, nil, time.Hour, time.Hour)
	defer pool.Close()

	for i := 0; i < 3; i++ {
		if err := pool.WriteTo(peer, &wire.Message{Send: true, Address: "a", BodyType: wire.BodyTypeInt32, Body: []byte{0, 0, 0, byte(i)}}); err != nil {
			t.Fatalf("WriteTo #%d: %v", i, err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 3 {
		t.Fatalf("expected 3 messages delivered, got %d", len(received))
	}

	if pool.Stats().OpenConnections != 1 {
		t.Fatalf("expected exactly one pooled connection for one peer, got %d", pool.Stats().OpenConnections)
	}
}

func TestPoolDialFailurePurgesSubscriptions(t *testing.T) {
	subs := &fakeSubs{}
	self := wire.NodeID{Host: "127.0.0.1", Port: 1}
	pool := NewPool(self, subs, time.Hour, time.Hour)
	defer pool.Close()

	// Nothing listens on this port, so the dial must fail and trigger
	// cleanup(failed=true).
	deadPeer := wire.NodeID{Host: "127.0.0.1", Port: 2}
	_ = pool.WriteTo(deadPeer, &wire.Message{Send: true, Address: "a", BodyType: wire.BodyTypeNil})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		subs.mu.Lock()
		n := len(subs.purged)
		subs.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	subs.mu.Lock()
	defer subs.mu.Unlock()
	if len(subs.purged) != 1 || subs.purged[0] != deadPeer {
		t.Fatalf("expected dead peer to be purged once, got %v", subs.purged)
	}
}
