package cluster

import (
	"context"
	"testing"

	"github.com/najoast/msgbus/wire"
)

func TestSubscriptionMapAddGetChoose(t *testing.T) {
	ctx := context.Background()
	m := NewLocalSubscriptionMap()

	n1 := wire.NodeID{Host: "10.0.0.1", Port: 9000}
	n2 := wire.NodeID{Host: "10.0.0.2", Port: 9000}

	set, err := m.Get(ctx, "news")
	if err != nil {
		t.Fatalf("Get on empty map: %v", err)
	}
	if !set.IsEmpty() {
		t.Fatal("expected empty set for an address with no subscribers")
	}

	if err := m.Add(ctx, "news", n1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := m.Add(ctx, "news", n2); err != nil {
		t.Fatalf("Add: %v", err)
	}

	set, err = m.Get(ctx, "news")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if set.IsEmpty() {
		t.Fatal("expected non-empty set after Add")
	}

	counts := map[wire.NodeID]int{}
	for i := 0; i < 4; i++ {
		n, ok := set.Choose()
		if !ok {
			t.Fatal("expected Choose to succeed on a non-empty set")
		}
		counts[n]++
	}
	if counts[n1] != 2 || counts[n2] != 2 {
		t.Fatalf("expected fair round-robin over 4 draws, got %v", counts)
	}
}

func TestSubscriptionMapRemoveEmptiesEntry(t *testing.T) {
	ctx := context.Background()
	m := NewLocalSubscriptionMap()
	n1 := wire.NodeID{Host: "10.0.0.1", Port: 9000}

	m.Add(ctx, "news", n1)
	if err := m.Remove(ctx, "news", n1); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	set, _ := m.Get(ctx, "news")
	if !set.IsEmpty() {
		t.Fatal("expected address to be empty after removing its only subscriber")
	}
}

func TestSubscriptionMapRemoveAllForValue(t *testing.T) {
	ctx := context.Background()
	m := NewLocalSubscriptionMap()
	n1 := wire.NodeID{Host: "10.0.0.1", Port: 9000}
	n2 := wire.NodeID{Host: "10.0.0.2", Port: 9000}

	m.Add(ctx, "a", n1)
	m.Add(ctx, "b", n1)
	m.Add(ctx, "a", n2)

	if err := m.RemoveAllForValue(ctx, n1); err != nil {
		t.Fatalf("RemoveAllForValue: %v", err)
	}

	setA, _ := m.Get(ctx, "a")
	members := setA.Members()
	if len(members) != 1 || members[0] != n2 {
		t.Fatalf("expected only n2 left on address a, got %v", members)
	}

	setB, _ := m.Get(ctx, "b")
	if !setB.IsEmpty() {
		t.Fatal("expected address b to be empty after purging its only node")
	}
}

func TestSubscriptionMapSnapshotIsStable(t *testing.T) {
	ctx := context.Background()
	m := NewLocalSubscriptionMap()
	n1 := wire.NodeID{Host: "10.0.0.1", Port: 9000}

	m.Add(ctx, "news", n1)
	snap, _ := m.Get(ctx, "news")

	n2 := wire.NodeID{Host: "10.0.0.2", Port: 9000}
	m.Add(ctx, "news", n2)

	if len(snap.Members()) != 1 {
		t.Fatalf("expected snapshot to be unaffected by later Add, got %v", snap.Members())
	}
}

func TestLocalClusterManagerIdentityAndClose(t *testing.T) {
	self := wire.NodeID{Host: "127.0.0.1", Port: 9100}
	cm := NewLocalClusterManager(self)

	if cm.LocalNode() != self {
		t.Fatalf("LocalNode() = %v, want %v", cm.LocalNode(), self)
	}
	if cm.SubscriptionMap() == nil {
		t.Fatal("expected a non-nil subscription map")
	}

	if err := cm.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close must be idempotent.
	if err := cm.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, ok := <-cm.NodeAdded(); ok {
		t.Fatal("expected NodeAdded channel to be closed with no events")
	}
	if _, ok := <-cm.NodeLeft(); ok {
		t.Fatal("expected NodeLeft channel to be closed with no events")
	}
}
