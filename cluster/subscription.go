// Package cluster provides the seam between the bus's dispatch engine
// and a cluster-wide view of "which nodes have a handler for this
// address": an address-keyed multimap of NodeID plus fair selection.
// Gossip, leader election, and failure detection are out of scope
// here; a real distributed backend plugs in behind the same
// ClusterManager interface.
package cluster

import (
	"context"
	"sync"

	"github.com/najoast/msgbus/wire"
)

// ChoosableSet is a snapshot view of a subscription-map entry: it
// supports emptiness checks and a fair selection operation for
// point-to-point send, and Members returns a copy of the snapshot's
// nodes for publish fan-out.
type ChoosableSet interface {
	IsEmpty() bool
	Choose() (wire.NodeID, bool)
	Members() []wire.NodeID
}

// SubscriptionMap is the cluster-wide address -> set<NodeID> multimap.
// Implementations may be eventually consistent: during propagation a
// Get may return a stale view, which the dispatch engine treats as an
// ordinary NO_HANDLERS or a delivery to a node that no longer carries
// a handler.
type SubscriptionMap interface {
	// Add records that node has at least one handler for address. Safe
	// to call more than once for the same (address, node) pair;
	// duplicates are not required to be deduplicated.
	Add(ctx context.Context, address string, node wire.NodeID) error

	// Remove drops one occurrence of (address, node).
	Remove(ctx context.Context, address string, node wire.NodeID) error

	// RemoveAllForValue drops every entry naming node, across every
	// address. Used when a peer connection is declared dead, to purge
	// subscriptions it can no longer serve.
	RemoveAllForValue(ctx context.Context, node wire.NodeID) error

	// Get returns a snapshot ChoosableSet for address. The returned set
	// is never nil; IsEmpty reports whether any node is present.
	Get(ctx context.Context, address string) (ChoosableSet, error)
}

type choosableSet struct {
	mu      sync.Mutex
	members []wire.NodeID
	pos     uint64
}

func (s *choosableSet) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members) == 0
}

func (s *choosableSet) Choose() (wire.NodeID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.members)
	if n == 0 {
		return wire.NodeID{}, false
	}
	idx := int(s.pos % uint64(n))
	s.pos++
	return s.members[idx], true
}

func (s *choosableSet) Members() []wire.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.NodeID, len(s.members))
	copy(out, s.members)
	return out
}

// snapshot copies the entry's members and starts the copy at the
// entry's round-robin position, advancing it, so successive Gets on one
// address choose successive members.
func (s *choosableSet) snapshot() *choosableSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]wire.NodeID, len(s.members))
	copy(cp, s.members)
	pos := s.pos
	s.pos++
	return &choosableSet{members: cp, pos: pos}
}

// LocalSubscriptionMap is an in-process, concurrent implementation of
// SubscriptionMap. It is the only subscription map this module ships:
// sufficient for a single-process "cluster of one" and for tests. A
// real multi-node deployment plugs a gossip- or etcd-backed
// implementation into the same interface.
type LocalSubscriptionMap struct {
	mu      sync.RWMutex
	entries map[string]*choosableSet
}

// NewLocalSubscriptionMap creates an empty LocalSubscriptionMap.
func NewLocalSubscriptionMap() *LocalSubscriptionMap {
	return &LocalSubscriptionMap{entries: make(map[string]*choosableSet)}
}

func (m *LocalSubscriptionMap) Add(_ context.Context, address string, node wire.NodeID) error {
	m.mu.Lock()
	s, ok := m.entries[address]
	if !ok {
		s = &choosableSet{}
		m.entries[address] = s
	}
	m.mu.Unlock()

	s.mu.Lock()
	s.members = append(s.members, node)
	s.mu.Unlock()
	return nil
}

func (m *LocalSubscriptionMap) Remove(_ context.Context, address string, node wire.NodeID) error {
	m.mu.RLock()
	s, ok := m.entries[address]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	idx := -1
	for i, n := range s.members {
		if n == node {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return nil
	}
	s.members = append(s.members[:idx], s.members[idx+1:]...)
	empty := len(s.members) == 0
	s.mu.Unlock()

	if empty {
		m.mu.Lock()
		s.mu.Lock()
		stillEmpty := len(s.members) == 0
		s.mu.Unlock()
		if stillEmpty {
			delete(m.entries, address)
		}
		m.mu.Unlock()
	}
	return nil
}

func (m *LocalSubscriptionMap) RemoveAllForValue(_ context.Context, node wire.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for address, s := range m.entries {
		s.mu.Lock()
		filtered := s.members[:0]
		for _, n := range s.members {
			if n != node {
				filtered = append(filtered, n)
			}
		}
		s.members = filtered
		empty := len(s.members) == 0
		s.mu.Unlock()
		if empty {
			delete(m.entries, address)
		}
	}
	return nil
}

func (m *LocalSubscriptionMap) Get(_ context.Context, address string) (ChoosableSet, error) {
	m.mu.RLock()
	s, ok := m.entries[address]
	m.mu.RUnlock()
	if !ok {
		return &choosableSet{}, nil
	}
	return s.snapshot(), nil
}
