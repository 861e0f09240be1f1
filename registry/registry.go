// Package registry implements the local, per-node handler registry:
// one ordered bucket of holders per address, with a fair round-robin
// Choose for point-to-point send and snapshot Iterate for publish.
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/najoast/msgbus/eventloop"
	"github.com/najoast/msgbus/wire"
)

// HandlerFunc is the shape every registered handler takes: one
// envelope in, nothing out — replies, if any, are sent back through
// the bus using the envelope's ReplyAddress.
type HandlerFunc func(msg *wire.Message)

// Holder is the registration record for one handler on one address.
// Registry sets the removed flag and stops TimeoutTimer; the dispatch
// engine sets TimeoutTimer after Register returns; everything else is
// set once at registration and read thereafter.
type Holder struct {
	ID           uint64
	Address      string
	Handler      HandlerFunc
	Context      eventloop.Context
	ReplyHandler bool
	LocalOnly    bool

	// TimeoutTimer is armed by the dispatch engine for reply handlers
	// with a positive timeout, and stopped here by Unregister so a
	// late unregistration can never leave a stale timer running.
	TimeoutTimer *time.Timer

	removed int32 // atomic bool
}

// MarkRemoved flags the holder as removed. Deliveries already queued
// onto the holder's Context re-check this right before invocation.
func (h *Holder) MarkRemoved() {
	atomic.StoreInt32(&h.removed, 1)
}

// Removed reports whether the holder has been unregistered.
func (h *Holder) Removed() bool {
	return atomic.LoadInt32(&h.removed) != 0
}

type bucket struct {
	mu      sync.Mutex
	holders []*Holder
	pos     uint64
}

// Registry is the per-node address -> handlers map. The zero value is
// not usable; construct with New.
type Registry struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	nextID  uint64
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{buckets: make(map[string]*bucket)}
}

// Register creates a holder for handler on address and appends it to
// the address's bucket, creating the bucket if necessary. first
// reports whether this was the bucket's only holder immediately after
// the append — the caller uses this, together with whether the bus is
// clustered and whether replyHandler/localOnly are set, to decide
// whether to propagate the registration into the subscription map.
func (r *Registry) Register(address string, handler HandlerFunc, ctx eventloop.Context, replyHandler, localOnly bool) (holder *Holder, first bool) {
	b := r.bucketFor(address)

	holder = &Holder{
		ID:           atomic.AddUint64(&r.nextID, 1),
		Address:      address,
		Handler:      handler,
		Context:      ctx,
		ReplyHandler: replyHandler,
		LocalOnly:    localOnly,
	}

	b.mu.Lock()
	b.holders = append(b.holders, holder)
	first = len(b.holders) == 1
	b.mu.Unlock()

	return holder, first
}

// Unregister removes the holder with the given id from address's
// bucket, stopping its timeout timer if one was armed. emptied
// reports whether the bucket is now empty — in which case it was also
// deleted from the registry in the same critical section, and the
// caller should propagate a subscription-map removal if the holder
// was cluster-visible.
func (r *Registry) Unregister(address string, id uint64) (holder *Holder, emptied bool) {
	r.mu.RLock()
	b, ok := r.buckets[address]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	b.mu.Lock()
	idx := -1
	for i, h := range b.holders {
		if h.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		b.mu.Unlock()
		return nil, false
	}

	holder = b.holders[idx]
	b.holders = append(b.holders[:idx], b.holders[idx+1:]...)
	holder.MarkRemoved()
	if holder.TimeoutTimer != nil {
		holder.TimeoutTimer.Stop()
	}
	empty := len(b.holders) == 0
	b.mu.Unlock()

	if empty {
		r.mu.Lock()
		// Re-check under the write lock: another Register may have
		// repopulated this address between releasing b.mu and
		// acquiring r.mu.
		b.mu.Lock()
		stillEmpty := len(b.holders) == 0
		b.mu.Unlock()
		if stillEmpty {
			delete(r.buckets, address)
		}
		r.mu.Unlock()
		emptied = stillEmpty
	}

	return holder, emptied
}

// Choose returns the next holder for address by round robin. pos and
// the holder list share a single bucket lock, so a concurrent
// register/unregister is always fully applied or not yet visible —
// there is no out-of-range window to recover from, only approximate
// fairness across overlapping callers incrementing the same pos.
func (r *Registry) Choose(address string) (*Holder, bool) {
	b := r.lookupBucket(address)
	if b == nil {
		return nil, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.holders)
	if n == 0 {
		return nil, false
	}

	idx := int(b.pos % uint64(n))
	b.pos++
	return b.holders[idx], true
}

// Iterate returns a snapshot of address's current holders, safe to
// range over concurrently with further Register/Unregister calls.
func (r *Registry) Iterate(address string) []*Holder {
	b := r.lookupBucket(address)
	if b == nil {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	snap := make([]*Holder, len(b.holders))
	copy(snap, b.holders)
	return snap
}

// HasAddress reports whether any holder is currently registered for
// address.
func (r *Registry) HasAddress(address string) bool {
	b := r.lookupBucket(address)
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.holders) > 0
}

func (r *Registry) lookupBucket(address string) *bucket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.buckets[address]
}

func (r *Registry) bucketFor(address string) *bucket {
	r.mu.RLock()
	b, ok := r.buckets[address]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.buckets[address]; ok {
		return b
	}
	b = &bucket{}
	r.buckets[address] = b
	return b
}

// Stats is a point-in-time snapshot of registry occupancy, exported by
// the bus as Prometheus gauges.
type Stats struct {
	Addresses     int
	TotalHandlers int
}

// Snapshot computes current Stats. It is O(addresses) and intended for
// periodic polling, not the hot send/publish path.
func (r *Registry) Snapshot() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{Addresses: len(r.buckets)}
	for _, b := range r.buckets {
		b.mu.Lock()
		stats.TotalHandlers += len(b.holders)
		b.mu.Unlock()
	}
	return stats
}
