package eventbus

import (
	"sync"

	"github.com/najoast/msgbus/eventloop"
	"github.com/najoast/msgbus/registry"
)

// Registration is returned by RegisterHandler/RegisterLocalHandler.
// Readiness fires once cluster propagation (if any) has completed;
// Unregister tears the handler down and, for cluster-propagated
// handlers whose bucket empties, removes the node from the
// subscription map.
type Registration interface {
	Address() string
	Readiness(func(error))
	Unregister(func(error))
}

type registration struct {
	bus     *bus
	address string
	holder  *registry.Holder
	loop    *eventloop.Loop

	mu       sync.Mutex
	ready    bool
	readyErr error
	cbs      []func(error)
}

func (r *registration) Address() string { return r.address }

// Readiness invokes cb once registration completes: immediately for
// local-only or already-resolved registrations, otherwise once the
// subscription-map propagation this registration is waiting on
// acknowledges.
func (r *registration) Readiness(cb func(error)) {
	if cb == nil {
		return
	}
	r.mu.Lock()
	if r.ready {
		err := r.readyErr
		r.mu.Unlock()
		cb(err)
		return
	}
	r.cbs = append(r.cbs, cb)
	r.mu.Unlock()
}

func (r *registration) resolve(err error) {
	r.mu.Lock()
	if r.ready {
		r.mu.Unlock()
		return
	}
	r.ready = true
	r.readyErr = err
	cbs := r.cbs
	r.cbs = nil
	r.mu.Unlock()

	for _, cb := range cbs {
		cb(err)
	}
}

func (r *registration) Unregister(cb func(error)) {
	err := r.bus.unregisterHandler(r.address, r.holder)
	r.loop.Close()
	if cb != nil {
		cb(err)
	}
}
