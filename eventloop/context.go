// Package eventloop provides the single-threaded execution lane a
// handler's deliveries run serially on: queue a closure, run it on one
// goroutine, in order.
package eventloop

import (
	"sync"

	"github.com/najoast/msgbus/logging"
)

var log = logging.New("eventloop")

// Context is a single-threaded execution lane. Deliveries to a
// handler bound to the same Context are processed strictly in the
// order they were queued.
type Context interface {
	// Run queues fn to execute on this context's goroutine. With
	// Loop, Run blocks while the mailbox is full.
	Run(fn func())

	// Close stops accepting new work. Work already queued still
	// runs; Loop.Close also waits for it to finish.
	Close()
}

// Loop is the default Context implementation: a buffered channel
// drained by exactly one goroutine.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
	closed chan struct{}
}

// NewLoop starts a Loop with the given mailbox capacity and returns
// it. capacity <= 0 means unbuffered (Run blocks until the loop
// goroutine is ready to accept, matching an unbuffered channel's
// normal behavior).
func NewLoop(capacity int) *Loop {
	if capacity < 0 {
		capacity = 0
	}
	l := &Loop{
		tasks:  make(chan func(), capacity),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.closed)
	for {
		select {
		case fn, ok := <-l.tasks:
			if !ok {
				return
			}
			runSafely(fn)
		case <-l.done:
			// Drain whatever is already queued before exiting, so a
			// handler that fires right before Close still runs.
			for {
				select {
				case fn := <-l.tasks:
					runSafely(fn)
				default:
					return
				}
			}
		}
	}
}

func runSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			// A panicking handler must not take down the whole bus;
			// the dispatch engine logs delivery failures at its own
			// boundary, this is the last-resort backstop.
			log.WithField("panic", r).Error("recovered from handler panic")
		}
	}()
	fn()
}

// Run queues fn onto the loop. Called after Close, fn is dropped.
func (l *Loop) Run(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

// Close stops the loop after draining already-queued work, and blocks
// until the goroutine has exited.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.done) })
	<-l.closed
}
