package eventbus

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/najoast/msgbus/cluster"
	"github.com/najoast/msgbus/codec"
	"github.com/najoast/msgbus/config"
	"github.com/najoast/msgbus/eventloop"
	"github.com/najoast/msgbus/logging"
	"github.com/najoast/msgbus/registry"
	"github.com/najoast/msgbus/transport"
	"github.com/najoast/msgbus/wire"
)

var log = logging.New("eventbus")

// handlerMailboxCapacity bounds each registered handler's private
// execution lane. Deliveries beyond this depth block the dispatching
// goroutine, exactly the backpressure eventloop.Loop already gives a
// bursty publish fan-out.
const handlerMailboxCapacity = 32

// ReplyHandler receives the outcome of a Send/SendWithTimeout call: a
// decoded reply message, or a non-nil error — typically a *ReplyError
// — describing why no reply arrived.
type ReplyHandler func(reply *Message, err error)

// Handler is the shape every registered address handler takes.
type Handler func(msg *Message)

// EventBus is the public surface of a running bus: send/publish
// dispatch, handler and codec registration, and lifecycle.
type EventBus interface {
	// Send delivers body to one handler on address, round-robin
	// chosen. replyHandler, if non-nil, fires with the eventual reply
	// or error, using GetDefaultReplyTimeout.
	Send(address string, body interface{}, replyHandler ReplyHandler) error

	// SendWithTimeout is Send with an explicit reply timeout.
	// timeout <= 0 means no timeout is scheduled (a never-replied
	// reply handler leaks until Close).
	SendWithTimeout(address string, body interface{}, timeout time.Duration, replyHandler ReplyHandler) error

	// Publish delivers body to every handler registered on address.
	Publish(address string, body interface{}) error

	// RegisterHandler registers handler on address. When the bus is
	// clustered, the first handler on an address propagates into the
	// subscription map; Registration.Readiness fires once that
	// propagation completes.
	RegisterHandler(address string, handler Handler) (Registration, error)

	// RegisterLocalHandler registers handler on address without
	// propagating it into the subscription map — it only ever
	// receives deliveries routed locally.
	RegisterLocalHandler(address string, handler Handler) (Registration, error)

	// RegisterCodec installs a codec for typeName, used to encode and
	// decode non-primitive message bodies of that runtime type.
	RegisterCodec(typeName string, c codec.Codec)

	// UnregisterCodec removes the codec registered for typeName, if
	// any.
	UnregisterCodec(typeName string)

	// SetDefaultReplyTimeout changes the timeout Send (not
	// SendWithTimeout) uses henceforth.
	SetDefaultReplyTimeout(d time.Duration)

	// GetDefaultReplyTimeout returns the timeout currently in effect
	// for Send.
	GetDefaultReplyTimeout() time.Duration

	// Stats reports current registry, subscription, and connection
	// occupancy — the source the metrics package polls.
	Stats() Stats

	// Close stops the bus: closes the inbound server, every pooled
	// outbound connection, and the cluster manager. In-flight
	// deliveries may still complete.
	Close() error
}

// bus is the EventBus implementation: the dispatch engine of
// dispatch.go plus the registration/lifecycle wiring below.
type bus struct {
	cfg       *config.BusConfig
	self      wire.NodeID
	clustered bool

	reg    *registry.Registry
	codecs *codec.Registry
	cm     cluster.ClusterManager
	pool   *transport.Pool
	server *transport.Server

	replySeq       atomic.Uint64
	defaultTimeout atomic.Int64 // time.Duration, nanoseconds

	recorder Recorder

	closed atomic.Bool
	wg     sync.WaitGroup
}

// New starts a bus bound per cfg. When cm is nil, the bus runs
// non-clustered: it wraps cluster.NewLocalClusterManager and every
// send/publish delivers locally. cfg may be nil, in which case
// config.DefaultBusConfig is used.
func New(cfg *config.BusConfig, cm cluster.ClusterManager, opts ...Option) (EventBus, error) {
	if cfg == nil {
		cfg = config.DefaultBusConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &bus{
		cfg:      cfg,
		reg:      registry.New(),
		codecs:   codec.NewRegistry(),
		recorder: noopRecorder{},
	}
	b.defaultTimeout.Store(int64(cfg.DefaultReplyTimeout))
	for _, opt := range opts {
		opt(b)
	}

	server, err := transport.NewServer(cfg.BindHost, cfg.BindPort, cfg.PublicHost, cfg.PublicPort, b.receiveLocal)
	if err != nil {
		return nil, fmt.Errorf("eventbus: starting inbound server: %w", err)
	}
	b.server = server
	b.self = server.NodeID()

	if cm == nil {
		cm = cluster.NewLocalClusterManager(b.self)
	} else {
		b.clustered = true
	}
	b.cm = cm
	b.pool = transport.NewPool(b.self, cm.SubscriptionMap(), cfg.PingInterval, cfg.PongTimeout)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := server.Serve(); err != nil {
			log.WithField("err", err).Warn("inbound server stopped")
		}
	}()

	log.WithField("node", b.self).WithField("clustered", b.clustered).Info("bus started")
	return b, nil
}

func (b *bus) isClosed() bool { return b.closed.Load() }

func (b *bus) Send(address string, body interface{}, replyHandler ReplyHandler) error {
	return b.send(address, body, b.GetDefaultReplyTimeout(), replyHandler)
}

func (b *bus) SendWithTimeout(address string, body interface{}, timeout time.Duration, replyHandler ReplyHandler) error {
	return b.send(address, body, timeout, replyHandler)
}

func (b *bus) send(address string, body interface{}, timeout time.Duration, replyHandler ReplyHandler) error {
	if b.isClosed() {
		return ErrClosed
	}
	env, err := b.prepareEnvelope(body)
	if err != nil {
		return err
	}

	var replyAddress string
	hasReply := replyHandler != nil
	if hasReply {
		replyAddress = b.allocateReplyAddress()
		b.registerReplyHandler(replyAddress, replyHandler, timeout)
	}

	b.recorder.ObserveSend()
	b.sendOrPub(true, address, env, replyAddress, hasReply)
	return nil
}

func (b *bus) Publish(address string, body interface{}) error {
	if b.isClosed() {
		return ErrClosed
	}
	env, err := b.prepareEnvelope(body)
	if err != nil {
		return err
	}
	b.recorder.ObservePublish()
	b.sendOrPub(false, address, env, "", false)
	return nil
}

func (b *bus) allocateReplyAddress() string {
	if b.clustered {
		return uuid.NewString()
	}
	return strconv.FormatUint(b.replySeq.Add(1), 10)
}

func (b *bus) RegisterHandler(address string, handler Handler) (Registration, error) {
	return b.register(address, handler, false)
}

func (b *bus) RegisterLocalHandler(address string, handler Handler) (Registration, error) {
	return b.register(address, handler, true)
}

func (b *bus) register(address string, handler Handler, localOnly bool) (Registration, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}

	loop := eventloop.NewLoop(handlerMailboxCapacity)
	wrapped := func(msg *wire.Message) {
		handler(b.newMessage(msg))
	}

	holder, first := b.reg.Register(address, wrapped, loop, false, localOnly)
	reg := &registration{bus: b, address: address, holder: holder, loop: loop}

	if first && b.clustered && !localOnly {
		err := b.cm.SubscriptionMap().Add(context.Background(), address, b.self)
		reg.resolve(err)
	} else {
		reg.resolve(nil)
	}

	return reg, nil
}

func (b *bus) unregisterHandler(address string, holder *registry.Holder) error {
	_, emptied := b.reg.Unregister(address, holder.ID)
	if emptied && b.clustered && !holder.LocalOnly && !holder.ReplyHandler {
		if err := b.cm.SubscriptionMap().Remove(context.Background(), address, b.self); err != nil {
			log.WithField("address", address).WithField("err", err).Warn("subscription map remove failed")
			return err
		}
	}
	return nil
}

func (b *bus) RegisterCodec(typeName string, c codec.Codec) {
	b.codecs.Register(typeName, c)
}

func (b *bus) UnregisterCodec(typeName string) {
	b.codecs.Unregister(typeName)
}

func (b *bus) SetDefaultReplyTimeout(d time.Duration) {
	b.defaultTimeout.Store(int64(d))
}

func (b *bus) GetDefaultReplyTimeout() time.Duration {
	return time.Duration(b.defaultTimeout.Load())
}

func (b *bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.pool.Close()
	err := b.server.Close()
	b.wg.Wait()

	if cerr := b.cm.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
