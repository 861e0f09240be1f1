// Package transport provides the bus's peer-to-peer networking: an
// outbound connection pool with ping/pong liveness, and the inbound
// server that accepts connections from other nodes. Grounded on the
// teacher's network.tcpClient/network.connectionManager (atomic state
// flags, RWMutex-guarded connection maps, Statistics structs) and
// network.tcpServer (accept loop, connection handlers).
package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/najoast/msgbus/cluster"
	"github.com/najoast/msgbus/logging"
	"github.com/najoast/msgbus/wire"
)

var log = logging.New("transport")

// holder is one outbound connection to a peer: a pending-write FIFO,
// a connected flag, ping/pong timers, and the peer's identity.
type holder struct {
	peer wire.NodeID

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	pending   [][]byte

	pingTimer *time.Timer
	pongTimer *time.Timer
}

// Pool is the outbound connection pool: one TCP connection per peer,
// created lazily on first write, with a pending-write queue used until
// the connection is up and a ping/pong cycle keeping it honest.
type Pool struct {
	self wire.NodeID
	subs cluster.SubscriptionMap

	dialTimeout  time.Duration
	pingInterval time.Duration
	pongTimeout  time.Duration

	mu    sync.Mutex
	conns map[wire.NodeID]*holder
}

// PoolStats is a point-in-time snapshot of pool occupancy.
type PoolStats struct {
	OpenConnections int
	PendingFrames   int
}

// NewPool creates a Pool that dials peers as self and purges
// subscriptions for a peer (via subs.RemoveAllForValue) when that
// peer's connection is declared dead. subs may be nil in non-clustered
// mode, in which case failed connections are simply dropped.
func NewPool(self wire.NodeID, subs cluster.SubscriptionMap, pingInterval, pongTimeout time.Duration) *Pool {
	return &Pool{
		self:         self,
		subs:         subs,
		dialTimeout:  10 * time.Second,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		conns:        make(map[wire.NodeID]*holder),
	}
}

// WriteTo encodes msg and delivers it to peer, connecting lazily if
// necessary. A write against a not-yet-connected holder is queued on
// its pending FIFO and flushed once the connection completes.
func (p *Pool) WriteTo(peer wire.NodeID, msg *wire.Message) error {
	frame, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	p.writeFrame(peer, frame)
	return nil
}

func (p *Pool) writeFrame(peer wire.NodeID, frame []byte) {
	h, created := p.holderFor(peer)
	if created {
		go p.connect(h)
	}

	h.mu.Lock()
	if h.connected {
		conn := h.conn
		h.mu.Unlock()
		if _, err := conn.Write(frame); err != nil {
			log.WithField("peer", peer).WithField("err", err).Warn("write to peer failed")
			p.cleanup(h, true)
		}
		return
	}
	h.pending = append(h.pending, frame)
	h.mu.Unlock()
}

// holderFor returns the holder for peer, creating and inserting one
// under a single critical section if absent: a putIfAbsent expressed
// as check-then-create under one lock rather than a literal
// compare-and-swap primitive.
func (p *Pool) holderFor(peer wire.NodeID) (h *holder, created bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.conns[peer]; ok {
		return h, false
	}
	h = &holder{peer: peer}
	p.conns[peer] = h
	return h, true
}

func (p *Pool) connect(h *holder) {
	conn, err := net.DialTimeout("tcp", h.peer.String(), p.dialTimeout)
	if err != nil {
		log.WithField("peer", h.peer).WithField("err", err).Warn("dial failed")
		p.cleanup(h, true)
		return
	}

	h.mu.Lock()
	h.conn = conn
	h.connected = true
	pending := h.pending
	h.pending = nil
	h.mu.Unlock()

	for _, frame := range pending {
		if _, err := conn.Write(frame); err != nil {
			log.WithField("peer", h.peer).WithField("err", err).Warn("draining pending writes failed")
			p.cleanup(h, true)
			return
		}
	}

	go p.readLoop(h)
	p.armPing(h)
}

// readLoop treats any successful read as a pong: the wire protocol
// never sends application data back over an outbound connection, only
// the bare liveness byte.
func (p *Pool) readLoop(h *holder) {
	buf := make([]byte, 256)
	for {
		n, err := h.conn.Read(buf)
		if err != nil {
			p.cleanup(h, true)
			return
		}
		if n > 0 {
			p.onPong(h)
		}
	}
}

func (p *Pool) armPing(h *holder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pingTimer != nil {
		h.pingTimer.Stop()
	}
	h.pingTimer = time.AfterFunc(p.pingInterval, func() { p.sendPing(h) })
}

func (p *Pool) sendPing(h *holder) {
	h.mu.Lock()
	if !h.connected {
		h.mu.Unlock()
		return
	}
	conn := h.conn
	h.mu.Unlock()

	frame, err := wire.EncodePing(p.self)
	if err != nil {
		return
	}
	if _, err := conn.Write(frame); err != nil {
		p.cleanup(h, true)
		return
	}

	h.mu.Lock()
	if h.pongTimer != nil {
		h.pongTimer.Stop()
	}
	h.pongTimer = time.AfterFunc(p.pongTimeout, func() { p.cleanup(h, true) })
	h.mu.Unlock()
}

func (p *Pool) onPong(h *holder) {
	h.mu.Lock()
	if h.pongTimer != nil {
		h.pongTimer.Stop()
		h.pongTimer = nil
	}
	h.mu.Unlock()
	p.armPing(h)
}

// cleanup tears down h: stops its timers, closes the socket, and
// removes it from the pool with identity compare-and-remove (a new
// holder for the same peer, created by a concurrent write, must
// survive). When failed is true, it also purges stale subscriptions
// the dead peer authored.
func (p *Pool) cleanup(h *holder, failed bool) {
	h.mu.Lock()
	if h.pingTimer != nil {
		h.pingTimer.Stop()
	}
	if h.pongTimer != nil {
		h.pongTimer.Stop()
	}
	conn := h.conn
	h.connected = false
	h.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	p.mu.Lock()
	if p.conns[h.peer] == h {
		delete(p.conns, h.peer)
	}
	p.mu.Unlock()

	if failed && p.subs != nil {
		if err := p.subs.RemoveAllForValue(context.Background(), h.peer); err != nil {
			log.WithField("peer", h.peer).WithField("err", err).Warn("failed to purge subscriptions for dead peer")
		}
	}
}

// Close tears down every open connection. It does not purge
// subscriptions — an orderly close is not a peer failure.
func (p *Pool) Close() {
	p.mu.Lock()
	holders := make([]*holder, 0, len(p.conns))
	for _, h := range p.conns {
		holders = append(holders, h)
	}
	p.mu.Unlock()

	for _, h := range holders {
		p.cleanup(h, false)
	}
}

// Stats reports current pool occupancy.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	holders := make([]*holder, 0, len(p.conns))
	for _, h := range p.conns {
		holders = append(holders, h)
	}
	open := len(p.conns)
	p.mu.Unlock()

	pending := 0
	for _, h := range holders {
		h.mu.Lock()
		pending += len(h.pending)
		h.mu.Unlock()
	}

	return PoolStats{OpenConnections: open, PendingFrames: pending}
}
