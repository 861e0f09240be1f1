package transport

import (
	"net"
	"strconv"
	"sync"

	"github.com/najoast/msgbus/wire"
)

// Receiver is handed every non-ping message the server decodes. It is
// the seam into the dispatch engine's local delivery path
// (receiveLocal); transport never imports the bus package, so this
// is a plain function value rather than an interface.
type Receiver func(msg *wire.Message)

// Server is the inbound TCP listener: one net.Listener, a
// per-connection frame parser that answers pings with the bare pong
// byte and hands everything else to Receiver.
type Server struct {
	listener net.Listener
	receive  Receiver

	publicHost string
	publicPort int

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewServer binds a listener on bindHost:bindPort. publicHost/
// publicPort override the NodeID advertised to peers (for a node
// behind NAT or a load balancer); when either is empty/zero, it falls
// back to the bind host and the listener's actual bound port.
func NewServer(bindHost string, bindPort int, publicHost string, publicPort int, receive Receiver) (*Server, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(bindHost, strconv.Itoa(bindPort)))
	if err != nil {
		return nil, err
	}

	s := &Server{listener: ln, receive: receive, publicHost: publicHost, publicPort: publicPort}
	if s.publicHost == "" {
		s.publicHost = bindHost
	}
	if s.publicPort == 0 {
		_, portStr, err := net.SplitHostPort(ln.Addr().String())
		if err != nil {
			ln.Close()
			return nil, err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			ln.Close()
			return nil, err
		}
		s.publicPort = port
	}
	return s, nil
}

// NodeID returns the identity this server advertises to peers.
func (s *Server) NodeID() wire.NodeID {
	return wire.NodeID{Host: s.publicHost, Port: s.publicPort}
}

// Addr returns the listener's actual bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until the listener is closed. It blocks;
// callers run it in its own goroutine. When it returns, it closes every
// connection it accepted that is still open.
func (s *Server) Serve() error {
	var conns sync.Map // accepted connections still being handled
	defer conns.Range(func(c, _ interface{}) bool {
		c.(net.Conn).Close()
		return true
	})

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}

		conns.Store(conn, struct{}{})
		s.wg.Add(1)
		go func() {
			s.handleConn(conn)
			conns.Delete(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	for {
		msg, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}

		if msg.BodyType == wire.BodyTypePing {
			if _, err := conn.Write([]byte{wire.PongByte}); err != nil {
				return
			}
			continue
		}

		if s.receive != nil {
			s.receive(msg)
		}
	}
}

// Close stops accepting new connections and waits for in-flight
// connection handlers to finish; closing the listener makes Serve
// return and close the accepted connections, which ends those handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.listener.Close()
	s.wg.Wait()
	return err
}
