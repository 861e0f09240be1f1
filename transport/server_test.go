package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/najoast/msgbus/wire"
)

func dialTestServer(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServerDecodesFramesAndCallsReceiver(t *testing.T) {
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

	conn := dialTestServer(t, s)

	frame, err := wire.Encode(&wire.Message{Send: true, Address: "news", BodyType: wire.BodyTypeString, Body: []byte("hello")})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 message delivered to receiver, got %d", len(received))
	}
	if received[0].Address != "news" || string(received[0].Body) != "hello" {
		t.Fatalf("unexpected message: %+v", received[0])
	}
}

func TestServerAnswersPingWithBarePongByte(t *testing.T) {
	s, err := NewServer("127.0.0.1", 0, "", 0, func(*wire.Message) {})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer s.Close()
	go s.Serve()

	conn := dialTestServer(t, s)

	frame, err := wire.EncodePing(wire.NodeID{Host: "127.0.0.1", Port: 12345})
	if err != nil {
		t.Fatalf("EncodePing: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != nil {
		t.Fatalf("reading pong: %v", err)
	}
	if buf[0] != wire.PongByte {
		t.Fatalf("got byte %x, want pong byte %x", buf[0], wire.PongByte)
	}
}

func TestServerPublicNodeIDDefaultsToBindHostAndActualPort(t *testing.T) {
	s, err := NewServer("127.0.0.1", 0, "", 0, func(*wire.Message) {})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer s.Close()

	id := s.NodeID()
	if id.Host != "127.0.0.1" {
		t.Fatalf("Host = %q, want bind host fallback", id.Host)
	}
	if id.Port == 0 {
		t.Fatal("expected a non-zero resolved port")
	}
}

func TestServerPublicNodeIDHonorsOverride(t *testing.T) {
	s, err := NewServer("127.0.0.1", 0, "bus.example.org", 9999, func(*wire.Message) {})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer s.Close()

	id := s.NodeID()
	if id.Host != "bus.example.org" || id.Port != 9999 {
		t.Fatalf("NodeID() = %+v, want override applied", id)
	}
}
