// Package robottest provides a scripted in-process robot for tests. Each
// Server listens on one loopback port and answers framed requests by
// message type; a Fleet bundles one Server per robot service group.
package robottest

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-seer/pkg/protocol"
)

// Request is one decoded frame received by the server.
type Request struct {
	Header  protocol.Header
	Payload protocol.Payload
}

// Reply describes how the server answers a request.
type Reply struct {
	// Type defaults to the request type + 10000.
	Type    uint16
	Payload protocol.Payload
	// Raw, when set, is written verbatim instead of an encoded frame.
	Raw []byte
	// ChunkSize splits the write into pieces of this many bytes.
	ChunkSize int
	// Delay is slept before replying.
	Delay time.Duration
	// Silent sends nothing.
	Silent bool
	// Close drops the connection instead of replying.
	Close bool
}

// Handler produces a reply for a request.
type Handler func(req Request) Reply

// Server is a single-port fake robot service.
type Server struct {
	t  testing.TB
	ln net.Listener

	mu       sync.Mutex
	handlers map[uint16]Handler
	conns    []net.Conn
	requests []Request
	closed   bool

	accepted chan net.Conn
	wg       sync.WaitGroup
}

// NewServer starts a server on 127.0.0.1 with an ephemeral port. It is
// closed automatically when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("robottest: listen: %v", err)
	}
	s := &Server{
		t:        t,
		ln:       ln,
		handlers: make(map[uint16]Handler),
		accepted: make(chan net.Conn, 16),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Host returns the listen host.
func (s *Server) Host() string { return "127.0.0.1" }

// Port returns the listen port.
func (s *Server) Port() int { return s.ln.Addr().(*net.TCPAddr).Port }

// Handle registers a handler for a request message type.
func (s *Server) Handle(msgType uint16, h Handler) {
	s.mu.Lock()
	s.handlers[msgType] = h
	s.mu.Unlock()
}

// Respond registers a fixed JSON reply for a request message type.
func (s *Server) Respond(msgType uint16, payload protocol.Payload) {
	s.Handle(msgType, func(Request) Reply { return Reply{Payload: payload} })
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestCount returns how many requests of msgType were received.
func (s *Server) RequestCount(msgType uint16) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Header.Type == msgType {
			n++
		}
	}
	return n
}

// WaitConn returns the next accepted connection.
func (s *Server) WaitConn(timeout time.Duration) net.Conn {
	s.t.Helper()
	select {
	case c := <-s.accepted:
		return c
	case <-time.After(timeout):
		s.t.Fatalf("robottest: no connection within %v", timeout)
		return nil
	}
}

// Push writes raw bytes to every open connection.
func (s *Server) Push(data []byte) {
	s.mu.Lock()
	conns := append([]net.Conn(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		_, _ = c.Write(data)
	}
}

// DropConnections closes every accepted connection but keeps listening.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Close stops the listener and all connections.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		select {
		case s.accepted <- conn:
		default:
		}

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	for {
		var hdr [protocol.HeaderSize]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		h, _ := protocol.DecodeHeader(hdr[:])
		body := make([]byte, h.Length)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		payload := protocol.Payload{}
		if len(body) > 0 {
			p, err := protocol.Unmarshal(body)
			if err == nil {
				payload = p
			}
		}
		req := Request{Header: h, Payload: payload}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		handler := s.handlers[h.Type]
		s.mu.Unlock()

		reply := Reply{Payload: protocol.Payload{"ret_code": 0}}
		if handler != nil {
			reply = handler(req)
		}
		if err := s.reply(conn, req, reply); err != nil {
			return
		}
	}
}

var errClosed = errors.New("robottest: connection closed by script")

func (s *Server) reply(conn net.Conn, req Request, r Reply) error {
	if r.Delay > 0 {
		time.Sleep(r.Delay)
	}
	if r.Close {
		_ = conn.Close()
		return errClosed
	}
	if r.Silent {
		return nil
	}

	data := r.Raw
	if data == nil {
		typ := r.Type
		if typ == 0 {
			typ = req.Header.Type + 10000
		}
		f, err := protocol.Encode(req.Header.RequestID, typ, r.Payload)
		if err != nil {
			s.t.Errorf("robottest: encode reply: %v", err)
			return err
		}
		data = f
	}

	if r.ChunkSize <= 0 {
		_, err := conn.Write(data)
		return err
	}
	for len(data) > 0 {
		n := min(r.ChunkSize, len(data))
		if _, err := conn.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
		time.Sleep(time.Millisecond)
	}
	return nil
}

// Frame encodes a frame or fails the test.
func Frame(t testing.TB, requestID, msgType uint16, payload protocol.Payload) []byte {
	t.Helper()
	f, err := protocol.Encode(requestID, msgType, payload)
	if err != nil {
		t.Fatalf("robottest: encode: %v", err)
	}
	return f
}

// RawFrame builds a frame around an arbitrary body, valid JSON or not.
func RawFrame(requestID, msgType uint16, body []byte) []byte {
	f := make([]byte, protocol.HeaderSize+len(body))
	f[0] = protocol.Magic
	f[1] = protocol.Version
	binary.BigEndian.PutUint16(f[2:4], requestID)
	binary.BigEndian.PutUint32(f[4:8], uint32(len(body)))
	binary.BigEndian.PutUint16(f[8:10], msgType)
	copy(f[protocol.HeaderSize:], body)
	return f
}
