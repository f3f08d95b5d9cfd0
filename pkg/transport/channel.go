// Package transport provides a persistent TCP channel to one robot service
// port and the synchronous request/response cycle that runs over it.
//
// A Channel carries one request at a time. It does not serialize callers;
// whoever owns the channel must not issue concurrent SendCommand calls.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-seer/pkg/protocol"
)

// DefaultConnectTimeout is used when Connect is given a zero timeout.
const DefaultConnectTimeout = 5 * time.Second

// Channel is one TCP connection to a robot service endpoint.
type Channel struct {
	name   string
	addr   string
	logger *slog.Logger
	stats  *recorder

	// mu guards swapping the socket handle, not I/O on it.
	mu        sync.Mutex
	conn      net.Conn
	connected atomic.Bool
}

// NewChannel creates an unconnected channel. A nil logger uses slog.Default().
func NewChannel(name, host string, port int, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return &Channel{
		name:   name,
		addr:   addr,
		logger: logger.With("channel", name, "addr", addr),
		stats:  newRecorder(),
	}
}

// Name returns the channel's logical name.
func (c *Channel) Name() string { return c.name }

// Addr returns host:port.
func (c *Channel) Addr() string { return c.addr }

// IsConnected reports the connected flag.
func (c *Channel) IsConnected() bool { return c.connected.Load() }

// Connect dials the endpoint. It is a no-op if already connected.
func (c *Channel) Connect(ctx context.Context, timeout time.Duration) error {
	if c.connected.Load() {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected.Load() {
		return nil
	}
	// A socket left behind by a lost connection is discarded before redialing.
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", c.addr)
	if err != nil {
		c.stats.connectAttempt(false, time.Now())
		c.logger.Warn("connect failed", "error", err)
		return fmt.Errorf("connect %s (%s): %w", c.name, c.addr, err)
	}

	c.conn = conn
	c.connected.Store(true)
	c.stats.connectAttempt(true, time.Now())
	c.logger.Info("connected")
	return nil
}

// Disconnect closes the socket. It is safe to call repeatedly.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	was := c.connected.Swap(false)
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug("close error ignored", "error", err)
		}
	}
	if conn != nil || was {
		c.stats.disconnected(time.Now())
		c.logger.Info("disconnected")
	}
}

// MarkDisconnected clears the connected flag without closing the socket.
// The next Connect or Disconnect releases it.
func (c *Channel) MarkDisconnected(reason error) {
	if c.connected.Swap(false) {
		c.stats.disconnected(time.Now())
		c.logger.Warn("connection lost", "reason", reason)
	}
}

func (c *Channel) socket() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Call sends cmd using its own response type and timeout.
func (c *Channel) Call(requestID uint16, cmd protocol.Command, payload protocol.Payload) (protocol.Payload, error) {
	return c.SendCommand(requestID, cmd.Request, payload, cmd.Response, cmd.Deadline())
}

// SendCommand performs one synchronous round trip.
//
// It never reconnects. A zero expected type skips the response type check;
// a mismatch is logged and the response is still returned. A non-zero
// ret_code in the response is not an error here.
func (c *Channel) SendCommand(requestID, msgType uint16, payload protocol.Payload, expected uint16, timeout time.Duration) (protocol.Payload, error) {
	conn := c.socket()
	if conn == nil || !c.connected.Load() {
		return nil, fmt.Errorf("%s: %w", c.name, ErrNotConnected)
	}
	if timeout <= 0 {
		timeout = protocol.DefaultTimeout
	}

	c.stats.commandSent()
	start := time.Now()

	frame, err := protocol.Encode(requestID, msgType, payload)
	if err != nil {
		c.stats.commandDone(false, 0)
		return nil, err
	}

	if err := conn.SetDeadline(start.Add(timeout)); err != nil {
		return nil, c.fail("set deadline", err)
	}
	if _, err := conn.Write(frame); err != nil {
		return nil, c.fail("write", err)
	}

	var hdr [protocol.HeaderSize]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, c.fail("read header", ErrShortHeader)
		}
		return nil, c.fail("read header", err)
	}

	h, _ := protocol.DecodeHeader(hdr[:])
	if !h.Valid() {
		return nil, c.fail("read header", fmt.Errorf("%w: 0x%02x", ErrBadMagic, h.Magic))
	}
	if expected != 0 && h.Type != expected {
		c.logger.Debug("unexpected response type", "want", expected, "got", h.Type)
	}
	if h.Length > protocol.MaxPayloadSize {
		return nil, c.fail("read payload", fmt.Errorf("%w: declared length %d", ErrMalformedPayload, h.Length))
	}

	resp := protocol.Payload{}
	if h.Length > 0 {
		body := make([]byte, h.Length)
		if n, err := io.ReadFull(conn, body); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, c.fail("read payload", fmt.Errorf("%w: peer closed after %d of %d bytes", ErrMalformedPayload, n, h.Length))
			}
			return nil, c.fail("read payload", err)
		}
		resp, err = protocol.Unmarshal(body)
		if err != nil {
			return nil, c.fail("decode payload", fmt.Errorf("%w: %v", ErrMalformedPayload, err))
		}
	}

	c.stats.commandDone(true, time.Since(start))
	return resp, nil
}

// Read reads whatever arrives within timeout. It is used by push listeners
// that own the channel exclusively. io.EOF is returned unchanged.
func (c *Channel) Read(p []byte, timeout time.Duration) (int, error) {
	conn := c.socket()
	if conn == nil || !c.connected.Load() {
		return 0, fmt.Errorf("%s: %w", c.name, ErrNotConnected)
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, c.classify(err)
	}
	n, err := conn.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, c.classify(err)
	}
	return n, err
}

// fail counts one failed command and classifies err.
func (c *Channel) fail(op string, err error) error {
	c.stats.commandDone(false, 0)
	c.logger.Debug("command failed", "op", op, "error", err)
	return fmt.Errorf("%s %s: %w", c.name, op, c.classify(err))
}

func (c *Channel) classify(err error) error {
	switch {
	case isTimeout(err):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case isConnectionLoss(err):
		c.MarkDisconnected(err)
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return err
}

// Stats returns a copy of the channel counters.
func (c *Channel) Stats() Stats {
	s := c.stats.snapshot()
	s.Name = c.name
	s.Address = c.addr
	s.Connected = c.connected.Load()
	return s
}

// ResetStats zeroes counters and the latency histogram.
func (c *Channel) ResetStats() {
	c.stats.reset()
}
