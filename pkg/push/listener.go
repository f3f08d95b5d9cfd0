// Package push streams telemetry from the robot's push port.
//
// A Listener owns its transport.Channel while running: one goroutine reads
// the socket, resynchronizes on the byte stream, and hands each decoded
// JSON object to a Handler. The only state shared with other goroutines is
// the snapshot Store and the counters, both lock-protected.
package push

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-seer/pkg/protocol"
	"github.com/teslashibe/go-seer/pkg/transport"
)

// Worker tuning.
const (
	ReadChunkSize = 4096
	ReadTimeout   = 100 * time.Millisecond
	StopTimeout   = 2 * time.Second

	// MaxBufferSize caps unparsed bytes. A stream that grows past it
	// without yielding a message is discarded.
	MaxBufferSize = 1 << 20
)

var (
	ErrAlreadyListening = errors.New("push: already listening")
	ErrNotConnected     = errors.New("push: channel not connected")
)

// Handler receives each decoded telemetry object. It gets its own copy.
type Handler func(protocol.Payload)

// Option configures a Listener.
type Option func(*Listener)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ln *Listener) {
		if l != nil {
			ln.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(ln *Listener) {
		if now != nil {
			ln.now = now
		}
	}
}

// Listener reads telemetry from a push channel.
type Listener struct {
	ch       *transport.Channel
	logger   *slog.Logger
	now      func() time.Time
	snapshot Store
	stats    throughput

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	done      chan struct{}
	startedAt time.Time
}

// NewListener creates a listener over ch. ch must be connected before Start.
func NewListener(ch *transport.Channel, opts ...Option) *Listener {
	l := &Listener{
		ch:     ch,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "push", "channel", ch.Name())
	return l
}

// Channel returns the underlying channel.
func (l *Listener) Channel() *transport.Channel { return l.ch }

// Configure asks the robot to push every intervalMs with the given field
// filters. Empty filters are omitted. It runs over the request/response
// path and must happen before Start.
func (l *Listener) Configure(intervalMs int, included, excluded []string) (protocol.Payload, error) {
	payload := protocol.Payload{"interval": intervalMs}
	if len(included) > 0 {
		payload["included_fields"] = included
	}
	if len(excluded) > 0 {
		payload["excluded_fields"] = excluded
	}

	resp, err := l.ch.Call(1, protocol.PushConfig, payload)
	if err != nil {
		return nil, fmt.Errorf("configure push: %w", err)
	}
	if err := protocol.CheckRetCode(protocol.PushConfig.Name, resp); err != nil {
		return resp, err
	}
	l.logger.Info("push configured", "interval_ms", intervalMs, "fields", len(included))
	return resp, nil
}

// Start launches the reader goroutine.
func (l *Listener) Start(h Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return ErrAlreadyListening
	}
	if !l.ch.IsConnected() {
		return ErrNotConnected
	}

	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.running = true
	l.startedAt = l.now()
	l.stats.started(l.startedAt)

	go l.run(h, l.stop, l.done)
	l.logger.Info("push listener started")
	return nil
}

// Stop signals the reader and waits up to StopTimeout for it to exit.
// Calling Stop when not listening only logs a warning.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		l.logger.Warn("push listener not running")
		return
	}
	l.running = false
	close(l.stop)
	done := l.done
	l.mu.Unlock()

	select {
	case <-done:
		l.logger.Info("push listener stopped")
	case <-time.After(StopTimeout):
		l.logger.Warn("push listener did not exit in time", "timeout", StopTimeout)
	}
}

// IsListening reports whether the reader goroutine is active.
func (l *Listener) IsListening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// StartedAt returns when the current or last run began.
func (l *Listener) StartedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startedAt
}

// Snapshot returns a copy of the latest telemetry.
func (l *Listener) Snapshot() Snapshot { return l.snapshot.Get() }

// LastUpdate returns when telemetry last arrived.
func (l *Listener) LastUpdate() (time.Time, bool) { return l.snapshot.LastUpdate() }

// Stats returns throughput counters.
func (l *Listener) Stats() Stats {
	s := l.stats.snapshot()
	s.Listening = l.IsListening()
	return s
}

// ResetStats zeroes throughput counters.
func (l *Listener) ResetStats() { l.stats.reset(l.now()) }

func (l *Listener) run(h Handler, stop <-chan struct{}, done chan struct{}) {
	defer func() {
		l.mu.Lock()
		if l.done == done {
			l.running = false
		}
		l.mu.Unlock()
		close(done)
	}()

	chunk := make([]byte, ReadChunkSize)
	var buf []byte

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := l.ch.Read(chunk, ReadTimeout)
		if n > 0 {
			l.stats.addBytes(n)
			buf = append(buf, chunk[:n]...)
			buf = l.drain(buf, h)
			if len(buf) > MaxBufferSize {
				l.logger.Warn("discarding unparseable push data", "bytes", len(buf))
				l.stats.addError()
				buf = nil
			}
		}
		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, transport.ErrTimeout):
			continue
		case errors.Is(err, io.EOF):
			l.ch.MarkDisconnected(err)
			l.logger.Warn("push stream closed by robot")
			return
		case errors.Is(err, transport.ErrConnectionLost), errors.Is(err, transport.ErrNotConnected):
			l.logger.Warn("push stream lost", "error", err)
			return
		default:
			l.stats.addError()
			l.logger.Warn("push read error", "error", err)
			select {
			case <-stop:
				return
			case <-time.After(ReadTimeout):
			}
		}
	}
}

// drain extracts every complete message from buf and returns the rest.
func (l *Listener) drain(buf []byte, h Handler) []byte {
	for {
		msg, rest := protocol.ExtractMessage(buf)
		progressed := len(rest) < len(buf)
		buf = rest
		if msg != nil {
			l.handle(msg, h)
			continue
		}
		if !progressed {
			break
		}
	}
	if len(buf) == 0 {
		return nil
	}
	return append([]byte(nil), buf...)
}

func (l *Listener) handle(msg []byte, h Handler) {
	at := l.now()
	l.stats.packet(at)

	p, err := protocol.Unmarshal(msg)
	if err != nil {
		l.stats.addError()
		l.logger.Debug("dropping malformed push message", "error", err, "bytes", len(msg))
		return
	}
	l.snapshot.Set(p, at)
	l.dispatch(h, p)
}

func (l *Listener) dispatch(h Handler, p protocol.Payload) {
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.stats.addError()
			l.logger.Error("push handler panicked", "panic", r)
		}
	}()
	h(p.Clone())
}
