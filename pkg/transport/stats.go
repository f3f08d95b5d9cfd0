package transport

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Latency histogram bounds, in microseconds.
const (
	minLatencyMicros = 1
	maxLatencyMicros = int64(60 * time.Second / time.Microsecond)
	latencySigFigs   = 3
)

// Stats is a point-in-time copy of a channel's counters.
type Stats struct {
	Name                  string       `json:"name"`
	Address               string       `json:"address"`
	Connected             bool         `json:"connected"`
	ConnectionAttempts    int64        `json:"connection_attempts"`
	SuccessfulConnections int64        `json:"successful_connections"`
	FailedConnections     int64        `json:"failed_connections"`
	CommandsSent          int64        `json:"total_commands_sent"`
	SuccessfulCommands    int64        `json:"successful_commands"`
	FailedCommands        int64        `json:"failed_commands"`
	LastConnect           time.Time    `json:"last_connect_time"`
	LastDisconnect        time.Time    `json:"last_disconnect_time"`
	SuccessRate           float64      `json:"success_rate"`
	Latency               LatencyStats `json:"latency"`
}

// LatencyStats summarizes successful command round trips.
type LatencyStats struct {
	Count  int64   `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P99Ms  float64 `json:"p99_ms"`
	MaxMs  float64 `json:"max_ms"`
}

type recorder struct {
	mu sync.Mutex

	attempts       int64
	connects       int64
	connectFails   int64
	sent           int64
	succeeded      int64
	failed         int64
	lastConnect    time.Time
	lastDisconnect time.Time
	latency        *hdrhistogram.Histogram
}

func newRecorder() *recorder {
	return &recorder{
		latency: hdrhistogram.New(minLatencyMicros, maxLatencyMicros, latencySigFigs),
	}
}

func (r *recorder) connectAttempt(ok bool, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if ok {
		r.connects++
		r.lastConnect = at
	} else {
		r.connectFails++
	}
}

func (r *recorder) disconnected(at time.Time) {
	r.mu.Lock()
	r.lastDisconnect = at
	r.mu.Unlock()
}

func (r *recorder) commandSent() {
	r.mu.Lock()
	r.sent++
	r.mu.Unlock()
}

func (r *recorder) commandDone(ok bool, rtt time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !ok {
		r.failed++
		return
	}
	r.succeeded++
	us := rtt.Microseconds()
	if us < minLatencyMicros {
		us = minLatencyMicros
	}
	if us > maxLatencyMicros {
		us = maxLatencyMicros
	}
	_ = r.latency.RecordValue(us)
}

func (r *recorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{
		ConnectionAttempts:    r.attempts,
		SuccessfulConnections: r.connects,
		FailedConnections:     r.connectFails,
		CommandsSent:          r.sent,
		SuccessfulCommands:    r.succeeded,
		FailedCommands:        r.failed,
		LastConnect:           r.lastConnect,
		LastDisconnect:        r.lastDisconnect,
	}
	if r.sent > 0 {
		s.SuccessRate = float64(r.succeeded) / float64(r.sent) * 100
	}
	if n := r.latency.TotalCount(); n > 0 {
		s.Latency = LatencyStats{
			Count:  n,
			MeanMs: r.latency.Mean() / 1000,
			P50Ms:  float64(r.latency.ValueAtQuantile(50)) / 1000,
			P99Ms:  float64(r.latency.ValueAtQuantile(99)) / 1000,
			MaxMs:  float64(r.latency.Max()) / 1000,
		}
	}
	return s
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts, r.connects, r.connectFails = 0, 0, 0
	r.sent, r.succeeded, r.failed = 0, 0, 0
	r.latency.Reset()
}
