package push

import (
	"sync"
	"time"
)

// FrequencyWindow is the number of inter-arrival samples averaged.
const FrequencyWindow = 50

// Stats describes push stream throughput.
type Stats struct {
	Listening        bool      `json:"listening"`
	PacketsReceived  int64     `json:"packets_received"`
	BytesReceived    int64     `json:"bytes_received"`
	Errors           int64     `json:"errors"`
	StartTime        time.Time `json:"start_time"`
	LastPacketTime   time.Time `json:"last_packet_time"`
	AvgFrequency     float64   `json:"avg_frequency"`
	CurrentFrequency float64   `json:"current_frequency"`
}

type throughput struct {
	mu          sync.Mutex
	packets     int64
	bytes       int64
	errors      int64
	start       time.Time
	lastPacket  time.Time
	frequencies []float64
}

func (t *throughput) started(at time.Time) {
	t.mu.Lock()
	t.start = at
	t.mu.Unlock()
}

func (t *throughput) addBytes(n int) {
	t.mu.Lock()
	t.bytes += int64(n)
	t.mu.Unlock()
}

func (t *throughput) addError() {
	t.mu.Lock()
	t.errors++
	t.mu.Unlock()
}

func (t *throughput) packet(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.packets++
	if !t.lastPacket.IsZero() {
		if dt := at.Sub(t.lastPacket).Seconds(); dt > 0 {
			t.frequencies = append(t.frequencies, 1/dt)
			if len(t.frequencies) > FrequencyWindow {
				t.frequencies = t.frequencies[len(t.frequencies)-FrequencyWindow:]
			}
		}
	}
	t.lastPacket = at
}

func (t *throughput) snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Stats{
		PacketsReceived: t.packets,
		BytesReceived:   t.bytes,
		Errors:          t.errors,
		StartTime:       t.start,
		LastPacketTime:  t.lastPacket,
	}
	if n := len(t.frequencies); n > 0 {
		var sum float64
		for _, f := range t.frequencies {
			sum += f
		}
		s.AvgFrequency = sum / float64(n)
		s.CurrentFrequency = t.frequencies[n-1]
	}
	return s
}

func (t *throughput) reset(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.packets, t.bytes, t.errors = 0, 0, 0
	t.start = at
	t.lastPacket = time.Time{}
	t.frequencies = nil
}
