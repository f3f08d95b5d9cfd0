package push

import (
	"testing"
	"time"

	"github.com/teslashibe/go-seer/pkg/protocol"
)

func TestStore_CopySemantics(t *testing.T) {
	var s Store
	if !s.Get().Empty() {
		t.Fatal("new store should be empty")
	}
	if _, ok := s.LastUpdate(); ok {
		t.Fatal("LastUpdate should report no data")
	}

	in := protocol.Payload{"battery_level": 0.5}
	at := time.Unix(100, 0)
	s.Set(in, at)

	in["battery_level"] = 0.1
	got := s.Get()
	if v, _ := got.Data.Float("battery_level"); v != 0.5 {
		t.Errorf("writer mutation leaked into store: %v", v)
	}

	got.Data["battery_level"] = 0.9
	if v, _ := s.Get().Data.Float("battery_level"); v != 0.5 {
		t.Errorf("reader mutation leaked into store: %v", v)
	}

	if ts, ok := s.LastUpdate(); !ok || !ts.Equal(at) {
		t.Errorf("LastUpdate = %v, %v", ts, ok)
	}

	s.Set(protocol.Payload{"charging": true}, at.Add(time.Second))
	if s.Get().Data.Has("battery_level") {
		t.Error("Set should replace, not merge")
	}

	s.Clear()
	if !s.Get().Empty() {
		t.Error("Clear should empty the store")
	}
}

func TestThroughput_Window(t *testing.T) {
	var tp throughput
	base := time.Unix(0, 0)
	for i := 0; i <= FrequencyWindow+10; i++ {
		tp.packet(base.Add(time.Duration(i) * 50 * time.Millisecond))
	}
	if n := len(tp.frequencies); n != FrequencyWindow {
		t.Errorf("window holds %d samples, want %d", n, FrequencyWindow)
	}
	s := tp.snapshot()
	if s.AvgFrequency < 19.99 || s.AvgFrequency > 20.01 {
		t.Errorf("AvgFrequency = %v, want 20", s.AvgFrequency)
	}
}
