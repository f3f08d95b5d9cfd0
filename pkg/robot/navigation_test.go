package robot

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-seer/internal/robottest"
	"github.com/teslashibe/go-seer/pkg/journal"
	"github.com/teslashibe/go-seer/pkg/protocol"
)

type memRecorder struct {
	mu   sync.Mutex
	runs []journal.Run
}

func (m *memRecorder) Record(_ context.Context, run journal.Run) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return int64(len(m.runs)), nil
}

// completeAfter makes the status server report RUNNING n times, then COMPLETED.
func completeAfter(srv *robottest.Server, n int) {
	var calls atomic.Int32
	srv.Handle(1020, func(robottest.Request) robottest.Reply {
		status := protocol.StatusRunning
		if int(calls.Add(1)) > n {
			status = protocol.StatusCompleted
		}
		return robottest.Reply{Payload: protocol.Payload{
			"ret_code":      0,
			"task_status":   int(status),
			"finished_path": []string{"LM2"},
		}}
	})
}

func navConfig(f *robottest.Fleet) Config {
	cfg := testConfig(f)
	cfg.PushIntervalMs = 0
	cfg.Trajectories = map[string][]protocol.Payload{
		"looptest": {
			{"source_id": "LM2", "id": "LM9", "task_id": nil},
			{"source_id": "LM9", "id": "LM5", "task_id": nil},
			{"source_id": "LM5", "id": "LM2", "task_id": nil},
		},
		"rack": {
			{"source_id": "SELF_POSITION", "id": "SELF_POSITION"},
			{"source_id": "AP7", "id": "LM14", "operation": "JackLoad"},
		},
	}
	return cfg
}

func gotargetIDs(srv *robottest.Server) []string {
	var ids []string
	for _, req := range srv.Requests() {
		if req.Header.Type == 3051 {
			id, _ := req.Payload.String("id")
			ids = append(ids, id)
		}
	}
	return ids
}

func TestGoto_AlreadyAtTarget(t *testing.T) {
	f := robottest.NewFleet(t)
	f.Server(protocol.GroupStatus).Respond(1004, protocol.Payload{"ret_code": 0, "current_station": "LM2"})
	r := connectRobot(t, f, navConfig(f))

	res, err := r.Goto(context.Background(), "LM2", true, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || !res.AlreadyAtTarget {
		t.Errorf("res = %+v", res)
	}
	if ids := gotargetIDs(f.Server(protocol.GroupTask)); len(ids) != 0 {
		t.Errorf("gotarget sent: %v", ids)
	}
	if _, ok := r.IdleTime(); !ok {
		t.Error("Goto should update idle time")
	}
}

func TestGoto_WaitsForCompletion(t *testing.T) {
	f := robottest.NewFleet(t)
	status := f.Server(protocol.GroupStatus)
	status.Respond(1004, protocol.Payload{"ret_code": 0, "current_station": "LM9"})
	completeAfter(status, 2)
	f.Server(protocol.GroupTask).Respond(3051, protocol.Payload{"ret_code": 0, "task_id": "robot-7"})

	rec := &memRecorder{}
	r := connectRobot(t, f, navConfig(f), WithPollInterval(5*time.Millisecond), WithRecorder(rec))

	res, err := r.Goto(context.Background(), "LM2", true, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.TaskID != "robot-7" || res.Wait == nil {
		t.Fatalf("res = %+v", res)
	}
	if res.Wait.QueryCount != 3 || res.Wait.FinalStatus != protocol.StatusCompleted {
		t.Errorf("wait = %+v", res.Wait)
	}
	if ids := gotargetIDs(f.Server(protocol.GroupTask)); len(ids) != 1 || ids[0] != "LM2" {
		t.Errorf("gotarget ids = %v", ids)
	}

	if len(rec.runs) != 1 {
		t.Fatalf("recorded %d runs", len(rec.runs))
	}
	if run := rec.runs[0]; !run.Success || run.TaskID != "robot-7" || run.StatusText != "COMPLETED" {
		t.Errorf("run = %+v", run)
	}
}

func TestGoto_Rejected(t *testing.T) {
	f := robottest.NewFleet(t)
	f.Server(protocol.GroupTask).Respond(3051, protocol.Payload{"ret_code": 40001, "err_msg": "unknown station"})
	r := connectRobot(t, f, navConfig(f))

	res, err := r.Goto(context.Background(), "XX", true, time.Second)
	var re *protocol.RobotError
	if !errors.As(err, &re) || re.Code != 40001 {
		t.Fatalf("err = %v", err)
	}
	if res.Success || res.Response.RetCode() != 40001 {
		t.Errorf("res = %+v", res)
	}
}

func TestGoto_NonBlocking(t *testing.T) {
	f := robottest.NewFleet(t)
	f.Server(protocol.GroupTask).Respond(3051, protocol.Payload{"ret_code": 0, "task_id": "t1"})
	r := connectRobot(t, f, navConfig(f))

	res, err := r.Goto(context.Background(), "LM5", false, time.Second)
	if err != nil || !res.Success || res.Blocking || res.Wait != nil {
		t.Errorf("res = %+v, err = %v", res, err)
	}
	if f.Server(protocol.GroupStatus).RequestCount(1020) != 0 {
		t.Error("non-blocking goto should not poll")
	}
}

func TestGotoCharge(t *testing.T) {
	t.Run("already charging", func(t *testing.T) {
		f := robottest.NewFleet(t)
		f.Server(protocol.GroupStatus).Respond(1007, protocol.Payload{"ret_code": 0, "charging": true, "battery_level": 0.3})
		r := connectRobot(t, f, navConfig(f))

		res, err := r.GotoCharge(context.Background(), "LM2", "CP0", true, time.Second)
		if err != nil || !res.Success || !res.AlreadyCharging {
			t.Errorf("res = %+v, err = %v", res, err)
		}
		if ids := gotargetIDs(f.Server(protocol.GroupTask)); len(ids) != 0 {
			t.Errorf("gotarget sent: %v", ids)
		}
	})

	t.Run("via point", func(t *testing.T) {
		f := robottest.NewFleet(t)
		status := f.Server(protocol.GroupStatus)
		status.Respond(1007, protocol.Payload{"ret_code": 0, "charging": false})
		completeAfter(status, 0)
		r := connectRobot(t, f, navConfig(f), WithPollInterval(5*time.Millisecond))

		res, err := r.GotoCharge(context.Background(), "LM2", "CP0", true, time.Second)
		if err != nil || !res.Success {
			t.Fatalf("res = %+v, err = %v", res, err)
		}
		ids := gotargetIDs(f.Server(protocol.GroupTask))
		if len(ids) != 2 || ids[0] != "LM2" || ids[1] != "CP0" {
			t.Errorf("gotarget ids = %v", ids)
		}
	})
}

func TestNavigate(t *testing.T) {
	f := robottest.NewFleet(t)
	f.Server(protocol.GroupTask).Respond(3066, protocol.Payload{"ret_code": 0, "task_id": "list-1"})
	clock := newFakeClock()
	r := connectRobot(t, f, navConfig(f), WithClock(clock.Now))

	res, err := r.Navigate(context.Background(), "looptest", false, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Description != "LM2 → LM9 → LM5 → LM2" || res.TaskID != "list-1" {
		t.Errorf("res = %+v", res)
	}

	reqs := f.Server(protocol.GroupTask).Requests()
	if len(reqs) != 1 || reqs[0].Header.Type != 3066 {
		t.Fatalf("requests = %+v", reqs)
	}
	legs, _ := reqs[0].Payload["move_task_list"].([]any)
	if len(legs) != 3 {
		t.Fatalf("legs = %v", reqs[0].Payload)
	}
	for i, leg := range legs {
		want := "20251001093000_" + string(rune('1'+i))
		if got := leg.(map[string]any)["task_id"]; got != want {
			t.Errorf("leg %d task_id = %v, want %s", i, got, want)
		}
	}

	// The configured trajectory is not modified.
	if r.Config().Trajectories["looptest"][0]["task_id"] != nil {
		t.Error("trajectory template was mutated")
	}

	if _, err := r.Navigate(context.Background(), "missing", false, time.Second); !errors.Is(err, ErrUnknownTrajectory) {
		t.Errorf("err = %v", err)
	}
}

func TestGotoNavigateStart(t *testing.T) {
	f := robottest.NewFleet(t)
	r := connectRobot(t, f, navConfig(f))

	res, err := r.GotoNavigateStart(context.Background(), "rack", false, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.StartPosition != "AP7" {
		t.Errorf("StartPosition = %q", res.StartPosition)
	}
	if ids := gotargetIDs(f.Server(protocol.GroupTask)); len(ids) != 1 || ids[0] != "AP7" {
		t.Errorf("gotarget ids = %v", ids)
	}

	_, err = r.GotoStart(context.Background(), []protocol.Payload{{"source_id": "SELF_POSITION", "id": "LM1"}}, false, time.Second)
	if !errors.Is(err, ErrNoStartPosition) {
		t.Errorf("err = %v", err)
	}
	if _, err := r.GotoStart(context.Background(), nil, false, time.Second); !errors.Is(err, ErrEmptyTaskList) {
		t.Errorf("err = %v", err)
	}
}

func TestDescribeTaskList(t *testing.T) {
	tests := []struct {
		name  string
		tasks []protocol.Payload
		want  string
	}{
		{"empty", nil, "Empty task list"},
		{"only self", []protocol.Payload{{"source_id": "SELF_POSITION", "id": "SELF_POSITION"}}, "Navigation task"},
		{
			"chained",
			[]protocol.Payload{{"source_id": "LM2", "id": "LM9"}, {"source_id": "LM9", "id": "LM5"}},
			"LM2 → LM9 → LM5",
		},
		{
			"operations",
			[]protocol.Payload{
				{"source_id": "LM9", "id": "AP8", "operation": "JackLoad"},
				{"source_id": "AP8", "id": "LM9"},
				{"source_id": "LM5", "id": "AP10", "operation": "JackUnload"},
			},
			"LM9 → AP8 (load) → LM9 → LM5 → AP10 (unload)",
		},
		{"from self", []protocol.Payload{{"source_id": "SELF_POSITION", "id": "LM4"}}, "LM4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DescribeTaskList(tt.tasks); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNextTaskIDAndIdleTime(t *testing.T) {
	clock := newFakeClock()
	r := New(DefaultConfig("127.0.0.1"), WithClock(clock.Now))

	re := regexp.MustCompile(`^\d{14}_\d+$`)
	a, b := r.NextTaskID(), r.NextTaskID()
	if !re.MatchString(a) || a == b || b != "20251001093000_2" {
		t.Errorf("ids = %q, %q", a, b)
	}

	if _, ok := r.IdleTime(); ok {
		t.Error("IdleTime before any navigation should not be ok")
	}
	r.touchNavigation()
	clock.Advance(90 * time.Second)
	if d, ok := r.IdleTime(); !ok || d != 90*time.Second {
		t.Errorf("IdleTime = %v, %v", d, ok)
	}
}
