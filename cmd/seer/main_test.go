package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-seer/internal/robottest"
	"github.com/teslashibe/go-seer/pkg/protocol"
)

func TestParseParams(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    protocol.Payload
		wantErr bool
	}{
		{"none", nil, nil, false},
		{
			"coerced",
			[]string{"dist=0.5", "count=3", "loop=true", "name=LM2", "flag=1", "neg=-2"},
			protocol.Payload{"dist": 0.5, "count": int64(3), "loop": true, "name": "LM2", "flag": int64(1), "neg": int64(-2)},
			false,
		},
		{"value with equals", []string{"expr=a=b"}, protocol.Payload{"expr": "a=b"}, false},
		{"empty value", []string{"id="}, protocol.Payload{"id": ""}, false},
		{"missing equals", []string{"dist"}, nil, true},
		{"empty key", []string{"=1"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseParams(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

// fleetConfig writes a config file pointing at f and returns its path.
func fleetConfig(t *testing.T, f *robottest.Fleet, extra string) string {
	t.Helper()
	t.Setenv("ROBOT_IP", "")
	t.Setenv("SEER_WEB_ADDR", "")
	t.Setenv("SEER_LOG_LEVEL", "")
	ports := f.Ports()
	body := fmt.Sprintf(`robot:
  ip: %s
  connect_timeout: 1s
  poll_interval: 5ms
ports:
  status: %d
  control: %d
  task: %d
  config: %d
  other: %d
  push: %d
log:
  level: error
trajectories:
  loop:
    - {source_id: LM2, id: LM9}
    - {source_id: LM9, id: LM2}
%s`, f.Host(),
		ports[protocol.GroupStatus], ports[protocol.GroupControl], ports[protocol.GroupTask],
		ports[protocol.GroupConfig], ports[protocol.GroupOther], ports[protocol.GroupPush], extra)

	path := filepath.Join(t.TempDir(), "seer.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestGotoCmd(t *testing.T) {
	f := robottest.NewFleet(t)
	f.Server(protocol.GroupTask).Respond(3051, protocol.Payload{"ret_code": 0, "task_id": "t-1"})
	f.Server(protocol.GroupStatus).Respond(1020, protocol.Payload{
		"ret_code": 0, "task_status": 4, "finished_path": []string{"LM2", "LM9"},
	})
	journalPath := filepath.Join(t.TempDir(), "runs.db")
	cfg := fleetConfig(t, f, "journal:\n  path: "+journalPath+"\n")

	out, err := run(t, "--config", cfg, "goto", "LM9")
	if err != nil {
		t.Fatalf("goto: %v\n%s", err, out)
	}
	if !strings.Contains(out, "LM9: success=true task_id=t-1") || !strings.Contains(out, "status=COMPLETED") {
		t.Errorf("output = %q", out)
	}

	out, err = run(t, "--config", cfg, "history")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "t-1") || !strings.Contains(out, "LM2 → LM9") {
		t.Errorf("history = %q", out)
	}
}

func TestGotoCmd_Failed(t *testing.T) {
	f := robottest.NewFleet(t)
	f.Server(protocol.GroupStatus).Respond(1020, protocol.Payload{"ret_code": 0, "task_status": 5})
	cfg := fleetConfig(t, f, "")

	if _, err := run(t, "--config", cfg, "goto", "LM9"); err == nil || !strings.Contains(err.Error(), "FAILED") {
		t.Errorf("err = %v", err)
	}
}

func TestNavigateList(t *testing.T) {
	f := robottest.NewFleet(t)
	out, err := run(t, "--config", fleetConfig(t, f, ""), "navigate", "--list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "loop") || !strings.Contains(out, "LM2 → LM9 → LM2") {
		t.Errorf("output = %q", out)
	}
}

func TestTaskCmd(t *testing.T) {
	f := robottest.NewFleet(t)
	task := f.Server(protocol.GroupTask)
	task.Respond(3003, protocol.Payload{"ret_code": 40020, "err_msg": "no task"})
	cfg := fleetConfig(t, f, "")

	if out, err := run(t, "--config", cfg, "task", "pause"); err != nil || !strings.Contains(out, "pause ok") {
		t.Errorf("pause = %q, %v", out, err)
	}
	if task.RequestCount(3001) != 1 {
		t.Error("pause not sent")
	}
	if _, err := run(t, "--config", cfg, "task", "cancel"); err == nil || !strings.Contains(err.Error(), "40020") {
		t.Errorf("cancel err = %v", err)
	}
}

func TestCallCmd(t *testing.T) {
	f := robottest.NewFleet(t)
	task := f.Server(protocol.GroupTask)
	task.Respond(3055, protocol.Payload{"ret_code": 0, "note": "moving"})
	cfg := fleetConfig(t, f, "")

	out, err := run(t, "--config", cfg, "call", "task", "translate", "dist=0.5", "vx=0.2")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"note": "moving"`) {
		t.Errorf("output = %q", out)
	}
	reqs := task.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d", len(reqs))
	}
	if d, _ := reqs[0].Payload.Float("dist"); d != 0.5 {
		t.Errorf("payload = %v", reqs[0].Payload)
	}

	if _, err := run(t, "--config", cfg, "call", "task", "fly"); err == nil {
		t.Error("unknown command should fail")
	}
}

func TestWatchCmd(t *testing.T) {
	f := robottest.NewFleet(t)
	pushSrv := f.Server(protocol.GroupPush)
	cfg := fleetConfig(t, f, "")

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		configured := false
		for i := 1; ; i++ {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
			}
			// Push only once the configure exchange finished on an earlier tick.
			if !configured {
				configured = pushSrv.RequestCount(protocol.PushConfig.Request) > 0
				continue
			}
			pushSrv.Push(robottest.Frame(t, uint16(i), protocol.PortPush, protocol.Payload{"battery_level": 0.5}))
		}
	}()

	out, err := run(t, "--config", cfg, "watch", "-n", "2")
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || lines[0] != `{"battery_level":0.5}` {
		t.Errorf("lines = %q", lines)
	}
}

func TestConnectFailure(t *testing.T) {
	f := robottest.NewFleet(t)
	cfg := fleetConfig(t, f, "")
	for _, g := range protocol.Groups {
		f.Close(g)
	}
	if _, err := run(t, "--config", cfg, "status"); err == nil || !strings.Contains(err.Error(), "connect to") {
		t.Errorf("err = %v", err)
	}
}

func TestHistoryWithoutJournal(t *testing.T) {
	f := robottest.NewFleet(t)
	if _, err := run(t, "--config", fleetConfig(t, f, ""), "history"); err == nil {
		t.Error("history without a journal should fail")
	}
}
