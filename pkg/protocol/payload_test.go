package protocol

import (
	"errors"
	"testing"
	"time"
)

func TestUnmarshal_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"invalid utf8", []byte{'{', '"', 0xff, '"', ':', '1', '}'}},
		{"syntax", []byte(`{"a":`)},
		{"array", []byte(`[1,2]`)},
		{"null", []byte(`null`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unmarshal(tt.in); !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("err = %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func TestPayload_Getters(t *testing.T) {
	p, err := Unmarshal([]byte(`{"ret_code":0,"task_status":2,"x":1.5,"current_station":"LM2","charging":true,"finished_path":["LM1",3,"LM2"]}`))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if n, ok := p.Int("task_status"); !ok || n != 2 {
		t.Errorf("Int(task_status) = %d, %v", n, ok)
	}
	if f, ok := p.Float("x"); !ok || f != 1.5 {
		t.Errorf("Float(x) = %v, %v", f, ok)
	}
	if s, ok := p.String("current_station"); !ok || s != "LM2" {
		t.Errorf("String(current_station) = %q, %v", s, ok)
	}
	if b, ok := p.Bool("charging"); !ok || !b {
		t.Errorf("Bool(charging) = %v, %v", b, ok)
	}
	path := p.Strings("finished_path")
	if len(path) != 2 || path[0] != "LM1" || path[1] != "LM2" {
		t.Errorf("Strings(finished_path) = %v", path)
	}
	if _, ok := p.Int("missing"); ok {
		t.Error("Int(missing) should report !ok")
	}
	if !p.OK() {
		t.Error("OK() should be true for ret_code 0")
	}
}

func TestCheckRetCode(t *testing.T) {
	if err := CheckRetCode("gotarget", Payload{"ret_code": 0.0}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err := CheckRetCode("gotarget", Payload{"ret_code": 40020.0, "err_msg": "robot is locked"})
	var re *RobotError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *RobotError", err)
	}
	if re.Code != 40020 || re.Message != "robot is locked" {
		t.Errorf("RobotError = %+v", re)
	}

	if err := CheckRetCode("loc", nil); err == nil {
		t.Error("nil payload should be an error")
	} else if !errors.As(err, &re) || re.Code != -1 {
		t.Errorf("nil payload error = %v", err)
	}
}

func TestPayload_CloneIsIndependent(t *testing.T) {
	p := Payload{"a": 1.0}
	c := p.Clone()
	c["a"] = 2.0
	if p["a"] != 1.0 {
		t.Error("mutating clone changed original")
	}
}

func TestTaskStatus(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		name     string
		terminal bool
		success  bool
	}{
		{StatusError, "ERROR", true, false},
		{StatusNone, "NONE", true, false},
		{StatusWaiting, "WAITING", true, false},
		{StatusRunning, "RUNNING", false, false},
		{StatusSuspended, "SUSPENDED", true, false},
		{StatusCompleted, "COMPLETED", true, true},
		{StatusFailed, "FAILED", true, false},
		{StatusCanceled, "CANCELED", true, false},
		{TaskStatus(9), "UNKNOWN(9)", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.String(); got != tt.name {
				t.Errorf("String() = %q", got)
			}
			if got := tt.status.Terminal(); got != tt.terminal {
				t.Errorf("Terminal() = %v", got)
			}
			if got := tt.status.Success(); got != tt.success {
				t.Errorf("Success() = %v", got)
			}
		})
	}
}

func TestLookup(t *testing.T) {
	cmd, ok := Lookup(GroupStatus, "loc")
	if !ok || cmd.Request != 1004 || cmd.Response != 11004 {
		t.Errorf("loc = %+v, %v", cmd, ok)
	}

	cmd, ok = Lookup(GroupTask, "gotargetlist")
	if !ok || cmd.Deadline() != 10*time.Second {
		t.Errorf("gotargetlist = %+v, %v", cmd, ok)
	}

	cmd, ok = Lookup(GroupPush, "push_config")
	if !ok || cmd.Request != 9300 || cmd.Response != 19300 {
		t.Errorf("push_config = %+v, %v", cmd, ok)
	}

	if _, ok := Lookup(GroupStatus, "nope"); ok {
		t.Error("unknown command should not be found")
	}
	if _, ok := Lookup(Group("bogus"), "loc"); ok {
		t.Error("unknown group should not be found")
	}
	if d := StatusCommands["loc"].Deadline(); d != DefaultTimeout {
		t.Errorf("loc deadline = %v", d)
	}
}
