package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-seer/pkg/protocol"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seer.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Setenv(EnvRobotIP, "")
	t.Setenv(EnvWebAddr, "")
	t.Setenv(EnvLogLevel, "")
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Ports.Push != protocol.PortPush || cfg.Ports.Status != protocol.PortStatus {
		t.Errorf("ports = %+v", cfg.Ports)
	}
	if cfg.Push.IntervalMs != 1000 || !cfg.Watchdog.ForceLock || cfg.Watchdog.ChargePoint != "CP0" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
robot:
  ip: 10.0.0.7
  nick_name: line-3
  connect_timeout: 2s
push:
  interval_ms: 500
  excluded_fields: [fatals]
watchdog:
  enabled: true
  interval: 30s
  warning_level: 25
  critical_level: 12
  force_lock: false
web:
  addr: 127.0.0.1:8080
trajectories:
  smalltest:
    - {source_id: LM2, id: LM9}
    - {source_id: LM9, id: LM2, spin: true}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	rc := cfg.RobotConfig()
	if rc.Host != "10.0.0.7" || rc.ConnectTimeout != 2*time.Second || rc.PushIntervalMs != 500 {
		t.Errorf("robot config = %+v", rc)
	}
	if rc.Ports[protocol.GroupTask] != protocol.PortTask {
		t.Errorf("default task port lost: %v", rc.Ports)
	}
	if len(rc.PushExcluded) != 1 || len(rc.PushIncluded) == 0 {
		t.Errorf("push fields = %v / %v", rc.PushIncluded, rc.PushExcluded)
	}
	legs := rc.Trajectories["smalltest"]
	if len(legs) != 2 {
		t.Fatalf("trajectory = %v", legs)
	}
	if spin, _ := legs[1].Bool("spin"); !spin {
		t.Errorf("leg = %v", legs[1])
	}

	wd := cfg.WatchdogConfig()
	if wd.Interval != 30*time.Second || wd.CriticalLevel != 12 || wd.ForceLock || wd.NickName != "line-3" {
		t.Errorf("watchdog = %+v", wd)
	}
	if wd.PreChargePoint != "LM2" {
		t.Errorf("unset fields should keep defaults: %+v", wd)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvRobotIP, "192.168.5.5")
	t.Setenv(EnvWebAddr, ":9000")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Robot.IP != "192.168.5.5" || cfg.Web.Addr != ":9000" || cfg.Log.Level != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}
	if opts := cfg.LogOptions(); opts.Level != "debug" || opts.MaxSizeMB != 50 {
		t.Errorf("log options = %+v", opts)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", "robot:\n  hostname: x\n", "field hostname not found"},
		{"bad port", "ports:\n  task: 70000\n", "ports.task"},
		{"bad levels", "watchdog:\n  enabled: true\n  warning_level: 10\n  critical_level: 20\n", "watchdog levels"},
		{"watchdog without push", "push:\n  interval_ms: 0\nwatchdog:\n  enabled: true\n", "push telemetry"},
		{"empty trajectory", "trajectories:\n  nothing: []\n", `"nothing" is empty`},
		{"leg without id", "trajectories:\n  t:\n    - {source_id: LM1}\n", "has no id"},
		{"bad duration", "robot:\n  connect_timeout: soon\n", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Robot.IP != DefaultRobotIP {
		t.Errorf("ip = %q", cfg.Robot.IP)
	}
}

func TestExampleConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join("..", "..", "configs", "seer.example.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Trajectories) == 0 {
		t.Error("example config has no trajectories")
	}
}
