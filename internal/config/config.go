// Package config loads go-seer settings from YAML with environment
// overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-seer/internal/log"
	"github.com/teslashibe/go-seer/pkg/protocol"
	"github.com/teslashibe/go-seer/pkg/robot"
)

// DefaultRobotIP is the address used when neither the file nor ROBOT_IP
// sets one.
const DefaultRobotIP = "192.168.1.123"

// Config is the full application configuration.
type Config struct {
	Robot        RobotConfig                   `yaml:"robot"`
	Ports        PortsConfig                   `yaml:"ports"`
	Push         PushConfig                    `yaml:"push"`
	Watchdog     WatchdogConfig                `yaml:"watchdog"`
	Web          WebConfig                     `yaml:"web"`
	Journal      JournalConfig                 `yaml:"journal"`
	Log          LogConfig                     `yaml:"log"`
	Trajectories map[string][]protocol.Payload `yaml:"trajectories"`
}

// RobotConfig identifies the robot and this client.
type RobotConfig struct {
	IP             string        `yaml:"ip"`
	NickName       string        `yaml:"nick_name"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// PortsConfig holds the TCP port of each service group.
type PortsConfig struct {
	Status  int `yaml:"status"`
	Control int `yaml:"control"`
	Task    int `yaml:"task"`
	Config  int `yaml:"config"`
	Other   int `yaml:"other"`
	Push    int `yaml:"push"`
}

// PushConfig configures the telemetry stream. IntervalMs 0 disables it.
type PushConfig struct {
	IntervalMs     int      `yaml:"interval_ms"`
	IncludedFields []string `yaml:"included_fields"`
	ExcludedFields []string `yaml:"excluded_fields"`
}

// WatchdogConfig configures the battery watchdog. Levels are percentages.
type WatchdogConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	WarningLevel   float64       `yaml:"warning_level"`
	CriticalLevel  float64       `yaml:"critical_level"`
	PreChargePoint string        `yaml:"pre_charge_point"`
	ChargePoint    string        `yaml:"charge_point"`
	WarningAudio   string        `yaml:"warning_audio"`
	ForceLock      bool          `yaml:"force_lock"`
	LegTimeout     time.Duration `yaml:"leg_timeout"`
}

// WebConfig configures the HTTP API.
type WebConfig struct {
	Addr string `yaml:"addr"`
}

// JournalConfig locates the run history database. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// LogConfig configures logging and file rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the built-in configuration.
func Default() Config {
	ports := protocol.DefaultPorts()
	wd := robot.DefaultWatchdogConfig()
	return Config{
		Robot: RobotConfig{
			IP:             DefaultRobotIP,
			NickName:       wd.NickName,
			ConnectTimeout: 5 * time.Second,
			PollInterval:   time.Second,
		},
		Ports: PortsConfig{
			Status:  ports[protocol.GroupStatus],
			Control: ports[protocol.GroupControl],
			Task:    ports[protocol.GroupTask],
			Config:  ports[protocol.GroupConfig],
			Other:   ports[protocol.GroupOther],
			Push:    ports[protocol.GroupPush],
		},
		Push: PushConfig{
			IntervalMs:     1000,
			IncludedFields: append([]string(nil), robot.DefaultPushFields...),
		},
		Watchdog: WatchdogConfig{
			Interval:       wd.Interval,
			WarningLevel:   wd.WarningLevel,
			CriticalLevel:  wd.CriticalLevel,
			PreChargePoint: wd.PreChargePoint,
			ChargePoint:    wd.ChargePoint,
			ForceLock:      wd.ForceLock,
			LegTimeout:     wd.LegTimeout,
		},
		Web: WebConfig{Addr: ":5000"},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Trajectories: map[string][]protocol.Payload{},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates. An empty path yields the defaults plus overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := cfg.decode(data); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv applies ROBOT_IP, SEER_WEB_ADDR and SEER_LOG_LEVEL.
func (c *Config) ApplyEnv() {
	c.Robot.IP = RobotIP(c.Robot.IP)
	c.Web.Addr = WebAddr(c.Web.Addr)
	c.Log.Level = LogLevel(c.Log.Level)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Robot.IP == "" {
		return errors.New("config: robot.ip is required")
	}
	if c.Robot.ConnectTimeout <= 0 {
		return errors.New("config: robot.connect_timeout must be positive")
	}
	for name, p := range map[string]int{
		"status": c.Ports.Status, "control": c.Ports.Control, "task": c.Ports.Task,
		"config": c.Ports.Config, "other": c.Ports.Other, "push": c.Ports.Push,
	} {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("config: ports.%s %d out of range", name, p)
		}
	}
	if c.Push.IntervalMs < 0 {
		return errors.New("config: push.interval_ms must not be negative")
	}
	if w := c.Watchdog; w.Enabled {
		if w.Interval <= 0 {
			return errors.New("config: watchdog.interval must be positive")
		}
		if w.CriticalLevel <= 0 || w.CriticalLevel > w.WarningLevel || w.WarningLevel > 100 {
			return fmt.Errorf("config: watchdog levels need 0 < critical (%g) <= warning (%g) <= 100",
				w.CriticalLevel, w.WarningLevel)
		}
		if w.ChargePoint == "" {
			return errors.New("config: watchdog.charge_point is required")
		}
		if c.Push.IntervalMs == 0 {
			return errors.New("config: watchdog needs push telemetry (push.interval_ms > 0)")
		}
	}
	for name, legs := range c.Trajectories {
		if len(legs) == 0 {
			return fmt.Errorf("config: trajectory %q is empty", name)
		}
		for i, leg := range legs {
			if id, _ := leg.String("id"); id == "" {
				return fmt.Errorf("config: trajectory %q leg %d has no id", name, i)
			}
		}
	}
	return nil
}

// RobotConfig converts to the controller configuration.
func (c Config) RobotConfig() robot.Config {
	rc := robot.DefaultConfig(c.Robot.IP)
	rc.Ports = map[protocol.Group]int{
		protocol.GroupStatus:  c.Ports.Status,
		protocol.GroupControl: c.Ports.Control,
		protocol.GroupTask:    c.Ports.Task,
		protocol.GroupConfig:  c.Ports.Config,
		protocol.GroupOther:   c.Ports.Other,
		protocol.GroupPush:    c.Ports.Push,
	}
	rc.ConnectTimeout = c.Robot.ConnectTimeout
	rc.PushIntervalMs = c.Push.IntervalMs
	rc.PushIncluded = append([]string(nil), c.Push.IncludedFields...)
	rc.PushExcluded = append([]string(nil), c.Push.ExcludedFields...)
	rc.Trajectories = c.Trajectories
	return rc
}

// WatchdogConfig converts to the watchdog configuration.
func (c Config) WatchdogConfig() robot.WatchdogConfig {
	w := c.Watchdog
	return robot.WatchdogConfig{
		Interval:       w.Interval,
		WarningLevel:   w.WarningLevel,
		CriticalLevel:  w.CriticalLevel,
		PreChargePoint: w.PreChargePoint,
		ChargePoint:    w.ChargePoint,
		WarningAudio:   w.WarningAudio,
		NickName:       c.Robot.NickName,
		ForceLock:      w.ForceLock,
		LegTimeout:     w.LegTimeout,
	}
}

// LogOptions converts to logger options.
func (c Config) LogOptions() log.Options {
	return log.Options{
		Level:      c.Log.Level,
		JSON:       c.Log.JSON,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}
