package robot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-seer/pkg/protocol"
)

// ErrWatchdogRunning is returned by Start when the loop is already active.
var ErrWatchdogRunning = errors.New("robot: watchdog already running")

// WatchdogConfig sets battery thresholds (percent) and the charge route.
type WatchdogConfig struct {
	Interval       time.Duration
	WarningLevel   float64
	CriticalLevel  float64
	PreChargePoint string
	ChargePoint    string
	WarningAudio   string
	NickName       string
	// ForceLock takes the control lock from another client before driving
	// to the charger.
	ForceLock  bool
	LegTimeout time.Duration
}

// DefaultWatchdogConfig checks once a minute, warns below 20% and heads
// to CP0 via LM2 below 10%.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		Interval:       time.Minute,
		WarningLevel:   20,
		CriticalLevel:  10,
		PreChargePoint: "LM2",
		ChargePoint:    "CP0",
		NickName:       "go-seer",
		ForceLock:      true,
		LegTimeout:     DefaultChargeTimeout,
	}
}

// Action is what one watchdog check did.
type Action int

const (
	ActionNone Action = iota
	ActionNoData
	ActionCharging
	ActionWarned
	ActionBusy
	ActionLockHeld
	ActionSentToCharge
	ActionFailed
)

var actionNames = [...]string{"none", "no_data", "charging", "warned", "busy", "lock_held", "sent_to_charge", "failed"}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Watchdog periodically checks battery telemetry and drives the robot to
// its charger when the level is critical and no task is running.
type Watchdog struct {
	ctrl         Controller
	cfg          WatchdogConfig
	logger       *slog.Logger
	pollInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatchdog creates a stopped watchdog over ctrl.
func NewWatchdog(ctrl Controller, cfg WatchdogConfig, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.LegTimeout <= 0 {
		cfg.LegTimeout = DefaultChargeTimeout
	}
	return &Watchdog{
		ctrl:         ctrl,
		cfg:          cfg,
		logger:       logger.With("component", "watchdog"),
		pollInterval: time.Second,
	}
}

// Start runs the check loop until Stop or ctx is cancelled.
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return ErrWatchdogRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(ctx, w.done)
	w.logger.Info("battery watchdog started",
		"interval", w.cfg.Interval,
		"warning", w.cfg.WarningLevel,
		"critical", w.cfg.CriticalLevel)
	return nil
}

// Stop cancels the loop and waits for the current check to return.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.logger.Info("battery watchdog stopped")
}

func (w *Watchdog) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			action, err := w.Check(ctx)
			if err != nil {
				w.logger.Warn("watchdog check failed, retrying next period", "action", action, "error", err)
			} else if action != ActionNone && action != ActionNoData {
				w.logger.Debug("watchdog check", "action", action)
			}
		}
	}
}

// Check runs one watchdog period.
func (w *Watchdog) Check(ctx context.Context) (Action, error) {
	snap := w.ctrl.PushData()
	if snap.Empty() {
		return ActionNoData, nil
	}
	if charging, _ := snap.Data.Bool("charging"); charging {
		return ActionCharging, nil
	}
	level, ok := snap.Data.Float("battery_level")
	if !ok {
		return ActionNoData, nil
	}
	if level <= 1.0 {
		level *= 100
	}

	action := ActionNone
	if level < w.cfg.WarningLevel {
		action = ActionWarned
		w.logger.Warn("battery low", "level", level)
		if w.cfg.WarningAudio != "" {
			if _, err := w.ctrl.PlayAudio(w.cfg.WarningAudio, false); err != nil {
				w.logger.Warn("warning audio failed", "error", err)
			}
		}
	}
	if level >= w.cfg.CriticalLevel {
		return action, nil
	}

	if w.taskRunning(snap.Data) {
		w.logger.Info("battery critical but a task is running", "level", level)
		return ActionBusy, nil
	}
	if held, err := w.acquireLock(); err != nil {
		return ActionFailed, err
	} else if held {
		return ActionLockHeld, nil
	}

	station, _ := snap.Data.String("current_station")
	w.logger.Warn("battery critical, heading to charger",
		"level", level, "station", station, "via", w.cfg.PreChargePoint, "charge_point", w.cfg.ChargePoint)

	if station != w.cfg.ChargePoint && station != w.cfg.PreChargePoint {
		if err := w.leg(ctx, w.cfg.PreChargePoint); err != nil {
			return ActionFailed, err
		}
	}
	if station != w.cfg.ChargePoint {
		if err := w.leg(ctx, w.cfg.ChargePoint); err != nil {
			return ActionFailed, err
		}
	}
	return ActionSentToCharge, nil
}

// taskRunning prefers the pushed task_status and falls back to a query.
func (w *Watchdog) taskRunning(data protocol.Payload) bool {
	if n, ok := data.Int("task_status"); ok {
		return protocol.TaskStatus(n) == protocol.StatusRunning
	}
	status, _, ok := queryTask(w.ctrl)
	return ok && status == protocol.StatusRunning
}

// acquireLock reports held=true when another client owns the lock and
// ForceLock is off.
func (w *Watchdog) acquireLock() (held bool, err error) {
	resp, err := w.ctrl.CurrentLock()
	if err != nil || !resp.OK() {
		w.logger.Warn("lock query failed, continuing", "error", err)
		return false, nil
	}
	locked, _ := resp.Bool("locked")
	owner, _ := resp.String("nick_name")
	if !locked || owner == w.cfg.NickName {
		return false, nil
	}
	if !w.cfg.ForceLock {
		w.logger.Warn("control lock held by another client", "owner", owner)
		return true, nil
	}
	w.logger.Warn("taking control lock", "owner", owner, "nick_name", w.cfg.NickName)
	resp, err = w.ctrl.Lock(w.cfg.NickName)
	if err != nil {
		return false, fmt.Errorf("lock: %w", err)
	}
	return false, protocol.CheckRetCode("lock", resp)
}

func (w *Watchdog) leg(ctx context.Context, target string) error {
	resp, err := w.ctrl.GoTarget(target, nil)
	if err != nil {
		return fmt.Errorf("gotarget %s: %w", target, err)
	}
	if err := protocol.CheckRetCode("gotarget", resp); err != nil {
		return err
	}
	res := WaitForCompletion(ctx, w.ctrl, w.pollInterval, w.cfg.LegTimeout)
	if !res.Success {
		return fmt.Errorf("leg to %s ended %s", target, res.StatusText)
	}
	return nil
}
