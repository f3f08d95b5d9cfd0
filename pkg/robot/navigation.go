package robot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teslashibe/go-seer/pkg/journal"
	"github.com/teslashibe/go-seer/pkg/protocol"
)

// SelfPosition is the station id meaning "wherever the robot is now".
const SelfPosition = "SELF_POSITION"

// Default navigation timeouts.
const (
	DefaultGotoTimeout       = 60 * time.Second
	DefaultNavigationTimeout = 600 * time.Second
	DefaultChargeTimeout     = 300 * time.Second
)

var (
	ErrUnknownTrajectory = errors.New("robot: unknown trajectory")
	ErrNoStartPosition   = errors.New("robot: no start position in task list")
	ErrEmptyTaskList     = errors.New("robot: empty task list")
)

// NavResult describes a navigation request. Success means the task was
// accepted, and when waited for, that it completed.
type NavResult struct {
	Success         bool             `json:"success"`
	TaskID          string           `json:"task_id,omitempty"`
	Blocking        bool             `json:"blocking"`
	Description     string           `json:"description,omitempty"`
	AlreadyAtTarget bool             `json:"already_at_target,omitempty"`
	AlreadyCharging bool             `json:"already_charging,omitempty"`
	StartPosition   string           `json:"start_position,omitempty"`
	Response        protocol.Payload `json:"response,omitempty"`
	Wait            *WaitResult      `json:"result,omitempty"`
}

func (r *Robot) touchNavigation() {
	r.navMu.Lock()
	r.lastNav = r.now()
	r.navMu.Unlock()
}

// IdleTime returns the time since the last navigation call. ok is false
// when none has been made.
func (r *Robot) IdleTime() (time.Duration, bool) {
	r.navMu.Lock()
	defer r.navMu.Unlock()
	if r.lastNav.IsZero() {
		return 0, false
	}
	return r.now().Sub(r.lastNav), true
}

// NextTaskID returns a task id of the form YYYYMMDDHHMMSS_N, where N counts
// up for the lifetime of the Robot.
func (r *Robot) NextTaskID() string {
	r.navMu.Lock()
	r.taskSeq++
	n := r.taskSeq
	r.navMu.Unlock()
	return fmt.Sprintf("%s_%d", r.now().Format("20060102150405"), n)
}

// TaskStatus returns the current task status, or StatusError when the
// query fails.
func (r *Robot) TaskStatus() protocol.TaskStatus {
	status, _, ok := queryTask(r)
	if !ok {
		return protocol.StatusError
	}
	return status
}

// Goto navigates to a single station, skipping the move when the robot
// already reports that station as current.
func (r *Robot) Goto(ctx context.Context, target string, wait bool, timeout time.Duration) (NavResult, error) {
	res := NavResult{Blocking: wait, Description: target}
	if !r.IsConnected() {
		return res, ErrNotConnected
	}
	r.touchNavigation()

	loc, err := r.QueryStatus("loc", nil)
	if err != nil || !loc.OK() {
		r.logger.Warn("location query failed, navigating anyway", "error", err)
	} else if station, _ := loc.String("current_station"); station != "" && station == target {
		r.logger.Info("already at target", "target", target)
		res.Success = true
		res.AlreadyAtTarget = true
		return res, nil
	}

	resp, err := r.GoTarget(target, nil)
	return r.follow(ctx, res, resp, err, "gotarget", timeout)
}

// ExecuteNavigation sends a move task list and optionally waits for it.
func (r *Robot) ExecuteNavigation(ctx context.Context, tasks []protocol.Payload, wait bool, timeout time.Duration) (NavResult, error) {
	res := NavResult{Blocking: wait, Description: DescribeTaskList(tasks)}
	if !r.IsConnected() {
		return res, ErrNotConnected
	}
	r.touchNavigation()
	r.logger.Info("starting navigation", "description", res.Description, "legs", len(tasks))

	resp, err := r.GoTargetList(tasks)
	return r.follow(ctx, res, resp, err, "gotargetlist", timeout)
}

// follow interprets a navigation command response and waits when asked.
func (r *Robot) follow(ctx context.Context, res NavResult, resp protocol.Payload, err error, command string, timeout time.Duration) (NavResult, error) {
	if err != nil {
		return res, fmt.Errorf("%s: %w", command, err)
	}
	res.Response = resp
	if err := protocol.CheckRetCode(command, resp); err != nil {
		return res, err
	}
	res.TaskID, _ = resp.String("task_id")

	if !res.Blocking {
		res.Success = true
		return res, nil
	}

	started := r.now()
	w := WaitForCompletion(ctx, r, r.pollInterval, timeout)
	res.Wait = &w
	res.Success = w.Success
	r.logger.Info("navigation finished",
		"description", res.Description,
		"status", w.StatusText,
		"elapsed", w.Elapsed.Round(time.Millisecond),
		"path", strings.Join(w.FinishedPath, " → "))
	r.record(ctx, res, w, started)
	return res, nil
}

func (r *Robot) record(ctx context.Context, res NavResult, w WaitResult, started time.Time) {
	if r.recorder == nil {
		return
	}
	run := journal.Run{
		TaskID:         res.TaskID,
		Description:    res.Description,
		Success:        w.Success,
		FinalStatus:    int(w.FinalStatus),
		StatusText:     w.StatusText,
		Elapsed:        w.Elapsed,
		QueryCount:     w.QueryCount,
		FinishedPath:   w.FinishedPath,
		UnfinishedPath: w.UnfinishedPath,
		StartedAt:      started,
	}
	if _, err := r.recorder.Record(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Warn("failed to record navigation", "error", err)
	}
}

// StartPosition returns the first source_id that is not SELF_POSITION.
func StartPosition(tasks []protocol.Payload) (string, bool) {
	for _, t := range tasks {
		if src, _ := t.String("source_id"); src != "" && src != SelfPosition {
			return src, true
		}
	}
	return "", false
}

// GotoStart navigates to the starting station of a move task list.
func (r *Robot) GotoStart(ctx context.Context, tasks []protocol.Payload, wait bool, timeout time.Duration) (NavResult, error) {
	if len(tasks) == 0 {
		return NavResult{Blocking: wait}, ErrEmptyTaskList
	}
	start, ok := StartPosition(tasks)
	if !ok {
		return NavResult{Blocking: wait}, ErrNoStartPosition
	}
	res, err := r.Goto(ctx, start, wait, timeout)
	res.StartPosition = start
	return res, err
}

// GotoCharge goes via an intermediate station to the charge point, unless
// the battery query reports the robot is already charging.
func (r *Robot) GotoCharge(ctx context.Context, via, chargePoint string, wait bool, timeout time.Duration) (NavResult, error) {
	if !r.IsConnected() {
		return NavResult{Blocking: wait}, ErrNotConnected
	}

	batt, err := r.QueryStatus("battery", nil)
	if err != nil || !batt.OK() {
		r.logger.Warn("battery query failed, navigating anyway", "error", err)
	} else if charging, _ := batt.Bool("charging"); charging {
		return NavResult{Success: true, Blocking: wait, AlreadyCharging: true}, nil
	}

	res, err := r.Goto(ctx, via, wait, timeout)
	if err != nil || !res.Success {
		return res, err
	}
	return r.Goto(ctx, chargePoint, wait, timeout)
}

// Trajectories returns the configured trajectory names, sorted.
func (r *Robot) Trajectories() []string {
	names := make([]string, 0, len(r.cfg.Trajectories))
	for n := range r.cfg.Trajectories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PrepareTaskList copies a named trajectory and gives every leg a fresh
// task_id.
func (r *Robot) PrepareTaskList(name string) ([]protocol.Payload, error) {
	legs, ok := r.cfg.Trajectories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTrajectory, name)
	}
	out := make([]protocol.Payload, len(legs))
	for i, leg := range legs {
		c := deepCopy(leg)
		c["task_id"] = r.NextTaskID()
		out[i] = c
	}
	return out, nil
}

// Navigate runs a named trajectory.
func (r *Robot) Navigate(ctx context.Context, name string, wait bool, timeout time.Duration) (NavResult, error) {
	tasks, err := r.PrepareTaskList(name)
	if err != nil {
		return NavResult{Blocking: wait}, err
	}
	return r.ExecuteNavigation(ctx, tasks, wait, timeout)
}

// GotoNavigateStart goes to the start of a named trajectory.
func (r *Robot) GotoNavigateStart(ctx context.Context, name string, wait bool, timeout time.Duration) (NavResult, error) {
	tasks, err := r.PrepareTaskList(name)
	if err != nil {
		return NavResult{Blocking: wait}, err
	}
	return r.GotoStart(ctx, tasks, wait, timeout)
}

// DescribeTaskList renders a move task list as "LM2 → LM9 → AP8 (load)".
func DescribeTaskList(tasks []protocol.Payload) string {
	if len(tasks) == 0 {
		return "Empty task list"
	}
	var parts []string
	prev := ""
	for _, t := range tasks {
		src, _ := t.String("source_id")
		dst, _ := t.String("id")
		op, _ := t.String("operation")

		if src == SelfPosition && dst == SelfPosition {
			continue
		}
		if src != "" && src != SelfPosition && src != prev {
			parts = append(parts, src)
			prev = src
		}
		if dst != "" && dst != SelfPosition {
			if op != "" {
				parts = append(parts, fmt.Sprintf("%s (%s)", dst, strings.ToLower(strings.ReplaceAll(op, "Jack", ""))))
			} else {
				parts = append(parts, dst)
			}
			prev = dst
		}
	}
	if len(parts) == 0 {
		return "Navigation task"
	}
	return strings.Join(parts, " → ")
}

func deepCopy(p protocol.Payload) protocol.Payload {
	out := make(protocol.Payload, len(p))
	for k, v := range p {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return map[string]any(deepCopy(x))
	case protocol.Payload:
		return deepCopy(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = deepCopyValue(e)
		}
		return out
	}
	return v
}
