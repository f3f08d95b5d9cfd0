package robot

import (
	"context"
	"time"

	"github.com/teslashibe/go-seer/pkg/protocol"
)

// Status texts that are not task states.
const (
	StatusTextTimeout     = "TIMEOUT"
	StatusTextInterrupted = "INTERRUPTED"
)

// WaitResult is the outcome of WaitForCompletion.
type WaitResult struct {
	Success        bool                `json:"success"`
	FinalStatus    protocol.TaskStatus `json:"final_status"`
	StatusText     string              `json:"status_text"`
	Elapsed        time.Duration       `json:"elapsed"`
	QueryCount     int                 `json:"query_count"`
	FinishedPath   []string            `json:"finished_path"`
	UnfinishedPath []string            `json:"unfinished_path"`
}

// WaitForCompletion polls the "task" status query every interval until the
// task leaves RUNNING or timeout elapses.
//
// The timeout is checked before every query and caps every sleep, so the
// wait ends on time even when queries fail instantly. Failed queries,
// including a non-zero ret_code, are retried on the next interval. Only
// COMPLETED counts as success. A cancelled ctx ends the wait early with
// StatusTextInterrupted.
func WaitForCompletion(ctx context.Context, q StatusQuerier, interval, timeout time.Duration) WaitResult {
	start := time.Now()
	queries := 0

	for {
		elapsed := time.Since(start)
		if elapsed >= timeout {
			return WaitResult{
				FinalStatus: protocol.StatusError,
				StatusText:  StatusTextTimeout,
				Elapsed:     elapsed,
				QueryCount:  queries,
			}
		}

		queries++
		if status, resp, ok := queryTask(q); ok && status.Terminal() {
			return WaitResult{
				Success:        status.Success(),
				FinalStatus:    status,
				StatusText:     status.String(),
				Elapsed:        time.Since(start),
				QueryCount:     queries,
				FinishedPath:   resp.Strings("finished_path"),
				UnfinishedPath: resp.Strings("unfinished_path"),
			}
		}

		// Never sleep past the deadline.
		wait := max(min(interval, timeout-time.Since(start)), 0)
		select {
		case <-ctx.Done():
			return WaitResult{
				FinalStatus: protocol.StatusError,
				StatusText:  StatusTextInterrupted,
				Elapsed:     time.Since(start),
				QueryCount:  queries,
			}
		case <-time.After(wait):
		}
	}
}

// queryTask reports ok only for a successful query carrying task_status.
func queryTask(q StatusQuerier) (protocol.TaskStatus, protocol.Payload, bool) {
	resp, err := q.QueryStatus("task", nil)
	if err != nil || !resp.OK() {
		return protocol.StatusError, nil, false
	}
	n, ok := resp.Int("task_status")
	if !ok {
		return protocol.StatusError, nil, false
	}
	return protocol.TaskStatus(n), resp, true
}
