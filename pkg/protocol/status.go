package protocol

import "strconv"

// TaskStatus is the navigation task state reported by the "task" status query.
type TaskStatus int

const (
	// StatusError is used by this client when the query itself failed.
	StatusError     TaskStatus = -1
	StatusNone      TaskStatus = 0
	StatusWaiting   TaskStatus = 1
	StatusRunning   TaskStatus = 2
	StatusSuspended TaskStatus = 3
	StatusCompleted TaskStatus = 4
	StatusFailed    TaskStatus = 5
	StatusCanceled  TaskStatus = 6
)

var statusNames = map[TaskStatus]string{
	StatusError:     "ERROR",
	StatusNone:      "NONE",
	StatusWaiting:   "WAITING",
	StatusRunning:   "RUNNING",
	StatusSuspended: "SUSPENDED",
	StatusCompleted: "COMPLETED",
	StatusFailed:    "FAILED",
	StatusCanceled:  "CANCELED",
}

func (s TaskStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN(" + strconv.Itoa(int(s)) + ")"
}

// Terminal reports whether a poll loop should stop on this status.
// Everything except RUNNING is terminal.
func (s TaskStatus) Terminal() bool {
	return s != StatusRunning
}

// Success reports whether the task finished successfully.
func (s TaskStatus) Success() bool {
	return s == StatusCompleted
}
