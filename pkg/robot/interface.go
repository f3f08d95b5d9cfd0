// Package robot drives a SEER-protocol mobile robot.
//
// This package follows the Interface Segregation Principle (ISP): the poller
// and the battery watchdog depend only on the small capability interfaces
// below, and Robot implements all of them over its per-channel facades.
package robot

import (
	"github.com/teslashibe/go-seer/pkg/protocol"
	"github.com/teslashibe/go-seer/pkg/push"
)

// StatusQuerier issues named status queries ("loc", "battery", "task").
type StatusQuerier interface {
	QueryStatus(name string, params protocol.Payload) (protocol.Payload, error)
}

// Navigator starts navigation tasks.
type Navigator interface {
	GoTarget(id string, params protocol.Payload) (protocol.Payload, error)
	GoTargetList(tasks []protocol.Payload) (protocol.Payload, error)
}

// TaskController pauses, resumes and cancels the current task.
type TaskController interface {
	PauseTask() (protocol.Payload, error)
	ResumeTask() (protocol.Payload, error)
	CancelTask() (protocol.Payload, error)
}

// LockController arbitrates the robot's control lock.
type LockController interface {
	CurrentLock() (protocol.Payload, error)
	Lock(nickName string) (protocol.Payload, error)
	Unlock() (protocol.Payload, error)
}

// AudioPlayer plays audio files stored on the robot.
type AudioPlayer interface {
	PlayAudio(name string, loop bool) (protocol.Payload, error)
}

// SnapshotSource provides the latest push telemetry.
type SnapshotSource interface {
	PushData() push.Snapshot
}

// Controller is everything the watchdog and the web layer need.
type Controller interface {
	StatusQuerier
	Navigator
	TaskController
	LockController
	AudioPlayer
	SnapshotSource
}

var _ Controller = (*Robot)(nil)
