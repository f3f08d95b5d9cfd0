package robot

import (
	"errors"
	"fmt"
	"sync"

	"github.com/teslashibe/go-seer/pkg/protocol"
	"github.com/teslashibe/go-seer/pkg/transport"
)

var (
	ErrNotConnected   = errors.New("robot: not connected")
	ErrUnknownCommand = errors.New("robot: unknown command")
)

// facade maps command names onto one channel. Its mutex keeps a single
// request in flight, which the wire protocol requires.
type facade struct {
	group   protocol.Group
	ch      *transport.Channel
	catalog protocol.Catalog

	mu     sync.Mutex
	nextID uint16
}

func newFacade(g protocol.Group, ch *transport.Channel) *facade {
	return &facade{group: g, ch: ch, catalog: protocol.Catalogs[g]}
}

// Channel returns the underlying transport channel.
func (f *facade) Channel() *transport.Channel { return f.ch }

// Call sends the named command with params and returns the parsed response.
// A non-zero ret_code is not an error here.
func (f *facade) Call(name string, params protocol.Payload) (protocol.Payload, error) {
	cmd, ok := f.catalog[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownCommand, f.group, name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if f.nextID == 0 {
		f.nextID = 1
	}
	return f.ch.Call(f.nextID, cmd, params)
}

// StatusClient queries robot state on the status port.
type StatusClient struct{ *facade }

// NewStatusClient wraps a status channel.
func NewStatusClient(ch *transport.Channel) *StatusClient {
	return &StatusClient{newFacade(protocol.GroupStatus, ch)}
}

// QueryStatus runs a named status query.
func (c *StatusClient) QueryStatus(name string, params protocol.Payload) (protocol.Payload, error) {
	return c.Call(name, params)
}

// Location returns x, y, angle and current_station.
func (c *StatusClient) Location() (protocol.Payload, error) { return c.Call("loc", nil) }

// Battery returns battery_level and charging.
func (c *StatusClient) Battery() (protocol.Payload, error) { return c.Call("battery", nil) }

// TaskState returns task_status and the finished/unfinished paths.
func (c *StatusClient) TaskState() (protocol.Payload, error) { return c.Call("task", nil) }

// CurrentLock returns who holds the control lock.
func (c *StatusClient) CurrentLock() (protocol.Payload, error) { return c.Call("current_lock", nil) }

// TaskClient starts and manages navigation on the task port.
type TaskClient struct{ *facade }

// NewTaskClient wraps a task channel.
func NewTaskClient(ch *transport.Channel) *TaskClient {
	return &TaskClient{newFacade(protocol.GroupTask, ch)}
}

// GoTarget navigates to a single station. Extra params are merged in.
func (c *TaskClient) GoTarget(id string, params protocol.Payload) (protocol.Payload, error) {
	p := params.Clone()
	if p == nil {
		p = protocol.Payload{}
	}
	p["id"] = id
	return c.Call("gotarget", p)
}

// GoTargetList runs a multi-leg move task list.
func (c *TaskClient) GoTargetList(tasks []protocol.Payload) (protocol.Payload, error) {
	return c.Call("gotargetlist", protocol.Payload{"move_task_list": tasks})
}

// Translate moves dist metres at vx m/s.
func (c *TaskClient) Translate(dist, vx float64) (protocol.Payload, error) {
	return c.Call("translate", protocol.Payload{"dist": dist, "vx": vx})
}

// Turn rotates angle radians at vw rad/s.
func (c *TaskClient) Turn(angle, vw float64) (protocol.Payload, error) {
	return c.Call("turn", protocol.Payload{"angle": angle, "vw": vw})
}

func (c *TaskClient) Pause() (protocol.Payload, error)  { return c.Call("pause", nil) }
func (c *TaskClient) Resume() (protocol.Payload, error) { return c.Call("resume", nil) }
func (c *TaskClient) Cancel() (protocol.Payload, error) { return c.Call("cancel", nil) }

// ControlClient handles open-loop motion and localization.
type ControlClient struct{ *facade }

// NewControlClient wraps a control channel.
func NewControlClient(ch *transport.Channel) *ControlClient {
	return &ControlClient{newFacade(protocol.GroupControl, ch)}
}

// Stop halts open-loop motion.
func (c *ControlClient) Stop() (protocol.Payload, error) { return c.Call("stop", nil) }

// Relocate resets the pose estimate to x, y, angle.
func (c *ControlClient) Relocate(x, y, angle float64) (protocol.Payload, error) {
	return c.Call("reloc", protocol.Payload{"x": x, "y": y, "angle": angle})
}

// ConfirmLocation accepts the current relocalization.
func (c *ControlClient) ConfirmLocation() (protocol.Payload, error) {
	return c.Call("comfirmloc", nil)
}

// Motion drives at the given velocities until the next command.
func (c *ControlClient) Motion(vx, vy, w float64) (protocol.Payload, error) {
	return c.Call("motion", protocol.Payload{"vx": vx, "vy": vy, "w": w})
}

// ConfigClient manages configuration and the control lock.
type ConfigClient struct{ *facade }

// NewConfigClient wraps a config channel.
func NewConfigClient(ch *transport.Channel) *ConfigClient {
	return &ConfigClient{newFacade(protocol.GroupConfig, ch)}
}

// Lock grabs control under nickName.
func (c *ConfigClient) Lock(nickName string) (protocol.Payload, error) {
	return c.Call("lock", protocol.Payload{"nick_name": nickName})
}

// Unlock releases control.
func (c *ConfigClient) Unlock() (protocol.Payload, error) { return c.Call("unlock", nil) }

// OtherClient covers audio and peripherals.
type OtherClient struct{ *facade }

// NewOtherClient wraps an "other" channel.
func NewOtherClient(ch *transport.Channel) *OtherClient {
	return &OtherClient{newFacade(protocol.GroupOther, ch)}
}

// PlayAudio plays a named audio file stored on the robot.
func (c *OtherClient) PlayAudio(name string, loop bool) (protocol.Payload, error) {
	return c.Call("play_audio", protocol.Payload{"name": name, "loop": loop})
}

// StopAudio stops playback.
func (c *OtherClient) StopAudio() (protocol.Payload, error) { return c.Call("stop_audio", nil) }
