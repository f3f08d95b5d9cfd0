package protocol

import (
	"sort"
	"time"
)

// Group is a logical robot service. Each group is a separate TCP
// connection on its own port.
type Group string

const (
	GroupStatus  Group = "status"
	GroupTask    Group = "task"
	GroupControl Group = "control"
	GroupConfig  Group = "config"
	GroupOther   Group = "other"
	GroupPush    Group = "push"
)

// Groups lists every channel in connect order.
var Groups = []Group{GroupStatus, GroupTask, GroupControl, GroupConfig, GroupOther, GroupPush}

// Default robot ports.
const (
	PortStatus  = 19204
	PortControl = 19205
	PortTask    = 19206
	PortConfig  = 19207
	PortOther   = 19210
	PortPush    = 19301
)

// DefaultPorts maps each group to its well-known port.
func DefaultPorts() map[Group]int {
	return map[Group]int{
		GroupStatus:  PortStatus,
		GroupControl: PortControl,
		GroupTask:    PortTask,
		GroupConfig:  PortConfig,
		GroupOther:   PortOther,
		GroupPush:    PortPush,
	}
}

// DefaultTimeout applies to commands that do not set their own.
const DefaultTimeout = 5 * time.Second

// Command is one request/response pair. The response type is data, not
// derived from the request type.
type Command struct {
	Name        string
	Request     uint16
	Response    uint16
	Timeout     time.Duration
	Description string
}

// Deadline returns the command timeout, falling back to DefaultTimeout.
func (c Command) Deadline() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// Catalog maps command names to their wire ids.
type Catalog map[string]Command

func newCatalog(cmds ...Command) Catalog {
	c := make(Catalog, len(cmds))
	for _, cmd := range cmds {
		c[cmd.Name] = cmd
	}
	return c
}

// Names returns the command names in sorted order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for n := range c {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// StatusCommands are read-only queries on the status port.
var StatusCommands = newCatalog(
	Command{Name: "info", Request: 1000, Response: 11000, Description: "Robot information"},
	Command{Name: "run", Request: 1002, Response: 11002, Description: "Runtime information"},
	Command{Name: "loc", Request: 1004, Response: 11004, Description: "Robot position"},
	Command{Name: "speed", Request: 1005, Response: 11005, Description: "Robot speed"},
	Command{Name: "block", Request: 1006, Response: 11006, Description: "Blocked status"},
	Command{Name: "battery", Request: 1007, Response: 11007, Description: "Battery status"},
	Command{Name: "area", Request: 1011, Response: 11011, Description: "Current area"},
	Command{Name: "emergency", Request: 1012, Response: 11012, Description: "Emergency stop status"},
	Command{Name: "io", Request: 1013, Response: 11013, Description: "I/O data"},
	Command{Name: "imu", Request: 1014, Response: 11014, Description: "IMU data"},
	Command{Name: "task", Request: 1020, Response: 11020, Description: "Navigation status"},
	Command{Name: "reloc", Request: 1021, Response: 11021, Description: "Localization status"},
	Command{Name: "loadmap", Request: 1022, Response: 11022, Description: "Map loading status"},
	Command{Name: "jack", Request: 1027, Response: 11027, Description: "Jack status"},
	Command{Name: "motor", Request: 1040, Response: 11040, Description: "Motor status"},
	Command{Name: "alarm", Request: 1050, Response: 11050, Description: "Alarm status"},
	Command{Name: "current_lock", Request: 1060, Response: 11060, Description: "Current control owner"},
	Command{Name: "task_status", Request: 1110, Response: 11110, Description: "Task status package"},
	Command{Name: "map", Request: 1300, Response: 11300, Description: "Loaded and stored maps"},
	Command{Name: "station", Request: 1301, Response: 11301, Description: "Stations in current map"},
	Command{Name: "params", Request: 1400, Response: 11400, Description: "Robot parameters"},
	Command{Name: "sound", Request: 1850, Response: 11850, Description: "Currently playing audio"},
)

// TaskCommands drive navigation on the task port.
var TaskCommands = newCatalog(
	Command{Name: "pause", Request: 3001, Response: 13001, Description: "Pause current task"},
	Command{Name: "resume", Request: 3002, Response: 13002, Description: "Resume current task"},
	Command{Name: "cancel", Request: 3003, Response: 13003, Description: "Cancel current task"},
	Command{Name: "gotarget", Request: 3051, Response: 13051, Timeout: 10 * time.Second, Description: "Path navigation"},
	Command{Name: "target_path", Request: 3053, Response: 13053, Description: "Path navigation route"},
	Command{Name: "translate", Request: 3055, Response: 13055, Description: "Translation"},
	Command{Name: "turn", Request: 3056, Response: 13056, Description: "Rotation"},
	Command{Name: "spin", Request: 3057, Response: 13057, Description: "Pallet rotation"},
	Command{Name: "circular", Request: 3058, Response: 13058, Description: "Circular motion"},
	Command{Name: "path", Request: 3059, Response: 13059, Description: "Enable or disable routes"},
	Command{Name: "gotargetlist", Request: 3066, Response: 13066, Timeout: 10 * time.Second, Description: "Specified path navigation"},
	Command{Name: "cleartargetlist", Request: 3067, Response: 13067, Description: "Clear specified navigation path"},
	Command{Name: "safeclearmovements", Request: 3068, Response: 13068, Description: "Clear navigation path by task id"},
	Command{Name: "tasklist_status", Request: 3101, Response: 13101, Description: "Task chain status"},
	Command{Name: "tasklist_name", Request: 3106, Response: 13106, Description: "Execute stored task chain"},
	Command{Name: "tasklist_list", Request: 3115, Response: 13115, Description: "List task chains"},
)

// ControlCommands are open-loop and localization commands.
var ControlCommands = newCatalog(
	Command{Name: "stop", Request: 2000, Response: 12000, Description: "Stop open-loop motion"},
	Command{Name: "reloc", Request: 2002, Response: 12002, Description: "Relocate robot"},
	Command{Name: "comfirmloc", Request: 2003, Response: 12003, Description: "Confirm localization"},
	Command{Name: "cancelreloc", Request: 2004, Response: 12004, Description: "Cancel relocation"},
	Command{Name: "motion", Request: 2010, Response: 12010, Description: "Open-loop motion"},
	Command{Name: "loadmap", Request: 2022, Response: 12022, Description: "Switch loaded map"},
	Command{Name: "clearmotorencoder", Request: 2024, Response: 12024, Description: "Zero motor encoder"},
)

// ConfigCommands change robot configuration and control ownership.
var ConfigCommands = newCatalog(
	Command{Name: "lock", Request: 4005, Response: 14005, Description: "Grab control lock"},
	Command{Name: "unlock", Request: 4006, Response: 14006, Description: "Release control lock"},
	Command{Name: "clearallerrors", Request: 4009, Response: 14009, Description: "Clear all robot errors"},
	Command{Name: "config_push", Request: 4091, Response: 14091, Description: "Configure push port"},
	Command{Name: "setparams", Request: 4100, Response: 14100, Description: "Temporarily modify parameters"},
	Command{Name: "saveparams", Request: 4101, Response: 14101, Description: "Permanently modify parameters"},
	Command{Name: "reloadparams", Request: 4102, Response: 14102, Description: "Restore default parameters"},
	Command{Name: "motor_clear_fault", Request: 4151, Response: 14151, Description: "Clear motor fault"},
	Command{Name: "addobstacle", Request: 4350, Response: 14350, Description: "Insert dynamic obstacle"},
	Command{Name: "removeobstacle", Request: 4352, Response: 14352, Description: "Remove dynamic obstacle"},
)

// OtherCommands cover audio, IO and peripherals.
var OtherCommands = newCatalog(
	Command{Name: "play_audio", Request: 6000, Response: 16000, Description: "Play audio file"},
	Command{Name: "setdo", Request: 6001, Response: 16001, Description: "Set DO"},
	Command{Name: "softemc", Request: 6004, Response: 16004, Description: "Soft emergency stop"},
	Command{Name: "pause_audio", Request: 6010, Response: 16010, Description: "Pause audio"},
	Command{Name: "resume_audio", Request: 6011, Response: 16011, Description: "Resume audio"},
	Command{Name: "stop_audio", Request: 6012, Response: 16012, Description: "Stop audio"},
	Command{Name: "audio_list", Request: 6033, Response: 16033, Description: "List audio files"},
	Command{Name: "jack_load", Request: 6070, Response: 16070, Description: "Jack up"},
	Command{Name: "jack_unload", Request: 6071, Response: 16071, Description: "Jack down"},
	Command{Name: "jack_stop", Request: 6072, Response: 16072, Description: "Jack stop"},
	Command{Name: "jack_set_height", Request: 6073, Response: 16073, Description: "Jack set height"},
)

// PushConfig is sent on the push port to select fields and interval.
var PushConfig = Command{Name: "push_config", Request: 9300, Response: 19300, Description: "Configure push stream"}

// Catalogs maps request/response groups to their command tables.
var Catalogs = map[Group]Catalog{
	GroupStatus:  StatusCommands,
	GroupTask:    TaskCommands,
	GroupControl: ControlCommands,
	GroupConfig:  ConfigCommands,
	GroupOther:   OtherCommands,
}

// Lookup finds a command by group and name.
func Lookup(g Group, name string) (Command, bool) {
	if g == GroupPush && name == PushConfig.Name {
		return PushConfig, true
	}
	cat, ok := Catalogs[g]
	if !ok {
		return Command{}, false
	}
	cmd, ok := cat[name]
	return cmd, ok
}
