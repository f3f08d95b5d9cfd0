package robot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-seer/pkg/journal"
	"github.com/teslashibe/go-seer/pkg/protocol"
	"github.com/teslashibe/go-seer/pkg/push"
	"github.com/teslashibe/go-seer/pkg/transport"
)

// HealthGrace is added to the push interval before telemetry counts as stale.
const HealthGrace = 5 * time.Second

// ErrNoServices is returned by Connect when no request channel connects.
var ErrNoServices = errors.New("robot: no services reachable")

// DefaultPushFields are the telemetry fields requested from the push port.
var DefaultPushFields = []string{
	"x", "y", "angle", "current_station",
	"vx", "vy", "w",
	"battery_level", "charging",
	"emergency", "soft_emc", "fatals", "errors", "warnings", "notices",
	"create_on", "confidence",
	"task_status", "task_type",
	"jack",
}

// Config describes how to reach one robot.
type Config struct {
	Host           string
	Ports          map[protocol.Group]int
	ConnectTimeout time.Duration

	// PushIntervalMs of zero disables the push channel.
	PushIntervalMs int
	PushIncluded   []string
	PushExcluded   []string

	// Trajectories are named move task lists for Navigate.
	Trajectories map[string][]protocol.Payload
}

// DefaultConfig returns a config for host with the standard ports and a
// one second push interval.
func DefaultConfig(host string) Config {
	return Config{
		Host:           host,
		Ports:          protocol.DefaultPorts(),
		ConnectTimeout: transport.DefaultConnectTimeout,
		PushIntervalMs: 1000,
		PushIncluded:   append([]string(nil), DefaultPushFields...),
	}
}

func (c Config) pushInterval() time.Duration {
	return time.Duration(c.PushIntervalMs) * time.Millisecond
}

func (c Config) port(g protocol.Group) int {
	if p, ok := c.Ports[g]; ok && p > 0 {
		return p
	}
	return protocol.DefaultPorts()[g]
}

// RunRecorder persists finished navigation runs.
// *journal.Journal satisfies it.
type RunRecorder interface {
	Record(ctx context.Context, run journal.Run) (int64, error)
}

// Option configures a Robot.
type Option func(*Robot)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Robot) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides time.Now for health checks and idle time.
func WithClock(now func() time.Time) Option {
	return func(r *Robot) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRecorder records every waited navigation.
func WithRecorder(rec RunRecorder) Option {
	return func(r *Robot) { r.recorder = rec }
}

// WithPollInterval sets how often navigation waits query task status.
func WithPollInterval(d time.Duration) Option {
	return func(r *Robot) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// session is everything owned by one successful Connect.
type session struct {
	channels    map[protocol.Group]*transport.Channel
	status      *StatusClient
	task        *TaskClient
	control     *ControlClient
	config      *ConfigClient
	other       *OtherClient
	listener    *push.Listener
	connectedAt time.Time
}

func (s *session) requestConnected() bool {
	for g, ch := range s.channels {
		if g != protocol.GroupPush && ch.IsConnected() {
			return true
		}
	}
	return false
}

// Robot is an owned handle to one robot. The zero value is not usable;
// create one with New.
type Robot struct {
	cfg          Config
	logger       *slog.Logger
	now          func() time.Time
	recorder     RunRecorder
	pollInterval time.Duration

	mu   sync.Mutex
	sess *session

	hooksMu sync.RWMutex
	hooks   []push.Handler

	navMu   sync.Mutex
	taskSeq int
	lastNav time.Time
}

// New creates an unconnected Robot.
func New(cfg Config, opts ...Option) *Robot {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = transport.DefaultConnectTimeout
	}
	r := &Robot{
		cfg:          cfg,
		logger:       slog.Default(),
		now:          time.Now,
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "robot", "host", cfg.Host)
	return r
}

// Config returns the robot configuration.
func (r *Robot) Config() Config { return r.cfg }

// OnPush registers a hook called with every push telemetry message.
func (r *Robot) OnPush(h push.Handler) {
	r.hooksMu.Lock()
	r.hooks = append(r.hooks, h)
	r.hooksMu.Unlock()
}

func (r *Robot) dispatch(p protocol.Payload) {
	r.hooksMu.RLock()
	hooks := append([]push.Handler(nil), r.hooks...)
	r.hooksMu.RUnlock()
	for _, h := range hooks {
		r.callHook(h, p.Clone())
	}
}

func (r *Robot) callHook(h push.Handler, p protocol.Payload) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("push hook panicked", "panic", rec)
		}
	}()
	h(p)
}

// Connect opens every channel concurrently and, when push is enabled,
// configures the push stream and starts its listener. It succeeds if at
// least one request channel connects; the returned map says which did.
// Calling Connect while connected returns the current state.
func (r *Robot) Connect(ctx context.Context) (map[protocol.Group]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sess != nil {
		return connectionState(r.sess), nil
	}

	groups := []protocol.Group{protocol.GroupStatus, protocol.GroupTask, protocol.GroupControl, protocol.GroupConfig, protocol.GroupOther}
	if r.cfg.PushIntervalMs > 0 {
		groups = append(groups, protocol.GroupPush)
	}

	s := &session{channels: make(map[protocol.Group]*transport.Channel, len(groups))}
	for _, g := range groups {
		s.channels[g] = transport.NewChannel(string(g), r.cfg.Host, r.cfg.port(g), r.logger)
	}

	var g errgroup.Group
	for _, ch := range s.channels {
		ch := ch
		g.Go(func() error {
			return ch.Connect(ctx, r.cfg.ConnectTimeout)
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Warn("some services failed to connect", "error", err)
	}

	state := connectionState(s)
	if !s.requestConnected() {
		for _, ch := range s.channels {
			ch.Disconnect()
		}
		return state, fmt.Errorf("connect %s: %w", r.cfg.Host, ErrNoServices)
	}

	s.status = NewStatusClient(s.channels[protocol.GroupStatus])
	s.task = NewTaskClient(s.channels[protocol.GroupTask])
	s.control = NewControlClient(s.channels[protocol.GroupControl])
	s.config = NewConfigClient(s.channels[protocol.GroupConfig])
	s.other = NewOtherClient(s.channels[protocol.GroupOther])
	s.connectedAt = r.now()

	if ch, ok := s.channels[protocol.GroupPush]; ok {
		if ch.IsConnected() {
			s.listener = push.NewListener(ch, push.WithLogger(r.logger), push.WithClock(r.now))
			r.startPush(s.listener)
		} else {
			// Without a push channel health falls back to the request channels.
			delete(s.channels, protocol.GroupPush)
		}
	}

	r.sess = s
	r.logger.Info("connected", "services", state)
	return state, nil
}

func (r *Robot) startPush(l *push.Listener) {
	if _, err := l.Configure(r.cfg.PushIntervalMs, r.cfg.PushIncluded, r.cfg.PushExcluded); err != nil {
		r.logger.Warn("push configuration failed", "error", err)
		return
	}
	if err := l.Start(r.dispatch); err != nil {
		r.logger.Warn("push listener failed to start", "error", err)
	}
}

func connectionState(s *session) map[protocol.Group]bool {
	out := make(map[protocol.Group]bool, len(s.channels))
	for g, ch := range s.channels {
		out[g] = ch.IsConnected()
	}
	return out
}

// Disconnect stops the push listener and closes every channel. It returns
// ErrNotConnected when there is nothing to close.
func (r *Robot) Disconnect() error {
	r.mu.Lock()
	s := r.detachLocked()
	r.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}
	r.closeSession(s)
	r.logger.Info("disconnected")
	return nil
}

// detachLocked clears the current session and returns it. Callers close it
// with closeSession after releasing r.mu, since stopping the listener waits
// for its goroutine and push hooks may call back into the Robot.
func (r *Robot) detachLocked() *session {
	s := r.sess
	r.sess = nil
	return s
}

// closeSession releases a detached session. It never fails.
func (r *Robot) closeSession(s *session) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("teardown panicked", "panic", rec)
		}
	}()
	if s.listener != nil && s.listener.IsListening() {
		s.listener.Stop()
	}
	for _, ch := range s.channels {
		ch.Disconnect()
	}
}

// IsConnected reports whether a session is open.
func (r *Robot) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess != nil
}

// IsHealthy judges link liveness from the channels' connected flags and the
// age of the latest push telemetry. Until the first message arrives, age is
// measured from connect time. An unhealthy result tears the session down
// so the next Connect starts clean.
func (r *Robot) IsHealthy() bool {
	r.mu.Lock()
	s := r.sess
	if s == nil {
		r.mu.Unlock()
		return false
	}
	reason := r.unhealthyReason(s)
	if reason == "" {
		r.mu.Unlock()
		return true
	}
	r.detachLocked()
	r.mu.Unlock()

	r.logger.Warn("connection unhealthy, tearing down", "reason", reason)
	r.closeSession(s)
	return false
}

func (r *Robot) unhealthyReason(s *session) string {
	if !s.requestConnected() {
		return "no request channel connected"
	}
	pushCh, ok := s.channels[protocol.GroupPush]
	if !ok {
		return ""
	}
	if !pushCh.IsConnected() {
		return "push channel disconnected"
	}
	if r.cfg.PushIntervalMs <= 0 || s.listener == nil {
		return ""
	}

	last, ok := s.listener.LastUpdate()
	if !ok {
		last = s.connectedAt
	}
	limit := r.cfg.pushInterval() + HealthGrace
	if age := r.now().Sub(last); age > limit {
		return fmt.Sprintf("push data stale for %v (limit %v)", age.Round(time.Millisecond), limit)
	}
	return ""
}

// Stats is a point-in-time view of all channels.
type Stats struct {
	Connected bool                               `json:"connected"`
	Channels  map[protocol.Group]transport.Stats `json:"channels"`
	Push      *push.Stats                        `json:"push,omitempty"`
}

// Stats returns per-channel transport statistics and push throughput.
func (r *Robot) Stats() Stats {
	s, err := r.session()
	if err != nil {
		return Stats{}
	}
	out := Stats{Connected: true, Channels: make(map[protocol.Group]transport.Stats, len(s.channels))}
	for g, ch := range s.channels {
		out.Channels[g] = ch.Stats()
	}
	if s.listener != nil {
		ps := s.listener.Stats()
		out.Push = &ps
	}
	return out
}

// PushData returns a copy of the latest push telemetry, empty when none.
func (r *Robot) PushData() push.Snapshot {
	s, err := r.session()
	if err != nil || s.listener == nil {
		return push.Snapshot{}
	}
	return s.listener.Snapshot()
}

func (r *Robot) session() (*session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return nil, ErrNotConnected
	}
	return r.sess, nil
}

// Call sends any catalogued command by group and name.
func (r *Robot) Call(g protocol.Group, name string, params protocol.Payload) (protocol.Payload, error) {
	s, err := r.session()
	if err != nil {
		return nil, err
	}
	switch g {
	case protocol.GroupStatus:
		return s.status.Call(name, params)
	case protocol.GroupTask:
		return s.task.Call(name, params)
	case protocol.GroupControl:
		return s.control.Call(name, params)
	case protocol.GroupConfig:
		return s.config.Call(name, params)
	case protocol.GroupOther:
		return s.other.Call(name, params)
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrUnknownCommand, g, name)
}

// QueryStatus runs a named status query.
func (r *Robot) QueryStatus(name string, params protocol.Payload) (protocol.Payload, error) {
	s, err := r.session()
	if err != nil {
		return nil, err
	}
	return s.status.QueryStatus(name, params)
}

// GoTarget navigates to a single station.
func (r *Robot) GoTarget(id string, params protocol.Payload) (protocol.Payload, error) {
	s, err := r.session()
	if err != nil {
		return nil, err
	}
	return s.task.GoTarget(id, params)
}

// GoTargetList runs a move task list.
func (r *Robot) GoTargetList(tasks []protocol.Payload) (protocol.Payload, error) {
	s, err := r.session()
	if err != nil {
		return nil, err
	}
	return s.task.GoTargetList(tasks)
}

func (r *Robot) PauseTask() (protocol.Payload, error)  { return r.Call(protocol.GroupTask, "pause", nil) }
func (r *Robot) ResumeTask() (protocol.Payload, error) { return r.Call(protocol.GroupTask, "resume", nil) }
func (r *Robot) CancelTask() (protocol.Payload, error) { return r.Call(protocol.GroupTask, "cancel", nil) }

// CurrentLock returns the control lock owner.
func (r *Robot) CurrentLock() (protocol.Payload, error) {
	return r.QueryStatus("current_lock", nil)
}

// Lock takes the control lock.
func (r *Robot) Lock(nickName string) (protocol.Payload, error) {
	s, err := r.session()
	if err != nil {
		return nil, err
	}
	return s.config.Lock(nickName)
}

// Unlock releases the control lock.
func (r *Robot) Unlock() (protocol.Payload, error) {
	s, err := r.session()
	if err != nil {
		return nil, err
	}
	return s.config.Unlock()
}

// PlayAudio plays an audio file stored on the robot.
func (r *Robot) PlayAudio(name string, loop bool) (protocol.Payload, error) {
	s, err := r.session()
	if err != nil {
		return nil, err
	}
	return s.other.PlayAudio(name, loop)
}
