// Package webapi is a Go client for the go-seer web API.
package webapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/teslashibe/go-seer/internal/httpc"
	"github.com/teslashibe/go-seer/pkg/journal"
	"github.com/teslashibe/go-seer/pkg/protocol"
	"github.com/teslashibe/go-seer/pkg/web"
)

// waitSlack is added to the navigation timeout when the server blocks
// until the task finishes.
const waitSlack = 30 * time.Second

// ErrUnreachable wraps transport failures talking to the API.
var ErrUnreachable = errors.New("webapi: server unreachable")

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("webapi: %d: %s", e.Status, e.Message)
}

// Status mirrors GET /api/status.
type Status struct {
	Connected bool   `json:"connected"`
	RobotIP   string `json:"robot_ip"`
}

// Health mirrors GET /api/health.
type Health struct {
	Connected bool `json:"connected"`
	Healthy   bool `json:"healthy"`
}

// Client talks to one go-seer server.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTimeout sets the deadline for calls that do not wait on navigation.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.timeout = d }
}

// New creates a client for baseURL, e.g. "http://localhost:5000".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpc.NewClient(0),
		timeout: httpc.DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body any, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := c.baseURL + path
	var (
		resp *http.Response
		err  error
	)
	switch method {
	case http.MethodGet:
		resp, err = httpc.Get(ctx, c.http, url)
	case http.MethodPost:
		var data []byte
		if body != nil {
			if data, err = sonic.ConfigStd.Marshal(body); err != nil {
				return fmt.Errorf("webapi: encode %s: %w", path, err)
			}
		}
		resp, err = httpc.Post(ctx, c.http, url, "application/json", data)
	default:
		return fmt.Errorf("webapi: unsupported method %s", method)
	}
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrUnreachable, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if sonic.ConfigStd.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := sonic.ConfigStd.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("webapi: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) navTimeout(wait bool, timeout time.Duration) time.Duration {
	if wait {
		return timeout + waitSlack
	}
	return c.timeout
}

// Status returns the connection state.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var s Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, c.timeout, &s)
	return s, err
}

// IsConnected reports false on any error.
func (c *Client) IsConnected(ctx context.Context) bool {
	s, err := c.Status(ctx)
	return err == nil && s.Connected
}

// Connect asks the server to connect to the robot.
func (c *Client) Connect(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/connect", nil, c.timeout, nil)
}

// Disconnect asks the server to drop the robot connection.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/disconnect", nil, c.timeout, nil)
}

// Health returns the health check result. An unhealthy server answers 503,
// which is reported as a Health value, not an error.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/api/health", nil, c.timeout, &h)
	var ae *APIError
	if errors.As(err, &ae) && ae.Status == http.StatusServiceUnavailable {
		return Health{Connected: c.IsConnected(ctx)}, nil
	}
	return h, err
}

// Trajectories lists the server's named trajectories.
func (c *Client) Trajectories(ctx context.Context) ([]string, error) {
	var out struct {
		Trajectories []string `json:"trajectories"`
	}
	err := c.do(ctx, http.MethodGet, "/api/trajectories", nil, c.timeout, &out)
	return out.Trajectories, err
}

func (c *Client) nav(ctx context.Context, path string, req web.NavRequest) (web.NavResponse, error) {
	var out web.NavResponse
	timeout := time.Duration(req.Timeout * float64(time.Second))
	err := c.do(ctx, http.MethodPost, path, req, c.navTimeout(req.Wait, timeout), &out)
	return out, err
}

// Navigate runs a named trajectory.
func (c *Client) Navigate(ctx context.Context, trajectory string, wait bool, timeout time.Duration) (web.NavResponse, error) {
	return c.nav(ctx, "/api/navigate", web.NavRequest{Trajectory: trajectory, Wait: wait, Timeout: timeout.Seconds()})
}

// GotoNavigateStart drives to the start of a named trajectory.
func (c *Client) GotoNavigateStart(ctx context.Context, trajectory string, wait bool, timeout time.Duration) (web.NavResponse, error) {
	return c.nav(ctx, "/api/goto_navigate_start", web.NavRequest{Trajectory: trajectory, Wait: wait, Timeout: timeout.Seconds()})
}

// Goto drives to one station.
func (c *Client) Goto(ctx context.Context, target string, wait bool, timeout time.Duration) (web.NavResponse, error) {
	return c.nav(ctx, "/api/goto", web.NavRequest{TargetID: target, Wait: wait, Timeout: timeout.Seconds()})
}

// GotoCharge drives via a station to the charger. Empty names use the
// server defaults.
func (c *Client) GotoCharge(ctx context.Context, via, chargePoint string, wait bool, timeout time.Duration) (web.NavResponse, error) {
	return c.nav(ctx, "/api/goto_charge", web.NavRequest{
		ViaPoint: via, ChargePoint: chargePoint, Wait: wait, Timeout: timeout.Seconds(),
	})
}

func (c *Client) taskAction(ctx context.Context, action string) error {
	return c.do(ctx, http.MethodPost, "/api/task/"+action, nil, c.timeout, nil)
}

// PauseTask pauses the current navigation.
func (c *Client) PauseTask(ctx context.Context) error { return c.taskAction(ctx, "pause") }

// ResumeTask resumes a paused navigation.
func (c *Client) ResumeTask(ctx context.Context) error { return c.taskAction(ctx, "resume") }

// CancelTask cancels the current navigation.
func (c *Client) CancelTask(ctx context.Context) error { return c.taskAction(ctx, "cancel") }

// TaskStatus returns the robot's task status code.
func (c *Client) TaskStatus(ctx context.Context) (protocol.TaskStatus, error) {
	var out struct {
		StatusCode int `json:"status_code"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/task_status", nil, c.timeout, &out); err != nil {
		return protocol.StatusError, err
	}
	return protocol.TaskStatus(out.StatusCode), nil
}

// IdleTime returns the time since the last navigation; ok is false when
// the server has not navigated yet.
func (c *Client) IdleTime(ctx context.Context) (d time.Duration, ok bool, err error) {
	var out struct {
		IdleTime *float64 `json:"idle_time"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/idle_time", nil, c.timeout, &out); err != nil {
		return 0, false, err
	}
	if out.IdleTime == nil {
		return 0, false, nil
	}
	return time.Duration(*out.IdleTime * float64(time.Second)), true, nil
}

// PushData returns the latest telemetry object.
func (c *Client) PushData(ctx context.Context) (protocol.Payload, error) {
	var out struct {
		Data protocol.Payload `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, "/api/push_data", nil, c.timeout, &out)
	return out.Data, err
}

// History returns up to limit recorded runs, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]journal.Run, error) {
	var out struct {
		Runs []journal.Run `json:"runs"`
	}
	err := c.do(ctx, http.MethodGet, "/api/history?limit="+strconv.Itoa(limit), nil, c.timeout, &out)
	return out.Runs, err
}
