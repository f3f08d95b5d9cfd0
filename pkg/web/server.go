// Package web exposes the robot controller over a JSON HTTP API and streams
// push telemetry to websocket subscribers.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"github.com/teslashibe/go-seer/pkg/hub"
	"github.com/teslashibe/go-seer/pkg/journal"
	"github.com/teslashibe/go-seer/pkg/protocol"
	"github.com/teslashibe/go-seer/pkg/push"
	"github.com/teslashibe/go-seer/pkg/robot"
)

// Robot is the controller surface the API drives. *robot.Robot implements it.
type Robot interface {
	Config() robot.Config
	Connect(ctx context.Context) (map[protocol.Group]bool, error)
	Disconnect() error
	IsConnected() bool
	IsHealthy() bool
	Stats() robot.Stats
	OnPush(h push.Handler)
	PushData() push.Snapshot

	Trajectories() []string
	Navigate(ctx context.Context, name string, wait bool, timeout time.Duration) (robot.NavResult, error)
	GotoNavigateStart(ctx context.Context, name string, wait bool, timeout time.Duration) (robot.NavResult, error)
	Goto(ctx context.Context, target string, wait bool, timeout time.Duration) (robot.NavResult, error)
	GotoCharge(ctx context.Context, via, chargePoint string, wait bool, timeout time.Duration) (robot.NavResult, error)

	PauseTask() (protocol.Payload, error)
	ResumeTask() (protocol.Payload, error)
	CancelTask() (protocol.Payload, error)
	TaskStatus() protocol.TaskStatus
	IdleTime() (time.Duration, bool)
}

// History lists recorded navigation runs. *journal.Journal implements it.
type History interface {
	Recent(ctx context.Context, limit int) ([]journal.Run, error)
}

// Options configures a Server.
type Options struct {
	Addr        string
	ChargeVia   string
	ChargePoint string
	// History is optional; /api/history answers 503 without it.
	History History
	Logger  *slog.Logger
}

// Server is the HTTP API and telemetry websocket.
type Server struct {
	app       *fiber.App
	addr      string
	robot     Robot
	history   History
	telemetry *hub.Hub
	logger    *slog.Logger

	chargeVia   string
	chargePoint string

	hubOnce sync.Once
}

// NewServer builds the fiber app and subscribes to r's push stream.
func NewServer(r Robot, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web")
	if opts.Addr == "" {
		opts.Addr = ":5000"
	}
	if opts.ChargeVia == "" {
		opts.ChargeVia = "LM2"
	}
	if opts.ChargePoint == "" {
		opts.ChargePoint = "CP0"
	}

	s := &Server{
		addr:        opts.Addr,
		robot:       r,
		history:     opts.History,
		telemetry:   hub.New("telemetry", logger),
		logger:      logger,
		chargeVia:   opts.ChargeVia,
		chargePoint: opts.ChargePoint,
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-seer",
		DisableStartupMessage: true,
		JSONEncoder:           sonic.ConfigStd.Marshal,
		JSONDecoder:           sonic.ConfigStd.Unmarshal,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Header:    fiber.HeaderXRequestID,
		Generator: uuid.NewString,
	}))
	app.Use(s.logRequests)
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/connect", s.handleConnect)
	api.Post("/disconnect", s.handleDisconnect)
	api.Get("/health", s.handleHealth)
	api.Get("/stats", s.handleStats)
	api.Get("/trajectories", s.handleTrajectories)
	api.Post("/navigate", s.handleNavigate)
	api.Post("/goto_navigate_start", s.handleGotoNavigateStart)
	api.Post("/goto", s.handleGoto)
	api.Post("/goto_charge", s.handleGotoCharge)
	api.Post("/task/:action", s.handleTaskAction)
	api.Get("/task_status", s.handleTaskStatus)
	api.Get("/idle_time", s.handleIdleTime)
	api.Get("/push_data", s.handlePushData)
	api.Get("/history", s.handleHistory)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/telemetry", websocket.New(s.handleTelemetryWS))

	r.OnPush(s.broadcastTelemetry)

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Telemetry returns the push fan-out hub.
func (s *Server) Telemetry() *hub.Hub { return s.telemetry }

func (s *Server) startHub() {
	s.hubOnce.Do(func() { go s.telemetry.Run() })
}

// Start listens on the configured address and blocks.
func (s *Server) Start() error {
	s.startHub()
	s.logger.Info("web api listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Serve serves on an existing listener and blocks.
func (s *Server) Serve(ln net.Listener) error {
	s.startHub()
	s.logger.Info("web api listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown stops the HTTP server and disconnects websocket subscribers.
func (s *Server) Shutdown() error {
	err := s.app.Shutdown()
	s.telemetry.Stop()
	return err
}

func (s *Server) broadcastTelemetry(p protocol.Payload) {
	if s.telemetry.ClientCount() == 0 {
		return
	}
	if err := s.telemetry.BroadcastJSON(push.Snapshot{Data: p, ReceivedAt: time.Now()}); err != nil {
		s.logger.Warn("telemetry broadcast failed", "error", err)
	}
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Debug("request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"latency", time.Since(start),
		"request_id", c.GetRespHeader(fiber.HeaderXRequestID))
	return err
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"success": false, "error": err.Error()})
}
