package web

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-seer/pkg/hub"
	"github.com/teslashibe/go-seer/pkg/protocol"
	"github.com/teslashibe/go-seer/pkg/robot"
	"github.com/teslashibe/go-seer/pkg/transport"
)

const (
	connectTimeout    = 10 * time.Second
	defaultHistoryLen = 20
	maxHistoryLen     = 500
)

// NavRequest is the body of the navigation routes. Timeout is in seconds.
type NavRequest struct {
	Trajectory  string  `json:"trajectory,omitempty"`
	TargetID    string  `json:"target_id,omitempty"`
	ViaPoint    string  `json:"via_point,omitempty"`
	ChargePoint string  `json:"charge_point,omitempty"`
	Wait        bool    `json:"wait"`
	Timeout     float64 `json:"timeout,omitempty"`
}

func (r NavRequest) timeout(def time.Duration) time.Duration {
	if r.Timeout <= 0 {
		return def
	}
	return time.Duration(r.Timeout * float64(time.Second))
}

// NavResponse is returned by the navigation routes.
type NavResponse struct {
	robot.NavResult
	Message string `json:"message"`
}

func fail(c *fiber.Ctx, code int, msg string) error {
	return c.Status(code).JSON(fiber.Map{"success": false, "error": msg})
}

// errorStatus maps controller errors onto HTTP status codes.
func errorStatus(err error) int {
	var re *protocol.RobotError
	switch {
	case errors.Is(err, robot.ErrNotConnected), errors.Is(err, transport.ErrNotConnected):
		return fiber.StatusBadRequest
	case errors.Is(err, robot.ErrUnknownTrajectory):
		return fiber.StatusNotFound
	case errors.Is(err, robot.ErrNoStartPosition), errors.Is(err, robot.ErrEmptyTaskList):
		return fiber.StatusUnprocessableEntity
	case errors.As(err, &re):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// requireConnected writes a 400 and reports false when the robot is not
// connected. Handlers must return as soon as it reports false.
func (s *Server) requireConnected(c *fiber.Ctx) bool {
	if s.robot.IsConnected() {
		return true
	}
	_ = fail(c, fiber.StatusBadRequest, "robot not connected")
	return false
}

// parseNav decodes an optional NavRequest body. On a bad body it writes a
// 400 and reports false.
func (s *Server) parseNav(c *fiber.Ctx) (NavRequest, bool) {
	var req NavRequest
	if len(c.Body()) == 0 {
		return req, true
	}
	if err := c.BodyParser(&req); err != nil {
		_ = fail(c, fiber.StatusBadRequest, "invalid request body: "+err.Error())
		return req, false
	}
	return req, true
}

func (s *Server) navReply(c *fiber.Ctx, res robot.NavResult, err error, okMsg, failMsg string) error {
	if err != nil {
		s.logger.Warn("navigation request failed", "path", c.Path(), "error", err)
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
			"result":  res,
		})
	}
	msg := okMsg
	if !res.Success {
		msg = failMsg
	}
	return c.JSON(NavResponse{NavResult: res, Message: msg})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"connected": s.robot.IsConnected(),
		"robot_ip":  s.robot.Config().Host,
	})
}

func (s *Server) handleConnect(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), connectTimeout)
	defer cancel()

	state, err := s.robot.Connect(ctx)
	if err != nil {
		s.logger.Error("connect failed", "error", err)
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"message":  "connected to robot",
		"channels": state,
	})
}

func (s *Server) handleDisconnect(c *fiber.Ctx) error {
	if err := s.robot.Disconnect(); err != nil && !errors.Is(err, robot.ErrNotConnected) {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "message": "disconnected from robot"})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	connected := s.robot.IsConnected()
	healthy := connected && s.robot.IsHealthy()
	code := fiber.StatusOK
	if !healthy {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"success":   healthy,
		"connected": connected,
		"healthy":   healthy,
	})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(s.robot.Stats())
}

func (s *Server) handleTrajectories(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "trajectories": s.robot.Trajectories()})
}

func (s *Server) handleNavigate(c *fiber.Ctx) error {
	if !s.requireConnected(c) {
		return nil
	}
	req, ok := s.parseNav(c)
	if !ok {
		return nil
	}
	if req.Trajectory == "" {
		return fail(c, fiber.StatusBadRequest, "trajectory is required")
	}
	res, err := s.robot.Navigate(c.UserContext(), req.Trajectory, req.Wait, req.timeout(robot.DefaultNavigationTimeout))
	return s.navReply(c, res, err,
		"navigation '"+req.Trajectory+"' started", "navigation '"+req.Trajectory+"' failed")
}

func (s *Server) handleGotoNavigateStart(c *fiber.Ctx) error {
	if !s.requireConnected(c) {
		return nil
	}
	req, ok := s.parseNav(c)
	if !ok {
		return nil
	}
	if req.Trajectory == "" {
		return fail(c, fiber.StatusBadRequest, "trajectory is required")
	}
	res, err := s.robot.GotoNavigateStart(c.UserContext(), req.Trajectory, req.Wait, req.timeout(robot.DefaultGotoTimeout))
	return s.navReply(c, res, err,
		"going to start position "+res.StartPosition, "failed to go to start position")
}

func (s *Server) handleGoto(c *fiber.Ctx) error {
	if !s.requireConnected(c) {
		return nil
	}
	req, ok := s.parseNav(c)
	if !ok {
		return nil
	}
	if req.TargetID == "" {
		return fail(c, fiber.StatusBadRequest, "target_id is required")
	}
	res, err := s.robot.Goto(c.UserContext(), req.TargetID, req.Wait, req.timeout(robot.DefaultGotoTimeout))
	return s.navReply(c, res, err,
		"navigation to "+req.TargetID+" started", "failed to navigate to "+req.TargetID)
}

func (s *Server) handleGotoCharge(c *fiber.Ctx) error {
	if !s.requireConnected(c) {
		return nil
	}
	req, ok := s.parseNav(c)
	if !ok {
		return nil
	}
	via, cp := req.ViaPoint, req.ChargePoint
	if via == "" {
		via = s.chargeVia
	}
	if cp == "" {
		cp = s.chargePoint
	}
	res, err := s.robot.GotoCharge(c.UserContext(), via, cp, req.Wait, req.timeout(robot.DefaultChargeTimeout))
	return s.navReply(c, res, err, "heading to charge point "+cp, "failed to reach charge point "+cp)
}

func (s *Server) handleTaskAction(c *fiber.Ctx) error {
	if !s.requireConnected(c) {
		return nil
	}
	action := c.Params("action")
	var (
		resp protocol.Payload
		err  error
	)
	switch action {
	case "pause":
		resp, err = s.robot.PauseTask()
	case "resume":
		resp, err = s.robot.ResumeTask()
	case "cancel":
		resp, err = s.robot.CancelTask()
	default:
		return fail(c, fiber.StatusNotFound, "unknown task action "+action)
	}
	if err == nil {
		err = protocol.CheckRetCode(action, resp)
	}
	if err != nil {
		return fail(c, errorStatus(err), err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "message": "task " + action + " sent", "response": resp})
}

func (s *Server) handleTaskStatus(c *fiber.Ctx) error {
	if !s.requireConnected(c) {
		return nil
	}
	status := s.robot.TaskStatus()
	return c.JSON(fiber.Map{
		"success":     true,
		"status_code": int(status),
		"status_text": status.String(),
	})
}

func (s *Server) handleIdleTime(c *fiber.Ctx) error {
	if !s.requireConnected(c) {
		return nil
	}
	idle, ok := s.robot.IdleTime()
	var secs any
	if ok {
		secs = idle.Seconds()
	}
	return c.JSON(fiber.Map{"success": true, "idle_time": secs})
}

func (s *Server) handlePushData(c *fiber.Ctx) error {
	if !s.requireConnected(c) {
		return nil
	}
	snap := s.robot.PushData()
	data := snap.Data
	if data == nil {
		data = protocol.Payload{}
	}
	body := fiber.Map{"success": true, "data": data}
	if !snap.Empty() {
		body["received_at"] = snap.ReceivedAt
	}
	return c.JSON(body)
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	if s.history == nil {
		return fail(c, fiber.StatusServiceUnavailable, "run journal is disabled")
	}
	limit := c.QueryInt("limit", defaultHistoryLen)
	if limit <= 0 || limit > maxHistoryLen {
		return fail(c, fiber.StatusBadRequest, "limit must be between 1 and 500")
	}
	runs, err := s.history.Recent(c.UserContext(), limit)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "runs": runs})
}

// handleTelemetryWS sends the latest snapshot, then every push update.
func (s *Server) handleTelemetryWS(c *websocket.Conn) {
	if snap := s.robot.PushData(); !snap.Empty() {
		if err := c.WriteJSON(snap); err != nil {
			return
		}
	}
	client := hub.NewClient(s.telemetry, c)
	if client == nil {
		return
	}
	client.Run()
}
