package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-seer/pkg/robot"
	"github.com/teslashibe/go-seer/pkg/web"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	var noWatchdog bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web API and battery watchdog",
		Long: "serve connects to the robot, exposes the JSON API and telemetry websocket\n" +
			"on web.addr and runs the battery watchdog when watchdog.enabled is set.\n" +
			"If the robot is unreachable at startup the API still starts; POST /api/connect retries.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			j, err := c.openJournal(ctx)
			if err != nil {
				return err
			}
			defer j.Close()

			opts := []robot.Option{
				robot.WithLogger(c.logger),
				robot.WithPollInterval(c.cfg.Robot.PollInterval),
			}
			wopts := web.Options{
				Addr:        c.cfg.Web.Addr,
				ChargeVia:   c.cfg.Watchdog.PreChargePoint,
				ChargePoint: c.cfg.Watchdog.ChargePoint,
				Logger:      c.logger,
			}
			if j != nil {
				opts = append(opts, robot.WithRecorder(j))
				wopts.History = j
			}
			r := robot.New(c.cfg.RobotConfig(), opts...)
			srv := web.NewServer(r, wopts)

			if _, err := r.Connect(ctx); err != nil {
				c.logger.Warn("robot not reachable at startup", "ip", c.cfg.Robot.IP, "error", err)
			}
			defer func() {
				if err := r.Disconnect(); err != nil && !errors.Is(err, robot.ErrNotConnected) {
					c.logger.Warn("disconnect failed", "error", err)
				}
			}()

			if c.cfg.Watchdog.Enabled && !noWatchdog {
				wd := robot.NewWatchdog(r, c.cfg.WatchdogConfig(), c.logger)
				if err := wd.Start(ctx); err != nil {
					return err
				}
				defer wd.Stop()
			}

			errc := make(chan error, 1)
			go func() { errc <- srv.Start() }()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			c.logger.Info("shutting down")
			return shutdown(srv)
		},
	}
	cmd.Flags().BoolVar(&noWatchdog, "no-watchdog", false, "disable the battery watchdog")
	return cmd
}

func shutdown(srv *web.Server) error {
	done := make(chan error, 1)
	go func() { done <- srv.Shutdown() }()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.New("web server did not stop in time")
	}
}
