package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-seer/internal/config"
	"github.com/teslashibe/go-seer/internal/log"
	"github.com/teslashibe/go-seer/pkg/journal"
	"github.com/teslashibe/go-seer/pkg/robot"
)

// cli carries the flags and loaded configuration shared by subcommands.
type cli struct {
	configPath string
	robotIP    string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	cmd := &cobra.Command{
		Use:           "seer",
		Short:         "Control a SEER AGV",
		Long:          "seer talks to a SEER robot over its TCP API: navigation, task control,\ntelemetry and a web API with a battery watchdog.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd.ErrOrStderr())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = log.Close()
		},
	}

	f := cmd.PersistentFlags()
	f.StringVarP(&c.configPath, "config", "c", "", "path to a YAML config file")
	f.StringVar(&c.robotIP, "robot", "", "robot IP address (overrides config and ROBOT_IP)")
	f.StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error")

	cmd.AddCommand(
		newStatusCmd(c),
		newGotoCmd(c),
		newNavigateCmd(c),
		newChargeCmd(c),
		newTaskCmd(c),
		newWatchCmd(c),
		newServeCmd(c),
		newHistoryCmd(c),
		newCallCmd(c),
	)
	return cmd
}

func (c *cli) load(logOut io.Writer) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.robotIP != "" {
		cfg.Robot.IP = c.robotIP
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	c.cfg = cfg
	c.logger = log.Setup(logOut, cfg.LogOptions())
	return nil
}

// openJournal returns nil, nil when no journal path is configured.
func (c *cli) openJournal(ctx context.Context) (*journal.Journal, error) {
	if c.cfg.Journal.Path == "" {
		return nil, nil
	}
	return journal.Open(ctx, c.cfg.Journal.Path)
}

// connect builds and connects a Robot. The returned func disconnects it and
// closes the journal.
func (c *cli) connect(ctx context.Context) (*robot.Robot, func(), error) {
	j, err := c.openJournal(ctx)
	if err != nil {
		return nil, nil, err
	}
	opts := []robot.Option{
		robot.WithLogger(c.logger),
		robot.WithPollInterval(c.cfg.Robot.PollInterval),
	}
	if j != nil {
		opts = append(opts, robot.WithRecorder(j))
	}
	r := robot.New(c.cfg.RobotConfig(), opts...)

	state, err := r.Connect(ctx)
	if err != nil {
		_ = j.Close()
		return nil, nil, fmt.Errorf("connect to %s: %w", c.cfg.Robot.IP, err)
	}
	for g, ok := range state {
		if !ok {
			c.logger.Warn("channel unavailable", "group", g)
		}
	}
	return r, func() {
		_ = r.Disconnect()
		_ = j.Close()
	}, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
