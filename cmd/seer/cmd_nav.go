package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-seer/pkg/robot"
)

type navFlags struct {
	wait    bool
	timeout time.Duration
}

func (f *navFlags) bind(cmd *cobra.Command, def time.Duration) {
	cmd.Flags().BoolVar(&f.wait, "wait", true, "block until the task finishes")
	cmd.Flags().DurationVar(&f.timeout, "timeout", def, "maximum time to wait")
}

func printNav(w io.Writer, res robot.NavResult) {
	switch {
	case res.AlreadyAtTarget:
		fmt.Fprintf(w, "already at %s\n", res.Description)
		return
	case res.AlreadyCharging:
		fmt.Fprintln(w, "already charging")
		return
	}
	fmt.Fprintf(w, "%s: success=%t", orDash(res.Description), res.Success)
	if res.TaskID != "" {
		fmt.Fprintf(w, " task_id=%s", res.TaskID)
	}
	fmt.Fprintln(w)
	if wr := res.Wait; wr != nil {
		fmt.Fprintf(w, "  status=%s elapsed=%s polls=%d\n", wr.StatusText, wr.Elapsed.Round(time.Millisecond), wr.QueryCount)
		if len(wr.FinishedPath) > 0 {
			fmt.Fprintf(w, "  finished:   %s\n", strings.Join(wr.FinishedPath, " → "))
		}
		if len(wr.UnfinishedPath) > 0 {
			fmt.Fprintf(w, "  unfinished: %s\n", strings.Join(wr.UnfinishedPath, " → "))
		}
	}
}

// navOutcome turns an unsuccessful wait into a command error.
func navOutcome(res robot.NavResult, err error) error {
	if err != nil {
		return err
	}
	if !res.Success {
		status := "failed"
		if res.Wait != nil {
			status = res.Wait.StatusText
		}
		return fmt.Errorf("navigation did not complete: %s", status)
	}
	return nil
}

func newGotoCmd(c *cli) *cobra.Command {
	var nf navFlags
	cmd := &cobra.Command{
		Use:   "goto <station>",
		Short: "Navigate to a station",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, done, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			res, err := r.Goto(cmd.Context(), args[0], nf.wait, nf.timeout)
			printNav(cmd.OutOrStdout(), res)
			return navOutcome(res, err)
		},
	}
	nf.bind(cmd, robot.DefaultGotoTimeout)
	return cmd
}

func newNavigateCmd(c *cli) *cobra.Command {
	var (
		nf    navFlags
		start bool
		list  bool
	)
	cmd := &cobra.Command{
		Use:   "navigate [trajectory]",
		Short: "Run a named trajectory from the config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if list || len(args) == 0 {
				r := robot.New(c.cfg.RobotConfig())
				for _, name := range r.Trajectories() {
					tasks, _ := r.PrepareTaskList(name)
					fmt.Fprintf(out, "%-20s %s\n", name, robot.DescribeTaskList(tasks))
				}
				return nil
			}

			r, done, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			if start {
				res, err := r.GotoNavigateStart(cmd.Context(), args[0], true, robot.DefaultGotoTimeout)
				printNav(out, res)
				if err := navOutcome(res, err); err != nil {
					return fmt.Errorf("go to start: %w", err)
				}
			}
			res, err := r.Navigate(cmd.Context(), args[0], nf.wait, nf.timeout)
			printNav(out, res)
			return navOutcome(res, err)
		},
	}
	nf.bind(cmd, robot.DefaultNavigationTimeout)
	cmd.Flags().BoolVar(&start, "from-start", false, "drive to the trajectory's start position first")
	cmd.Flags().BoolVar(&list, "list", false, "list trajectories and exit")
	return cmd
}

func newChargeCmd(c *cli) *cobra.Command {
	var (
		nf          navFlags
		via, charge string
	)
	cmd := &cobra.Command{
		Use:   "charge",
		Short: "Drive to the charger via the pre-charge point",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if via == "" {
				via = c.cfg.Watchdog.PreChargePoint
			}
			if charge == "" {
				charge = c.cfg.Watchdog.ChargePoint
			}
			r, done, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			res, err := r.GotoCharge(cmd.Context(), via, charge, nf.wait, nf.timeout)
			printNav(cmd.OutOrStdout(), res)
			return navOutcome(res, err)
		},
	}
	nf.bind(cmd, robot.DefaultChargeTimeout)
	cmd.Flags().StringVar(&via, "via", "", "intermediate station (default from config)")
	cmd.Flags().StringVar(&charge, "point", "", "charge point (default from config)")
	return cmd
}
