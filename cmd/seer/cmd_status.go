package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-seer/pkg/protocol"
)

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print location, battery, task state and channel stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, done, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "robot:    %s\n", c.cfg.Robot.IP)

			if loc, err := r.QueryStatus("loc", nil); err != nil {
				fmt.Fprintf(out, "location: error: %v\n", err)
			} else {
				station, _ := loc.String("current_station")
				x, _ := loc.Float("x")
				y, _ := loc.Float("y")
				angle, _ := loc.Float("angle")
				fmt.Fprintf(out, "location: %s (x=%.3f y=%.3f angle=%.3f)\n", orDash(station), x, y, angle)
			}

			if batt, err := r.QueryStatus("battery", nil); err != nil {
				fmt.Fprintf(out, "battery:  error: %v\n", err)
			} else {
				level, _ := batt.Float("battery_level")
				if level <= 1.0 {
					level *= 100
				}
				charging, _ := batt.Bool("charging")
				fmt.Fprintf(out, "battery:  %.1f%% charging=%t\n", level, charging)
			}

			fmt.Fprintf(out, "task:     %s\n", r.TaskStatus())

			stats := r.Stats()
			groups := make([]string, 0, len(stats.Channels))
			for g := range stats.Channels {
				groups = append(groups, string(g))
			}
			sort.Strings(groups)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\nCHANNEL\tADDRESS\tCONNECTED\tSENT\tOK%\tP50ms\tP99ms")
			for _, g := range groups {
				s := stats.Channels[protocol.Group(g)]
				fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%.1f\t%.2f\t%.2f\n",
					g, s.Address, s.Connected, s.CommandsSent, s.SuccessRate, s.Latency.P50Ms, s.Latency.P99Ms)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if p := stats.Push; p != nil {
				fmt.Fprintf(out, "\npush: listening=%t packets=%d errors=%d freq=%.2fHz\n",
					p.Listening, p.PacketsReceived, p.Errors, p.CurrentFrequency)
			}
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
