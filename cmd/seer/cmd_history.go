package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(c *cli) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded navigation runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			j, err := c.openJournal(cmd.Context())
			if err != nil {
				return err
			}
			if j == nil {
				return errors.New("no journal configured (journal.path)")
			}
			defer j.Close()

			runs, err := j.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs recorded")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tTASK\tSTATUS\tELAPSED\tPOLLS\tROUTE")
			for _, r := range runs {
				route := r.Description
				if len(r.FinishedPath) > 0 {
					route = strings.Join(r.FinishedPath, " → ")
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
					r.ID, r.StartedAt.Local().Format(time.DateTime), orDash(r.TaskID), r.StatusText,
					r.Elapsed.Round(time.Millisecond), r.QueryCount, route)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
