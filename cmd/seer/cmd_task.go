package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-seer/pkg/protocol"
	"github.com/teslashibe/go-seer/pkg/robot"
)

func newTaskCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Pause, resume or cancel the current navigation task",
	}
	actions := []struct {
		name  string
		short string
		call  func(*robot.Robot) (protocol.Payload, error)
	}{
		{"pause", "Pause the current task", (*robot.Robot).PauseTask},
		{"resume", "Resume a paused task", (*robot.Robot).ResumeTask},
		{"cancel", "Cancel the current task", (*robot.Robot).CancelTask},
	}
	for _, a := range actions {
		a := a
		cmd.AddCommand(&cobra.Command{
			Use:   a.name,
			Short: a.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				r, done, err := c.connect(cmd.Context())
				if err != nil {
					return err
				}
				defer done()

				resp, err := a.call(r)
				if err != nil {
					return fmt.Errorf("%s: %w", a.name, err)
				}
				if err := protocol.CheckRetCode(a.name, resp); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s ok (task now %s)\n", a.name, r.TaskStatus())
				return nil
			},
		})
	}
	return cmd
}
