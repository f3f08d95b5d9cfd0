package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-seer/pkg/protocol"
)

var errUnhealthy = errors.New("push stream unhealthy")

func newWatchCmd(c *cli) *cobra.Command {
	var (
		interval time.Duration
		count    int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream push telemetry as JSON lines until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if c.cfg.Push.IntervalMs <= 0 {
				return errors.New("push is disabled (push.interval_ms = 0)")
			}

			r, done, err := c.connect(ctx)
			if err != nil {
				return err
			}
			defer done()

			out := cmd.OutOrStdout()
			var (
				mu   sync.Mutex
				seen int
			)
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			r.OnPush(func(p protocol.Payload) {
				line, err := sonic.ConfigStd.Marshal(p)
				if err != nil {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if count > 0 && seen >= count {
					return
				}
				fmt.Fprintln(out, string(line))
				seen++
				if count > 0 && seen >= count {
					cancel()
				}
			})

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if !r.IsHealthy() {
						return errUnhealthy
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "health-interval", 2*time.Second, "how often to check stream health")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many snapshots (0 = unlimited)")
	return cmd
}
