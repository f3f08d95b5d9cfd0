package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-seer/pkg/protocol"
)

// parseParams turns key=value arguments into a payload. Values become
// bool, int, float or string, in that order of preference.
func parseParams(args []string) (protocol.Payload, error) {
	if len(args) == 0 {
		return nil, nil
	}
	p := make(protocol.Payload, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", arg)
		}
		p[k] = coerce(v)
	}
	return p, nil
}

func coerce(v string) any {
	if b, err := strconv.ParseBool(v); err == nil && (v == "true" || v == "false") {
		return b
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

func newCallCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "call <group> <command> [key=value...]",
		Short: "Send any catalogued command and print the JSON response",
		Long: "Send a command by name on one of the request channels.\n" +
			"Groups: status, task, control, config, other.\n" +
			"Example: seer call task translate dist=0.5 vx=0.2",
		Args: cobra.MinimumNArgs(2),
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			switch len(args) {
			case 0:
				groups := make([]string, 0, len(protocol.Catalogs))
				for g := range protocol.Catalogs {
					groups = append(groups, string(g))
				}
				sort.Strings(groups)
				return groups, cobra.ShellCompDirectiveNoFileComp
			case 1:
				if cat, ok := protocol.Catalogs[protocol.Group(args[0])]; ok {
					return cat.Names(), cobra.ShellCompDirectiveNoFileComp
				}
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			group := protocol.Group(args[0])
			if _, ok := protocol.Lookup(group, args[1]); !ok {
				return fmt.Errorf("unknown command %s/%s", args[0], args[1])
			}
			params, err := parseParams(args[2:])
			if err != nil {
				return err
			}

			r, done, err := c.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			resp, err := r.Call(group, args[1], params)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}
