package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ValentinMastro/EncodeTalker/internal/deps"
	"github.com/ValentinMastro/EncodeTalker/internal/ipc"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Show external tool availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var info deps.StatusInfo
			if local {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				info = deps.NewManager(cfg, nil).CheckStatus()
			} else {
				err := ctx.withClient(commandCtx(cmd), func(client *ipc.Client) error {
					var err error
					info, err = client.DependencyStatus(commandCtx(cmd))
					return err
				})
				if err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(dependencyColumns(), info.Binaries))
			fmt.Fprintf(out, "All required tools present: %s\n", yesNo(info.AllPresent))
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "Check from this process instead of asking the daemon")
	return cmd
}
