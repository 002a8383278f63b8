package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ValentinMastro/EncodeTalker/internal/archive"
	"github.com/ValentinMastro/EncodeTalker/internal/ipc"
	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

func newListCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newQueueCommand(ctx),
		newActiveCommand(ctx),
		newHistoryCommand(ctx),
	}
}

func newQueueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List jobs waiting to run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listJobs(cmd, ctx, (*ipc.Client).ListQueue, "Queue is empty",
				func(bool) []column[job.Job] { return queueColumns() })
		},
	}
}

func newActiveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "List running jobs with progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listJobs(cmd, ctx, (*ipc.Client).ListActive, "No active jobs", activeColumns)
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var archived bool
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List finished jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if archived {
				return listArchive(cmd, ctx, limit)
			}
			return listJobs(cmd, ctx, (*ipc.Client).ListHistory, "History is empty", historyColumns)
		},
	}
	cmd.Flags().BoolVar(&archived, "archived", false, "Read the on-disk archive instead of the daemon's history")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum archived entries to show (0 for all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Remove one job from history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(commandCtx(cmd), func(client *ipc.Client) error {
				id, err := resolveJobID(commandCtx(cmd), client, args[0])
				if err != nil {
					return err
				}
				if err := client.RemoveFromHistory(commandCtx(cmd), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s from history\n", id.String()[:8])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every job from history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(commandCtx(cmd), func(client *ipc.Client) error {
				n, err := client.ClearHistory(commandCtx(cmd))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d jobs from history\n", n)
				return nil
			})
		},
	})
	return cmd
}

type jobLister func(*ipc.Client, context.Context) ([]job.Job, error)

func listJobs(cmd *cobra.Command, ctx *commandContext, list jobLister, empty string, columns func(colorize bool) []column[job.Job]) error {
	return ctx.withClient(commandCtx(cmd), func(client *ipc.Client) error {
		jobs, err := list(client, commandCtx(cmd))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(jobs) == 0 {
			fmt.Fprintln(out, empty)
			return nil
		}
		fmt.Fprintln(out, renderTable(columns(shouldColorize(out)), jobs))
		return nil
	})
}

// listArchive reads the sqlite archive directly so it works without a
// running daemon.
func listArchive(cmd *cobra.Command, ctx *commandContext, limit int) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	store, err := archive.Open(cfg.Paths.ArchivePath)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(commandCtx(cmd), limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "Archive is empty")
		return nil
	}
	fmt.Fprintln(out, renderTable(archiveColumns(shouldColorize(out)), entries))
	return nil
}
