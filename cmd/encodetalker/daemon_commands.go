package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ValentinMastro/EncodeTalker/internal/daemonctl"
	"github.com/ValentinMastro/EncodeTalker/internal/daemonrun"
	"github.com/ValentinMastro/EncodeTalker/internal/deps"
	"github.com/ValentinMastro/EncodeTalker/internal/ipc"
)

const (
	startWaitTimeout = 10 * time.Second
	stopMargin       = 10 * time.Second
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the EncodeTalker daemon in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log records")
	return cmd
}

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			socket, err := ctx.socketPath()
			if err != nil {
				return err
			}
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(commandCtx(cmd), socket, exe, daemonLaunchOptions(ctx), startWaitTimeout)
			if err != nil {
				return err
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Daemon started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon after running jobs drain",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, "Stopping daemon...")
			result, err := daemonctl.Stop(commandCtx(cmd), cfg, cfg.ShutdownGrace()+stopMargin)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, job and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			socket, err := ctx.socketPath()
			if err != nil {
				return err
			}

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			client, err := ctx.dialClient(commandCtx(cmd))
			if err != nil {
				fmt.Fprintln(stdout, renderStatusLine("EncodeTalker", statusWarn, "Not running (run `encodetalker start`)", colorize))
				fmt.Fprintln(stdout, renderStatusLine("Endpoint", statusInfo, socket, colorize))
				return nil
			}
			defer client.Close()

			snapshot, err := collectStatus(commandCtx(cmd), client)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, renderStatusLine("EncodeTalker", statusOK, fmt.Sprintf("Running (ping %s)", snapshot.latency.Round(time.Microsecond)), colorize))
			fmt.Fprintln(stdout, renderStatusLine("Endpoint", statusInfo, socket, colorize))
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Jobs", colorize) {
				fmt.Fprintln(stdout, line)
			}
			counts := []collectionCount{
				{"Queued", snapshot.queued},
				{"Active", snapshot.active},
				{"History", snapshot.history},
			}
			fmt.Fprintln(stdout, renderTable(countColumns(), counts))
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range dependencyLines(snapshot.deps, colorize) {
				fmt.Fprintln(stdout, line)
			}
			return nil
		},
	}

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

type statusSnapshot struct {
	latency                 time.Duration
	queued, active, history int
	deps                    deps.StatusInfo
}

func collectStatus(ctx context.Context, client *ipc.Client) (statusSnapshot, error) {
	var snap statusSnapshot
	began := time.Now()
	if err := client.Ping(ctx); err != nil {
		return snap, err
	}
	snap.latency = time.Since(began)

	queued, err := client.ListQueue(ctx)
	if err != nil {
		return snap, err
	}
	active, err := client.ListActive(ctx)
	if err != nil {
		return snap, err
	}
	history, err := client.ListHistory(ctx)
	if err != nil {
		return snap, err
	}
	snap.queued, snap.active, snap.history = len(queued), len(active), len(history)

	snap.deps, err = client.DependencyStatus(ctx)
	return snap, err
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		SocketPath: ctx.socketOverride(),
		ConfigPath: ctx.configPath(),
	}
}

func commandCtx(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
