package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ValentinMastro/EncodeTalker/internal/events"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var jobPrefix string
	var quietProgress bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream daemon events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, stop := signal.NotifyContext(commandCtx(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := ctx.dialClient(signalCtx)
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			prefix := strings.ToLower(strings.TrimSpace(jobPrefix))
			fmt.Fprintln(out, "Watching daemon events (Ctrl-C to stop)")
			for {
				select {
				case <-signalCtx.Done():
					return nil
				case <-client.Done():
					fmt.Fprintln(out, "Connection to daemon closed")
					return nil
				case evt, ok := <-client.Events():
					if !ok {
						return nil
					}
					if quietProgress && evt.Kind == events.KindJobProgress {
						continue
					}
					if prefix != "" && (!evt.Kind.IsJobEvent() || !strings.HasPrefix(evt.JobID.String(), prefix)) {
						continue
					}
					printEvent(out, evt, colorize)
					if evt.Kind == events.KindDaemonShutdown {
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&jobPrefix, "job", "", "Only show events for jobs whose id starts with this prefix")
	cmd.Flags().BoolVar(&quietProgress, "no-progress", false, "Hide progress events")
	return cmd
}

func printEvent(out io.Writer, evt events.Event, colorize bool) {
	stamp := evt.Timestamp.Local().Format("15:04:05")
	subject := ""
	if evt.Kind.IsJobEvent() {
		subject = evt.JobID.String()[:8]
	}

	var detail string
	kind := statusInfo
	switch evt.Kind {
	case events.KindJobProgress:
		if s := evt.Stats; s != nil {
			detail = fmt.Sprintf("frame %d  %s  %s fps  %.1f kbps  eta %s",
				s.Frame, formatProgress(s), formatFPS(s), s.Bitrate, formatETA(s))
		}
	case events.KindJobCompleted, events.KindDepsBuildCompleted:
		kind = statusOK
	case events.KindJobFailed, events.KindDepsBuildFailed:
		kind = statusError
		detail = truncate(evt.Error, 120)
	case events.KindJobCancelled, events.KindDaemonShutdown:
		kind = statusWarn
	case events.KindDepsBuildStarted, events.KindDepsBuildProgress, events.KindDepsBuildItemCompleted:
		if d := evt.Dependency; d != nil {
			detail = strings.TrimSpace(fmt.Sprintf("%s %s", d.Name, d.Step))
			if d.Total > 0 {
				detail = strings.TrimSpace(fmt.Sprintf("%s (%d/%d)", detail, d.Index, d.Total))
			}
		}
	}

	line := fmt.Sprintf("%s %-26s %s %s", stamp, evt.Kind, subject, detail)
	line = strings.TrimRight(line, " ")
	if colorize && kind != statusInfo {
		line = statusKindColor(kind) + line + ansiReset
	}
	fmt.Fprintln(out, line)
}
