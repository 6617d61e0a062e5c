package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sipeed/specloom/internal/crondaemon"
	"github.com/sipeed/specloom/internal/pipeline"
)

// DaemonCommand loops forever, draining the inbox and firing any due cron
// schedules on a fixed interval. Cancellation is cooperative: a SIGINT or
// SIGTERM is only checked for between messages and between ticks, never
// mid-message, consistent with the executor's single-writer tree assumption.
func DaemonCommand(gf *globalFlags) *cobra.Command {
	var interval int

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Continuously process the inbox and cron schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, idx, err := bootstrap(*gf)
			if err != nil {
				return err
			}
			defer idx.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(time.Duration(interval) * time.Second)
			defer ticker.Stop()

			for {
				if err := drainInbox(ctx, p); err != nil {
					p.Log.Error().Err(err).Msg("daemon: drain inbox failed")
				}
				if err := fireDueSchedules(ctx, p); err != nil {
					p.Log.Error().Err(err).Msg("daemon: cron sweep failed")
				}

				select {
				case <-ctx.Done():
					fmt.Fprintln(cmd.OutOrStdout(), "daemon: shutting down")
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().IntVar(&interval, "interval", 30, "seconds between inbox/cron sweeps")
	return cmd
}

// drainInbox starts a chain for every top-level (unnormalized-or-not)
// message file sitting directly under inbox/, excluding done/ and dead/.
func drainInbox(ctx context.Context, p *pipeline.Pipeline) error {
	entries, err := os.ReadDir(filepath.Join(p.Root, ".decree", "inbox"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if e.IsDir() {
			continue
		}
		path := filepath.Join(p.Root, ".decree", "inbox", e.Name())
		if _, err := p.ProcessChain(ctx, path, ""); err != nil {
			p.Log.Error().Err(err).Str("path", path).Msg("daemon: process chain failed")
		}
	}
	return nil
}

// fireDueSchedules starts a chain from each cron schedule under
// ".decree/cron/" whose expression is due right now, using a stable task
// message that names the schedule as its body so the routine knows why it
// ran.
func fireDueSchedules(ctx context.Context, p *pipeline.Pipeline) error {
	cronDir := filepath.Join(p.Root, ".decree", "cron")
	entries, err := os.ReadDir(cronDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var schedules []crondaemon.Schedule
	names := map[string]string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(cronDir, e.Name()))
		if err != nil {
			continue
		}
		expr := firstNonEmptyLine(string(data))
		schedules = append(schedules, crondaemon.Schedule{Name: e.Name(), Expr: expr})
		names[e.Name()] = expr
	}

	due := crondaemon.DueSchedules(schedules, time.Now())
	for _, s := range due {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		routineName := trimExt(s.Name)
		path, err := pipeline.NewTaskMessage(p.Root, routineName, fmt.Sprintf("cron schedule %s fired", s.Name), nil)
		if err != nil {
			p.Log.Error().Err(err).Str("schedule", s.Name).Msg("daemon: create cron task message failed")
			continue
		}
		if _, err := p.ProcessChain(ctx, path, ""); err != nil {
			p.Log.Error().Err(err).Str("schedule", s.Name).Msg("daemon: process cron chain failed")
		}
	}
	return nil
}

func firstNonEmptyLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			return line
		}
	}
	return ""
}

func trimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
