package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/catsync/internal/record"
	"github.com/roach88/catsync/internal/syncer"
	"github.com/roach88/catsync/internal/upstream"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Force bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync [type...]",
		Short: "Run one sync pass per record type",
		Long: `Import upstream changes since the last checkpoint.

Each pass lists the records changed since the stored cursor, merges every
candidate into the local store and advances the checkpoint once all of them
were processed. Without arguments every record type is synced.

Exit codes:
  0  every pass completed without record errors
  1  a pass failed, or completed with per-record errors
  2  command error (bad config, unknown type)

Example:
  catsync sync
  catsync sync work --force --format json`,
		Args:          cobra.MaximumNArgs(len(record.Types)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "ignore the checkpoint and resync every known record")

	return cmd
}

func runSync(opts *SyncOptions, args []string, cmd *cobra.Command) error {
	types, err := parseTypes(args)
	if err != nil {
		return err
	}
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	formatter := newFormatter(cmd, opts.RootOptions)
	formatter.VerboseLog("db=%s history=%s records=%s workers=%d",
		a.cfg.Store.Path, a.cfg.Upstream.History, a.cfg.Upstream.Records, a.cfg.Sync.Workers)

	reports, err := syncTypes(ctx, a.coordinator(), types, opts.Force)

	if opts.Format == "json" {
		if outErr := formatter.Success(reports); outErr != nil {
			return outErr
		}
	} else {
		for _, r := range reports {
			writeReport(cmd.OutOrStdout(), r)
		}
	}

	if err != nil {
		return WrapExitError(ExitFailure, "sync failed", err)
	}
	if n := recordErrors(reports); n > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("sync completed with %d record errors", n))
	}
	return nil
}

// syncTypes runs one pass per type in order and stops at the first fatal
// error. The partial report of a failed pass is included.
func syncTypes(ctx context.Context, coord *syncer.Coordinator, types []record.Type, force bool) ([]*syncer.Report, error) {
	reports := make([]*syncer.Report, 0, len(types))
	for _, t := range types {
		report, err := coord.Run(ctx, t, force)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			return reports, fmt.Errorf("%s: %w", t, err)
		}
	}
	return reports, nil
}

func recordErrors(reports []*syncer.Report) int {
	n := 0
	for _, r := range reports {
		n += len(r.Errors)
	}
	return n
}

func writeReport(w io.Writer, r *syncer.Report) {
	mode := "incremental"
	if r.Full {
		mode = "full (" + r.Reason + ")"
	}
	fmt.Fprintf(w, "%s: %s pass %s..%s\n", r.Type, mode, orDash(r.From), orDash(r.To))
	fmt.Fprintf(w, "  created %d, updated %d, skipped %d, withdrawn %d, duplicated %d\n",
		r.Created, r.Updated, r.Skipped, r.Withdrawn, r.Duplicated)
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  error %s [%s]: %s\n", e.RecordID, e.Code, e.Message)
	}
	for _, issue := range r.Warnings {
		fmt.Fprintf(w, "  warning %s\n", issue)
	}
	if r.CheckpointAdvanced {
		fmt.Fprintf(w, "  checkpoint advanced to %s\n", r.To)
	} else {
		fmt.Fprintln(w, "  checkpoint unchanged")
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch [type...]",
		Short: "Sync whenever the upstream revision log changes",
		Long: `Run a sync pass at startup, then watch the upstream revision log and run
another pass for every debounced change. Stops on SIGINT/SIGTERM.

Example:
  catsync watch --config catsync.yaml`,
		Args:          cobra.MaximumNArgs(len(record.Types)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := parseTypes(args)
			if err != nil {
				return err
			}
			a, err := openApp(opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext(cmd)
			defer cancel()

			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s. Press Ctrl-C to stop.\n", a.cfg.Upstream.History)
			err = watchAndSync(ctx, a, a.coordinator(), types)
			if err != nil && !errors.Is(err, context.Canceled) {
				return WrapExitError(ExitFailure, "watch failed", err)
			}
			a.logger.Info("watcher stopped")
			return nil
		},
	}

	return cmd
}

// watchAndSync runs a pass per type now and after every upstream change.
// Failed passes are logged; the next change retries them.
func watchAndSync(ctx context.Context, a *app, coord *syncer.Coordinator, types []record.Type) error {
	pass := func(ctx context.Context) {
		reports, err := syncTypes(ctx, coord, types, false)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("sync pass failed", "error", err)
		}
		a.logger.Debug("sync round complete", "passes", len(reports), "record_errors", recordErrors(reports))
	}

	pass(ctx)
	return upstream.Watch(ctx, a.cfg.Upstream.History, a.cfg.Upstream.WatchDebounce(), a.logger, pass)
}

