package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/catsync/internal/api"
	"github.com/roach88/catsync/internal/record"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr  string
	Watch bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the curation and operations HTTP API",
		Long: `Start the HTTP API: record reads, curator edits and lifecycle changes,
audit queries, stats, integrity scans, on-demand sync passes and Prometheus
metrics. With --watch the upstream watcher runs alongside.

Example:
  catsync serve --addr :8080 --watch`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides http.addr)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "also sync on upstream changes")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	addr := a.cfg.HTTP.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	// the HTTP route and the watcher share one coordinator so that a pass
	// for a type already running on either side is rejected
	coord := a.coordinator()
	server := api.NewServer(a.store, a.curation(), coord, a.logger)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s. Press Ctrl-C to stop.\n", addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, addr)
	})
	if opts.Watch {
		g.Go(func() error {
			return watchAndSync(gctx, a, coord, record.Types)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "server error", err)
	}
	a.logger.Info("server stopped gracefully")
	return nil
}
