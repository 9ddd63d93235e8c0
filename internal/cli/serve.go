package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/pipeline/internal/httpapi"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a node and serve the HTTP API",
		Long: `Run a pipeline node: open the configured storage, network cache and
invalidation bus, then serve records over HTTP until interrupted.

Example:
  pipeline serve --config ./pipeline.yaml
  pipeline serve --addr :9090 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides http.addr)")

	return cmd
}

func serve(opts *ServeOptions, cmd *cobra.Command) error {
	rt, cfg, logger, err := openRuntime(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer closeRuntime(rt, logger)

	addr := cfg.HTTP.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("node starting",
		"node", rt.Engine.NodeID(), "storage", cfg.Storage.Driver, "cache", cfg.Cache.Driver, "bus", cfg.Bus.Driver)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s. Press Ctrl-C to stop.\n", addr)

	if err := httpapi.NewServer(rt.Engine, addr, logger).Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	logger.Info("node stopped gracefully")
	return nil
}
