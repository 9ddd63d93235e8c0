package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/pipeline/internal/config"
)

// openRuntime loads the config named by --config and builds an engine from
// it. Logs go to stderr so they never mix with command output.
func openRuntime(cmd *cobra.Command, opts *RootOptions) (*config.Runtime, config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, cfg, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Verbose {
		cfg.Logger.Level = "debug"
	}
	logger := config.NewLogger(cfg.Logger, cmd.ErrOrStderr())

	rt, err := config.Build(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, cfg, nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	return rt, cfg, logger, nil
}

func closeRuntime(rt *config.Runtime, logger *slog.Logger) {
	if err := rt.Close(); err != nil {
		logger.Error("error closing backends", "error", err)
	}
}
