package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/logger"
	"quiz-attempt-service/internal/metrics"
)

// NewSweepCmd completes every expired in-progress attempt once and exits.
// Useful from cron when the server runs without its background sweeper.
func NewSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Complete expired attempts with a TIMEOUT trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), *configPath)
		},
	}
}

func runSweep(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg)
	defer func() { _ = log.Sync() }()

	b, err := buildBackend(ctx, cfg, log, metrics.New())
	if err != nil {
		return err
	}
	defer b.close()

	n, err := b.service.SweepExpired(ctx)
	if err != nil {
		return err
	}
	log.Info("sweep finished", zap.Int("completed", n))
	return nil
}
