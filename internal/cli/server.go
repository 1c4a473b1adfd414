package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quiz-attempt-service/internal/auth"
	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/logger"
	"quiz-attempt-service/internal/metrics"
	transport "quiz-attempt-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt API, websocket and expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg)
	defer func() { _ = log.Sync() }()

	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (or JWT_SECRET) must be set")
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	m := metrics.New()
	b, err := buildBackend(ctx, cfg, log, m)
	if err != nil {
		return err
	}
	defer b.close()

	router := transport.NewRouter(transport.RouterConfig{
		Service:      b.service,
		Auth:         auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Metrics:      m,
		Logger:       log,
		CORSOrigins:  cfg.Server.CORSOrigins,
		TickInterval: config.Duration(cfg.Attempt.TickInterval, time.Second),
	})

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting quiz attempt service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if interval, ok := sweepInterval(cfg); ok {
		g.Go(func() error {
			log.Info("expiry sweeper running", zap.Duration("interval", interval))
			return b.service.RunSweeper(ctx, interval)
		})
	} else {
		log.Info("expiry sweeper disabled, attempt.sweep_interval not set")
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// sweepInterval reports whether the background sweeper should run. It is off
// when attempt.sweep_interval is empty; an unparsable value falls back to 30s.
func sweepInterval(cfg config.Config) (time.Duration, bool) {
	raw := strings.TrimSpace(cfg.Attempt.SweepInterval)
	if raw == "" {
		return 0, false
	}
	return config.Duration(raw, 30*time.Second), true
}
