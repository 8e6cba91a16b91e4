package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/spf13/cobra"

	"github.com/xraph/saga"
	"github.com/xraph/saga/activity"
	"github.com/xraph/saga/api"
	audithook "github.com/xraph/saga/audit_hook"
	"github.com/xraph/saga/engine"
	relayhook "github.com/xraph/saga/relay_hook"
	"github.com/xraph/saga/services"
	"github.com/xraph/saga/workflows"
)

var devMode bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, worker pool and sweep",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "use in-memory collaborators instead of service endpoints")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if devMode {
		cfg.Dev = true
	}
	if !cfg.Dev && len(cfg.Services) == 0 {
		return errors.New("services endpoints are required outside dev mode")
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, release, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer release()
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	o, err := saga.New(
		saga.WithStore(st),
		saga.WithConfig(cfg.SagaConfig()),
		saga.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	opts := []engine.Option{
		engine.WithActivityClient(activityClient(cfg, logger)),
		engine.WithContracts(services.Contracts()),
		engine.WithTenantConfig(cfg.TenantConfigs()...),
		engine.WithHealthServices(services.Names()...),
	}
	if cfg.Audit.Enabled {
		opts = append(opts, engine.WithExtension(audithook.New(auditLog(logger), audithook.WithLogger(logger))))
	}
	if cfg.Relay.Enabled {
		pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewSlogLogger(logger))
		defer pubsub.Close()
		opts = append(opts, engine.WithExtension(relayhook.New(pubsub,
			relayhook.WithTopic(cfg.Relay.Topic),
			relayhook.WithLogger(logger),
		)))
	}

	eng, err := engine.Build(o, opts...)
	if err != nil {
		return err
	}
	if err := workflows.RegisterAll(eng.Registry()); err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	a := api.New(eng, api.WithLogger(logger), api.WithAllowedOrigins(cfg.AllowedOrigins...))
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("sagad listening",
			slog.String("addr", cfg.Listen),
			slog.String("store", cfg.Store.Driver),
			slog.Bool("dev", cfg.Dev),
		)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err = <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		logger.Error("http shutdown", slog.String("error", serr.Error()))
	}
	if serr := eng.Stop(shutdownCtx); serr != nil {
		logger.Error("engine stop", slog.String("error", serr.Error()))
	}
	logger.Info("sagad stopped")
	return err
}

func activityClient(cfg *Config, logger *slog.Logger) activity.Client {
	if cfg.Dev {
		logger.Warn("dev mode: using in-memory collaborators")
		return services.NewFake()
	}
	return activity.NewHTTPClient(cfg.Services, activity.WithHTTPLogger(logger))
}

// auditLog records audit events to the process log.
func auditLog(logger *slog.Logger) audithook.Recorder {
	return audithook.RecorderFunc(func(ctx context.Context, e *audithook.AuditEvent) error {
		level := slog.LevelInfo
		switch e.Severity {
		case audithook.SeverityWarning:
			level = slog.LevelWarn
		case audithook.SeverityCritical:
			level = slog.LevelError
		}
		logger.Log(ctx, level, "audit",
			slog.String("action", e.Action),
			slog.String("resource", e.Resource),
			slog.String("resource_id", e.ResourceID),
			slog.String("tenant_id", e.TenantID),
			slog.String("outcome", e.Outcome),
			slog.String("reason", e.Reason),
		)
		return nil
	})
}
