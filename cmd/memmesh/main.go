// memmesh serves the tiered memory fallback subsystem: one HTTP
// surface over the service, local, archival and realtime storage
// tiers.
//
// Usage:
//
//	memmesh                        # defaults + environment
//	memmesh -config config.yaml   # YAML file + environment overrides
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kestrelhq/memmesh/api/handlers"
	"github.com/kestrelhq/memmesh/backend"
	"github.com/kestrelhq/memmesh/backend/archive"
	"github.com/kestrelhq/memmesh/backend/local"
	"github.com/kestrelhq/memmesh/backend/realtime"
	"github.com/kestrelhq/memmesh/backend/service"
	"github.com/kestrelhq/memmesh/config"
	"github.com/kestrelhq/memmesh/internal/gateway"
	"github.com/kestrelhq/memmesh/internal/metrics"
	"github.com/kestrelhq/memmesh/mesh"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("memmesh %s (built %s)\n", Version, BuildTime)
		return
	}

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	collector := metrics.NewCollector("memmesh", nil)

	localStore, err := local.New(cfg.Local, logger)
	if err != nil {
		return fmt.Errorf("failed to open local tier: %w", err)
	}
	defer localStore.Close() //nolint:errcheck

	realtimeStore := realtime.New(cfg.Realtime, logger)
	defer realtimeStore.Close() //nolint:errcheck

	tiers := []backend.Backend{
		service.New(cfg.Service, logger),
		localStore,
		archive.New(cfg.Archive, logger, archive.WithMetrics(collector)),
		realtimeStore,
	}
	for _, t := range tiers {
		logger.Info("backend configured",
			zap.String("backend", t.Name()),
			zap.Bool("enabled", t.Enabled()))
	}

	m := mesh.New(cfg.Mesh, tiers, logger, mesh.WithMetrics(collector))

	var gate gateway.Gate = gateway.AllowAll{}
	if cfg.Gateway.JWTSecret != "" {
		gate = gateway.NewJWTGate(cfg.Gateway.JWTSecret)
	}

	mux := http.NewServeMux()
	handlers.NewMemoryHandler(m, logger).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: Chain(mux,
			Recovery(logger),
			RequestLogger(logger),
			GatewayGate(gate),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Server.Addr))
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
