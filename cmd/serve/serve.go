// Package serve implements the wsmon metrics broadcast server command.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wsmon/internal/hub"
	"wsmon/internal/metrics"
	"wsmon/internal/web"
	"wsmon/pkg/config"
	"wsmon/pkg/logger"
)

const shutdownTimeout = 5 * time.Second

// Run starts the metrics WebSocket server and blocks until shutdown.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Server.LogLevel)

	interval, err := cfg.Server.ParseUpdateInterval()
	if err != nil {
		return fmt.Errorf("parsing update interval: %w", err)
	}

	registry := hub.NewRegistry()
	sampler := metrics.NewSampler(interval)
	broadcaster := hub.New(interval, sampler, registry, log)
	server := web.New(&cfg.Server, registry, log)

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: server.Handler(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	broadcaster.Start(ctx)

	log.Info().
		Str("addr", cfg.Server.Addr()).
		Str("ws_url", cfg.Server.WSURL()).
		Strs("allowed_origins", cfg.Server.AllowedOrigins).
		Dur("update_interval", interval).
		Msg("Metrics server started")

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		broadcaster.Stop()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	// Stop the broadcast loop first so no tick writes into connections
	// that are being torn down; Stop also closes every remaining
	// subscriber and empties the registry.
	broadcaster.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}

	return nil
}
