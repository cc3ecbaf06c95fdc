package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"trade-signal-sim/internal/api"
	"trade-signal-sim/internal/events"
	"trade-signal-sim/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for launching and inspecting runs",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	st, err := openStores(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	bus := events.NewEventBus()
	recorder := metrics.NewRecorder()
	recorder.Attach(bus)

	var repo api.RunRepository
	if st.repo != nil {
		repo = st.repo
	}
	server := api.NewServer(cfg, repo, bus, recorder, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	logger.Info().Str("addr", cfg.Server.Addr()).Msg("API ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
		return err
	}
	logger.Info().Msg("Shutdown complete")
	return nil
}
