package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/addonhost/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/addonhost/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/addonhost/backend/internal/infrastructure/server"
)

func main() {
	// Flags override environment variables
	port := flag.String("port", "", "Server port (overrides PORT)")
	dataDir := flag.String("data", "", "Add-on data directory (overrides ADDON_DATA_DIR)")
	storeURL := flag.String("store", "", "Remote add-on store URL (overrides ADDON_STORE_URL)")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootstrap := logging.NewDefault()
		bootstrap.Fatal("Invalid configuration", zap.Error(err))
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dataDir != "" {
		cfg.Addons.DataDir = *dataDir
	}
	if *storeURL != "" {
		cfg.Store.URL = *storeURL
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		logging.NewDefault().Fatal("Invalid log configuration", zap.Error(err))
	}

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		logger.Fatal("Failed to load add-ons", zap.Error(err))
	}

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully")
	case err := <-errChan:
		if err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Close(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}
}
