package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/api"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/iats"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/config"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/logging"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/monitoring"
)

func main() {
	// Parse flags
	port := flag.String("port", "", "Bridge port (overrides env)")
	dataDir := flag.String("data", "", "User-data directory (overrides env)")
	dev := flag.Bool("dev", false, "Development mode (colored debug logs)")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dataDir != "" {
		cfg.Paths.DataDir = *dataDir
	}

	logCfg := logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	}
	if *dev {
		logCfg = logging.DevelopmentConfig()
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	metrics, registry := monitoring.NewMetrics()

	sub, err := iats.New(cfg, logger, metrics)
	if err != nil {
		logger.Fatal("Failed to create subsystem", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub.Start(ctx)

	srv := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
		Handler: api.NewRouter(sub, logger, registry),
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start bridge in goroutine
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Bridge listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		logger.Info("Shutting down gracefully")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Bridge shutdown failed", zap.Error(err))
		}
		sub.Stop()
	case err := <-errChan:
		sub.Stop()
		logger.Fatal("Bridge error", zap.Error(err))
	}
}
