// Package main wires together the udownd service binary.
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
	"time"

	"go.uber.org/zap"

	"github.com/udown/udownd/internal/api"
	"github.com/udown/udownd/internal/config"
	ytdlpengine "github.com/udown/udownd/internal/fetch/ytdlp"
	"github.com/udown/udownd/internal/job"
	"github.com/udown/udownd/internal/logging"
	"github.com/udown/udownd/internal/metrics"
	"github.com/udown/udownd/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := job.NewRegistry(cfg.Jobs.ChannelCapacity, logger.Named("registry"))
	engine := ytdlpengine.New(logger.Named("ytdlp"))
	jobWorker := worker.New(engine, logger.Named("worker"))
	apiServer := api.NewServer(ctx, registry, jobWorker, cfg, logger.Named("api"))

	go registry.RunSweeper(ctx, cfg.SweepInterval(), cfg.JobTTL())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
