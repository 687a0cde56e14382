// Package main provides the exchange server entry point: the SOAP receive
// endpoint, the sync API, the operator API and the processing engine, all in
// one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bdosoa/bdosoa/internal/config"
	"github.com/bdosoa/bdosoa/internal/delivery"
	"github.com/bdosoa/bdosoa/internal/engine"
	"github.com/bdosoa/bdosoa/internal/server"
	"github.com/bdosoa/bdosoa/internal/store"
)

func main() {
	cfg := config.FromEnv()

	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Address to listen on")
	flag.StringVar(&cfg.DatabaseType, "db-type", cfg.DatabaseType, "Database type (postgres or sqlite)")
	flag.StringVar(&cfg.DatabaseDSN, "db-dsn", cfg.DatabaseDSN, "Database connection string")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.IntVar(&cfg.Engine.Workers, "workers", cfg.Engine.Workers, "Number of processing workers")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("starting bdosoa server",
		"listen", cfg.ListenAddr,
		"dbType", cfg.DatabaseType,
		"workers", cfg.Engine.Workers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	db, err := openDatabase(cfg.DatabaseType, cfg.DatabaseDSN)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	stores := store.New(db)
	if err := stores.AutoMigrate(); err != nil {
		logger.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}

	deliverer := delivery.New(cfg.Delivery, logger)
	eng := engine.New(stores, engine.DefaultRegistry(), deliverer, cfg.Engine, logger)
	srv := server.New(stores, eng, cfg.Server, logger)

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		eng.Run(ctx)
	}()

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}

	go func() {
		logger.Info("bdosoa server ready", "listen", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	select {
	case <-engineDone:
	case <-shutdownCtx.Done():
		logger.Error("engine shutdown timed out")
	}

	logger.Info("bdosoa server stopped")
}

func openDatabase(dbType, dsn string) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	switch dbType {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), gormCfg)
	case "sqlite":
		return gorm.Open(sqlite.Open(dsn), gormCfg)
	default:
		return nil, fmt.Errorf("unknown database type %q (expected postgres or sqlite)", dbType)
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
