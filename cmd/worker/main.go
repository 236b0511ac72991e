// Package main runs the maintenance worker: expired poll deactivation and
// rate limit pruning.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zamapoll/backend/config"
	"github.com/zamapoll/backend/internal/bootstrap"
	"github.com/zamapoll/backend/internal/worker"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("bootstrap", zap.Error(err))
	}
	defer app.Close()

	var pruner worker.Pruner
	if app.TableGuard != nil {
		pruner = app.TableGuard
	}
	sweeper := worker.NewSweeper(app.Store, pruner, cfg.Worker.SweepInterval, logger.Named("sweeper"))

	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(workerCtx)
		close(done)
	}()
	logger.Info("worker started", zap.Duration("interval", cfg.Worker.SweepInterval))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	<-done
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
