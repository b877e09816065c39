package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/collabide/workspace/internal/app"
	"github.com/collabide/workspace/internal/shared/config"
	"github.com/collabide/workspace/internal/shared/logger"
	"github.com/collabide/workspace/internal/shared/metrics"
	"github.com/collabide/workspace/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	db, err := store.OpenDatabase(&cfg.Database)
	if err != nil {
		zlog.Fatal("open database failed", zap.Error(err))
	}
	defer store.CloseDatabase(db)

	redisClient, err := store.OpenRedis(&cfg.Redis)
	if err != nil {
		zlog.Fatal("open redis failed", zap.Error(err))
	}
	defer redisClient.Close()

	m := metrics.New("workspace", nil)

	pg := store.NewPostgres(db, redisClient, zlog).WithMetrics(m)
	defer pg.Close()

	application := app.New(cfg, pg, m, zlog)

	go func() {
		if err := application.Run(); err != nil {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		zlog.Warn("server forced to shutdown", zap.Error(err))
	}

	zlog.Info("server exited")
}
