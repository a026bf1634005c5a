package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/clearlane/tradeflow/api"
	"github.com/clearlane/tradeflow/internal/bus"
	"github.com/clearlane/tradeflow/internal/compliance"
	"github.com/clearlane/tradeflow/internal/config"
	"github.com/clearlane/tradeflow/internal/credit"
	"github.com/clearlane/tradeflow/internal/lifecycle"
	"github.com/clearlane/tradeflow/internal/risk"
	"github.com/clearlane/tradeflow/internal/ws"
	"github.com/clearlane/tradeflow/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("TRADEFLOW_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	eventBus := bus.New(zapLogger.Named("bus"), bus.Config{
		QueueSize:   cfg.Bus.QueueSize,
		HistorySize: cfg.Bus.HistorySize,
		Registerer:  prometheus.DefaultRegisterer,
	})
	eventBus.Start()
	defer eventBus.Stop()

	var repo lifecycle.Repository
	if cfg.Database.DSN != "" {
		db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
		if err != nil {
			zapLogger.Fatal("failed to connect to database", zap.Error(err))
		}
		repo, err = lifecycle.NewGormRepository(db)
		if err != nil {
			zapLogger.Fatal("failed to initialize trade repository", zap.Error(err))
		}
	}

	orchestrator := lifecycle.New(
		zapLogger.Named("lifecycle"),
		eventBus,
		compliance.NewService(zapLogger.Named("compliance")),
		credit.NewManager(zapLogger.Named("credit"), decimal.NewFromInt(5_000_000)),
		risk.NewService(zapLogger.Named("risk"), risk.DefaultThresholds()),
		repo,
	)

	registry := ws.NewRegistry(zapLogger.Named("ws"), eventBus, ws.Config{
		IdleTimeout:     cfg.WS.IdleTimeout,
		CleanupInterval: cfg.WS.CleanupInterval,
		SendBuffer:      cfg.WS.SendBuffer,
		Registerer:      prometheus.DefaultRegisterer,
	})
	registry.Start()
	defer registry.Stop()

	server := api.NewServer(zapLogger.Named("api"), orchestrator, eventBus, registry)
	go func() {
		if err := server.Run(cfg.Server.Addr); err != nil {
			zapLogger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("shutting down")
}
