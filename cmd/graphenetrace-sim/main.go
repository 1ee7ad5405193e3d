package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/config"
	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/logger"
	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 配置不变式校验：任何违反都阻止启动
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	// 初始化Logger
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "graphenetrace-sim")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting graphenetrace-sim service",
		zap.Int("default_fps", cfg.Simulator.FramesPerSecond),
		zap.Int("high_threshold", cfg.Thresholds.DefaultHighThreshold),
	)

	// 创建服务
	simService, err := service.NewSimulatorService(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create simulator service", zap.Error(err))
	}

	// 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := simService.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start simulator service", zap.Error(err))
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	if err := simService.Stop(context.Background()); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
