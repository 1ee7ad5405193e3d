package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/config"
	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/database"
	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/manager"
	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/mqtt"
	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/notifier"
	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/publisher"
	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/redisx"
	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/repository"
)

// SimulatorService 模拟服务（整合各层）
type SimulatorService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client

	patientRepo *repository.PatientRepository
	publisher   *publisher.EventPublisher
	manager     *manager.MockDeviceManager
}

// NewSimulatorService 创建模拟服务
func NewSimulatorService(cfg *config.Config, logger *zap.Logger) (*SimulatorService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redisx.NewClient(&cfg.Redis)
	if err := redisx.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT（未配置Broker时跳过）
	var mqttClient *mqtt.Client
	if cfg.MQTT.Broker != "" {
		mqttClient, err = mqtt.NewClient(&cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
		}
	}

	// 4. 创建 Repository 层
	patientRepo := repository.NewPatientRepository(db, logger)

	// 5. 创建事件发布层
	webhookNotifier := notifier.NewWebhookNotifier(cfg.Webhook.URL, logger)
	var mqttPub publisher.MQTTPublisher
	if mqttClient != nil {
		mqttPub = mqttClient
	}
	eventPublisher := publisher.NewEventPublisher(redisClient, mqttPub, webhookNotifier, logger)

	// 6. 创建设备注册表：新设备在启动前挂接发布器
	deviceManager := manager.NewMockDeviceManager(cfg, patientRepo, logger, eventPublisher.Attach)

	return &SimulatorService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		mqttClient:  mqttClient,
		patientRepo: patientRepo,
		publisher:   eventPublisher,
		manager:     deviceManager,
	}, nil
}

// Manager 设备注册表（供进程内调用方使用）
func (s *SimulatorService) Manager() *manager.MockDeviceManager {
	return s.manager
}

// Start 启动服务
func (s *SimulatorService) Start(ctx context.Context) error {
	s.logger.Info("Starting simulator service components")

	s.publisher.Start()

	s.logger.Info("Simulator service started successfully")
	return nil
}

// Stop 停止服务：并发终结全部设备，等待在途发布完成
func (s *SimulatorService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping simulator service")

	if err := s.manager.Close(ctx); err != nil {
		s.logger.Error("Error closing device manager", zap.Error(err))
	}

	if err := s.publisher.Stop(ctx); err != nil {
		s.logger.Error("Error stopping event publisher", zap.Error(err))
	}

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if s.redisClient != nil {
		redisx.Close(s.redisClient)
	}

	if s.db != nil {
		database.Close(s.db)
	}

	s.logger.Info("Simulator service stopped")
	return nil
}
