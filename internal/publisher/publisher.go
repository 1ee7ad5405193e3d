package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/models"
	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/redisx"
	"github.com/Thomas-Kenner/GrapheneTrace-sub001/internal/simulator"
)

// Redis Streams 与缓存键约定（与下游消费方的兼容边界）
const (
	FrameStream = "pressure:frames:stream"
	AlertStream = "pressure:alerts:stream"

	frameKeyPrefix = "pressure:device:"
	frameKeySuffix = ":frame"
	frameCacheTTL  = 10 * time.Second
)

// queueCapacity 发布队列容量：队满时丢弃最旧的待发布帧，
// 保证设备生成循环永不被慢消费方阻塞
const queueCapacity = 256

// FrameSummary 发布到帧流的摘要载荷（不含整幅网格，网格走缓存键）
type FrameSummary struct {
	DeviceID           string  `json:"device_id"`
	PatientID          string  `json:"patient_id"`
	FrameNumber        uint64  `json:"frame_number"`
	PeakPressure       int     `json:"peak_pressure"`
	ContactAreaPercent float64 `json:"contact_area_percent"`
	ActiveFaults       string  `json:"active_faults"`
	FaultBits          uint8   `json:"fault_bits"`
	Alerts             string  `json:"alerts"`
	AlertBits          uint8   `json:"alert_bits"`
	Scenario           string  `json:"scenario"`
	Timestamp          int64   `json:"timestamp"`
}

// AlertEvent 发布到报警流（及MQTT/Webhook镜像）的报警事件载荷
type AlertEvent struct {
	EventID      string `json:"event_id"`
	DeviceID     string `json:"device_id"`
	PatientID    string `json:"patient_id"`
	FrameNumber  uint64 `json:"frame_number"`
	Alerts       string `json:"alerts"`
	AlertBits    uint8  `json:"alert_bits"`
	PeakPressure int    `json:"peak_pressure"`
	Timestamp    int64  `json:"timestamp"`
}

// MQTTPublisher MQTT发布接口（mqtt.Client实现；nil时禁用镜像）
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// AlertNotifier Webhook通知接口（notifier.WebhookNotifier实现）
type AlertNotifier interface {
	Enabled() bool
	NotifyAlert(event interface{}) error
}

// EventPublisher 设备事件扇出器
//
// 订阅设备的帧/报警回调，经有界队列交由单个工作goroutine发布：
// 帧摘要与报警事件写入Redis Streams，整幅CSV写入带TTL的缓存键，
// 报警事件另镜像到MQTT主题与Webhook端点（若配置）。
// 队满时丢弃最旧的待发布帧并计数，设备生成循环不会被阻塞
type EventPublisher struct {
	redisClient *redis.Client
	mqttClient  MQTTPublisher
	notifier    AlertNotifier
	logger      *zap.Logger

	queue   chan *models.HeatmapFrame
	dropped uint64

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewEventPublisher 创建事件扇出器（mqttClient与alertNotifier可为nil）
func NewEventPublisher(redisClient *redis.Client, mqttClient MQTTPublisher, alertNotifier AlertNotifier, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{
		redisClient: redisClient,
		mqttClient:  mqttClient,
		notifier:    alertNotifier,
		logger:      logger,
		queue:       make(chan *models.HeatmapFrame, queueCapacity),
		done:        make(chan struct{}),
	}
}

// Attach 将发布器挂接到一台设备的帧事件上
func (p *EventPublisher) Attach(dev *simulator.MockHeatmapDevice) {
	dev.OnFrame(p.enqueue)
}

// enqueue 非阻塞入队：队满时丢弃最旧的待发布帧腾出位置
func (p *EventPublisher) enqueue(frame *models.HeatmapFrame) {
	select {
	case p.queue <- frame:
		return
	default:
	}

	// 丢最旧，收最新
	select {
	case <-p.queue:
		atomic.AddUint64(&p.dropped, 1)
	default:
	}
	select {
	case p.queue <- frame:
	default:
		atomic.AddUint64(&p.dropped, 1)
	}
}

// Dropped 因队列积压被丢弃的帧计数
func (p *EventPublisher) Dropped() uint64 {
	return atomic.LoadUint64(&p.dropped)
}

// Start 启动发布工作goroutine
func (p *EventPublisher) Start() {
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		go p.run(ctx)
	})
}

// Stop 停止发布并等待工作goroutine退出
func (p *EventPublisher) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		if p.cancel == nil {
			close(p.done)
			return
		}
		p.cancel()
		select {
		case <-p.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	if dropped := p.Dropped(); dropped > 0 {
		p.logger.Warn("Frames dropped due to publish backlog", zap.Uint64("dropped", dropped))
	}
	return err
}

func (p *EventPublisher) run(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-p.queue:
			p.publish(ctx, frame)
		}
	}
}

// publish 发布单帧：摘要入流、CSV入缓存、报警事件扇出
func (p *EventPublisher) publish(ctx context.Context, frame *models.HeatmapFrame) {
	summary := FrameSummary{
		DeviceID:           frame.DeviceID,
		PatientID:          frame.PatientID,
		FrameNumber:        frame.FrameNumber,
		PeakPressure:       frame.PeakPressure,
		ContactAreaPercent: frame.ContactAreaPercent,
		ActiveFaults:       frame.ActiveFaults.String(),
		FaultBits:          uint8(frame.ActiveFaults),
		Alerts:             frame.Alerts.String(),
		AlertBits:          uint8(frame.Alerts),
		Scenario:           string(frame.Scenario),
		Timestamp:          frame.Timestamp.Unix(),
	}

	if _, err := redisx.PublishJSONToStream(ctx, p.redisClient, FrameStream, summary); err != nil {
		p.logger.Error("Failed to publish frame summary",
			zap.String("device_id", frame.DeviceID),
			zap.Uint64("frame_number", frame.FrameNumber),
			zap.Error(err),
		)
	}

	// 整幅网格走缓存键，供轮询型渲染协作方读取
	frameKey := frameKeyPrefix + frame.DeviceID + frameKeySuffix
	if err := redisx.SetWithTTL(ctx, p.redisClient, frameKey, frame.ToCSV(), frameCacheTTL); err != nil {
		p.logger.Error("Failed to cache frame CSV",
			zap.String("device_id", frame.DeviceID),
			zap.Error(err),
		)
	}

	if frame.Alerts == models.AlertNone {
		return
	}

	event := AlertEvent{
		EventID:      uuid.NewString(),
		DeviceID:     frame.DeviceID,
		PatientID:    frame.PatientID,
		FrameNumber:  frame.FrameNumber,
		Alerts:       frame.Alerts.String(),
		AlertBits:    uint8(frame.Alerts),
		PeakPressure: frame.PeakPressure,
		Timestamp:    frame.Timestamp.Unix(),
	}

	if _, err := redisx.PublishJSONToStream(ctx, p.redisClient, AlertStream, event); err != nil {
		p.logger.Error("Failed to publish alert event",
			zap.String("device_id", frame.DeviceID),
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}

	if p.mqttClient != nil {
		payload, err := json.Marshal(event)
		if err == nil {
			topic := fmt.Sprintf("pressure/%s/alerts", frame.PatientID)
			if err := p.mqttClient.Publish(topic, 1, false, payload); err != nil {
				p.logger.Error("Failed to mirror alert to MQTT",
					zap.String("topic", topic),
					zap.Error(err),
				)
			}
		}
	}

	if p.notifier != nil && p.notifier.Enabled() {
		if err := p.notifier.NotifyAlert(event); err != nil {
			p.logger.Error("Failed to deliver alert webhook",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		}
	}

	p.logger.Info("Alert event published",
		zap.String("event_id", event.EventID),
		zap.String("patient_id", frame.PatientID),
		zap.String("alerts", event.Alerts),
		zap.Int("peak_pressure", event.PeakPressure),
	)
}
