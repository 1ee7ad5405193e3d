package notifier

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookNotifier 报警事件Webhook通知器
// 将报警事件POST到外部通知端点；端点URL为空时通知器禁用
type WebhookNotifier struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

// NewWebhookNotifier 创建Webhook通知器
func NewWebhookNotifier(url string, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookNotifier{
		httpClient: client,
		url:        url,
		logger:     logger,
	}
}

// Enabled 通知器是否启用
func (n *WebhookNotifier) Enabled() bool {
	return n.url != ""
}

// NotifyAlert 推送报警事件
func (n *WebhookNotifier) NotifyAlert(event interface{}) error {
	if !n.Enabled() {
		return nil
	}

	resp, err := n.httpClient.R().
		SetBody(event).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("failed to post alert webhook: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode())
	}

	n.logger.Debug("Alert webhook delivered",
		zap.Int("status", resp.StatusCode()),
	)
	return nil
}
