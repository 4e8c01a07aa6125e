package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"swapbot/internal/config"
)

// Notifier 为面向用户的外发通知渠道。发送失败只记录日志，绝不向上传播，
// 调度循环不能因为通知渠道故障而中断。
type Notifier interface {
	Notify(ctx context.Context, owner string, message string, data map[string]interface{})
}

// LogNotifier 把通知写入日志，用于开发环境或作为兜底渠道。
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier 创建日志通知器。
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify 实现 Notifier。
func (n *LogNotifier) Notify(_ context.Context, owner string, message string, data map[string]interface{}) {
	n.logger.Info("用户通知",
		zap.String("owner", owner),
		zap.String("message", message),
		zap.Any("data", data),
	)
}

// WebhookNotifier 将通知以 JSON POST 的形式发往消息前端。
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWebhookNotifier 创建 webhook 通知器。
func NewWebhookNotifier(cfg config.NotifyConfig, logger *zap.Logger) (*WebhookNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return nil, errors.New("notify: webhook_url 不能为空")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebhookNotifier{
		url:        cfg.WebhookURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Notify 实现 Notifier。发送是尽力而为的，失败仅告警。
func (n *WebhookNotifier) Notify(ctx context.Context, owner string, message string, data map[string]interface{}) {
	payload, err := json.Marshal(map[string]interface{}{
		"owner":   owner,
		"message": message,
		"data":    data,
		"sentAt":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		n.logger.Warn("通知序列化失败", zap.String("owner", owner), zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		n.logger.Warn("通知请求构造失败", zap.String("owner", owner), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("通知发送失败", zap.String("owner", owner), zap.Error(err))
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.Warn("通知渠道返回异常状态",
			zap.String("owner", owner),
			zap.String("status", fmt.Sprintf("%d", resp.StatusCode)),
		)
	}
}

// Multi 将同一条通知分发到多个渠道。
type Multi []Notifier

// Notify 实现 Notifier。
func (m Multi) Notify(ctx context.Context, owner string, message string, data map[string]interface{}) {
	for _, n := range m {
		n.Notify(ctx, owner, message, data)
	}
}
