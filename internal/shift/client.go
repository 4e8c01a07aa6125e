package shift

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"swapbot/internal/config"
)

// APIError 表示服务端返回的业务错误。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shift: 服务端返回 %d: %s", e.StatusCode, e.Message)
}

// IsRetryable 判断兑换服务调用错误是否可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	// 网络层错误（连接失败、超时等）一律按可重试处理。
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Client 封装兑换服务端（shift API）的 REST 调用。
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	affiliateID string
	retry       config.RetryConfig
	logger      *zap.Logger
}

// NewClient 根据配置构造兑换客户端。
func NewClient(cfg config.ShiftConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("shift: base_url 不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("shift: 解析 base_url 失败: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:     parsed,
		httpClient:  &http.Client{Timeout: timeout},
		affiliateID: cfg.AffiliateID,
		retry:       cfg.Retry,
		logger:      logger,
	}, nil
}

// RequestQuote 请求一个限时报价。
func (c *Client) RequestQuote(ctx context.Context, req QuoteRequest) (Quote, error) {
	if err := req.Pair.Validate(); err != nil {
		return Quote{}, err
	}
	if req.Amount <= 0 {
		return Quote{}, fmt.Errorf("shift: 报价数量必须为正, got %v", req.Amount)
	}

	body := map[string]interface{}{
		"depositCoin":   strings.ToLower(req.Pair.FromCoin),
		"settleCoin":    strings.ToLower(req.Pair.ToCoin),
		"depositAmount": strconv.FormatFloat(req.Amount, 'f', -1, 64),
	}
	if req.FromNetwork != "" {
		body["depositNetwork"] = req.FromNetwork
	}
	if req.ToNetwork != "" {
		body["settleNetwork"] = req.ToNetwork
	}
	if c.affiliateID != "" {
		body["affiliateId"] = c.affiliateID
	}

	var quote Quote
	if err := c.doWithRetry(ctx, "request_quote", http.MethodPost, "quotes", body, &quote); err != nil {
		return Quote{}, err
	}
	return quote, nil
}

// CreateShift 基于报价创建兑换单。
func (c *Client) CreateShift(ctx context.Context, quoteID, settleAddress, refundAddress string) (Shift, error) {
	if quoteID == "" {
		return Shift{}, errors.New("shift: quoteId 不能为空")
	}
	if settleAddress == "" {
		return Shift{}, errors.New("shift: 收款地址不能为空")
	}

	body := map[string]interface{}{
		"quoteId":       quoteID,
		"settleAddress": settleAddress,
	}
	if refundAddress != "" {
		body["refundAddress"] = refundAddress
	}
	if c.affiliateID != "" {
		body["affiliateId"] = c.affiliateID
	}

	var created Shift
	if err := c.doWithRetry(ctx, "create_shift", http.MethodPost, "shifts/fixed", body, &created); err != nil {
		return Shift{}, err
	}
	return created, nil
}

// GetShift 查询兑换单当前状态。
func (c *Client) GetShift(ctx context.Context, id string) (Shift, error) {
	if id == "" {
		return Shift{}, errors.New("shift: id 不能为空")
	}

	var current Shift
	if err := c.doWithRetry(ctx, "get_shift", http.MethodGet, "shifts/"+url.PathEscape(id), nil, &current); err != nil {
		return Shift{}, err
	}
	return current, nil
}

// CancelShift 取消尚未收到入金的兑换单。
func (c *Client) CancelShift(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("shift: id 不能为空")
	}
	return c.doWithRetry(ctx, "cancel_shift", http.MethodPost, "shifts/"+url.PathEscape(id)+"/cancel", nil, nil)
}

func (c *Client) doWithRetry(ctx context.Context, operation, method, path string, body, out interface{}) error {
	maxAttempts := c.retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	delay := c.retry.MinDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := c.retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = c.do(ctx, method, path, body, out)
		if err == nil {
			return nil
		}

		if !IsRetryable(err) || attempt == maxAttempts {
			return err
		}

		wait := time.Duration(attempt) * delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("兑换服务调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	endpoint := c.baseURL.JoinPath(path)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("shift: 序列化请求失败: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("shift: 构造请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("shift: 请求 %s 失败: %w", path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("shift: 解析响应失败: %w", err)
	}
	return nil
}

func readErrorMessage(body io.Reader) string {
	var wrapper struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return "无法读取错误响应"
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Error.Message != "" {
		return wrapper.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
