package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"swapbot/internal/config"
)

// Rates 基于 ccxt 行情接口实现 RateProvider，带重试机制。
type Rates struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Binance

	marketsMu     sync.Mutex
	marketsLoaded bool
}

var _ RateProvider = (*Rates)(nil)

// NewRates 构造行情客户端。目前只接入了 binance 行情。
func NewRates(cfg config.ExchangeConfig, logger *zap.Logger) (*Rates, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if !strings.EqualFold(cfg.Name, "binance") {
		return nil, fmt.Errorf("exchange: 暂不支持的交易所 %q，目前仅支持 binance", cfg.Name)
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "spot",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBinance(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Rates{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// FetchRate 返回币对的最新成交价。
func (r *Rates) FetchRate(ctx context.Context, pair Pair) (float64, error) {
	if err := pair.Validate(); err != nil {
		return 0, err
	}

	symbol := pair.Symbol()

	var ticker ccxt.Ticker
	err := r.callWithRetry(ctx, fmt.Sprintf("fetch_ticker_%s", symbol), func() error {
		if err := r.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		result, err := r.exchange.FetchTicker(symbol)
		if err != nil {
			return err
		}

		ticker = result
		return nil
	})
	if err != nil {
		return 0, err
	}

	switch {
	case ticker.Last != nil:
		return *ticker.Last, nil
	case ticker.Close != nil:
		return *ticker.Close, nil
	default:
		return 0, fmt.Errorf("exchange: %s 行情缺少最新价", symbol)
	}
}

func (r *Rates) ensureMarketsLoaded(ctx context.Context) error {
	r.marketsMu.Lock()
	defer r.marketsMu.Unlock()

	if r.marketsLoaded {
		return nil
	}

	loadErr := r.callWithRetry(ctx, "load_markets", func() error {
		_, err := r.exchange.LoadMarkets()
		return err
	})
	if loadErr != nil {
		return loadErr
	}

	r.marketsLoaded = true
	r.logger.Info("已完成市场元数据加载", zap.String("exchange", r.cfg.Name))
	return nil
}

func (r *Rates) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := r.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := r.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("行情调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !IsRetryable(err) || attempt >= r.cfg.Retry.MaxAttempts {
			r.logger.Error("行情调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(err),
			)
			return err
		}

		r.logger.Warn("行情调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
