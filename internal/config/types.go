package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Shift    ShiftConfig    `mapstructure:"shift"`
	Engines  EnginesConfig  `mapstructure:"engines"`
	Swap     SwapConfig     `mapstructure:"swap"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述行情来源交易所的连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// ShiftConfig 描述兑换服务端（shift API）的调用参数。
type ShiftConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	AffiliateID string        `mapstructure:"affiliate_id"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Retry       RetryConfig   `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// EnginesConfig 控制三个自动化引擎的评估节奏。
type EnginesConfig struct {
	AlertInterval time.Duration `mapstructure:"alert_interval"`
	DCAInterval   time.Duration `mapstructure:"dca_interval"`
	LimitInterval time.Duration `mapstructure:"limit_interval"`
	WorkerLimit   int           `mapstructure:"worker_limit"`
}

// SwapConfig 控制手动兑换会话的时序参数。
type SwapConfig struct {
	StatusPollInterval time.Duration `mapstructure:"status_poll_interval"`
	CancelMinAge       time.Duration `mapstructure:"cancel_min_age"`
	// DefaultRefundRequired 为 true 时，创建兑换单必须提供退款地址。
	DefaultRefundRequired bool `mapstructure:"default_refund_required"`
}

// NotifyConfig 控制外发通知渠道。
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Shift.BaseURL == "" {
		err = multierr.Append(err, errors.New("shift.base_url 不能为空"))
	} else if _, parseErr := url.Parse(c.Shift.BaseURL); parseErr != nil {
		err = multierr.Append(err, fmt.Errorf("shift.base_url 非法: %w", parseErr))
	}
	if c.Shift.Timeout <= 0 {
		err = multierr.Append(err, errors.New("shift.timeout 必须大于0"))
	}
	if c.Shift.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("shift.retry.max_attempts 必须大于0"))
	}
	if c.Engines.AlertInterval <= 0 {
		err = multierr.Append(err, errors.New("engines.alert_interval 必须大于0"))
	}
	if c.Engines.DCAInterval <= 0 {
		err = multierr.Append(err, errors.New("engines.dca_interval 必须大于0"))
	}
	if c.Engines.LimitInterval <= 0 {
		err = multierr.Append(err, errors.New("engines.limit_interval 必须大于0"))
	}
	if c.Engines.WorkerLimit <= 0 {
		err = multierr.Append(err, errors.New("engines.worker_limit 必须大于0"))
	}
	if c.Swap.StatusPollInterval <= 0 {
		err = multierr.Append(err, errors.New("swap.status_poll_interval 必须大于0"))
	}
	if c.Swap.CancelMinAge < 0 {
		err = multierr.Append(err, errors.New("swap.cancel_min_age 不能为负"))
	}
	if c.Notify.WebhookURL != "" {
		if _, parseErr := url.Parse(c.Notify.WebhookURL); parseErr != nil {
			err = multierr.Append(err, fmt.Errorf("notify.webhook_url 非法: %w", parseErr))
		}
		if c.Notify.Timeout <= 0 {
			err = multierr.Append(err, errors.New("notify.timeout 必须大于0"))
		}
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
