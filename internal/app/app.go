package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"swapbot/internal/alert"
	"swapbot/internal/config"
	"swapbot/internal/dca"
	"swapbot/internal/exchange"
	"swapbot/internal/limitorder"
	"swapbot/internal/monitor"
	"swapbot/internal/notify"
	"swapbot/internal/scheduler"
	"swapbot/internal/session"
	"swapbot/internal/shift"
	"swapbot/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
// 三个自动化引擎彼此并行，各自的评估周期由调度器保证不自我重叠。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store

	sched       *scheduler.Service
	alertEngine *alert.Engine
	dcaEngine   *dca.Engine
	limitEngine *limitorder.Engine
	machine     *session.Machine
	sessions    *session.Store
}

// New 创建 App 实例并完成全部组件装配。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	rates, err := exchange.NewRates(cfg.Exchange, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化行情客户端失败: %w", err)
	}

	shiftClient, err := shift.NewClient(cfg.Shift, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化兑换客户端失败: %w", err)
	}

	notifier, err := buildNotifier(cfg.Notify, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化通知渠道失败: %w", err)
	}

	mon, err := monitor.NewService(store, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	alertRepo, err := alert.NewRepo(store)
	if err != nil {
		return nil, fmt.Errorf("初始化警报存储失败: %w", err)
	}
	dcaRepo, err := dca.NewRepo(store)
	if err != nil {
		return nil, fmt.Errorf("初始化定投存储失败: %w", err)
	}
	limitRepo, err := limitorder.NewRepo(store)
	if err != nil {
		return nil, fmt.Errorf("初始化限价单存储失败: %w", err)
	}

	sched := scheduler.New(logger)
	sessions := session.NewStore(sched)
	machine := session.NewMachine(sessions, shiftClient, sched, notifier, mon, cfg.Swap, logger)

	workerLimit := cfg.Engines.WorkerLimit

	return &App{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		sched:       sched,
		alertEngine: alert.NewEngine(alertRepo, rates, notifier, mon, workerLimit, logger),
		dcaEngine:   dca.NewEngine(dcaRepo, shiftClient, notifier, mon, workerLimit, logger),
		limitEngine: limitorder.NewEngine(limitRepo, rates, shiftClient, notifier, mon, workerLimit, logger),
		machine:     machine,
		sessions:    sessions,
	}, nil
}

// Alerts 返回警报引擎，供消息前端做 CRUD。
func (a *App) Alerts() *alert.Engine {
	return a.alertEngine
}

// DCA 返回定投引擎。
func (a *App) DCA() *dca.Engine {
	return a.dcaEngine
}

// LimitOrders 返回限价单引擎。
func (a *App) LimitOrders() *limitorder.Engine {
	return a.limitEngine
}

// Sessions 返回手动兑换状态机。
func (a *App) Sessions() *session.Machine {
	return a.machine
}

// Run 启动各引擎的周期评估并阻塞至退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("兑换机器人已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.Duration("alertInterval", a.cfg.Engines.AlertInterval),
		zap.Duration("dcaInterval", a.cfg.Engines.DCAInterval),
		zap.Duration("limitInterval", a.cfg.Engines.LimitInterval),
	)

	a.runCycle(ctx, "alert", a.alertEngine.RunCycle)
	a.runCycle(ctx, "dca", a.dcaEngine.RunCycle)
	a.runCycle(ctx, "limitorder", a.limitEngine.RunCycle)

	a.sched.Every("alert_cycle", a.cfg.Engines.AlertInterval, func(cctx context.Context) {
		a.runCycle(cctx, "alert", a.alertEngine.RunCycle)
	})
	a.sched.Every("dca_cycle", a.cfg.Engines.DCAInterval, func(cctx context.Context) {
		a.runCycle(cctx, "dca", a.dcaEngine.RunCycle)
	})
	a.sched.Every("limit_cycle", a.cfg.Engines.LimitInterval, func(cctx context.Context) {
		a.runCycle(cctx, "limitorder", a.limitEngine.RunCycle)
	})

	<-ctx.Done()

	a.logger.Info("系统收到退出信号，正在停止")
	a.sched.Stop()

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	return nil
}

func (a *App) runCycle(ctx context.Context, name string, cycle func(context.Context) error) {
	if err := cycle(ctx); err != nil {
		a.logger.Error("引擎评估周期失败", zap.String("engine", name), zap.Error(err))
	}
}

func buildNotifier(cfg config.NotifyConfig, logger *zap.Logger) (notify.Notifier, error) {
	logNotifier := notify.NewLogNotifier(logger)
	if cfg.WebhookURL == "" {
		return logNotifier, nil
	}

	webhook, err := notify.NewWebhookNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}
	return notify.Multi{logNotifier, webhook}, nil
}
