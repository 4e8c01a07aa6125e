package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swapbot/internal/exchange"
	"swapbot/internal/monitor"
	"swapbot/internal/notify"
)

// Engine 周期性评估价格警报。
type Engine struct {
	repo        *Repo
	rates       exchange.RateProvider
	notifier    notify.Notifier
	monitor     *monitor.Service
	logger      *zap.Logger
	workerLimit int
	now         func() time.Time
}

// NewEngine 创建警报引擎。
func NewEngine(repo *Repo, rates exchange.RateProvider, notifier notify.Notifier, mon *monitor.Service, workerLimit int, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workerLimit <= 0 {
		workerLimit = 4
	}
	return &Engine{
		repo:        repo,
		rates:       rates,
		notifier:    notifier,
		monitor:     mon,
		logger:      logger,
		workerLimit: workerLimit,
		now:         time.Now,
	}
}

// Create 新建一条警报。
func (e *Engine) Create(ctx context.Context, req CreateRequest) (Alert, error) {
	if err := req.Validate(); err != nil {
		return Alert{}, err
	}

	a := Alert{
		ID:         uuid.NewString(),
		Owner:      req.Owner,
		Pair:       req.Pair,
		TargetRate: req.TargetRate,
		Direction:  req.Direction,
		Active:     true,
		CreatedAt:  e.now().UTC(),
	}
	if err := e.repo.Insert(ctx, a); err != nil {
		return Alert{}, err
	}

	e.logger.Info("警报已创建",
		zap.String("id", a.ID),
		zap.String("owner", a.Owner),
		zap.String("symbol", a.Pair.Symbol()),
		zap.Float64("target", a.TargetRate),
		zap.String("direction", string(a.Direction)),
	)
	return a, nil
}

// ListActive 返回指定用户的活跃警报。
func (e *Engine) ListActive(ctx context.Context, owner string) ([]Alert, error) {
	return e.repo.ListActiveByOwner(ctx, owner)
}

// Remove 删除指定用户的警报。
func (e *Engine) Remove(ctx context.Context, owner, id string) error {
	return e.repo.Delete(ctx, owner, id)
}

// RunCycle 执行一轮评估：对周期开始时的活跃警报快照逐条判断，
// 单条失败只影响自身，不中断整轮。
func (e *Engine) RunCycle(ctx context.Context) error {
	snapshot, err := e.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("alert: 获取活跃警报快照失败: %w", err)
	}
	if len(snapshot) == 0 {
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.workerLimit)

	for _, item := range snapshot {
		a := item
		group.Go(func() error {
			e.evaluate(groupCtx, a)
			return nil
		})
	}

	return group.Wait()
}

func (e *Engine) evaluate(ctx context.Context, a Alert) {
	rate, err := e.rates.FetchRate(ctx, a.Pair)
	if err != nil {
		e.logger.Warn("警报行情获取失败",
			zap.String("id", a.ID),
			zap.String("symbol", a.Pair.Symbol()),
			zap.Error(err),
		)
		e.monitor.RecordError(ctx, "警报行情获取失败", err, map[string]interface{}{"alertId": a.ID})
		return
	}

	if !shouldTrigger(a, rate) {
		return
	}

	triggeredAt := e.now().UTC()
	a.Active = false
	a.Triggered = true
	a.TriggeredAt = &triggeredAt

	if err := e.repo.Update(ctx, a); err != nil {
		e.logger.Error("警报状态更新失败", zap.String("id", a.ID), zap.Error(err))
		e.monitor.RecordError(ctx, "警报状态更新失败", err, map[string]interface{}{"alertId": a.ID})
		return
	}

	e.logger.Info("警报触发",
		zap.String("id", a.ID),
		zap.String("owner", a.Owner),
		zap.String("symbol", a.Pair.Symbol()),
		zap.Float64("target", a.TargetRate),
		zap.Float64("rate", rate),
	)
	e.monitor.RecordAlertTriggered(ctx, monitor.AlertTriggeredPayload{
		AlertID:    a.ID,
		Owner:      a.Owner,
		Symbol:     a.Pair.Symbol(),
		TargetRate: a.TargetRate,
		Rate:       rate,
		Direction:  string(a.Direction),
	})

	message := fmt.Sprintf("价格警报：%s 当前 %v，已%s目标价 %v",
		a.Pair.Symbol(), rate, directionVerb(a.Direction), a.TargetRate)
	e.notifier.Notify(ctx, a.Owner, message, map[string]interface{}{
		"alertId": a.ID,
		"symbol":  a.Pair.Symbol(),
		"rate":    rate,
		"target":  a.TargetRate,
	})
}

func directionVerb(d exchange.Direction) string {
	if d == exchange.DirectionAbove {
		return "突破"
	}
	return "跌破"
}
