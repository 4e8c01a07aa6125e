package limitorder

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
	"swapbot/internal/shift"
)

// quoteExecutor 是引擎需要的兑换服务能力子集。
type quoteExecutor interface {
	RequestQuote(ctx context.Context, req shift.QuoteRequest) (shift.Quote, error)
	CreateShift(ctx context.Context, quoteID, settleAddress, refundAddress string) (shift.Shift, error)
}

// Engine 周期性评估限价单的触发条件。
type Engine struct {
	repo        *Repo
	rates       exchange.RateProvider
	executor    quoteExecutor
	notifier    notify.Notifier
	monitor     *monitor.Service
	logger      *zap.Logger
	workerLimit int
	now         func() time.Time
}

// NewEngine 创建限价单引擎。
func NewEngine(repo *Repo, rates exchange.RateProvider, executor quoteExecutor, notifier notify.Notifier, mon *monitor.Service, workerLimit int, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workerLimit <= 0 {
		workerLimit = 4
	}
	return &Engine{
		repo:        repo,
		rates:       rates,
		executor:    executor,
		notifier:    notifier,
		monitor:     mon,
		logger:      logger,
		workerLimit: workerLimit,
		now:         time.Now,
	}
}

// Create 新建限价单。
func (e *Engine) Create(ctx context.Context, req CreateRequest) (Order, error) {
	if err := req.Validate(); err != nil {
		return Order{}, err
	}

	o := Order{
		ID:            uuid.NewString(),
		Owner:         req.Owner,
		Pair:          req.Pair,
		Amount:        req.Amount,
		TargetRate:    req.TargetRate,
		Direction:     req.Direction,
		SettleAddress: req.SettleAddress,
		RefundAddress: req.RefundAddress,
		Active:        true,
		CreatedAt:     e.now().UTC(),
	}
	if err := e.repo.Insert(ctx, o); err != nil {
		return Order{}, err
	}

	e.logger.Info("限价单已创建",
		zap.String("id", o.ID),
		zap.String("owner", o.Owner),
		zap.String("symbol", o.Pair.Symbol()),
		zap.Float64("target", o.TargetRate),
		zap.String("direction", string(o.Direction)),
	)
	return o, nil
}

// ListActive 返回指定用户的活跃限价单。
func (e *Engine) ListActive(ctx context.Context, owner string) ([]Order, error) {
	return e.repo.ListActiveByOwner(ctx, owner)
}

// Cancel 撤销仍活跃的限价单。
func (e *Engine) Cancel(ctx context.Context, owner, id string) error {
	return e.repo.Delete(ctx, owner, id)
}

// RunCycle 执行一轮评估：对周期开始时的活跃订单快照逐单判断，
// 单笔失败只影响自身，不中断整轮。
func (e *Engine) RunCycle(ctx context.Context) error {
	snapshot, err := e.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("limitorder: 获取活跃订单快照失败: %w", err)
	}
	if len(snapshot) == 0 {
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.workerLimit)

	for _, item := range snapshot {
		o := item
		group.Go(func() error {
			e.evaluate(groupCtx, o)
			return nil
		})
	}

	return group.Wait()
}

func (e *Engine) evaluate(ctx context.Context, o Order) {
	rate, err := e.rates.FetchRate(ctx, o.Pair)
	if err != nil {
		e.logger.Warn("限价单行情获取失败",
			zap.String("id", o.ID),
			zap.String("symbol", o.Pair.Symbol()),
			zap.Error(err),
		)
		e.monitor.RecordError(ctx, "限价单行情获取失败", err, map[string]interface{}{"orderId": o.ID})
		return
	}

	if !shouldTrigger(o, rate) {
		return
	}

	// 先无条件停用再执行：即使后续下单失败，订单也已消耗，不会重试。
	o.Active = false
	if err := e.repo.Update(ctx, o); err != nil {
		e.logger.Error("限价单停用失败", zap.String("id", o.ID), zap.Error(err))
		e.monitor.RecordError(ctx, "限价单停用失败", err, map[string]interface{}{"orderId": o.ID})
		return
	}

	e.logger.Info("限价单触发",
		zap.String("id", o.ID),
		zap.String("owner", o.Owner),
		zap.String("symbol", o.Pair.Symbol()),
		zap.Float64("target", o.TargetRate),
		zap.Float64("rate", rate),
	)
	e.monitor.RecordLimitTriggered(ctx, monitor.LimitTriggeredPayload{
		OrderID:    o.ID,
		Owner:      o.Owner,
		Symbol:     o.Pair.Symbol(),
		TargetRate: o.TargetRate,
		Rate:       rate,
	})
	e.notifier.Notify(ctx, o.Owner,
		fmt.Sprintf("限价单触发：%s 当前 %v（目标 %v），正在自动兑换", o.Pair.Symbol(), rate, o.TargetRate),
		map[string]interface{}{"orderId": o.ID, "rate": rate, "target": o.TargetRate},
	)

	e.execute(ctx, o)
}

func (e *Engine) execute(ctx context.Context, o Order) {
	quote, err := e.executor.RequestQuote(ctx, shift.QuoteRequest{
		Pair:   o.Pair,
		Amount: o.Amount,
	})
	var created shift.Shift
	if err == nil {
		created, err = e.executor.CreateShift(ctx, quote.ID, o.SettleAddress, o.RefundAddress)
	}

	if err != nil {
		e.logger.Warn("限价单自动兑换失败",
			zap.String("id", o.ID),
			zap.String("owner", o.Owner),
			zap.Error(err),
		)
		e.monitor.RecordLimitExecution(ctx, monitor.LimitExecutionPayload{
			OrderID: o.ID,
			Owner:   o.Owner,
			Error:   err.Error(),
		})
		e.notifier.Notify(ctx, o.Owner,
			fmt.Sprintf("限价单自动兑换失败：%s，请手动发起兑换", o.Pair.Symbol()),
			map[string]interface{}{"orderId": o.ID, "error": err.Error()},
		)
		return
	}

	executedAt := e.now().UTC()
	o.ExecutedAt = &executedAt
	o.ShiftID = created.ID
	if err := e.repo.Update(ctx, o); err != nil {
		e.logger.Error("限价单执行结果写入失败", zap.String("id", o.ID), zap.Error(err))
		e.monitor.RecordError(ctx, "限价单执行结果写入失败", err, map[string]interface{}{"orderId": o.ID})
	}

	e.logger.Info("限价单自动兑换成功",
		zap.String("id", o.ID),
		zap.String("owner", o.Owner),
		zap.String("shiftId", created.ID),
	)
	e.monitor.RecordLimitExecution(ctx, monitor.LimitExecutionPayload{
		OrderID: o.ID,
		Owner:   o.Owner,
		ShiftID: created.ID,
		Success: true,
	})
	e.notifier.Notify(ctx, o.Owner,
		fmt.Sprintf("限价单已兑换：请向 %s 存入 %v %s", created.DepositAddress, created.DepositAmount, created.DepositCoin),
		map[string]interface{}{
			"orderId":        o.ID,
			"shiftId":        created.ID,
			"depositAddress": created.DepositAddress,
			"depositAmount":  created.DepositAmount,
			"depositCoin":    created.DepositCoin,
		},
	)
}
