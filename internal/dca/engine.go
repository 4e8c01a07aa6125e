package dca

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swapbot/internal/monitor"
	"swapbot/internal/notify"
	"swapbot/internal/shift"
)

// quoteExecutor 是引擎需要的兑换服务能力子集。
type quoteExecutor interface {
	RequestQuote(ctx context.Context, req shift.QuoteRequest) (shift.Quote, error)
	CreateShift(ctx context.Context, quoteID, settleAddress, refundAddress string) (shift.Shift, error)
}

// Engine 周期性执行到期的定投订单。
type Engine struct {
	repo        *Repo
	executor    quoteExecutor
	notifier    notify.Notifier
	monitor     *monitor.Service
	logger      *zap.Logger
	workerLimit int
	now         func() time.Time
}

// NewEngine 创建定投引擎。
func NewEngine(repo *Repo, executor quoteExecutor, notifier notify.Notifier, mon *monitor.Service, workerLimit int, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workerLimit <= 0 {
		workerLimit = 4
	}
	return &Engine{
		repo:        repo,
		executor:    executor,
		notifier:    notifier,
		monitor:     mon,
		logger:      logger,
		workerLimit: workerLimit,
		now:         time.Now,
	}
}

// Create 新建定投订单，首次执行时间从当下按周期推算。
func (e *Engine) Create(ctx context.Context, req CreateRequest) (Order, error) {
	if err := req.Validate(); err != nil {
		return Order{}, err
	}

	now := e.now().UTC()
	o := Order{
		ID:              uuid.NewString(),
		Owner:           req.Owner,
		Pair:            req.Pair,
		Amount:          req.Amount,
		Frequency:       req.Frequency,
		SettleAddress:   req.SettleAddress,
		RefundAddress:   req.RefundAddress,
		Active:          true,
		MaxExecutions:   req.MaxExecutions,
		NextExecutionAt: req.Frequency.NextAfter(now),
		CreatedAt:       now,
	}
	if err := e.repo.Insert(ctx, o); err != nil {
		return Order{}, err
	}

	e.logger.Info("定投订单已创建",
		zap.String("id", o.ID),
		zap.String("owner", o.Owner),
		zap.String("symbol", o.Pair.Symbol()),
		zap.Float64("amount", o.Amount),
		zap.String("frequency", string(o.Frequency)),
		zap.Time("nextExecutionAt", o.NextExecutionAt),
	)
	return o, nil
}

// ListActive 返回指定用户的活跃订单。
func (e *Engine) ListActive(ctx context.Context, owner string) ([]Order, error) {
	return e.repo.ListActiveByOwner(ctx, owner)
}

// History 返回订单的执行历史。
func (e *Engine) History(ctx context.Context, owner, id string) ([]Execution, error) {
	if _, err := e.repo.Get(ctx, owner, id); err != nil {
		return nil, err
	}
	return e.repo.History(ctx, id)
}

// Pause 暂停订单，暂停期间不参与评估。
func (e *Engine) Pause(ctx context.Context, owner, id string) error {
	o, err := e.repo.Get(ctx, owner, id)
	if err != nil {
		return err
	}
	if !o.Active {
		return nil
	}
	o.Active = false
	return e.repo.Update(ctx, o)
}

// Resume 恢复订单，下一次执行时间从当下重新推算。
func (e *Engine) Resume(ctx context.Context, owner, id string) error {
	o, err := e.repo.Get(ctx, owner, id)
	if err != nil {
		return err
	}
	if o.Active {
		return nil
	}
	if o.MaxExecutions > 0 && o.TotalExecutions >= o.MaxExecutions {
		return fmt.Errorf("dca: 订单已达执行上限，无法恢复")
	}
	o.Active = true
	o.NextExecutionAt = o.Frequency.NextAfter(e.now().UTC())
	return e.repo.Update(ctx, o)
}

// Delete 删除订单。
func (e *Engine) Delete(ctx context.Context, owner, id string) error {
	return e.repo.Delete(ctx, owner, id)
}

// RunCycle 执行一轮评估：对周期开始时的到期订单快照逐单执行，
// 单笔失败只影响自身，不中断整轮。
func (e *Engine) RunCycle(ctx context.Context) error {
	now := e.now().UTC()

	snapshot, err := e.repo.ListDue(ctx, now)
	if err != nil {
		return fmt.Errorf("dca: 获取到期订单快照失败: %w", err)
	}
	if len(snapshot) == 0 {
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.workerLimit)

	for _, item := range snapshot {
		o := item
		group.Go(func() error {
			e.process(groupCtx, o, now)
			return nil
		})
	}

	return group.Wait()
}

func (e *Engine) process(ctx context.Context, o Order, now time.Time) {
	if o.MaxExecutions > 0 && o.TotalExecutions >= o.MaxExecutions {
		e.complete(ctx, o)
		return
	}

	quote, err := e.executor.RequestQuote(ctx, shift.QuoteRequest{
		Pair:   o.Pair,
		Amount: o.Amount,
	})
	var created shift.Shift
	if err == nil {
		created, err = e.executor.CreateShift(ctx, quote.ID, o.SettleAddress, o.RefundAddress)
	}

	if err != nil {
		e.recordFailure(ctx, o, now, err)
		return
	}

	e.recordSuccess(ctx, o, now, created)
}

// recordFailure 保留订单活跃并按正常周期顺延，避免失败后的快速重试风暴。
func (e *Engine) recordFailure(ctx context.Context, o Order, now time.Time, execErr error) {
	o.NextExecutionAt = o.Frequency.NextAfter(now)
	if err := e.repo.Update(ctx, o); err != nil {
		e.logger.Error("定投订单顺延失败", zap.String("id", o.ID), zap.Error(err))
		e.monitor.RecordError(ctx, "定投订单顺延失败", err, map[string]interface{}{"orderId": o.ID})
		return
	}

	if err := e.repo.AppendExecution(ctx, Execution{
		OrderID:    o.ID,
		ExecutedAt: now,
		Error:      execErr.Error(),
	}); err != nil {
		e.logger.Error("定投失败历史写入失败", zap.String("id", o.ID), zap.Error(err))
	}

	e.logger.Warn("定投执行失败",
		zap.String("id", o.ID),
		zap.String("owner", o.Owner),
		zap.String("symbol", o.Pair.Symbol()),
		zap.Time("nextExecutionAt", o.NextExecutionAt),
		zap.Error(execErr),
	)
	e.monitor.RecordDCAExecution(ctx, monitor.DCAExecutionPayload{
		OrderID: o.ID,
		Owner:   o.Owner,
		Symbol:  o.Pair.Symbol(),
		Amount:  o.Amount,
		Error:   execErr.Error(),
	})

	message := fmt.Sprintf("定投执行失败：%s %v，将于 %s 重试",
		o.Pair.Symbol(), o.Amount, o.NextExecutionAt.Format(time.RFC3339))
	e.notifier.Notify(ctx, o.Owner, message, map[string]interface{}{
		"orderId":         o.ID,
		"error":           execErr.Error(),
		"nextExecutionAt": o.NextExecutionAt.Format(time.RFC3339),
	})
}

func (e *Engine) recordSuccess(ctx context.Context, o Order, now time.Time, created shift.Shift) {
	executedAt := now
	o.TotalExecutions++
	o.LastExecutedAt = &executedAt
	o.NextExecutionAt = o.Frequency.NextAfter(now)

	capped := o.MaxExecutions > 0 && o.TotalExecutions >= o.MaxExecutions
	if capped {
		o.Active = false
	}

	if err := e.repo.Update(ctx, o); err != nil {
		e.logger.Error("定投订单更新失败", zap.String("id", o.ID), zap.Error(err))
		e.monitor.RecordError(ctx, "定投订单更新失败", err, map[string]interface{}{"orderId": o.ID})
		return
	}

	if err := e.repo.AppendExecution(ctx, Execution{
		OrderID:    o.ID,
		ExecutedAt: now,
		ShiftID:    created.ID,
		Success:    true,
	}); err != nil {
		e.logger.Error("定投成功历史写入失败", zap.String("id", o.ID), zap.Error(err))
	}

	e.logger.Info("定投执行成功",
		zap.String("id", o.ID),
		zap.String("owner", o.Owner),
		zap.String("symbol", o.Pair.Symbol()),
		zap.String("shiftId", created.ID),
		zap.Int("totalExecutions", o.TotalExecutions),
	)
	e.monitor.RecordDCAExecution(ctx, monitor.DCAExecutionPayload{
		OrderID: o.ID,
		Owner:   o.Owner,
		Symbol:  o.Pair.Symbol(),
		Amount:  o.Amount,
		ShiftID: created.ID,
		Success: true,
	})

	message := fmt.Sprintf("定投已执行：请向 %s 存入 %v %s（第 %d 次）",
		created.DepositAddress, created.DepositAmount, created.DepositCoin, o.TotalExecutions)
	e.notifier.Notify(ctx, o.Owner, message, map[string]interface{}{
		"orderId":        o.ID,
		"shiftId":        created.ID,
		"depositAddress": created.DepositAddress,
		"depositAmount":  created.DepositAmount,
		"depositCoin":    created.DepositCoin,
	})

	if capped {
		e.notifyCompleted(ctx, o)
	}
}

// complete 处理进入周期时已达上限的订单：直接停用，不再产生外部调用。
func (e *Engine) complete(ctx context.Context, o Order) {
	o.Active = false
	if err := e.repo.Update(ctx, o); err != nil {
		e.logger.Error("定投订单停用失败", zap.String("id", o.ID), zap.Error(err))
		e.monitor.RecordError(ctx, "定投订单停用失败", err, map[string]interface{}{"orderId": o.ID})
		return
	}
	e.notifyCompleted(ctx, o)
}

func (e *Engine) notifyCompleted(ctx context.Context, o Order) {
	e.logger.Info("定投订单已完成",
		zap.String("id", o.ID),
		zap.String("owner", o.Owner),
		zap.Int("totalExecutions", o.TotalExecutions),
	)
	message := fmt.Sprintf("定投计划完成：%s 已执行 %d 次", o.Pair.Symbol(), o.TotalExecutions)
	e.notifier.Notify(ctx, o.Owner, message, map[string]interface{}{
		"orderId":         o.ID,
		"totalExecutions": o.TotalExecutions,
	})
}
