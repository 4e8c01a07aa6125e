package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"swapbot/internal/config"
	"swapbot/internal/monitor"
	"swapbot/internal/notify"
	"swapbot/internal/scheduler"
	"swapbot/internal/shift"
)

// shiftAPI 是状态机需要的兑换服务能力全集。
type shiftAPI interface {
	RequestQuote(ctx context.Context, req shift.QuoteRequest) (shift.Quote, error)
	CreateShift(ctx context.Context, quoteID, settleAddress, refundAddress string) (shift.Shift, error)
	GetShift(ctx context.Context, id string) (shift.Shift, error)
	CancelShift(ctx context.Context, id string) error
}

// Machine 驱动单个手动兑换从收集参数到终态的完整生命周期。
type Machine struct {
	store    *Store
	api      shiftAPI
	sched    *scheduler.Service
	notifier notify.Notifier
	monitor  *monitor.Service
	logger   *zap.Logger

	pollInterval  time.Duration
	cancelMinAge  time.Duration
	requireRefund bool
	now           func() time.Time
}

// NewMachine 创建兑换会话状态机。
func NewMachine(store *Store, api shiftAPI, sched *scheduler.Service, notifier notify.Notifier, mon *monitor.Service, cfg config.SwapConfig, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	pollInterval := cfg.StatusPollInterval
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &Machine{
		store:         store,
		api:           api,
		sched:         sched,
		notifier:      notifier,
		monitor:       mon,
		logger:        logger,
		pollInterval:  pollInterval,
		cancelMinAge:  cfg.CancelMinAge,
		requireRefund: cfg.DefaultRefundRequired,
		now:           time.Now,
	}
}

// Begin 为用户开启新的兑换流程，已有流程会被整体替换。
func (m *Machine) Begin(_ context.Context, owner string) Session {
	sess := m.store.Start(owner, m.now().UTC())
	m.logger.Info("兑换会话已开启", zap.String("owner", owner))
	return sess
}

// SetParams 合并用户补充的参数。参数齐备后立即请求报价并启动有效期计时，
// 会话随之进入待确认阶段；报价失败会终止整个会话。
func (m *Machine) SetParams(ctx context.Context, owner string, fields Fields) (Session, error) {
	var (
		snapshot Session
		ready    bool
	)
	ok := m.store.Update(owner, func(sess *Session) {
		sess.Fields.merge(fields)
		ready = sess.State == StateCollecting && sess.Fields.ready()
		snapshot = *sess
	})
	if !ok {
		return Session{}, ErrNoSession
	}
	if !ready {
		return snapshot, nil
	}

	quote, err := m.api.RequestQuote(ctx, shift.QuoteRequest{
		Pair:        snapshot.Fields.Pair,
		FromNetwork: snapshot.Fields.FromNetwork,
		ToNetwork:   snapshot.Fields.ToNetwork,
		Amount:      snapshot.Fields.Amount,
	})
	if err != nil {
		m.store.Clear(owner)
		m.logger.Warn("报价请求失败，会话终止", zap.String("owner", owner), zap.Error(err))
		m.notifier.Notify(ctx, owner, "报价请求失败，兑换流程已终止，请稍后重试", map[string]interface{}{
			"error": err.Error(),
		})
		return Session{}, fmt.Errorf("session: 报价请求失败: %w", err)
	}

	expiry := quote.ExpiresAt.Sub(m.now())
	if expiry < 0 {
		expiry = 0
	}
	// 报价有效期从进入待确认阶段起就开始约束会话，
	// 同一个计时器一直覆盖到兑换单创建为止。
	token := m.sched.After("quote_expiry_"+owner, expiry, func(tctx context.Context) {
		m.quoteExpired(tctx, owner, quote.ID)
	})

	applied := m.store.Update(owner, func(sess *Session) {
		sess.Quote = quote
		sess.State = StateAwaitingConfirmation
		sess.expiryToken = token
		snapshot = *sess
	})
	if !applied {
		// 会话在报价期间被并发取消，计时器随之作废。
		m.sched.Cancel(token)
		return Session{}, ErrNoSession
	}

	m.logger.Info("报价已锁定",
		zap.String("owner", owner),
		zap.String("quoteId", quote.ID),
		zap.Time("expiresAt", quote.ExpiresAt),
	)
	return snapshot, nil
}

// Confirm 确认已出示的报价，会话进入等待收款地址阶段。
// 报价已过期时流程终止，与有效期计时器触发的效果一致。
func (m *Machine) Confirm(ctx context.Context, owner string) (Session, error) {
	sess, ok := m.store.Get(owner)
	if !ok {
		return Session{}, ErrNoSession
	}
	if sess.State != StateAwaitingConfirmation {
		return Session{}, fmt.Errorf("%w: 当前阶段 %s", ErrInvalidState, sess.State)
	}

	if !m.now().Before(sess.Quote.ExpiresAt) {
		m.quoteExpired(ctx, owner, sess.Quote.ID)
		return Session{}, fmt.Errorf("session: 报价已过期")
	}

	var snapshot Session
	applied := m.store.Update(owner, func(sess *Session) {
		sess.State = StateAwaitingAddress
		snapshot = *sess
	})
	if !applied {
		return Session{}, ErrNoSession
	}
	return snapshot, nil
}

// SetDestination 记录收款地址并创建兑换单，随后开始状态轮询。
// 下单失败会终止整个会话。
func (m *Machine) SetDestination(ctx context.Context, owner, settleAddress, refundAddress string) (Session, error) {
	sess, ok := m.store.Get(owner)
	if !ok {
		return Session{}, ErrNoSession
	}
	if sess.State != StateAwaitingAddress {
		return Session{}, fmt.Errorf("%w: 当前阶段 %s", ErrInvalidState, sess.State)
	}
	if settleAddress == "" {
		return Session{}, fmt.Errorf("session: 收款地址不能为空")
	}
	if m.requireRefund && refundAddress == "" {
		return Session{}, fmt.Errorf("session: 当前配置要求提供退款地址")
	}

	created, err := m.api.CreateShift(ctx, sess.Quote.ID, settleAddress, refundAddress)
	if err != nil {
		m.store.Clear(owner)
		m.logger.Warn("兑换单创建失败，会话终止", zap.String("owner", owner), zap.Error(err))
		m.notifier.Notify(ctx, owner, "兑换单创建失败，流程已终止，请重新发起兑换", map[string]interface{}{
			"error": err.Error(),
		})
		return Session{}, fmt.Errorf("session: 兑换单创建失败: %w", err)
	}

	pollToken := m.sched.Every("shift_poll_"+owner, m.pollInterval, func(tctx context.Context) {
		m.pollStatus(tctx, owner, created.ID)
	})

	now := m.now().UTC()
	var snapshot Session
	applied := m.store.Update(owner, func(sess *Session) {
		if sess.expiryToken != "" {
			m.sched.Cancel(sess.expiryToken)
			sess.expiryToken = ""
		}
		sess.Fields.SettleAddress = settleAddress
		sess.Fields.RefundAddress = refundAddress
		sess.ShiftID = created.ID
		sess.ShiftCreatedAt = now
		sess.LastStatus = created.Status
		sess.State = StateAwaitingFunds
		sess.pollToken = pollToken
		snapshot = *sess
	})
	if !applied {
		// 会话在下单期间被并发清除，已创建的兑换单不能悬空。
		m.sched.Cancel(pollToken)
		if cancelErr := m.api.CancelShift(ctx, created.ID); cancelErr != nil {
			m.logger.Warn("孤立兑换单取消失败",
				zap.String("owner", owner),
				zap.String("shiftId", created.ID),
				zap.Error(cancelErr),
			)
		}
		return Session{}, ErrNoSession
	}

	m.logger.Info("兑换单已创建",
		zap.String("owner", owner),
		zap.String("shiftId", created.ID),
		zap.String("status", string(created.Status)),
	)
	m.notifier.Notify(ctx, owner,
		fmt.Sprintf("兑换单已创建：请向 %s 存入 %v %s", created.DepositAddress, created.DepositAmount, created.DepositCoin),
		map[string]interface{}{
			"shiftId":        created.ID,
			"depositAddress": created.DepositAddress,
			"depositAmount":  created.DepositAmount,
			"depositCoin":    created.DepositCoin,
		},
	)
	return snapshot, nil
}

// Cancel 取消进行中的兑换流程。
// 未创建兑换单时直接丢弃会话；兑换单未满最小存续期时改为安排延迟取消；
// 否则立即向服务端发起取消。
func (m *Machine) Cancel(ctx context.Context, owner string) error {
	sess, ok := m.store.Get(owner)
	if !ok {
		return ErrNoSession
	}

	if sess.ShiftID == "" {
		m.store.Clear(owner)
		m.logger.Info("兑换会话已取消", zap.String("owner", owner))
		m.notifier.Notify(ctx, owner, "兑换流程已取消", nil)
		return nil
	}

	age := m.now().Sub(sess.ShiftCreatedAt)
	if age < m.cancelMinAge {
		remaining := m.cancelMinAge - age
		shiftID := sess.ShiftID
		// 延迟取消独立于会话计时器：即使用户随后开启新会话，
		// 它也会在触发时校验 shift id 再决定是否生效。
		m.sched.After("delayed_cancel_"+owner, remaining, func(tctx context.Context) {
			m.delayedCancel(tctx, owner, shiftID)
		})

		m.logger.Info("兑换单过新，已安排延迟取消",
			zap.String("owner", owner),
			zap.String("shiftId", shiftID),
			zap.Duration("remaining", remaining),
		)
		m.notifier.Notify(ctx, owner,
			fmt.Sprintf("兑换单将在 %s 后取消，期间请勿向存款地址打款", remaining.Round(time.Second)),
			map[string]interface{}{"shiftId": shiftID},
		)
		return nil
	}

	if err := m.api.CancelShift(ctx, sess.ShiftID); err != nil {
		m.logger.Warn("兑换单取消请求失败", zap.String("owner", owner), zap.String("shiftId", sess.ShiftID), zap.Error(err))
	}
	m.store.Clear(owner)
	m.notifier.Notify(ctx, owner, "兑换单已取消", map[string]interface{}{"shiftId": sess.ShiftID})
	return nil
}

// delayedCancel 是延迟取消的回调：只有会话仍指向当初的 shift id 才生效，
// 否则说明会话已经被替换或结束，按空操作处理。
func (m *Machine) delayedCancel(ctx context.Context, owner, shiftID string) {
	sess, ok := m.store.Get(owner)
	if !ok || sess.ShiftID != shiftID {
		m.logger.Debug("延迟取消已失效",
			zap.String("owner", owner),
			zap.String("shiftId", shiftID),
		)
		return
	}

	if err := m.api.CancelShift(ctx, shiftID); err != nil {
		m.logger.Warn("延迟取消请求失败", zap.String("owner", owner), zap.String("shiftId", shiftID), zap.Error(err))
	}
	m.store.Clear(owner)
	m.notifier.Notify(ctx, owner, "兑换单已取消", map[string]interface{}{"shiftId": shiftID})
}

// quoteExpired 在报价有效期结束时触发：若会话仍停留在下单前的阶段，
// 整个流程过期终止。
func (m *Machine) quoteExpired(ctx context.Context, owner, quoteID string) {
	sess, ok := m.store.Get(owner)
	if !ok || sess.Quote.ID != quoteID || sess.ShiftID != "" {
		return
	}

	m.store.Clear(owner)
	m.logger.Info("报价已过期，会话终止", zap.String("owner", owner), zap.String("quoteId", quoteID))
	m.notifier.Notify(ctx, owner, "报价已过期，兑换流程已终止，请重新发起兑换", nil)
}

// pollStatus 查询兑换单状态。查询失败视为瞬时故障，等待下一轮。
func (m *Machine) pollStatus(ctx context.Context, owner, shiftID string) {
	current, err := m.api.GetShift(ctx, shiftID)
	if err != nil {
		m.logger.Warn("兑换单状态查询失败",
			zap.String("owner", owner),
			zap.String("shiftId", shiftID),
			zap.Error(err),
		)
		return
	}

	m.applyStatus(ctx, owner, shiftID, current.Status)
}

// applyStatus 应用一次状态观测。相同状态重复送达不会产生重复通知；
// 终态会停止轮询并清除会话。
func (m *Machine) applyStatus(ctx context.Context, owner, shiftID string, status shift.Status) {
	var prev shift.Status
	changed := false
	applied := m.store.Update(owner, func(sess *Session) {
		if sess.ShiftID != shiftID {
			return
		}
		prev = sess.LastStatus
		if sess.LastStatus != status {
			sess.LastStatus = status
			changed = true
		}
	})
	if !applied || !changed {
		return
	}

	m.logger.Info("兑换单状态变化",
		zap.String("owner", owner),
		zap.String("shiftId", shiftID),
		zap.String("prev", string(prev)),
		zap.String("status", string(status)),
	)
	m.monitor.RecordShiftStatus(ctx, monitor.ShiftStatusPayload{
		Owner:      owner,
		ShiftID:    shiftID,
		PrevStatus: string(prev),
		Status:     string(status),
	})
	m.notifier.Notify(ctx, owner,
		fmt.Sprintf("兑换单状态更新：%s", status),
		map[string]interface{}{"shiftId": shiftID, "status": string(status)},
	)

	if status.IsTerminal() {
		m.store.Clear(owner)
		m.logger.Info("兑换单进入终态，会话结束",
			zap.String("owner", owner),
			zap.String("shiftId", shiftID),
			zap.String("status", string(status)),
		)
	}
}
