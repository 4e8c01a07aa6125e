package limitorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"swapbot/internal/exchange"
	"swapbot/internal/shift"
	"swapbot/internal/store"
)

type mockRates struct {
	mu    sync.Mutex
	rates map[string]float64
	errs  map[string]error
}

func (m *mockRates) FetchRate(_ context.Context, pair exchange.Pair) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.errs[pair.Symbol()]; ok {
		return 0, err
	}
	return m.rates[pair.Symbol()], nil
}

type mockExecutor struct {
	mu          sync.Mutex
	quoteErr    error
	createErr   error
	quoteCalls  int
	createCalls int
}

func (m *mockExecutor) RequestQuote(_ context.Context, _ shift.QuoteRequest) (shift.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quoteCalls++
	if m.quoteErr != nil {
		return shift.Quote{}, m.quoteErr
	}
	return shift.Quote{ID: "quote-1", ExpiresAt: time.Now().Add(5 * time.Minute)}, nil
}

func (m *mockExecutor) CreateShift(_ context.Context, quoteID, settleAddress, _ string) (shift.Shift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return shift.Shift{}, m.createErr
	}
	return shift.Shift{
		ID:             "shift-9",
		QuoteID:        quoteID,
		DepositAddress: "deposit-addr",
		DepositAmount:  1,
		DepositCoin:    "ETH",
		SettleAddress:  settleAddress,
		Status:         shift.StatusWaiting,
	}, nil
}

func (m *mockExecutor) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quoteCalls + m.createCalls
}

type mockNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (m *mockNotifier) Notify(_ context.Context, _ string, message string, _ map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, message)
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newTestEngine(t *testing.T) (*Engine, *Repo, *mockRates, *mockExecutor, *mockNotifier) {
	t.Helper()

	st, err := store.NewMemory()
	if err != nil {
		t.Fatalf("NewMemory returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	repo, err := NewRepo(st)
	if err != nil {
		t.Fatalf("NewRepo returned error: %v", err)
	}

	rates := &mockRates{rates: map[string]float64{}, errs: map[string]error{}}
	executor := &mockExecutor{}
	notifier := &mockNotifier{}
	engine := NewEngine(repo, rates, executor, notifier, nil, 2, nil)
	return engine, repo, rates, executor, notifier
}

func createBelowOrder(t *testing.T, engine *Engine) Order {
	t.Helper()
	o, err := engine.Create(context.Background(), CreateRequest{
		Owner:         "user-1",
		Pair:          exchange.Pair{FromCoin: "ETH", ToCoin: "USDT"},
		Amount:        1,
		TargetRate:    3000,
		Direction:     exchange.DirectionBelow,
		SettleAddress: "0xsettle",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	return o
}

func TestRunCycle_InclusiveComparisonTriggersAtTarget(t *testing.T) {
	engine, repo, rates, executor, _ := newTestEngine(t)
	ctx := context.Background()

	created := createBelowOrder(t, engine)

	// 恰好等于目标价即触发，限价单使用闭区间比较
	rates.rates["ETH/USDT"] = 3000
	if err := engine.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}

	if executor.totalCalls() != 2 {
		t.Fatalf("expected quote+create calls, got %d", executor.totalCalls())
	}

	updated, err := repo.Get(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if updated.Active {
		t.Error("expected order deactivated after trigger")
	}
	if updated.ShiftID != "shift-9" {
		t.Errorf("expected shift id recorded, got %q", updated.ShiftID)
	}
	if updated.ExecutedAt == nil {
		t.Error("expected executedAt recorded")
	}
}

func TestRunCycle_ExecutionFailureConsumesOrder(t *testing.T) {
	engine, repo, rates, executor, notifier := newTestEngine(t)
	ctx := context.Background()

	created := createBelowOrder(t, engine)

	executor.createErr = errors.New("order creation rejected")
	rates.rates["ETH/USDT"] = 2990
	if err := engine.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}

	updated, err := repo.Get(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if updated.Active {
		t.Error("expected order deactivated despite execution failure")
	}
	if updated.ExecutedAt != nil {
		t.Errorf("expected executedAt unset on failure, got %v", updated.ExecutedAt)
	}
	if updated.ShiftID != "" {
		t.Errorf("expected no shift id on failure, got %q", updated.ShiftID)
	}

	// 触发通知 + 失败通知
	if got := notifier.count(); got != 2 {
		t.Fatalf("expected 2 notifications (trigger + failure), got %d", got)
	}

	// 下一轮不再重试：订单已消耗
	callsAfterFailure := executor.totalCalls()
	if err := engine.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}
	if executor.totalCalls() != callsAfterFailure {
		t.Errorf("expected no retry after consumed order, got %d extra calls", executor.totalCalls()-callsAfterFailure)
	}
}

func TestRunCycle_NoTriggerAboveTargetForBelowOrder(t *testing.T) {
	engine, repo, rates, executor, _ := newTestEngine(t)
	ctx := context.Background()

	created := createBelowOrder(t, engine)

	rates.rates["ETH/USDT"] = 3100
	if err := engine.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}

	if executor.totalCalls() != 0 {
		t.Fatalf("expected no executor calls without trigger, got %d", executor.totalCalls())
	}
	updated, err := repo.Get(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !updated.Active {
		t.Error("expected untriggered order to stay active")
	}
}

func TestRunCycle_RateFailureLeavesOrderUntouched(t *testing.T) {
	engine, repo, rates, executor, _ := newTestEngine(t)
	ctx := context.Background()

	created := createBelowOrder(t, engine)

	rates.errs["ETH/USDT"] = errors.New("rate source unavailable")
	if err := engine.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}

	if executor.totalCalls() != 0 {
		t.Fatalf("expected no executor calls on rate failure, got %d", executor.totalCalls())
	}
	updated, err := repo.Get(ctx, "user-1", created.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !updated.Active {
		t.Error("expected order to stay active after transient rate failure")
	}
}

func TestCancel_OnlyWhileActive(t *testing.T) {
	engine, _, rates, _, _ := newTestEngine(t)
	ctx := context.Background()

	created := createBelowOrder(t, engine)

	rates.rates["ETH/USDT"] = 2990
	if err := engine.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle returned error: %v", err)
	}

	// 已消耗的订单不能再撤销
	if err := engine.Cancel(ctx, "user-1", created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound canceling consumed order, got %v", err)
	}
}
