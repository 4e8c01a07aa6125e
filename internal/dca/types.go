package dca

import (
	"fmt"
	"time"

	"swapbot/internal/exchange"
)

// Frequency 表示定投周期。
type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Validate 校验周期取值。
func (f Frequency) Validate() error {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return nil
	default:
		return fmt.Errorf("dca: 未知的定投周期 %q", string(f))
	}
}

// NextAfter 以 anchor 为锚点计算下一次执行时间。
// 月度使用日历月递增，跨月差异交给 AddDate 处理。
func (f Frequency) NextAfter(anchor time.Time) time.Time {
	switch f {
	case FrequencyHourly:
		return anchor.Add(time.Hour)
	case FrequencyDaily:
		return anchor.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return anchor.AddDate(0, 0, 7)
	case FrequencyMonthly:
		return anchor.AddDate(0, 1, 0)
	default:
		return anchor.AddDate(0, 0, 1)
	}
}

// Order 表示一条定投订单。
// 错过的周期不会补跑：每次执行后 NextExecutionAt 都从当下重新计算。
type Order struct {
	ID              string
	Owner           string
	Pair            exchange.Pair
	Amount          float64
	Frequency       Frequency
	SettleAddress   string
	RefundAddress   string
	Active          bool
	TotalExecutions int
	// MaxExecutions 为 0 表示不设上限。
	MaxExecutions   int
	LastExecutedAt  *time.Time
	NextExecutionAt time.Time
	CreatedAt       time.Time
}

// Execution 为一次定投执行的历史记录，失败也会留痕。
type Execution struct {
	OrderID    string
	ExecutedAt time.Time
	ShiftID    string
	Error      string
	Success    bool
}

// CreateRequest 描述创建定投订单所需的字段。
type CreateRequest struct {
	Owner         string
	Pair          exchange.Pair
	Amount        float64
	Frequency     Frequency
	SettleAddress string
	RefundAddress string
	MaxExecutions int
}

// Validate 校验创建请求。
func (r CreateRequest) Validate() error {
	if r.Owner == "" {
		return fmt.Errorf("dca: owner 不能为空")
	}
	if err := r.Pair.Validate(); err != nil {
		return err
	}
	if r.Amount <= 0 {
		return fmt.Errorf("dca: 单次定投数量必须为正, got %v", r.Amount)
	}
	if r.SettleAddress == "" {
		return fmt.Errorf("dca: 收款地址不能为空")
	}
	if r.MaxExecutions < 0 {
		return fmt.Errorf("dca: 执行上限不能为负, got %d", r.MaxExecutions)
	}
	return r.Frequency.Validate()
}
