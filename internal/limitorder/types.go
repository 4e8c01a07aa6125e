package limitorder

import (
	"fmt"
	"time"

	"swapbot/internal/exchange"
)

// Order 表示一条条件成立即执行的一次性限价兑换单。
// 触发即消耗：无论后续执行是否成功，订单都会被停用，保证至多一次执行尝试。
type Order struct {
	ID            string
	Owner         string
	Pair          exchange.Pair
	Amount        float64
	TargetRate    float64
	Direction     exchange.Direction
	SettleAddress string
	RefundAddress string
	Active        bool
	ExecutedAt    *time.Time
	ShiftID       string
	CreatedAt     time.Time
}

// CreateRequest 描述创建限价单所需的字段。
type CreateRequest struct {
	Owner         string
	Pair          exchange.Pair
	Amount        float64
	TargetRate    float64
	Direction     exchange.Direction
	SettleAddress string
	RefundAddress string
}

// Validate 校验创建请求。
func (r CreateRequest) Validate() error {
	if r.Owner == "" {
		return fmt.Errorf("limitorder: owner 不能为空")
	}
	if err := r.Pair.Validate(); err != nil {
		return err
	}
	if r.Amount <= 0 {
		return fmt.Errorf("limitorder: 兑换数量必须为正, got %v", r.Amount)
	}
	if r.TargetRate <= 0 {
		return fmt.Errorf("limitorder: 目标价必须为正, got %v", r.TargetRate)
	}
	if r.SettleAddress == "" {
		return fmt.Errorf("limitorder: 收款地址不能为空")
	}
	return r.Direction.Validate()
}

// shouldTrigger 使用闭区间比较判断限价单是否触发。
// 注意：警报引擎使用的是严格不等（>/<），两者的差异是刻意保留的既有行为，
// 统一前需要产品侧确认。
func shouldTrigger(o Order, rate float64) bool {
	switch o.Direction {
	case exchange.DirectionAbove:
		return rate >= o.TargetRate
	case exchange.DirectionBelow:
		return rate <= o.TargetRate
	default:
		return false
	}
}
