package alert

import (
	"fmt"
	"time"

	"swapbot/internal/exchange"
)

// Alert 表示一条用户定义的价格警报。
// 触发后立即失效：Triggered=true 的警报必然 Active=false。
type Alert struct {
	ID          string
	Owner       string
	Pair        exchange.Pair
	TargetRate  float64
	Direction   exchange.Direction
	Active      bool
	Triggered   bool
	TriggeredAt *time.Time
	CreatedAt   time.Time
}

// CreateRequest 描述创建警报所需的字段。
type CreateRequest struct {
	Owner      string
	Pair       exchange.Pair
	TargetRate float64
	Direction  exchange.Direction
}

// Validate 校验创建请求。
func (r CreateRequest) Validate() error {
	if r.Owner == "" {
		return fmt.Errorf("alert: owner 不能为空")
	}
	if err := r.Pair.Validate(); err != nil {
		return err
	}
	if r.TargetRate <= 0 {
		return fmt.Errorf("alert: 目标价必须为正, got %v", r.TargetRate)
	}
	return r.Direction.Validate()
}

// shouldTrigger 使用严格不等判断警报是否触发。
// 注意：限价单引擎使用的是闭区间比较（>=/<=），两者的差异是刻意保留的
// 既有行为，统一前需要产品侧确认。
func shouldTrigger(a Alert, rate float64) bool {
	switch a.Direction {
	case exchange.DirectionAbove:
		return rate > a.TargetRate
	case exchange.DirectionBelow:
		return rate < a.TargetRate
	default:
		return false
	}
}
