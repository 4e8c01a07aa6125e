package session

import (
	"errors"
	"time"

	"swapbot/internal/exchange"
	"swapbot/internal/scheduler"
	"swapbot/internal/shift"
)

// State 表示手动兑换会话所处的阶段。
type State string

const (
	// StateCollecting 正在收集兑换参数。
	StateCollecting State = "collecting_parameters"
	// StateAwaitingConfirmation 参数齐备，等待用户确认报价。
	StateAwaitingConfirmation State = "awaiting_confirmation"
	// StateAwaitingAddress 报价已锁定，等待用户提供收款地址。
	StateAwaitingAddress State = "awaiting_destination_address"
	// StateAwaitingFunds 兑换单已创建，等待用户入金并轮询状态。
	StateAwaitingFunds State = "awaiting_funds"
)

var (
	// ErrNoSession 表示该用户当前没有进行中的会话。
	ErrNoSession = errors.New("session: 没有进行中的兑换会话")
	// ErrInvalidState 表示操作与会话当前阶段不符。
	ErrInvalidState = errors.New("session: 会话状态不允许该操作")
)

// Fields 为用户逐步补齐的兑换参数。
type Fields struct {
	Pair          exchange.Pair
	Amount        float64
	FromNetwork   string
	ToNetwork     string
	SettleAddress string
	RefundAddress string
}

// merge 将非零字段并入现有参数。
func (f *Fields) merge(in Fields) {
	if in.Pair.FromCoin != "" {
		f.Pair.FromCoin = in.Pair.FromCoin
	}
	if in.Pair.ToCoin != "" {
		f.Pair.ToCoin = in.Pair.ToCoin
	}
	if in.Amount > 0 {
		f.Amount = in.Amount
	}
	if in.FromNetwork != "" {
		f.FromNetwork = in.FromNetwork
	}
	if in.ToNetwork != "" {
		f.ToNetwork = in.ToNetwork
	}
	if in.SettleAddress != "" {
		f.SettleAddress = in.SettleAddress
	}
	if in.RefundAddress != "" {
		f.RefundAddress = in.RefundAddress
	}
}

// ready 判断是否已集齐进入确认阶段所需的参数。
func (f Fields) ready() bool {
	return f.Pair.Validate() == nil && f.Amount > 0
}

// Session 为单个用户的进行中兑换会话。每个用户至多一个，
// 被替换或清除时其持有的计时器一并取消。
type Session struct {
	Owner          string
	State          State
	Fields         Fields
	Quote          shift.Quote
	ShiftID        string
	LastStatus     shift.Status
	CreatedAt      time.Time
	ShiftCreatedAt time.Time

	// 会话只保存计时器的取消令牌，不持有运行期计时器对象。
	pollToken   scheduler.Token
	expiryToken scheduler.Token
}
