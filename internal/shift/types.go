package shift

import (
	"time"

	"swapbot/internal/exchange"
)

// Status 表示兑换单在外部服务端的状态。
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSettling   Status = "settling"
	StatusSettled    Status = "settled"
	StatusRefunded   Status = "refunded"
	StatusRejected   Status = "rejected"
	StatusExpired    Status = "expired"
)

// IsTerminal 判断状态是否为终态，终态后不再轮询。
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSettled, StatusRefunded, StatusRejected, StatusExpired:
		return true
	default:
		return false
	}
}

// QuoteRequest 描述一次报价请求。
type QuoteRequest struct {
	Pair        exchange.Pair
	FromNetwork string
	ToNetwork   string
	Amount      float64
}

// Quote 为服务端返回的限时报价。
type Quote struct {
	ID           string    `json:"id"`
	Rate         float64   `json:"rate,string"`
	SettleAmount float64   `json:"settleAmount,string"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Shift 为服务端的兑换单记录。
type Shift struct {
	ID             string    `json:"id"`
	QuoteID        string    `json:"quoteId"`
	DepositCoin    string    `json:"depositCoin"`
	DepositAddress string    `json:"depositAddress"`
	DepositAmount  float64   `json:"depositAmount,string"`
	SettleCoin     string    `json:"settleCoin"`
	SettleAddress  string    `json:"settleAddress"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
}
