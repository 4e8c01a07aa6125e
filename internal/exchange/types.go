package exchange

import (
	"context"
	"fmt"
	"strings"
)

// Pair 表示一个兑换币对，From 为支付币种，To 为目标币种。
type Pair struct {
	FromCoin string `json:"fromCoin"`
	ToCoin   string `json:"toCoin"`
}

// Symbol 返回 ccxt 风格的交易对符号，如 BTC/USDT。
func (p Pair) Symbol() string {
	return fmt.Sprintf("%s/%s", strings.ToUpper(p.FromCoin), strings.ToUpper(p.ToCoin))
}

// Validate 校验币对是否完整。
func (p Pair) Validate() error {
	if strings.TrimSpace(p.FromCoin) == "" || strings.TrimSpace(p.ToCoin) == "" {
		return fmt.Errorf("exchange: 币对不完整: %q/%q", p.FromCoin, p.ToCoin)
	}
	return nil
}

// Direction 表示触发条件的方向。
type Direction string

const (
	// DirectionAbove 表示行情高于目标价时触发。
	DirectionAbove Direction = "above"
	// DirectionBelow 表示行情低于目标价时触发。
	DirectionBelow Direction = "below"
)

// Validate 校验方向取值。
func (d Direction) Validate() error {
	switch d {
	case DirectionAbove, DirectionBelow:
		return nil
	default:
		return fmt.Errorf("exchange: 未知的方向 %q", string(d))
	}
}

// RateProvider 提供币对的当前汇率。
type RateProvider interface {
	FetchRate(ctx context.Context, pair Pair) (float64, error)
}
