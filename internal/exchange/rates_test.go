package exchange

import (
	"testing"

	"swapbot/internal/config"
)

func TestNewRates_UnsupportedExchange(t *testing.T) {
	if _, err := NewRates(config.ExchangeConfig{Name: "kraken"}, nil); err == nil {
		t.Fatal("expected error for unsupported exchange name")
	}
	if _, err := NewRates(config.ExchangeConfig{Name: ""}, nil); err == nil {
		t.Fatal("expected error for empty exchange name")
	}
}

func TestNewRates_NameCaseInsensitive(t *testing.T) {
	for _, name := range []string{"binance", "Binance", "BINANCE"} {
		if _, err := NewRates(config.ExchangeConfig{Name: name}, nil); err != nil {
			t.Errorf("NewRates(%q) returned error: %v", name, err)
		}
	}
}
