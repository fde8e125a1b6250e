package marketdata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeSymbol(t *testing.T) {
	require.Equal(t, "AAPL", NormalizeSymbol("  aapl "))
	require.Equal(t, "BTC/USD", NormalizeSymbol("btc/usd"))
	require.Equal(t, "", NormalizeSymbol("   "))
}

func TestClassifySymbol(t *testing.T) {
	tests := []struct {
		symbol string
		market Market
	}{
		{"AAPL", MarketEquity},
		{"tsla", MarketEquity},
		{"^GSPC", MarketIndex},
		{"SPX", MarketIndex},
		{"NDX", MarketIndex},
		{"BTC", MarketCrypto},
		{"BTC/USD", MarketCrypto},
		{"eth-usdt", MarketCrypto},
		{"EUR/USD", MarketForex},
		{"EURUSD", MarketForex},
		{"GBPJPY", MarketForex},
		{"USDXYZ", MarketEquity}, // half a forex pair is not forex
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			require.Equal(t, tt.market, ClassifySymbol(tt.symbol))
		})
	}
}
