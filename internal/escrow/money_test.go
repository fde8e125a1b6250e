package escrow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitFee(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		bps    int64
		fee    int64
		payee  int64
	}{
		{"5 percent of 300.00", 30000, 500, 1500, 28500},
		{"zero rate", 30000, 0, 0, 30000},
		{"full rate", 30000, 10000, 30000, 0},
		{"rounds half to even up", 30, 500, 2, 28},   // 1.5 -> 2
		{"rounds half to even down", 50, 500, 2, 48}, // 2.5 -> 2
		{"rounds below half down", 149, 100, 1, 148}, // 1.49 -> 1
		{"rounds above half up", 151, 100, 2, 149},   // 1.51 -> 2
		{"one minor unit", 1, 500, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, payee := SplitFee(tt.amount, tt.bps)
			require.Equal(t, tt.fee, fee)
			require.Equal(t, tt.payee, payee)
		})
	}
}

func TestSplitFeeConserves(t *testing.T) {
	// fee + payee must equal amount for any input
	for amount := int64(1); amount < 2000; amount++ {
		for _, bps := range []int64{1, 25, 250, 333, 500, 9999} {
			fee, payee := SplitFee(amount, bps)
			require.Equal(t, amount, fee+payee, "amount %d bps %d", amount, bps)
			require.GreaterOrEqual(t, fee, int64(0))
			require.GreaterOrEqual(t, payee, int64(0))
		}
	}
}

func TestCurrencyRegistry(t *testing.T) {
	reg := DefaultCurrencyRegistry()

	usd, ok := reg.Get("usd")
	require.True(t, ok, "lookup is case-insensitive")
	require.Equal(t, "USD", usd.Code)
	require.Equal(t, 2, usd.Exponent)

	require.True(t, reg.Supports("ETH"))
	require.False(t, reg.Supports("XYZ"))
}
