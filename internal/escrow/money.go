package escrow

import "strings"

// Currency describes a supported settlement currency. Exponent is the number
// of decimal places of the minor unit, amounts are carried in minor units.
type Currency struct {
	Code     string
	Exponent int
}

type CurrencyRegistry struct {
	byCode map[string]Currency
}

func NewCurrencyRegistry(currencies ...Currency) *CurrencyRegistry {
	byCode := make(map[string]Currency, len(currencies))
	for _, c := range currencies {
		byCode[strings.ToUpper(c.Code)] = c
	}
	return &CurrencyRegistry{byCode: byCode}
}

// DefaultCurrencyRegistry lists the currencies the platform settles in
func DefaultCurrencyRegistry() *CurrencyRegistry {
	return NewCurrencyRegistry(
		Currency{Code: "USD", Exponent: 2},
		Currency{Code: "EUR", Exponent: 2},
		Currency{Code: "GBP", Exponent: 2},
		Currency{Code: "USDT", Exponent: 6},
		Currency{Code: "USDC", Exponent: 6},
		Currency{Code: "BTC", Exponent: 8},
		Currency{Code: "ETH", Exponent: 8},
	)
}

func (r *CurrencyRegistry) Get(code string) (Currency, bool) {
	c, ok := r.byCode[strings.ToUpper(code)]
	return c, ok
}

func (r *CurrencyRegistry) Supports(code string) bool {
	_, ok := r.Get(code)
	return ok
}

// SplitFee computes the platform fee for an amount in minor units, fee rate
// given in basis points. Rounding is half-to-even on the minor unit so the
// split carries no systematic bias. Guaranteed: fee + payee == amount.
func SplitFee(amount int64, feeRateBps int64) (fee int64, payee int64) {
	const denom = 10_000

	product := amount * feeRateBps
	fee = product / denom
	rem := product % denom

	switch {
	case rem*2 > denom:
		fee++
	case rem*2 == denom:
		if fee%2 != 0 { // round half to even
			fee++
		}
	}

	return fee, amount - fee
}
