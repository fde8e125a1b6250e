package marketdata

import (
	"context"
	"fmt"
	"strings"

	"github.com/tradevault/settlement-router/internal/lib"
)

var knownIndices = lib.NewSetFromSlice([]string{
	"SPX", "NDX", "DJI", "RUT", "VIX", "FTSE", "DAX", "N225", "HSI",
})

var cryptoBases = lib.NewSetFromSlice([]string{
	"BTC", "ETH", "SOL", "XRP", "ADA", "DOGE", "DOT", "LTC", "BNB", "AVAX",
})

var fiatCodes = lib.NewSetFromSlice([]string{
	"USD", "EUR", "GBP", "JPY", "CHF", "AUD", "CAD", "NZD",
})

// NormalizeSymbol uppercases and trims the subscription key
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ClassifySymbol dispatches a normalized symbol to its market:
// "^"-prefixed or known index tickers are indices, fiat/fiat pairs are forex,
// known crypto bases (bare or paired) are crypto, everything else is equity.
func ClassifySymbol(symbol string) Market {
	symbol = NormalizeSymbol(symbol)

	if strings.HasPrefix(symbol, "^") {
		return MarketIndex
	}
	if knownIndices.Contains(symbol) {
		return MarketIndex
	}

	if base, quote, ok := splitPair(symbol); ok {
		if fiatCodes.Contains(base) && fiatCodes.Contains(quote) {
			return MarketForex
		}
		if cryptoBases.Contains(base) {
			return MarketCrypto
		}
	}

	if cryptoBases.Contains(symbol) {
		return MarketCrypto
	}

	return MarketEquity
}

func splitPair(symbol string) (base, quote string, ok bool) {
	for _, sep := range []string{"/", "-"} {
		if parts := strings.SplitN(symbol, sep, 2); len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return parts[0], parts[1], true
		}
	}
	// six-letter forex convention, e.g. EURUSD
	if len(symbol) == 6 && fiatCodes.Contains(symbol[:3]) && fiatCodes.Contains(symbol[3:]) {
		return symbol[:3], symbol[3:], true
	}
	return "", "", false
}

// SourceMux routes quote fetches to the source registered for the symbol's
// market classification
type SourceMux struct {
	sources map[Market]Source
}

func NewSourceMux(sources map[Market]Source) *SourceMux {
	return &SourceMux{sources: sources}
}

func (m *SourceMux) GetQuote(ctx context.Context, symbol string, market Market) (*Quote, error) {
	src, ok := m.sources[market]
	if !ok {
		return nil, lib.WrapError(ErrNoSource, fmt.Errorf("market %q", market))
	}
	return src.GetQuote(ctx, symbol, market)
}
