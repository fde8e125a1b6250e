package marketdata

import (
	"context"
	"time"
)

// Market classifies a symbol to the upstream source that serves it
type Market string

const (
	MarketEquity Market = "equity"
	MarketIndex  Market = "index"
	MarketCrypto Market = "crypto"
	MarketForex  Market = "forex"
)

type Quote struct {
	Symbol        string    `json:"symbol"`
	Market        Market    `json:"market"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Volume        float64   `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
}

// Update is what a subscriber receives: a quote, or a fetch error scoped to
// the symbol. Cached marks a replay of the last cached quote delivered
// immediately on subscribe.
type Update struct {
	Symbol string `json:"symbol"`
	Quote  *Quote `json:"quote,omitempty"`
	Err    error  `json:"-"`
	Cached bool   `json:"cached,omitempty"`
}

// Subscriber is an opaque delivery target, transport is out of scope here.
// Deliver must not block, slow consumers drop updates on their own side.
type Subscriber interface {
	ID() string
	Deliver(Update)
}

// Source fetches the current quote for a symbol from an upstream provider
type Source interface {
	GetQuote(ctx context.Context, symbol string, market Market) (*Quote, error)
}
