// Package quotes implements upstream quote sources for the market fan-out.
package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tradevault/settlement-router/internal/lib"
	"github.com/tradevault/settlement-router/internal/marketdata"
)

// HTTPSource fetches quotes from a JSON REST endpoint of the shape
// GET {baseURL}/quote?symbol=...&market=...
type HTTPSource struct {
	baseURL *url.URL
	client  *http.Client
}

type quoteResponse struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	Volume        float64 `json:"volume"`
	Timestamp     int64   `json:"timestamp"`
}

func NewHTTPSource(baseURL *url.URL, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) GetQuote(ctx context.Context, symbol string, market marketdata.Market) (*marketdata.Quote, error) {
	reqURL := *s.baseURL
	reqURL.Path = reqURL.Path + "/quote"
	q := reqURL.Query()
	q.Set("symbol", symbol)
	q.Set("market", string(market))
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, err
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, lib.WrapError(marketdata.ErrQuoteUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, lib.WrapError(marketdata.ErrQuoteUnavailable, fmt.Errorf("upstream status %d for %s", res.StatusCode, symbol))
	}

	var body quoteResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, lib.WrapError(marketdata.ErrQuoteUnavailable, err)
	}

	return &marketdata.Quote{
		Symbol:        symbol,
		Market:        market,
		Price:         body.Price,
		Change:        body.Change,
		ChangePercent: body.ChangePercent,
		Volume:        body.Volume,
		Timestamp:     time.Unix(body.Timestamp, 0),
	}, nil
}
