package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"lv-cfd/internal/apperr"

	"github.com/shopspring/decimal"
)

type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Oracle is the external price venue. It may be unavailable; executions must
// fail closed rather than run against a stale or synthetic price.
type Oracle interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
}

// OracleFunc adapts a plain function to the Oracle interface.
type OracleFunc func(ctx context.Context, symbol string) (Quote, error)

func (f OracleFunc) Quote(ctx context.Context, symbol string) (Quote, error) {
	return f(ctx, symbol)
}

// Client fetches last-trade quotes over HTTP with a bounded timeout.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type quoteResponse struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

func (c *Client) Quote(ctx context.Context, symbol string) (Quote, error) {
	u := fmt.Sprintf("%s/quote?symbol=%s", c.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Quote{}, apperr.Unavailable("price_unavailable", "price oracle request failed", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Quote{}, apperr.Unavailable("price_unavailable", "price oracle unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Quote{}, apperr.Unavailable("price_unavailable", fmt.Sprintf("price oracle returned %d", resp.StatusCode), nil)
	}
	var body quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, apperr.Unavailable("price_unavailable", "price oracle response malformed", err)
	}
	price, err := decimal.NewFromString(body.Price)
	if err != nil || !price.GreaterThan(decimal.Zero) {
		return Quote{}, apperr.Unavailable("price_unavailable", "price oracle returned invalid price", err)
	}
	return Quote{
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.UnixMilli(body.Timestamp).UTC(),
	}, nil
}
