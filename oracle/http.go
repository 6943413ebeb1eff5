package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client reads quotes and funding rates from a price service over HTTP.
//
//	GET {base}/v1/prices/{symbol}  -> {"symbol","bid","ask","time"}
//	GET {base}/v1/funding/{symbol} -> {"symbol","rate","next_funding_time"}
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type priceResponse struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Time   time.Time       `json:"time"`
}

type fundingResponse struct {
	Symbol          string          `json:"symbol"`
	Rate            decimal.Decimal `json:"rate"`
	NextFundingTime time.Time       `json:"next_funding_time"`
}

// Tick fetches the current quote for symbol.
func (c *Client) Tick(ctx context.Context, symbol string) (Tick, error) {
	var resp priceResponse
	if err := c.get(ctx, "/v1/prices/"+url.PathEscape(symbol), &resp); err != nil {
		return Tick{}, err
	}
	return Tick{Symbol: symbol, Time: resp.Time, Bid: resp.Bid, Ask: resp.Ask}, nil
}

func (c *Client) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	t, err := c.Tick(ctx, symbol)
	if err != nil {
		return decimal.Zero, unavailable(symbol, err)
	}
	return checkPrice(symbol, t.Mid())
}

func (c *Client) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var resp fundingResponse
	if err := c.get(ctx, "/v1/funding/"+url.PathEscape(symbol), &resp); err != nil {
		return decimal.Zero, fmt.Errorf("funding rate %s: %w", symbol, err)
	}
	return resp.Rate, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
