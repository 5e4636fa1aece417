// Package exchange implements the REST adapter for exchange ground truth.
// The engine only ever reads from the exchange; order placement lives with
// the strategy agents, outside this process.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"positionengine/internal/domain"
)

// ClientConfig holds connection and credential parameters for the exchange
// REST API.
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	// RequestsPerSecond caps outbound request rate. Zero means 5 req/s.
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client is the REST client for the exchange account API. It implements
// domain.ExchangeAdapter.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  []byte
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewClient creates a new exchange REST client.
func NewClient(cfg ClientConfig) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		apiSecret: []byte(cfg.APISecret),
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchOpenPositions returns the account's open positions as the exchange
// reports them, netted per (symbol, side).
func (c *Client) FetchOpenPositions(ctx context.Context) ([]domain.RemotePosition, error) {
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/v1/account/positions")
	if err != nil {
		return nil, fmt.Errorf("exchange: fetch positions: %w", err)
	}

	var resp struct {
		Positions []remotePosition `json:"positions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("exchange: decode positions: %w", err)
	}

	out := make([]domain.RemotePosition, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		rp, err := p.toDomain()
		if err != nil {
			return nil, fmt.Errorf("exchange: position %s: %w", p.Symbol, err)
		}
		out = append(out, rp)
	}
	return out, nil
}

// FetchBalance returns the account balance.
func (c *Client) FetchBalance(ctx context.Context) (domain.Balance, error) {
	body, err := c.doSignedRequest(ctx, http.MethodGet, "/v1/account/balance")
	if err != nil {
		return domain.Balance{}, fmt.Errorf("exchange: fetch balance: %w", err)
	}

	var resp struct {
		Currency  string `json:"currency"`
		Total     string `json:"total"`
		Available string `json:"available"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Balance{}, fmt.Errorf("exchange: decode balance: %w", err)
	}

	total, err := decimal.NewFromString(resp.Total)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("exchange: parse total %q: %w", resp.Total, err)
	}
	available, err := decimal.NewFromString(resp.Available)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("exchange: parse available %q: %w", resp.Available, err)
	}

	return domain.Balance{
		Currency:  resp.Currency,
		Total:     total,
		Available: available,
	}, nil
}

// remotePosition is the wire form; amounts travel as strings.
type remotePosition struct {
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Amount string `json:"amount"`
}

func (p remotePosition) toDomain() (domain.RemotePosition, error) {
	side := domain.Side(p.Side)
	if !side.Valid() {
		return domain.RemotePosition{}, fmt.Errorf("unknown side %q", p.Side)
	}
	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return domain.RemotePosition{}, fmt.Errorf("parse amount %q: %w", p.Amount, err)
	}
	return domain.RemotePosition{
		Symbol: p.Symbol,
		Side:   side,
		Amount: amount,
	}, nil
}

// doSignedRequest rate-limits, builds, signs, sends, and reads an HTTP
// request against the exchange API.
func (c *Client) doSignedRequest(ctx context.Context, method, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.signRequest(req, method, path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// signRequest adds HMAC authentication headers. The signature covers
// timestamp + method + path with SHA-256.
func (c *Client) signRequest(req *http.Request, method, path string) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	mac := hmac.New(sha256.New, c.apiSecret)
	mac.Write([]byte(ts + method + path))

	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("X-API-SIGNATURE", hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("X-API-TIMESTAMP", ts)
}

// checkStatus maps non-2xx HTTP status codes to errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("exchange: unauthorized: %s (%s)", apiErr.Message, apiErr.Code)
	case http.StatusTooManyRequests:
		return fmt.Errorf("exchange: rate limited: %s (%s)", apiErr.Message, apiErr.Code)
	case http.StatusNotFound:
		return fmt.Errorf("exchange: not found: %s (%s)", apiErr.Message, apiErr.Code)
	default:
		return fmt.Errorf("exchange: HTTP %d: %s (%s)", statusCode, apiErr.Message, apiErr.Code)
	}
}

var _ domain.ExchangeAdapter = (*Client)(nil)
