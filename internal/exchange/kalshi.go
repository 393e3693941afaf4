package exchange

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kyzlolabs/weatherbot/internal/observ"
)

// KalshiClient implements Exchange against the Kalshi trade API for one
// series ticker (one city's temperature event family).
type KalshiClient struct {
	baseURL      string
	seriesTicker string
	keyID        string
	privateKey   *rsa.PrivateKey
	httpClient   *http.Client
	rateLimiter  *rate.Limiter
	maxRetries   int
	backoffBase  time.Duration
	now          func() time.Time
}

// KalshiConfig holds construction parameters for the Kalshi client.
type KalshiConfig struct {
	BaseURL        string
	SeriesTicker   string
	KeyID          string
	PrivateKeyPEM  string
	TimeoutSeconds int
	RatePerSecond  float64
	MaxRetries     int
	BackoffBaseMs  int
}

// NewKalshiClient parses the signing key and applies defaults.
func NewKalshiClient(cfg KalshiConfig) (*KalshiClient, error) {
	if cfg.SeriesTicker == "" {
		return nil, fmt.Errorf("series ticker is required")
	}
	key, err := parsePrivateKey(cfg.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("kalshi private key: %w", err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elections.kalshi.com/trade-api/v2"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBaseMs <= 0 {
		cfg.BackoffBaseMs = 250
	}
	return &KalshiClient{
		baseURL:      cfg.BaseURL,
		seriesTicker: cfg.SeriesTicker,
		keyID:        cfg.KeyID,
		privateKey:   key,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		maxRetries:  cfg.MaxRetries,
		backoffBase: time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		now:         time.Now,
	}, nil
}

func parsePrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return key, nil
}

// sign produces the KALSHI-ACCESS-SIGNATURE value: RSA-PSS over
// timestamp+method+path.
func (c *KalshiClient) sign(timestampMs, method, path string) (string, error) {
	digest := sha256.Sum256([]byte(timestampMs + method + path))
	sig, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// doJSON performs one signed request with rate limiting and bounded retry on
// 429/5xx, decoding the response into out when out is non-nil.
func (c *KalshiClient) doJSON(ctx context.Context, op, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return newAPIError(op, fmt.Sprintf("encode request: %v", err))
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return newNetworkError(op, "cancelled during backoff", ctx.Err())
			}
		}
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return newNetworkError(op, "rate limit wait cancelled", err)
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return newNetworkError(op, "failed to create request", err)
		}
		timestampMs := strconv.FormatInt(c.now().UnixMilli(), 10)
		// Signature covers the path without query string.
		signPath := "/trade-api/v2" + stripQuery(path)
		sig, err := c.sign(timestampMs, method, signPath)
		if err != nil {
			return &APIError{Type: "auth", Op: op, Message: "request signing failed", Cause: err}
		}
		req.Header.Set("KALSHI-ACCESS-KEY", c.keyID)
		req.Header.Set("KALSHI-ACCESS-SIGNATURE", sig)
		req.Header.Set("KALSHI-ACCESS-TIMESTAMP", timestampMs)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = newNetworkError(op, "request failed", err)
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = newNetworkError(op, "read response", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = newRateLimitError(op, "venue rate limit exceeded")
			continue
		case resp.StatusCode >= 500:
			lastErr = newAPIError(op, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(respBody, 200)))
			continue
		case resp.StatusCode >= 400:
			return newAPIError(op, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(respBody, 200)))
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return newDecodeError(op, err)
		}
		return nil
	}
	return lastErr
}

func stripQuery(path string) string {
	for i := 0; i < len(path); i++ {
		if path[i] == '?' {
			return path[:i]
		}
	}
	return path
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

type kalshiMarket struct {
	Ticker       string   `json:"ticker"`
	EventTicker  string   `json:"event_ticker"`
	Title        string   `json:"title"`
	YesBid       int      `json:"yes_bid"`
	YesAsk       int      `json:"yes_ask"`
	NoBid        int      `json:"no_bid"`
	NoAsk        int      `json:"no_ask"`
	LastPrice    int      `json:"last_price"`
	Volume       int64    `json:"volume"`
	Volume24h    int64    `json:"volume_24h"`
	OpenInterest int64    `json:"open_interest"`
	ExpirationTS string   `json:"expiration_time"`
	FloorStrike  *float64 `json:"floor_strike"`
	CapStrike    *float64 `json:"cap_strike"`
	StrikeType   string   `json:"strike_type"`
}

// ActiveMarkets returns the open brackets of the nearest-expiring event under
// the configured series ticker.
func (c *KalshiClient) ActiveMarkets(ctx context.Context) ([]MarketState, error) {
	var resp struct {
		Markets []kalshiMarket `json:"markets"`
	}
	path := fmt.Sprintf("/markets?series_ticker=%s&status=open&limit=100", c.seriesTicker)
	if err := c.doJSON(ctx, "active_markets", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	now := c.now()
	markets := make([]MarketState, 0, len(resp.Markets))
	for _, km := range resp.Markets {
		exp, err := time.Parse(time.RFC3339, km.ExpirationTS)
		if err != nil {
			observ.Warn("market_bad_expiration", map[string]any{"ticker": km.Ticker, "value": km.ExpirationTS})
			continue
		}
		markets = append(markets, MarketState{
			Ticker:          km.Ticker,
			EventTicker:     km.EventTicker,
			Title:           km.Title,
			YesBid:          km.YesBid,
			YesAsk:          km.YesAsk,
			NoBid:           km.NoBid,
			NoAsk:           km.NoAsk,
			LastPrice:       km.LastPrice,
			Volume:          km.Volume,
			Volume24h:       km.Volume24h,
			OpenInterest:    km.OpenInterest,
			ExpirationTime:  exp,
			MinutesToExpiry: exp.Sub(now).Minutes(),
			FloorStrike:     km.FloorStrike,
			CapStrike:       km.CapStrike,
			StrikeType:      km.StrikeType,
		})
	}
	if len(markets) == 0 {
		return nil, nil
	}

	// Nearest event only: group brackets by event ticker, keep the family
	// whose earliest expiration comes first.
	sort.SliceStable(markets, func(i, j int) bool {
		return markets[i].ExpirationTime.Before(markets[j].ExpirationTime)
	})
	nearest := markets[0].EventTicker
	out := markets[:0]
	for _, m := range markets {
		if m.EventTicker == nearest {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *KalshiClient) Orderbook(ctx context.Context, ticker string) (Orderbook, error) {
	var resp struct {
		Orderbook struct {
			Yes [][]int `json:"yes"`
			No  [][]int `json:"no"`
		} `json:"orderbook"`
	}
	path := fmt.Sprintf("/markets/%s/orderbook", ticker)
	if err := c.doJSON(ctx, "orderbook", http.MethodGet, path, nil, &resp); err != nil {
		return Orderbook{}, err
	}
	return Orderbook{
		Yes: toLevels(resp.Orderbook.Yes),
		No:  toLevels(resp.Orderbook.No),
	}, nil
}

func toLevels(raw [][]int) []PriceLevel {
	levels := make([]PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		levels = append(levels, PriceLevel{PriceCents: pair[0], Quantity: pair[1]})
	}
	return levels
}

// RestingOrders returns this series' resting orders. The venue's listing is
// portfolio-wide, so orders under other series tickers are filtered out here;
// one city's reap must never touch another city's order.
func (c *KalshiClient) RestingOrders(ctx context.Context) ([]RestingOrder, error) {
	var resp struct {
		Orders []struct {
			OrderID string `json:"order_id"`
			Ticker  string `json:"ticker"`
		} `json:"orders"`
	}
	if err := c.doJSON(ctx, "resting_orders", http.MethodGet, "/portfolio/orders?status=resting", nil, &resp); err != nil {
		return nil, err
	}
	orders := make([]RestingOrder, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		if !strings.HasPrefix(o.Ticker, c.seriesTicker+"-") {
			continue
		}
		orders = append(orders, RestingOrder{OrderID: o.OrderID, Ticker: o.Ticker})
	}
	return orders, nil
}

func (c *KalshiClient) CancelOrder(ctx context.Context, orderID string) error {
	return c.doJSON(ctx, "cancel_order", http.MethodDelete, "/portfolio/orders/"+orderID, nil, nil)
}

func (c *KalshiClient) Settlements(ctx context.Context, ticker string) ([]Settlement, error) {
	var resp struct {
		Settlements []struct {
			Ticker       string `json:"ticker"`
			MarketResult string `json:"market_result"`
			YesCount     int    `json:"yes_count"`
			NoCount      int    `json:"no_count"`
			Revenue      int64  `json:"revenue"`
			YesTotalCost int64  `json:"yes_total_cost"`
			NoTotalCost  int64  `json:"no_total_cost"`
			SettledTime  string `json:"settled_time"`
		} `json:"settlements"`
	}
	path := fmt.Sprintf("/portfolio/settlements?ticker=%s&limit=10", ticker)
	if err := c.doJSON(ctx, "settlements", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]Settlement, 0, len(resp.Settlements))
	for _, s := range resp.Settlements {
		side := SideYes
		count := s.YesCount
		cost := s.YesTotalCost
		if s.NoCount > s.YesCount {
			side = SideNo
			count = s.NoCount
			cost = s.NoTotalCost
		}
		pnl := s.Revenue - cost
		result := "loss"
		if pnl > 0 {
			result = "win"
		}
		settled, err := time.Parse(time.RFC3339, s.SettledTime)
		if err != nil {
			settled = c.now()
		}
		price := 0
		if count > 0 {
			price = int(cost) / count
		}
		out = append(out, Settlement{
			Ticker:       s.Ticker,
			Side:         side,
			Count:        count,
			PriceCents:   price,
			Result:       result,
			PnLCents:     pnl,
			SettledTime:  settled,
			MarketResult: s.MarketResult,
		})
	}
	return out, nil
}

func (c *KalshiClient) Balance(ctx context.Context) (int64, error) {
	var resp struct {
		Balance int64 `json:"balance"`
	}
	if err := c.doJSON(ctx, "balance", http.MethodGet, "/portfolio/balance", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

func (c *KalshiClient) Positions(ctx context.Context) ([]Position, error) {
	var resp struct {
		MarketPositions []struct {
			Ticker   string `json:"ticker"`
			Position int    `json:"position"` // signed: + yes, - no
		} `json:"market_positions"`
	}
	if err := c.doJSON(ctx, "positions", http.MethodGet, "/portfolio/positions", nil, &resp); err != nil {
		return nil, err
	}
	positions := make([]Position, 0, len(resp.MarketPositions))
	for _, p := range resp.MarketPositions {
		if p.Position == 0 {
			continue
		}
		side := SideYes
		count := p.Position
		if count < 0 {
			side = SideNo
			count = -count
		}
		positions = append(positions, Position{Ticker: p.Ticker, Side: side, Count: count})
	}
	return positions, nil
}

func (c *KalshiClient) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	body := map[string]any{
		"ticker":          req.Ticker,
		"client_order_id": uuid.NewString(),
		"action":          "buy",
		"side":            string(req.Side),
		"count":           req.Shares,
		"type":            "limit",
	}
	if req.Side == SideYes {
		body["yes_price"] = req.PriceCents
	} else {
		body["no_price"] = req.PriceCents
	}
	var resp struct {
		Order struct {
			OrderID string `json:"order_id"`
			Status  string `json:"status"`
		} `json:"order"`
	}
	if err := c.doJSON(ctx, "place_order", http.MethodPost, "/portfolio/orders", body, &resp); err != nil {
		return OrderResult{}, err
	}
	return OrderResult{OrderID: resp.Order.OrderID, Status: resp.Order.Status}, nil
}
