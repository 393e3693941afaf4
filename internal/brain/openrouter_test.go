package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kyzlolabs/weatherbot/internal/exchange"
	"github.com/kyzlolabs/weatherbot/internal/ledger"
	"github.com/kyzlolabs/weatherbot/internal/weather"
)

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	})
	return string(b)
}

func openRouterAt(t *testing.T, url string) *OpenRouter {
	t.Helper()
	o, err := NewOpenRouter(OpenRouterConfig{APIKey: "sk-or-test", BaseURL: url})
	require.NoError(t, err)
	return o
}

func promptContext() Context {
	high := 66.0
	floor := 70.0
	return Context{
		PromptMD: "You are a disciplined weather trader.",
		Stats:    ledger.Stats{TotalTrades: 3, Wins: 2, Losses: 1, WinRate: 2.0 / 3.0},
		RecentTrades: []ledger.Row{
			{Timestamp: time.Date(2026, 3, 9, 20, 0, 0, 0, time.UTC), Ticker: "T1", Side: "yes", Shares: 25, PriceCents: 40, Result: ledger.ResultWin, PnLCents: 1500},
		},
		Market: exchange.MarketState{
			Ticker: "KXHIGHNY-26MAR10-T70", Title: "NYC high above 70",
			YesBid: 38, YesAsk: 40, NoBid: 58, NoAsk: 62,
			StrikeType: "greater", FloorStrike: &floor,
		},
		Orderbook: exchange.Orderbook{Yes: []exchange.PriceLevel{{PriceCents: 38, Quantity: 120}}},
		Weather: &weather.Snapshot{
			City: "New York", CurrentTempF: 61.5, ForecastHigh: 67.2,
			NWSForecastHigh: &high, NWSShortForecast: "Sunny",
			Ensemble:   &weather.Ensemble{MemberCount: 30, MeanHigh: 66.8, MinHigh: 63, MaxHigh: 71, StdDev: 1.7},
			Buckets:    []weather.Bucket{{Label: "66-68°F", Lower: 66, Upper: 68, Probability: 0.5}},
			Confidence: weather.ConfidenceHigh,
		},
	}
}

func TestOpenRouterRequiresAPIKey(t *testing.T) {
	_, err := NewOpenRouter(OpenRouterConfig{})
	require.Error(t, err)
}

func TestOpenRouterDecide(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, completion("```json\n{\"action\":\"BUY\",\"side\":\"yes\",\"shares\":25,\"max_price_cents\":40,\"reasoning\":\"forecast beats market\",\"edge_magnitude\":0.14}\n```"))
	}))
	t.Cleanup(srv.Close)

	d, err := openRouterAt(t, srv.URL).Decide(context.Background(), promptContext())
	require.NoError(t, err)
	require.Equal(t, ActionBuy, d.Action)
	require.Equal(t, exchange.SideYes, d.Side)
	require.Equal(t, 25, d.Shares)
	require.InDelta(t, 0.14, d.Edge, 1e-9)

	require.Equal(t, "Bearer sk-or-test", gotAuth)
	require.Equal(t, "moonshotai/kimi-k2.5", gotBody["model"])

	messages := gotBody["messages"].([]any)
	content := messages[0].(map[string]any)["content"].(string)
	require.Contains(t, content, "disciplined weather trader")
	require.Contains(t, content, "## STATS")
	require.Contains(t, content, "## MARKET")
	require.Contains(t, content, "## WEATHER FORECAST (New York)")
}

func TestOpenRouterUnparseableIsPass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, completion("I cannot commit to a structured answer today."))
	}))
	t.Cleanup(srv.Close)

	d, err := openRouterAt(t, srv.URL).Decide(context.Background(), promptContext())
	require.NoError(t, err, "a bad completion is a verdict, not a failure")
	require.Equal(t, ActionPass, d.Action)
	require.Equal(t, "Failed to parse model response", d.Rationale)
}

func TestOpenRouterTransportFailureIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	_, err := openRouterAt(t, srv.URL).Decide(context.Background(), promptContext())
	require.Error(t, err)
	require.Contains(t, err.Error(), "HTTP 502")
}

func TestOpenRouterEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": []}`)
	}))
	t.Cleanup(srv.Close)

	_, err := openRouterAt(t, srv.URL).Decide(context.Background(), promptContext())
	require.Error(t, err)
}

func TestBuildPromptSections(t *testing.T) {
	dc := promptContext()
	prompt := buildPrompt(dc)

	for _, section := range []string{"## STATS", "## LAST 1 TRADES", "## MARKET", "## ORDERBOOK", "## WEATHER FORECAST"} {
		require.Contains(t, prompt, section)
	}
	require.Contains(t, prompt, "Win rate: 66.7%")
	require.Contains(t, prompt, "38¢ x120")
	require.Contains(t, prompt, "Forecast confidence: HIGH")
	require.Contains(t, prompt, "66-68°F → 50%")
	require.True(t, strings.HasPrefix(prompt, dc.PromptMD))
}

func TestBuildPromptWithoutWeather(t *testing.T) {
	dc := promptContext()
	dc.Weather = nil
	prompt := buildPrompt(dc)
	require.Contains(t, prompt, "Unavailable this cycle")
}

func TestFormatTradesEmpty(t *testing.T) {
	require.Equal(t, "No trades yet.", formatTrades(nil))
}

func TestForecastAgreement(t *testing.T) {
	high := 66.0
	w := &weather.Snapshot{ForecastHigh: 66.5, NWSForecastHigh: &high}
	require.Contains(t, forecastAgreement(w), "Strong agreement")

	w.ForecastHigh = 68.5
	require.Contains(t, forecastAgreement(w), "Moderate agreement")

	w.ForecastHigh = 72.0
	require.Contains(t, forecastAgreement(w), "Disagreement")

	w.NWSForecastHigh = nil
	require.Contains(t, forecastAgreement(w), "NWS unavailable")
}
