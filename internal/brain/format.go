package brain

import (
	"fmt"
	"math"
	"strings"

	"github.com/kyzlolabs/weatherbot/internal/exchange"
	"github.com/kyzlolabs/weatherbot/internal/ledger"
	"github.com/kyzlolabs/weatherbot/internal/weather"
)

func formatStats(s ledger.Stats) string {
	return fmt.Sprintf(
		"Trades: %d | W/L: %d/%d | Win rate: %.1f%% | P&L: %d¢ | Today: %d¢ | Streak: %d | Drawdown: %d¢",
		s.TotalTrades, s.Wins, s.Losses, s.WinRate*100,
		s.TotalPnLCents, s.TodayPnLCents, s.CurrentStreak, s.MaxDrawdown)
}

func formatTrades(trades []ledger.Row) string {
	if len(trades) == 0 {
		return "No trades yet."
	}
	lines := make([]string, 0, len(trades))
	for _, t := range trades {
		lines = append(lines, fmt.Sprintf(
			"%s | %s | %s | %dx @ %d¢ | %s | %d¢",
			t.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
			t.Ticker, t.Side, t.Shares, t.PriceCents, t.Result, t.PnLCents))
	}
	return strings.Join(lines, "\n")
}

func formatMarket(m exchange.MarketState) string {
	return fmt.Sprintf(
		"Ticker: %s | Title: %s | Yes bid/ask: %d/%d | No bid/ask: %d/%d | Last: %d | Vol: %d | 24h Vol: %d | OI: %d | Expiry: %s (%.1fmin)",
		m.Ticker, m.Title, m.YesBid, m.YesAsk, m.NoBid, m.NoAsk,
		m.LastPrice, m.Volume, m.Volume24h, m.OpenInterest,
		m.ExpirationTime.Format("2006-01-02T15:04:05Z07:00"), m.MinutesToExpiry)
}

func formatOrderbookSide(levels []exchange.PriceLevel) string {
	if len(levels) == 0 {
		return "empty"
	}
	if len(levels) > 5 {
		levels = levels[:5]
	}
	parts := make([]string, 0, len(levels))
	for _, lvl := range levels {
		parts = append(parts, fmt.Sprintf("%d¢ x%d", lvl.PriceCents, lvl.Quantity))
	}
	return strings.Join(parts, ", ")
}

// forecastAgreement compares the NWS high against Open-Meteo's.
func forecastAgreement(w *weather.Snapshot) string {
	if w.NWSForecastHigh == nil {
		return fmt.Sprintf("NWS unavailable. Open-Meteo forecast high: %.0f°F", w.ForecastHigh)
	}
	nws := *w.NWSForecastHigh
	diff := math.Abs(nws - w.ForecastHigh)
	switch {
	case diff <= 1.0:
		return fmt.Sprintf("Strong agreement: NWS %.0f°F vs Open-Meteo %.0f°F (within 1°F)", nws, w.ForecastHigh)
	case diff <= 3.0:
		return fmt.Sprintf("Moderate agreement: NWS %.0f°F vs Open-Meteo %.0f°F (%.0f°F apart)", nws, w.ForecastHigh, diff)
	default:
		return fmt.Sprintf("Disagreement: NWS %.0f°F vs Open-Meteo %.0f°F (%.0f°F apart)", nws, w.ForecastHigh, diff)
	}
}

func ensembleSummary(e *weather.Ensemble) string {
	return fmt.Sprintf(
		"%d members | Mean: %.1f°F | Range: %.0f–%.0f°F | Std dev: %.1f°F | P10/P25/P75/P90: %.0f/%.0f/%.0f/%.0f°F",
		e.MemberCount, e.MeanHigh, e.MinHigh, e.MaxHigh, e.StdDev, e.P10, e.P25, e.P75, e.P90)
}

// formatWeather renders the narrative the reasoning service sees.
func formatWeather(w *weather.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current temp: %.1f°F\n", w.CurrentTempF)

	switch w.Confidence {
	case weather.ConfidenceHigh:
		b.WriteString("Forecast confidence: HIGH (<2°F std dev)\n")
	case weather.ConfidenceMedium:
		b.WriteString("Forecast confidence: MEDIUM (2-4°F std dev)\n")
	case weather.ConfidenceLow:
		b.WriteString("Forecast confidence: LOW (>4°F std dev)\n")
	}
	fmt.Fprintf(&b, "Source agreement: %s\n", forecastAgreement(w))

	if w.NWSForecastHigh != nil {
		fmt.Fprintf(&b, "NWS forecast high: %.0f°F", *w.NWSForecastHigh)
		if w.NWSShortForecast != "" {
			fmt.Fprintf(&b, " (%s)", w.NWSShortForecast)
		}
		b.WriteString("\n")
	}
	if w.NWSForecastLow != nil {
		fmt.Fprintf(&b, "NWS forecast low: %.0f°F\n", *w.NWSForecastLow)
	}
	fmt.Fprintf(&b, "Open-Meteo forecast high: %.1f°F\n", w.ForecastHigh)

	if w.Ensemble != nil {
		fmt.Fprintf(&b, "Ensemble: %s\n", ensembleSummary(w.Ensemble))
	}
	if len(w.Buckets) > 0 {
		b.WriteString("\nTemperature bucket probabilities (ensemble-derived):\n")
		for _, bucket := range w.Buckets {
			fmt.Fprintf(&b, "  %s → %.0f%%\n", bucket.Label, bucket.Probability*100)
		}
	}
	if len(w.Hourly) > 0 {
		b.WriteString("\nHourly trajectory (today):\n")
		for i := 0; i < len(w.Hourly); i += 3 {
			h := w.Hourly[i]
			fmt.Fprintf(&b, "  %s → %.1f°F\n", h.Time.Format("15:04"), h.TemperatureF)
		}
	}
	return b.String()
}

// buildPrompt assembles the full completion request body text.
func buildPrompt(dc Context) string {
	weatherSection := "\n\n---\n## WEATHER FORECAST\nUnavailable this cycle."
	if dc.Weather != nil {
		weatherSection = fmt.Sprintf("\n\n---\n## WEATHER FORECAST (%s)\n%s", dc.Weather.City, formatWeather(dc.Weather))
	}
	return fmt.Sprintf(
		"%s\n\n---\n## STATS\n%s\n\n---\n## LAST %d TRADES\n%s\n\n---\n## MARKET\n%s\n\n---\n## ORDERBOOK\nYes bids: %s\nNo bids: %s%s",
		dc.PromptMD,
		formatStats(dc.Stats),
		len(dc.RecentTrades),
		formatTrades(dc.RecentTrades),
		formatMarket(dc.Market),
		formatOrderbookSide(dc.Orderbook.Yes),
		formatOrderbookSide(dc.Orderbook.No),
		weatherSection)
}
