package brain

import (
	"context"
	"fmt"
	"math"

	"github.com/kyzlolabs/weatherbot/internal/exchange"
	"github.com/kyzlolabs/weatherbot/internal/observ"
	"github.com/kyzlolabs/weatherbot/internal/weather"
)

// RulesConfig tunes the deterministic engine. Zero values get defaults from
// NewRules.
type RulesConfig struct {
	MinNetEdge    float64 `yaml:"min_net_edge"`    // pass below this net edge
	TakerFeeRate  float64 `yaml:"taker_fee_rate"`  // venue taker fee on min(p, 100-p)
	PriceCapCents int     `yaml:"price_cap_cents"` // never pay above this
	MinVolume24h  int64   `yaml:"min_volume_24h"`
	MinOpenInt    int64   `yaml:"min_open_interest"`
	BaseShares    int     `yaml:"base_shares"`
	StepShares    int     `yaml:"step_shares"` // size at or above StepEdge
	StepEdge      float64 `yaml:"step_edge"`
}

func (c *RulesConfig) applyDefaults() {
	if c.MinNetEdge == 0 {
		c.MinNetEdge = 0.05
	}
	if c.TakerFeeRate == 0 {
		c.TakerFeeRate = 0.07
	}
	if c.PriceCapCents == 0 {
		c.PriceCapCents = 50
	}
	if c.MinVolume24h == 0 {
		c.MinVolume24h = 10
	}
	if c.MinOpenInt == 0 {
		c.MinOpenInt = 10
	}
	if c.BaseShares == 0 {
		c.BaseShares = 25
	}
	if c.StepShares == 0 {
		c.StepShares = 50
	}
	if c.StepEdge == 0 {
		c.StepEdge = 0.10
	}
}

// Rules is the deterministic brain: no network, no mutation, same verdict for
// the same inputs.
type Rules struct {
	cfg RulesConfig
}

func NewRules(cfg RulesConfig) *Rules {
	cfg.applyDefaults()
	return &Rules{cfg: cfg}
}

func (r *Rules) Decide(_ context.Context, dc Context) (Decision, error) {
	w := dc.Weather
	if w == nil {
		return pass("No weather data available"), nil
	}
	if dc.Market.YesAsk == 0 {
		return pass("No yes_ask price available"), nil
	}

	shape, ok := exchange.ShapeOf(dc.Market)
	if !ok {
		return pass(fmt.Sprintf("Cannot determine payout shape for '%s'", dc.Market.Title)), nil
	}

	yesAsk := dc.Market.YesAsk
	noAsk := dc.Market.NoAsk
	if noAsk == 0 {
		noAsk = 100
	}
	marketImplied := float64(yesAsk) / 100.0
	if marketImplied > 0.90 || marketImplied < 0.10 {
		return pass(fmt.Sprintf(
			"Extreme price: yes_ask=%d¢ (implied %.0f%%), likely settled or stale",
			yesAsk, marketImplied*100)), nil
	}

	ensYes, source, ok := ensembleYes(w, shape)
	if !ok {
		return pass(fmt.Sprintf("Cannot determine ensemble probability for '%s'", dc.Market.Title)), nil
	}

	edgeYes := ensYes - marketImplied
	edgeNo := (1.0 - ensYes) - float64(noAsk)/100.0
	mult := confidenceMultiplier(w.Confidence)
	adjYes := edgeYes * mult
	adjNo := edgeNo * mult

	side, adjEdge, price := exchange.SideYes, adjYes, yesAsk
	if adjNo > adjYes {
		side, adjEdge, price = exchange.SideNo, adjNo, noAsk
	}

	feePP := estimateFeePP(price, r.cfg.TakerFeeRate)
	netEdge := adjEdge - feePP
	if math.IsNaN(netEdge) || math.IsInf(netEdge, 0) {
		return pass("Non-finite edge from inputs"), nil
	}

	observ.Log("edge_computed", map[string]any{
		"ticker":     dc.Market.Ticker,
		"shape":      shape.Label(),
		"prob_src":   source,
		"ens_yes":    ensYes,
		"mkt_yes":    marketImplied,
		"adj_edge":   adjEdge,
		"fee_pp":     feePP,
		"net_edge":   netEdge,
		"side":       string(side),
		"confidence": string(w.Confidence),
	})

	if netEdge < r.cfg.MinNetEdge {
		return pass(fmt.Sprintf(
			"Edge too small: %.1fpp adj on %s. Ensemble YES=%.0f%% vs market=%.0f%%. %s confidence.",
			adjEdge*100, side, ensYes*100, marketImplied*100, w.Confidence)), nil
	}
	if price > r.cfg.PriceCapCents {
		return pass(fmt.Sprintf(
			"Edge %.1fpp on %s but price %d¢ > %d¢ cap",
			adjEdge*100, side, price, r.cfg.PriceCapCents)), nil
	}

	limit := spreadAwarePrice(dc.Market, dc.Orderbook, side)
	if limit > r.cfg.PriceCapCents {
		return pass(fmt.Sprintf(
			"Edge %.1fpp on %s but spread-aware price %d¢ > %d¢",
			adjEdge*100, side, limit, r.cfg.PriceCapCents)), nil
	}

	if dc.Market.Volume24h < r.cfg.MinVolume24h && dc.Market.OpenInterest < r.cfg.MinOpenInt {
		return pass(fmt.Sprintf(
			"Net edge %.1fpp on %s but illiquid: vol_24h=%d, OI=%d",
			netEdge*100, side, dc.Market.Volume24h, dc.Market.OpenInterest)), nil
	}

	shares := r.sizeForEdge(netEdge)
	rationale := fmt.Sprintf(
		"Ensemble YES=%.0f%% vs market=%.0f%% → %.1fpp net edge on %s (gross %.1fpp - fee ~%.1fpp, %s confidence). %dx @ %d¢. vol_24h=%d OI=%d",
		ensYes*100, marketImplied*100, netEdge*100, side, adjEdge*100, feePP*100,
		w.Confidence, shares, limit, dc.Market.Volume24h, dc.Market.OpenInterest)

	return Decision{
		Action:     ActionBuy,
		Side:       side,
		Shares:     shares,
		LimitCents: limit,
		Rationale:  rationale,
		Edge:       math.Abs(netEdge),
	}, nil
}

func confidenceMultiplier(c weather.Confidence) float64 {
	switch c {
	case weather.ConfidenceHigh:
		return 1.0
	case weather.ConfidenceMedium:
		return 0.8
	default:
		return 0.5
	}
}

// ensembleYes computes the model-implied YES probability for the shape, in
// priority order: raw member counting, bucket interpolation, logistic point
// estimate (Above only).
func ensembleYes(w *weather.Snapshot, shape exchange.Shape) (prob float64, source string, ok bool) {
	if len(w.MemberHighs) > 0 {
		return probFromMembers(w.MemberHighs, shape), "members", true
	}
	if w.Ensemble != nil && len(w.Buckets) > 0 {
		return probFromBuckets(w.Buckets, shape), "buckets", true
	}
	if shape.Kind == exchange.ShapeAbove {
		// Smooth proxy: logistic over (forecast high - threshold) with a 2°F
		// temperature scale.
		diff := w.ForecastHigh - shape.Low
		return 1.0 / (1.0 + math.Exp(-diff/2.0)), "sigmoid", true
	}
	return 0, "", false
}

// probFromMembers counts the fraction of ensemble members satisfying the
// shape's predicate. Exact, no interpolation.
func probFromMembers(memberHighs []float64, shape exchange.Shape) float64 {
	if len(memberHighs) == 0 {
		return 0
	}
	count := 0
	for _, h := range memberHighs {
		if shape.Contains(h) {
			count++
		}
	}
	return float64(count) / float64(len(memberHighs))
}

// probFromBuckets sums full-bucket probabilities inside the shape and
// linearly interpolates the mass of any bucket straddling a boundary,
// proportional to the overlap fraction of bucket width.
func probFromBuckets(buckets []weather.Bucket, shape exchange.Shape) float64 {
	prob := 0.0
	switch shape.Kind {
	case exchange.ShapeAbove:
		for _, b := range buckets {
			if b.Lower >= shape.Low {
				prob += b.Probability
			} else if b.Upper > shape.Low {
				prob += b.Probability * (b.Upper - shape.Low) / (b.Upper - b.Lower)
			}
		}
	case exchange.ShapeBelow:
		for _, b := range buckets {
			if b.Upper <= shape.High {
				prob += b.Probability
			} else if b.Lower < shape.High {
				prob += b.Probability * (shape.High - b.Lower) / (b.Upper - b.Lower)
			}
		}
	case exchange.ShapeBetween:
		for _, b := range buckets {
			if b.Lower >= shape.High || b.Upper <= shape.Low {
				continue
			}
			lo := math.Max(b.Lower, shape.Low)
			hi := math.Min(b.Upper, shape.High)
			prob += b.Probability * (hi - lo) / (b.Upper - b.Lower)
		}
	}
	return prob
}

// estimateFeePP converts the venue taker fee, min(price, 100-price) * rate
// cents per contract, into probability points.
func estimateFeePP(priceCents int, rate float64) float64 {
	capped := priceCents
	if 100-priceCents < capped {
		capped = 100 - priceCents
	}
	return float64(capped) * rate / 100.0
}

// sizeForEdge is a step policy: bigger net edges get more shares.
func (r *Rules) sizeForEdge(netEdge float64) int {
	if netEdge >= r.cfg.StepEdge {
		return r.cfg.StepShares
	}
	return r.cfg.BaseShares
}

// spreadAwarePrice picks the execution limit: cross a narrow spread at the
// ask; cross a wide one only when resting depth at the ask is real, otherwise
// sit at the midpoint.
func spreadAwarePrice(m exchange.MarketState, ob exchange.Orderbook, side exchange.Side) int {
	bid, ask := m.YesBid, m.YesAsk
	if side == exchange.SideNo {
		bid, ask = m.NoBid, m.NoAsk
	}
	if bid == 0 {
		bid = 1
	}
	if ask == 0 {
		ask = 99
	}

	spread := ask - bid
	if spread <= 4 {
		return ask
	}
	if ob.AskDepth(side, ask) >= 10 {
		return ask
	}
	return (bid + ask) / 2
}
