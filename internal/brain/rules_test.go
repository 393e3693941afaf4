package brain

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kyzlolabs/weatherbot/internal/exchange"
	"github.com/kyzlolabs/weatherbot/internal/weather"
)

func fptr(v float64) *float64 { return &v }

// aboveMarket builds a ">threshold" bracket with a liquid book.
func aboveMarket(threshold float64, yesBid, yesAsk, noBid, noAsk int) exchange.MarketState {
	return exchange.MarketState{
		Ticker:       "KXHIGHNY-26MAR10-T70",
		EventTicker:  "KXHIGHNY-26MAR10",
		Title:        "High above threshold",
		YesBid:       yesBid,
		YesAsk:       yesAsk,
		NoBid:        noBid,
		NoAsk:        noAsk,
		Volume24h:    500,
		OpenInterest: 500,
		StrikeType:   "greater",
		FloorStrike:  fptr(threshold),
	}
}

// membersAbove builds n member highs with k of them above the threshold.
func membersAbove(n, k int, threshold float64) []float64 {
	highs := make([]float64, 0, n)
	for i := 0; i < k; i++ {
		highs = append(highs, threshold+2)
	}
	for i := k; i < n; i++ {
		highs = append(highs, threshold-2)
	}
	return highs
}

func snapshotWith(highs []float64, conf weather.Confidence) *weather.Snapshot {
	return &weather.Snapshot{
		City:        "New York",
		MemberHighs: highs,
		Confidence:  conf,
	}
}

func decide(t *testing.T, market exchange.MarketState, w *weather.Snapshot) Decision {
	t.Helper()
	d, err := NewRules(RulesConfig{}).Decide(context.Background(), Context{
		Market:  market,
		Weather: w,
	})
	require.NoError(t, err)
	return d
}

func TestDecideBuysWithClearEdge(t *testing.T) {
	// ensemble 60% vs market 40%: gross 20pp, fee 2.8pp, net 17.2pp
	market := aboveMarket(70, 38, 40, 58, 62)
	d := decide(t, market, snapshotWith(membersAbove(10, 6, 70), weather.ConfidenceHigh))

	require.Equal(t, ActionBuy, d.Action)
	require.Equal(t, exchange.SideYes, d.Side)
	require.Equal(t, 40, d.LimitCents) // narrow spread crosses at the ask
	require.Equal(t, 50, d.Shares)     // net edge >= step threshold sizes up
	require.InDelta(t, 0.172, d.Edge, 1e-9)
}

func TestDecideFeeNetting(t *testing.T) {
	// price 30¢: fee = min(30,70)*0.07/100 = 2.1pp
	market := aboveMarket(70, 28, 30, 68, 72)

	// gross 10pp -> net 7.9pp: trade, below step threshold so base size
	d := decide(t, market, snapshotWith(membersAbove(10, 4, 70), weather.ConfidenceHigh))
	require.Equal(t, ActionBuy, d.Action)
	require.Equal(t, 25, d.Shares)
	require.InDelta(t, 0.079, d.Edge, 1e-9)

	// gross 6pp -> net 3.9pp: fee pushes it under the floor
	d = decide(t, market, snapshotWith(membersAbove(25, 9, 70), weather.ConfidenceHigh))
	require.Equal(t, ActionPass, d.Action)
	require.Contains(t, d.Rationale, "Edge too small")
}

func TestDecidePassesWhenIlliquid(t *testing.T) {
	market := aboveMarket(70, 38, 40, 58, 62)
	market.Volume24h = 2
	market.OpenInterest = 2
	d := decide(t, market, snapshotWith(membersAbove(10, 6, 70), weather.ConfidenceHigh))
	require.Equal(t, ActionPass, d.Action)
	require.Contains(t, d.Rationale, "illiquid")
}

func TestDecideLiquidityIsANDGate(t *testing.T) {
	// healthy open interest alone clears the liquidity gate
	market := aboveMarket(70, 38, 40, 58, 62)
	market.Volume24h = 2
	market.OpenInterest = 500
	d := decide(t, market, snapshotWith(membersAbove(10, 6, 70), weather.ConfidenceHigh))
	require.Equal(t, ActionBuy, d.Action)
}

func TestDecideNoWeather(t *testing.T) {
	d := decide(t, aboveMarket(70, 38, 40, 58, 62), nil)
	require.Equal(t, ActionPass, d.Action)
	require.Contains(t, d.Rationale, "No weather data")
}

func TestDecideNoAskQuote(t *testing.T) {
	market := aboveMarket(70, 38, 0, 58, 62)
	d := decide(t, market, snapshotWith(membersAbove(10, 6, 70), weather.ConfidenceHigh))
	require.Equal(t, ActionPass, d.Action)
	require.Contains(t, d.Rationale, "No yes_ask")
}

func TestDecideExtremePrices(t *testing.T) {
	w := snapshotWith(membersAbove(10, 10, 70), weather.ConfidenceHigh)
	for _, ask := range []int{95, 5} {
		market := aboveMarket(70, 1, ask, 1, 99)
		d := decide(t, market, w)
		require.Equal(t, ActionPass, d.Action, "yes_ask=%d", ask)
		require.Contains(t, d.Rationale, "Extreme price")
	}
}

func TestDecidePriceCap(t *testing.T) {
	market := aboveMarket(70, 53, 55, 43, 45)
	d := decide(t, market, snapshotWith(membersAbove(20, 15, 70), weather.ConfidenceHigh))
	require.Equal(t, ActionPass, d.Action)
	require.Contains(t, d.Rationale, "cap")
}

func TestDecideTakesNoSide(t *testing.T) {
	// ensemble 20% yes vs no_ask 40¢: big edge on NO
	market := aboveMarket(70, 58, 60, 38, 40)
	d := decide(t, market, snapshotWith(membersAbove(10, 2, 70), weather.ConfidenceHigh))
	require.Equal(t, ActionBuy, d.Action)
	require.Equal(t, exchange.SideNo, d.Side)
	require.Equal(t, 40, d.LimitCents)
}

func TestDecideConfidenceScalesEdge(t *testing.T) {
	// gross 10pp, fee 2.8pp
	market := aboveMarket(70, 38, 40, 58, 62)
	highs := membersAbove(10, 5, 70)

	// medium: 10*0.8 - 2.8 = 5.2pp -> trade
	d := decide(t, market, snapshotWith(highs, weather.ConfidenceMedium))
	require.Equal(t, ActionBuy, d.Action)

	// low: 10*0.5 - 2.8 = 2.2pp -> pass
	d = decide(t, market, snapshotWith(highs, weather.ConfidenceLow))
	require.Equal(t, ActionPass, d.Action)
}

func TestDecideMissingNoAskFallsBackToYes(t *testing.T) {
	// no_ask absent reads as 100¢, so the NO side can never look better
	market := aboveMarket(70, 38, 40, 0, 0)
	d := decide(t, market, snapshotWith(membersAbove(10, 2, 70), weather.ConfidenceHigh))
	require.Equal(t, ActionPass, d.Action)
}

func TestDecideSigmoidFallback(t *testing.T) {
	// no members, no ensemble: Above falls back to a logistic point estimate
	w := &weather.Snapshot{ForecastHigh: 74, Confidence: weather.ConfidenceMedium}
	market := aboveMarket(70, 38, 40, 58, 62)
	d := decide(t, market, w)
	// sigmoid(4/2) = 0.88: gross 48pp * 0.8 - 2.8pp fee
	require.Equal(t, ActionBuy, d.Action)

	// Below has no fallback
	below := exchange.MarketState{
		Ticker: "T", Title: "below", YesBid: 38, YesAsk: 40, NoBid: 58, NoAsk: 62,
		Volume24h: 500, OpenInterest: 500,
		StrikeType: "less", CapStrike: fptr(70.0),
	}
	d = decide(t, below, w)
	require.Equal(t, ActionPass, d.Action)
	require.Contains(t, d.Rationale, "Cannot determine ensemble probability")
}

func TestDecideUnknownShape(t *testing.T) {
	market := exchange.MarketState{
		Ticker: "T", Title: "mystery", YesAsk: 40, NoAsk: 62,
	}
	d := decide(t, market, snapshotWith(membersAbove(10, 6, 70), weather.ConfidenceHigh))
	require.Equal(t, ActionPass, d.Action)
	require.Contains(t, d.Rationale, "payout shape")
}

func TestSpreadAwarePrice(t *testing.T) {
	ob := exchange.Orderbook{Yes: []exchange.PriceLevel{{PriceCents: 60, Quantity: 3}}}

	// wide spread, thin ask: midpoint
	m := exchange.MarketState{YesBid: 40, YesAsk: 60}
	require.Equal(t, 50, spreadAwarePrice(m, ob, exchange.SideYes))

	// narrow spread: cross at the ask
	m = exchange.MarketState{YesBid: 48, YesAsk: 52}
	require.Equal(t, 52, spreadAwarePrice(m, ob, exchange.SideYes))

	// wide spread, deep ask: cross anyway
	deep := exchange.Orderbook{Yes: []exchange.PriceLevel{{PriceCents: 60, Quantity: 15}}}
	m = exchange.MarketState{YesBid: 40, YesAsk: 60}
	require.Equal(t, 60, spreadAwarePrice(m, deep, exchange.SideYes))
}

func TestProbFromMembersMonotoneInThreshold(t *testing.T) {
	highs := []float64{61.5, 63, 64.2, 66, 67.7, 69, 70.1, 71, 72.4, 74}
	prev := 1.1
	for threshold := 60.0; threshold <= 76; threshold += 0.5 {
		p := probFromMembers(highs, exchange.Shape{Kind: exchange.ShapeAbove, Low: threshold})
		require.LessOrEqual(t, p, prev, "threshold %.1f", threshold)
		prev = p
	}
}

func TestProbFromBucketsTracksMembers(t *testing.T) {
	highs := []float64{61.5, 63, 64.2, 66, 67.7, 69, 70.1, 71, 72.4, 74}
	buckets := weather.BucketsFromHighs(highs)

	maxBucket := 0.0
	for _, b := range buckets {
		if b.Probability > maxBucket {
			maxBucket = b.Probability
		}
	}

	for _, threshold := range []float64{62, 66, 70, 73} {
		shape := exchange.Shape{Kind: exchange.ShapeAbove, Low: threshold}
		exact := probFromMembers(highs, shape)
		interp := probFromBuckets(buckets, shape)
		require.LessOrEqual(t, math.Abs(exact-interp), maxBucket+1e-9,
			"threshold %.0f: exact=%.2f interp=%.2f", threshold, exact, interp)
	}
}

func TestProbFromBucketsBetween(t *testing.T) {
	buckets := []weather.Bucket{
		{Lower: 60, Upper: 62, Probability: 0.25},
		{Lower: 62, Upper: 64, Probability: 0.50},
		{Lower: 64, Upper: 66, Probability: 0.25},
	}
	shape := exchange.Shape{Kind: exchange.ShapeBetween, Low: 61, High: 65}
	// half of the edge buckets plus the full middle one
	require.InDelta(t, 0.125+0.50+0.125, probFromBuckets(buckets, shape), 1e-9)
}

func TestEstimateFeePP(t *testing.T) {
	require.InDelta(t, 0.021, estimateFeePP(30, 0.07), 1e-9)
	require.InDelta(t, 0.021, estimateFeePP(70, 0.07), 1e-9) // symmetric around 50
	require.InDelta(t, 0.035, estimateFeePP(50, 0.07), 1e-9)
}

func TestDecideDeterministic(t *testing.T) {
	market := aboveMarket(70, 38, 40, 58, 62)
	w := snapshotWith(membersAbove(10, 6, 70), weather.ConfidenceHigh)
	first := decide(t, market, w)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, decide(t, market, w))
	}
}
