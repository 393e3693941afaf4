package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kyzlolabs/weatherbot/internal/brain"
	"github.com/kyzlolabs/weatherbot/internal/exchange"
	"github.com/kyzlolabs/weatherbot/internal/ledger"
	"github.com/kyzlolabs/weatherbot/internal/observ"
	"github.com/kyzlolabs/weatherbot/internal/risk"
	"github.com/kyzlolabs/weatherbot/internal/weather"
)

// Config tunes one cycle run.
type Config struct {
	MinMinutesToExpiry float64
	MaxShares          int
	PaperTrade         bool
	PendingStaleAfter  time.Duration // pending rows older than this get a zombie settlement
	RecentTradeCount   int
}

func (c *Config) applyDefaults() {
	if c.MaxShares == 0 {
		c.MaxShares = 25
	}
	if c.PendingStaleAfter == 0 {
		c.PendingStaleAfter = 30 * time.Minute
	}
	if c.RecentTradeCount == 0 {
		c.RecentTradeCount = 20
	}
}

// Engine drives exactly one trading decision cycle at a time. It owns the
// in-memory ledger snapshot for the duration of a cycle; nothing carries over
// between cycles except what is re-read from the store.
type Engine struct {
	ex     exchange.Exchange
	brain  brain.Brain
	feed   weather.Feed
	store  *ledger.Store
	limits risk.Limits
	cfg    Config
	now    func() time.Time
}

func New(ex exchange.Exchange, br brain.Brain, feed weather.Feed, store *ledger.Store, limits risk.Limits, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{ex: ex, brain: br, feed: feed, store: store, limits: limits, cfg: cfg, now: time.Now}
}

type candidate struct {
	market   exchange.MarketState
	decision brain.Decision
}

// RunCycle executes the linear state machine: reap stale orders, settle,
// risk-check, scan markets, dedup, fetch weather, evaluate brackets, select,
// re-check positions, execute. It returns nil for clean exits (veto, no
// markets, no edge, race-guard abort) and an error for hard failures.
func (e *Engine) RunCycle(ctx context.Context) error {
	if err := e.reapStaleOrders(ctx); err != nil {
		return err
	}

	rows, err := e.settlePending(ctx)
	if err != nil {
		return err
	}

	stats := ledger.ComputeStats(rows, e.now())
	balance, err := e.ex.Balance(ctx)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}
	if veto := risk.Check(stats, balance, e.limits); veto != "" {
		observ.Log("risk_veto", map[string]any{"reason": veto})
		return nil
	}

	brackets, err := e.scanMarkets(ctx)
	if err != nil {
		return err
	}
	if len(brackets) == 0 {
		return nil
	}
	eventTicker := brackets[0].EventTicker

	positions, err := e.ex.Positions(ctx)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}
	if holdsEventPosition(positions, brackets) {
		observ.Warn("event_position_exists", map[string]any{"event": eventTicker})
		return nil
	}

	// Weather degrades to nil: a failed fetch must not kill the cycle.
	snapshot, err := e.feed.Forecast(ctx)
	if err != nil {
		observ.Warn("weather_fetch_failed", map[string]any{"error": err.Error()})
		snapshot = nil
	}

	candidates, scanLines, err := e.evaluate(ctx, brackets, rows, stats, snapshot)
	if err != nil {
		return err
	}

	observ.Log("bracket_scan", map[string]any{"event": eventTicker, "count": len(scanLines)})
	for _, line := range scanLines {
		observ.Log("scan_line", map[string]any{"line": line})
	}

	best, ok := selectBest(candidates)
	if !ok {
		observ.Log("cycle_pass", map[string]any{"reason": "no bracket has sufficient edge"})
		return nil
	}

	shares := best.decision.Shares
	if shares < 1 {
		shares = 1
	}
	if shares > e.cfg.MaxShares {
		shares = e.cfg.MaxShares
	}
	price := best.decision.LimitCents
	if price < 1 {
		price = 1
	}
	if price > 99 {
		price = 99
	}

	observ.Log("best_bracket", map[string]any{
		"ticker":    best.market.Ticker,
		"edge_pp":   best.decision.Edge * 100,
		"side":      string(best.decision.Side),
		"shares":    shares,
		"price":     price,
		"rationale": best.decision.Rationale,
	})

	// Race guard: a position may have appeared on this event mid-evaluation.
	fresh, err := e.ex.Positions(ctx)
	if err != nil {
		return fmt.Errorf("re-fetch positions: %w", err)
	}
	if holdsEventPosition(fresh, brackets) {
		observ.Warn("race_guard_abort", map[string]any{"event": eventTicker})
		return nil
	}

	return e.execute(ctx, best.market, best.decision.Side, shares, price, stats)
}

// reapStaleOrders cancels every resting order and marks its ledger row
// cancelled. One failed cancel does not block reaping the rest, but any
// failure aborts the cycle afterwards.
func (e *Engine) reapStaleOrders(ctx context.Context) error {
	resting, err := e.ex.RestingOrders(ctx)
	if err != nil {
		return fmt.Errorf("fetch resting orders: %w", err)
	}
	var errs []error
	for _, order := range resting {
		if err := e.ex.CancelOrder(ctx, order.OrderID); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", order.OrderID, err))
			continue
		}
		if err := e.store.CancelByOrderID(order.OrderID); err != nil {
			errs = append(errs, fmt.Errorf("ledger cancel %s: %w", order.OrderID, err))
			continue
		}
		observ.Log("stale_order_cancelled", map[string]any{"order_id": order.OrderID, "ticker": order.Ticker})
	}
	return errors.Join(errs...)
}

// settlePending resolves the most recent pending row: write the venue's
// settlement when one exists, write a zombie "unknown" settlement when the
// row has gone stale, otherwise leave it pending. Returns the post-settle
// ledger.
func (e *Engine) settlePending(ctx context.Context) ([]ledger.Row, error) {
	rows, err := e.store.Read()
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	pending, ok := ledger.LastPending(rows)
	if !ok {
		return rows, nil
	}

	settlements, err := e.ex.Settlements(ctx, pending.Ticker)
	if err != nil {
		return nil, fmt.Errorf("fetch settlements for %s: %w", pending.Ticker, err)
	}

	if len(settlements) > 0 {
		s := settlements[0]
		if err := e.store.SettleLast(s.Result, s.PnLCents); err != nil {
			return nil, fmt.Errorf("settle %s: %w", pending.Ticker, err)
		}
		rows, err = e.store.Read()
		if err != nil {
			return nil, fmt.Errorf("re-read ledger: %w", err)
		}
		if err := e.store.WriteStats(ledger.ComputeStats(rows, e.now())); err != nil {
			return nil, fmt.Errorf("write stats: %w", err)
		}
		observ.Log("trade_settled", map[string]any{
			"ticker": s.Ticker, "result": strings.ToUpper(s.Result),
			"market_result": s.MarketResult, "pnl_cents": s.PnLCents,
		})
		return rows, nil
	}

	age := e.now().Sub(pending.Timestamp)
	if age > e.cfg.PendingStaleAfter {
		if err := e.store.SettleLast(ledger.ResultUnknown, 0); err != nil {
			return nil, fmt.Errorf("zombie settle %s: %w", pending.Ticker, err)
		}
		rows, err = e.store.Read()
		if err != nil {
			return nil, fmt.Errorf("re-read ledger: %w", err)
		}
		observ.Warn("zombie_cleanup", map[string]any{
			"ticker": pending.Ticker, "age_min": int(age.Minutes()),
		})
	}
	return rows, nil
}

// scanMarkets fetches the nearest event's brackets and drops any too close to
// expiry. An empty result is a clean end of cycle.
func (e *Engine) scanMarkets(ctx context.Context) ([]exchange.MarketState, error) {
	markets, err := e.ex.ActiveMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}
	if len(markets) == 0 {
		observ.Log("no_active_markets", nil)
		return nil, nil
	}
	brackets := markets[:0]
	for _, m := range markets {
		if m.MinutesToExpiry >= e.cfg.MinMinutesToExpiry {
			brackets = append(brackets, m)
		}
	}
	if len(brackets) == 0 {
		observ.Log("all_brackets_near_expiry", nil)
		return nil, nil
	}
	observ.Log("brackets_found", map[string]any{
		"event":      brackets[0].EventTicker,
		"count":      len(brackets),
		"expiry_min": brackets[0].MinutesToExpiry,
	})
	return brackets, nil
}

func holdsEventPosition(positions []exchange.Position, brackets []exchange.MarketState) bool {
	for _, p := range positions {
		for _, b := range brackets {
			if p.Ticker == b.Ticker {
				return true
			}
		}
	}
	return false
}

// evaluate runs the brain over every bracket sequentially, keeping exchange
// load and log order deterministic. It returns buy candidates in scan order
// plus one human-readable line per verdict.
func (e *Engine) evaluate(
	ctx context.Context,
	brackets []exchange.MarketState,
	rows []ledger.Row,
	stats ledger.Stats,
	snapshot *weather.Snapshot,
) ([]candidate, []string, error) {
	prompt, err := e.store.ReadPrompt()
	if err != nil {
		return nil, nil, fmt.Errorf("read prompt: %w", err)
	}
	recent := ledger.RecentTrades(rows, e.cfg.RecentTradeCount)

	var candidates []candidate
	var scanLines []string
	for _, market := range brackets {
		orderbook, err := e.ex.Orderbook(ctx, market.Ticker)
		if err != nil {
			return nil, nil, fmt.Errorf("orderbook %s: %w", market.Ticker, err)
		}
		decision, err := e.brain.Decide(ctx, brain.Context{
			PromptMD:     prompt,
			Stats:        stats,
			RecentTrades: recent,
			Market:       market,
			Orderbook:    orderbook,
			Weather:      snapshot,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("decide %s: %w", market.Ticker, err)
		}

		scanLines = append(scanLines, scanLine(market, snapshot, decision))
		if decision.Action == brain.ActionBuy {
			candidates = append(candidates, candidate{market: market, decision: decision})
		}
	}
	return candidates, scanLines, nil
}

// scanLine renders one bracket verdict for the scan table.
func scanLine(market exchange.MarketState, snapshot *weather.Snapshot, decision brain.Decision) string {
	shapeLabel := "???"
	ensPct := "n/a"
	if shape, ok := exchange.ShapeOf(market); ok {
		shapeLabel = shape.Label()
		if snapshot != nil && len(snapshot.MemberHighs) > 0 {
			count := 0
			for _, h := range snapshot.MemberHighs {
				if shape.Contains(h) {
					count++
				}
			}
			ensPct = fmt.Sprintf("%.0f%%", float64(count)/float64(len(snapshot.MemberHighs))*100)
		}
	}
	mktPct := "n/a"
	if market.YesAsk > 0 {
		mktPct = fmt.Sprintf("%d%%", market.YesAsk)
	}
	action := "PASS"
	if decision.Action == brain.ActionBuy {
		action = fmt.Sprintf("BUY %s", strings.ToUpper(string(decision.Side)))
	}
	short := market.Ticker
	if i := strings.LastIndex(short, "-"); i >= 0 {
		short = short[i+1:]
	}
	return fmt.Sprintf("%-12s (%-8s): ens=%-5s mkt=%-5s edge=%+.1fpp → %s",
		short, shapeLabel, ensPct, mktPct, decision.Edge*100, action)
}

// selectBest picks the candidate with the largest edge. Ties keep the
// first-seen candidate, so the ordering is stable by scan order.
func selectBest(candidates []candidate) (candidate, bool) {
	if len(candidates) == 0 {
		return candidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.decision.Edge > best.decision.Edge {
			best = c
		}
	}
	return best, true
}

// execute places the order first and appends the pending ledger row only
// after the venue acknowledges. Ledger-may-trail-reality beats
// ledger-claims-a-position-that-does-not-exist.
func (e *Engine) execute(
	ctx context.Context,
	market exchange.MarketState,
	side exchange.Side,
	shares, price int,
	stats ledger.Stats,
) error {
	row := ledger.Row{
		Timestamp:       e.now().UTC(),
		Ticker:          market.Ticker,
		Side:            string(side),
		Shares:          shares,
		PriceCents:      price,
		Result:          ledger.ResultPending,
		CumulativeCents: stats.TotalPnLCents,
	}

	if e.cfg.PaperTrade {
		row.OrderID = "paper-" + uuid.NewString()
		observ.Log("paper_trade", map[string]any{
			"ticker": market.Ticker, "side": string(side),
			"shares": shares, "price": price, "order_id": row.OrderID,
		})
		if err := e.store.Append(row); err != nil {
			return fmt.Errorf("append paper trade: %w", err)
		}
		return nil
	}

	result, err := e.ex.PlaceOrder(ctx, exchange.OrderRequest{
		Ticker:     market.Ticker,
		Side:       side,
		Shares:     shares,
		PriceCents: price,
	})
	if err != nil {
		observ.Error("order_placement_failed", map[string]any{"ticker": market.Ticker, "error": err.Error()})
		return fmt.Errorf("place order: %w", err)
	}
	observ.Log("live_trade", map[string]any{
		"ticker": market.Ticker, "side": string(side),
		"shares": shares, "price": price,
		"order_id": result.OrderID, "status": result.Status,
	})

	row.OrderID = result.OrderID
	if err := e.store.Append(row); err != nil {
		// A real position now exists with no local record. No blind retry:
		// the original write may have partially succeeded.
		observ.Critical("ledger_write_failed_after_order", map[string]any{
			"order_id": result.OrderID, "ticker": market.Ticker, "error": err.Error(),
		})
		return &CriticalError{OrderID: result.OrderID, Err: err}
	}
	return nil
}
