package brain

import (
	"context"

	"github.com/kyzlolabs/weatherbot/internal/exchange"
	"github.com/kyzlolabs/weatherbot/internal/ledger"
	"github.com/kyzlolabs/weatherbot/internal/weather"
)

// Brain turns one decision context into exactly one verdict. Implementations
// must be total over malformed optional inputs: missing data degrades to a
// Pass, never a panic.
type Brain interface {
	Decide(ctx context.Context, dc Context) (Decision, error)
}

// Context is everything a brain may consider for one bracket. Brains treat it
// as read-only.
type Context struct {
	PromptMD     string
	Stats        ledger.Stats
	RecentTrades []ledger.Row
	Market       exchange.MarketState
	Orderbook    exchange.Orderbook
	Weather      *weather.Snapshot
}

// Action of a verdict.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionPass Action = "PASS"
)

// Decision is the verdict. A Buy carries side, shares, and limit price; a
// Pass carries none of them. Edge is always finite and non-negative.
type Decision struct {
	Action     Action
	Side       exchange.Side
	Shares     int
	LimitCents int
	Rationale  string
	Edge       float64
}

func pass(rationale string) Decision {
	return Decision{Action: ActionPass, Rationale: rationale}
}
