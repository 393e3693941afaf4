package exchange

import (
	"context"
	"time"
)

// Exchange is the narrow port the cycle engine drives. Every method is
// fallible; the engine decides which failures abort the cycle.
type Exchange interface {
	RestingOrders(ctx context.Context) ([]RestingOrder, error)
	CancelOrder(ctx context.Context, orderID string) error
	Settlements(ctx context.Context, ticker string) ([]Settlement, error)
	Balance(ctx context.Context) (int64, error)
	ActiveMarkets(ctx context.Context) ([]MarketState, error)
	Positions(ctx context.Context) ([]Position, error)
	Orderbook(ctx context.Context, ticker string) (Orderbook, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// Side of a binary contract.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// MarketState is one tradable bracket. Quote fields are in cents; zero means
// no quote on that side (valid quotes are 1..99).
type MarketState struct {
	Ticker          string
	EventTicker     string
	Title           string
	YesBid          int
	YesAsk          int
	NoBid           int
	NoAsk           int
	LastPrice       int
	Volume          int64
	Volume24h       int64
	OpenInterest    int64
	ExpirationTime  time.Time
	MinutesToExpiry float64
	FloorStrike     *float64
	CapStrike       *float64
	StrikeType      string
}

// PriceLevel is one resting level: price in cents, quantity in contracts.
type PriceLevel struct {
	PriceCents int
	Quantity   int
}

// Orderbook holds resting liquidity for one contract. Levels are as returned
// by the venue; top of book is assumed near the front.
type Orderbook struct {
	Yes []PriceLevel
	No  []PriceLevel
}

// AskDepth sums the resting quantity at exactly askCents on the given side.
func (ob Orderbook) AskDepth(side Side, askCents int) int {
	levels := ob.Yes
	if side == SideNo {
		levels = ob.No
	}
	depth := 0
	for _, lvl := range levels {
		if lvl.PriceCents == askCents {
			depth += lvl.Quantity
		}
	}
	return depth
}

type RestingOrder struct {
	OrderID string
	Ticker  string
}

type Position struct {
	Ticker string
	Side   Side
	Count  int
}

// Settlement is the venue's terminal record for one contract.
type Settlement struct {
	Ticker       string
	Side         Side
	Count        int
	PriceCents   int
	Result       string // "win", "loss", "unknown"
	PnLCents     int64
	SettledTime  time.Time
	MarketResult string
}

type OrderRequest struct {
	Ticker     string
	Side       Side
	Shares     int
	PriceCents int
}

type OrderResult struct {
	OrderID string
	Status  string
}
