package exchange

import "testing"

func strike(v float64) *float64 { return &v }

func TestShapeOf(t *testing.T) {
	cases := []struct {
		name   string
		market MarketState
		want   Shape
		ok     bool
	}{
		{"greater", MarketState{StrikeType: "greater", FloorStrike: strike(70)}, Shape{Kind: ShapeAbove, Low: 70}, true},
		{"gt symbol", MarketState{StrikeType: ">", FloorStrike: strike(70)}, Shape{Kind: ShapeAbove, Low: 70}, true},
		{"less", MarketState{StrikeType: "less", CapStrike: strike(55)}, Shape{Kind: ShapeBelow, High: 55}, true},
		{"between", MarketState{StrikeType: "between", FloorStrike: strike(60), CapStrike: strike(62)}, Shape{Kind: ShapeBetween, Low: 60, High: 62}, true},
		{"between_inclusive", MarketState{StrikeType: "between_inclusive", FloorStrike: strike(60), CapStrike: strike(62)}, Shape{Kind: ShapeBetween, Low: 60, High: 62}, true},
		{"greater missing strike", MarketState{StrikeType: "greater"}, Shape{}, false},
		{"untagged both strikes", MarketState{FloorStrike: strike(60), CapStrike: strike(62)}, Shape{Kind: ShapeBetween, Low: 60, High: 62}, true},
		{"untagged floor only", MarketState{FloorStrike: strike(70)}, Shape{Kind: ShapeAbove, Low: 70}, true},
		{"untagged cap only", MarketState{CapStrike: strike(55)}, Shape{Kind: ShapeBelow, High: 55}, true},
		{"no strikes", MarketState{Title: "mystery"}, Shape{}, false},
		{"zero degree strike", MarketState{StrikeType: "less", CapStrike: strike(0)}, Shape{Kind: ShapeBelow, High: 0}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ShapeOf(tc.market)
			if ok != tc.ok {
				t.Fatalf("ok=%v want %v", ok, tc.ok)
			}
			if got != tc.want {
				t.Fatalf("shape=%+v want %+v", got, tc.want)
			}
		})
	}
}

func TestShapeLabel(t *testing.T) {
	if got := (Shape{Kind: ShapeAbove, Low: 70}).Label(); got != ">70°" {
		t.Fatalf("got %q", got)
	}
	if got := (Shape{Kind: ShapeBelow, High: 55}).Label(); got != "<55°" {
		t.Fatalf("got %q", got)
	}
	if got := (Shape{Kind: ShapeBetween, Low: 60, High: 62}).Label(); got != "60-62°" {
		t.Fatalf("got %q", got)
	}
}

func TestShapeContainsBoundaries(t *testing.T) {
	above := Shape{Kind: ShapeAbove, Low: 70}
	if above.Contains(70) {
		t.Fatal("above is strict at the threshold")
	}
	if !above.Contains(70.1) {
		t.Fatal("just above threshold must count")
	}

	below := Shape{Kind: ShapeBelow, High: 55}
	if below.Contains(55) {
		t.Fatal("below is strict at the threshold")
	}
	if !below.Contains(54.9) {
		t.Fatal("just below threshold must count")
	}

	between := Shape{Kind: ShapeBetween, Low: 60, High: 62}
	if !between.Contains(60) {
		t.Fatal("between includes its lower bound")
	}
	if between.Contains(62) {
		t.Fatal("between excludes its upper bound")
	}
}

func TestOrderbookAskDepth(t *testing.T) {
	ob := Orderbook{
		Yes: []PriceLevel{{PriceCents: 40, Quantity: 5}, {PriceCents: 40, Quantity: 7}, {PriceCents: 41, Quantity: 100}},
		No:  []PriceLevel{{PriceCents: 60, Quantity: 3}},
	}
	if got := ob.AskDepth(SideYes, 40); got != 12 {
		t.Fatalf("yes depth=%d want 12", got)
	}
	if got := ob.AskDepth(SideNo, 60); got != 3 {
		t.Fatalf("no depth=%d want 3", got)
	}
	if got := ob.AskDepth(SideYes, 99); got != 0 {
		t.Fatalf("missing level depth=%d want 0", got)
	}
}
