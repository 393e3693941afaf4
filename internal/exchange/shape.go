package exchange

import "fmt"

// ShapeKind tags the payout shape of a bracket. The set is closed: every
// consumer switches exhaustively over the three kinds.
type ShapeKind int

const (
	ShapeAbove ShapeKind = iota
	ShapeBelow
	ShapeBetween
)

// Shape is the payout shape derived from a market's strike fields. Above uses
// Low as its threshold, Below uses High, Between uses both.
type Shape struct {
	Kind ShapeKind
	Low  float64
	High float64
}

// ShapeOf derives a market's payout shape from its strike-type tag, falling
// back to inference from which strike fields are populated when the tag is
// unrecognized. Returns false when no shape is derivable.
func ShapeOf(m MarketState) (Shape, bool) {
	switch m.StrikeType {
	case "greater", ">":
		if m.FloorStrike != nil {
			return Shape{Kind: ShapeAbove, Low: *m.FloorStrike}, true
		}
		return Shape{}, false
	case "less", "<":
		if m.CapStrike != nil {
			return Shape{Kind: ShapeBelow, High: *m.CapStrike}, true
		}
		return Shape{}, false
	case "between", "between_inclusive":
		if m.FloorStrike != nil && m.CapStrike != nil {
			return Shape{Kind: ShapeBetween, Low: *m.FloorStrike, High: *m.CapStrike}, true
		}
		return Shape{}, false
	default:
		switch {
		case m.FloorStrike != nil && m.CapStrike != nil:
			return Shape{Kind: ShapeBetween, Low: *m.FloorStrike, High: *m.CapStrike}, true
		case m.FloorStrike != nil:
			return Shape{Kind: ShapeAbove, Low: *m.FloorStrike}, true
		case m.CapStrike != nil:
			return Shape{Kind: ShapeBelow, High: *m.CapStrike}, true
		default:
			return Shape{}, false
		}
	}
}

// Label renders the shape for scan tables, e.g. ">70°", "<55°", "60-62°".
func (s Shape) Label() string {
	switch s.Kind {
	case ShapeAbove:
		return fmt.Sprintf(">%.0f°", s.Low)
	case ShapeBelow:
		return fmt.Sprintf("<%.0f°", s.High)
	case ShapeBetween:
		return fmt.Sprintf("%.0f-%.0f°", s.Low, s.High)
	}
	return "???"
}

// Contains reports whether a realized high satisfies the shape. Above is
// strict, Below is strict, Between is half-open [low, high).
func (s Shape) Contains(high float64) bool {
	switch s.Kind {
	case ShapeAbove:
		return high > s.Low
	case ShapeBelow:
		return high < s.High
	case ShapeBetween:
		return high >= s.Low && high < s.High
	}
	return false
}
