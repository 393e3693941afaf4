package brain

import (
	"encoding/json"
	"strings"

	"github.com/kyzlolabs/weatherbot/internal/exchange"
)

type verdictJSON struct {
	Action        string  `json:"action"`
	Side          string  `json:"side"`
	Shares        int     `json:"shares"`
	MaxPriceCents int     `json:"max_price_cents"`
	Reasoning     string  `json:"reasoning"`
	EdgeMagnitude float64 `json:"edge_magnitude"`
}

// ParseVerdict extracts a structured verdict from a model completion. It
// tolerates a ```json fenced block, a bare object, or an object embedded in
// prose. Anything else is a Pass; one bad completion must never crash the
// cycle.
func ParseVerdict(raw string) Decision {
	var jsonStr string
	trimmed := strings.TrimSpace(raw)
	switch {
	case strings.Contains(raw, "```json"):
		start := strings.Index(raw, "```json") + len("```json")
		rest := raw[start:]
		if end := strings.Index(rest, "```"); end >= 0 {
			jsonStr = rest[:end]
		} else {
			jsonStr = rest
		}
	case strings.HasPrefix(trimmed, "{"):
		jsonStr = trimmed
	default:
		s := strings.Index(raw, "{")
		e := strings.LastIndex(raw, "}")
		if s < 0 || e <= s {
			return pass("Failed to parse model response")
		}
		jsonStr = raw[s : e+1]
	}

	var v verdictJSON
	if err := json.Unmarshal([]byte(strings.TrimSpace(jsonStr)), &v); err != nil {
		return pass("Failed to parse model response")
	}

	switch strings.ToUpper(v.Action) {
	case string(ActionBuy):
		side := exchange.SideYes
		if strings.EqualFold(v.Side, string(exchange.SideNo)) {
			side = exchange.SideNo
		}
		edge := v.EdgeMagnitude
		if edge < 0 {
			edge = -edge
		}
		return Decision{
			Action:     ActionBuy,
			Side:       side,
			Shares:     v.Shares,
			LimitCents: v.MaxPriceCents,
			Rationale:  v.Reasoning,
			Edge:       edge,
		}
	case string(ActionPass):
		return Decision{Action: ActionPass, Rationale: v.Reasoning}
	default:
		return pass("Failed to parse model response")
	}
}
