package risk

import (
	"fmt"

	"github.com/kyzlolabs/weatherbot/internal/ledger"
	"github.com/kyzlolabs/weatherbot/internal/observ"
)

// Limits are the pre-flight thresholds checked before any market work.
type Limits struct {
	MaxDailyLossCents    int64 `yaml:"max_daily_loss_cents"`
	MaxConsecutiveLosses int   `yaml:"max_consecutive_losses"`
	MinBalanceCents      int64 `yaml:"min_balance_cents"`
}

// Check vetoes the cycle when any limit is breached. An empty return means
// trading may proceed. A veto is an orderly exit, never an error.
func Check(stats ledger.Stats, balanceCents int64, limits Limits) string {
	if limits.MaxDailyLossCents > 0 && stats.TodayPnLCents <= -limits.MaxDailyLossCents {
		observ.IncCounter("risk_vetoes_total", map[string]string{"reason": "daily_loss"})
		return fmt.Sprintf("daily loss limit hit: today=%d¢ limit=-%d¢", stats.TodayPnLCents, limits.MaxDailyLossCents)
	}
	if limits.MaxConsecutiveLosses > 0 && stats.CurrentStreak <= -limits.MaxConsecutiveLosses {
		observ.IncCounter("risk_vetoes_total", map[string]string{"reason": "loss_streak"})
		return fmt.Sprintf("consecutive loss limit hit: streak=%d limit=%d", stats.CurrentStreak, limits.MaxConsecutiveLosses)
	}
	if limits.MinBalanceCents > 0 && balanceCents < limits.MinBalanceCents {
		observ.IncCounter("risk_vetoes_total", map[string]string{"reason": "low_balance"})
		return fmt.Sprintf("balance %d¢ below minimum %d¢", balanceCents, limits.MinBalanceCents)
	}
	return ""
}
