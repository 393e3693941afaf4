package ledger

import "time"

// Stats is rolling account performance derived entirely from ledger rows.
type Stats struct {
	TotalTrades   int     `json:"total_trades"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	WinRate       float64 `json:"win_rate"`
	TotalPnLCents int64   `json:"total_pnl_cents"`
	TodayPnLCents int64   `json:"today_pnl_cents"`
	CurrentStreak int     `json:"current_streak"` // positive = consecutive wins, negative = losses
	MaxDrawdown   int64   `json:"max_drawdown_cents"`
	AvgWinCents   float64 `json:"avg_win_cents"`
	AvgLossCents  float64 `json:"avg_loss_cents"`
}

// ComputeStats reduces the ledger to performance stats. Terminal rows are
// everything except pending and cancelled; win rate only counts decided
// (win/loss) rows so zombie "unknown" settlements never skew it.
func ComputeStats(rows []Row, now time.Time) Stats {
	var st Stats
	var winSum, lossSum int64
	var running, peak int64
	today := now.UTC().Format("2006-01-02")

	for _, row := range rows {
		switch row.Result {
		case ResultPending, ResultCancelled:
			continue
		}
		st.TotalTrades++
		st.TotalPnLCents += row.PnLCents
		if row.Timestamp.UTC().Format("2006-01-02") == today {
			st.TodayPnLCents += row.PnLCents
		}

		running += row.PnLCents
		if running > peak {
			peak = running
		}
		if dd := peak - running; dd > st.MaxDrawdown {
			st.MaxDrawdown = dd
		}

		switch row.Result {
		case ResultWin:
			st.Wins++
			winSum += row.PnLCents
			if st.CurrentStreak >= 0 {
				st.CurrentStreak++
			} else {
				st.CurrentStreak = 1
			}
		case ResultLoss:
			st.Losses++
			lossSum += row.PnLCents
			if st.CurrentStreak <= 0 {
				st.CurrentStreak--
			} else {
				st.CurrentStreak = -1
			}
		}
	}

	if decided := st.Wins + st.Losses; decided > 0 {
		st.WinRate = float64(st.Wins) / float64(decided)
	}
	if st.Wins > 0 {
		st.AvgWinCents = float64(winSum) / float64(st.Wins)
	}
	if st.Losses > 0 {
		st.AvgLossCents = float64(lossSum) / float64(st.Losses)
	}
	return st
}

// RecentTrades returns up to n most recent rows, newest first.
func RecentTrades(rows []Row, n int) []Row {
	out := make([]Row, 0, n)
	for i := len(rows) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, rows[i])
	}
	return out
}
