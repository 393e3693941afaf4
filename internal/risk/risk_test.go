package risk

import (
	"strings"
	"testing"

	"github.com/kyzlolabs/weatherbot/internal/ledger"
)

func TestCheckAllClear(t *testing.T) {
	limits := Limits{MaxDailyLossCents: 1000, MaxConsecutiveLosses: 7, MinBalanceCents: 500}
	if veto := Check(ledger.Stats{TodayPnLCents: -500, CurrentStreak: -3}, 10_000, limits); veto != "" {
		t.Fatalf("expected clear, got veto %q", veto)
	}
}

func TestCheckDailyLoss(t *testing.T) {
	limits := Limits{MaxDailyLossCents: 1000}
	veto := Check(ledger.Stats{TodayPnLCents: -1000}, 10_000, limits)
	if !strings.Contains(veto, "daily loss") {
		t.Fatalf("expected daily loss veto, got %q", veto)
	}
	// one cent shy of the limit still trades
	if veto := Check(ledger.Stats{TodayPnLCents: -999}, 10_000, limits); veto != "" {
		t.Fatalf("unexpected veto %q", veto)
	}
}

func TestCheckLossStreak(t *testing.T) {
	limits := Limits{MaxConsecutiveLosses: 7}
	veto := Check(ledger.Stats{CurrentStreak: -7}, 10_000, limits)
	if !strings.Contains(veto, "consecutive loss") {
		t.Fatalf("expected streak veto, got %q", veto)
	}
	if veto := Check(ledger.Stats{CurrentStreak: 7}, 10_000, limits); veto != "" {
		t.Fatalf("win streak must not veto, got %q", veto)
	}
}

func TestCheckLowBalance(t *testing.T) {
	limits := Limits{MinBalanceCents: 500}
	veto := Check(ledger.Stats{}, 499, limits)
	if !strings.Contains(veto, "below minimum") {
		t.Fatalf("expected balance veto, got %q", veto)
	}
	if veto := Check(ledger.Stats{}, 500, limits); veto != "" {
		t.Fatalf("balance at minimum must pass, got %q", veto)
	}
}

func TestCheckDisabledLimits(t *testing.T) {
	// zero-valued limits are disabled
	if veto := Check(ledger.Stats{TodayPnLCents: -1_000_000, CurrentStreak: -50}, 0, Limits{}); veto != "" {
		t.Fatalf("disabled limits must not veto, got %q", veto)
	}
}
