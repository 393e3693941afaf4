package safety

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kyzlolabs/weatherbot/internal/config"
	"github.com/kyzlolabs/weatherbot/internal/ledger"
	"github.com/kyzlolabs/weatherbot/internal/observ"
)

// Lockfile is the process singleton: exactly one cycle runs system-wide. A
// stale lockfile from a dead PID is reclaimed.
type Lockfile struct {
	path string
}

func Acquire(path string) (*Lockfile, error) {
	if contents, err := os.ReadFile(path); err == nil {
		pid, _ := strconv.Atoi(strings.TrimSpace(string(contents)))
		if pid > 0 {
			if _, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); err == nil {
				return nil, fmt.Errorf("another instance running (PID %d)", pid)
			}
			observ.Warn("stale_lockfile_removed", map[string]any{"pid": pid})
		}
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, err
	}
	return &Lockfile{path: path}, nil
}

func (l *Lockfile) Release() {
	_ = os.Remove(l.path)
}

// ValidateStartup fails fast on misconfiguration before any exchange call.
// Live trading requires an explicit acknowledgement.
func ValidateStartup(cfg config.Root, store *ledger.Store) error {
	if cfg.Kalshi.PrivateKeyPEM == "" {
		return fmt.Errorf("KALSHI_PRIVATE_KEY_PATH is empty or file not found")
	}
	if !strings.Contains(cfg.Kalshi.PrivateKeyPEM, "BEGIN") {
		return fmt.Errorf("PEM file doesn't look like a private key")
	}
	if cfg.Kalshi.KeyID == "" {
		return fmt.Errorf("KALSHI_API_KEY_ID not set")
	}
	if len(cfg.Cities) == 0 {
		return fmt.Errorf("no cities configured; check CITIES env var")
	}

	if _, err := store.Read(); err != nil {
		return fmt.Errorf("ledger unreadable: %w", err)
	}
	if _, err := store.ReadPrompt(); err != nil {
		return fmt.Errorf("prompt unreadable: %w", err)
	}

	if cfg.Brain == "openrouter" && cfg.OpenRouter.APIKey == "" {
		return fmt.Errorf("BRAIN=openrouter but OPENROUTER_API_KEY not set")
	}

	if !cfg.PaperTrade && !cfg.ConfirmLive {
		return fmt.Errorf("PAPER_TRADE=false but CONFIRM_LIVE is not true; set CONFIRM_LIVE=true to acknowledge real money trading")
	}
	if !cfg.PaperTrade {
		observ.Warn("live_trading_enabled", map[string]any{"note": "real money at risk"})
	}
	return nil
}
