package observ

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// Init configures the process-wide logger. Level falls back to info on
// unrecognized input so a typo in LOG_LEVEL never silences the bot.
func Init(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	mu.Lock()
	logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
	mu.Unlock()
}

func current() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Log(event string, kv map[string]any) {
	l := current()
	l.Info().Fields(kv).Msg(event)
}

func Warn(event string, kv map[string]any) {
	l := current()
	l.Warn().Fields(kv).Msg(event)
}

func Error(event string, kv map[string]any) {
	l := current()
	l.Error().Fields(kv).Msg(event)
}

// Critical marks state-tracking gaps against real positions. These must be
// distinguishable from ordinary errors so an operator can reconcile manually.
func Critical(event string, kv map[string]any) {
	l := current()
	l.Error().Bool("critical", true).Fields(kv).Msg(event)
}
