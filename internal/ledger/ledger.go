package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Trade results. A ledger holds at most one pending row at a time; rows are
// append-only and only the most recent pending row ever transitions.
const (
	ResultPending   = "pending"
	ResultWin       = "win"
	ResultLoss      = "loss"
	ResultCancelled = "cancelled"
	ResultUnknown   = "unknown"
)

// Row is one trade attempt.
type Row struct {
	Timestamp       time.Time `json:"timestamp"`
	Ticker          string    `json:"ticker"`
	Side            string    `json:"side"`
	Shares          int       `json:"shares"`
	PriceCents      int       `json:"price_cents"`
	Result          string    `json:"result"`
	PnLCents        int64     `json:"pnl_cents"`
	CumulativeCents int64     `json:"cumulative_cents"`
	OrderID         string    `json:"order_id"`
}

// ErrNoPending is returned by SettleLast when no row is pending; settling an
// already-settled ledger is a no-op for callers that check it.
var ErrNoPending = errors.New("ledger: no pending row")

// Store is a JSONL-backed trade ledger with a sibling stats snapshot file and
// the strategy prompt alongside.
type Store struct {
	ledgerPath string
	statsPath  string
	promptPath string
}

func NewStore(ledgerPath, statsPath, promptPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(ledgerPath), 0o755); err != nil {
		return nil, err
	}
	return &Store{ledgerPath: ledgerPath, statsPath: statsPath, promptPath: promptPath}, nil
}

// Read returns all rows in append order. A missing file is an empty ledger.
func (s *Store) Read() ([]Row, error) {
	f, err := os.Open(s.ledgerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var rows []Row
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if text == "" {
			continue
		}
		var row Row
		if err := json.Unmarshal([]byte(text), &row); err != nil {
			return nil, fmt.Errorf("ledger line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, scanner.Err()
}

// Append adds one row to the end of the ledger.
func (s *Store) Append(row Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.ledgerPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// LastPending returns the most recent pending row, if any.
func LastPending(rows []Row) (Row, bool) {
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Result == ResultPending {
			return rows[i], true
		}
	}
	return Row{}, false
}

// SettleLast transitions the most recent pending row to a terminal result.
// Returns ErrNoPending when nothing is pending, which makes a repeated settle
// a detectable no-op rather than a double write.
func (s *Store) SettleLast(result string, pnlCents int64) error {
	rows, err := s.Read()
	if err != nil {
		return err
	}
	idx := -1
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Result == ResultPending {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNoPending
	}
	rows[idx].Result = result
	rows[idx].PnLCents = pnlCents
	return s.rewrite(rows)
}

// CancelByOrderID marks the matching pending row cancelled. Unknown order ids
// are ignored: the venue can report resting orders the ledger never saw.
func (s *Store) CancelByOrderID(orderID string) error {
	rows, err := s.Read()
	if err != nil {
		return err
	}
	changed := false
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].OrderID == orderID && rows[i].Result == ResultPending {
			rows[i].Result = ResultCancelled
			changed = true
			break
		}
	}
	if !changed {
		return nil
	}
	return s.rewrite(rows)
}

// rewrite replaces the ledger file atomically (temp file + rename).
func (s *Store) rewrite(rows []Row) error {
	tmp := s.ledgerPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			f.Close()
			return err
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.ledgerPath)
}

// WriteStats persists the stats snapshot next to the ledger. Stats are always
// derived from a ledger read, never edited in place.
func (s *Store) WriteStats(stats Stats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.statsPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.statsPath)
}

// ReadPrompt loads the strategy prompt handed to the decision engine.
func (s *Store) ReadPrompt() (string, error) {
	data, err := os.ReadFile(s.promptPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
