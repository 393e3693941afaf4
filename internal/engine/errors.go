package engine

import "fmt"

// CriticalError means an order was placed on the venue but the ledger append
// failed: a real position exists with no local record. It carries the
// confirmed order id so the operator can reconcile manually.
type CriticalError struct {
	OrderID string
	Err     error
}

func (e *CriticalError) Error() string {
	return fmt.Sprintf("critical: order %s placed but ledger write failed: %v", e.OrderID, e.Err)
}

func (e *CriticalError) Unwrap() error { return e.Err }
