package order

import (
	"fmt"

	"github.com/shubham-shewale/bullion-desk/cmd/gateway/internal/tradeapi"
)

// ValidationError rejects an order before anything is sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PollTimeoutError means the order was still not terminal after Attempts
// status fetches.
type PollTimeoutError struct {
	OrderID  string
	Attempts int
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("order %s not settled after %d attempts", e.OrderID, e.Attempts)
}

type TransportError = tradeapi.TransportError
