// Package gateway defines the payment gateway port. The engine never
// talks to a real gateway; it emits the data a gateway client needs
// and records the reference the client hands back.
package gateway

import (
	"context"
	"time"

	"gorm.io/datatypes"
)

// DispatchRequest is the payload handed to the gateway client for one
// charge.
type DispatchRequest struct {
	CustomerID     string         `json:"customer_id"`
	Amount         int64          `json:"amount"`
	Description    string         `json:"description"`
	DueDate        *time.Time     `json:"due_date,omitempty"`
	SplitBreakdown datatypes.JSON `json:"split_breakdown,omitempty"`
}

// Gateway forwards charges to a payment provider.
type Gateway interface {
	// Dispatch returns the provider's reference for the created charge.
	Dispatch(ctx context.Context, req DispatchRequest) (string, error)
}
