package domain

import (
	"context"
	"errors"
	"time"

	chargedomain "github.com/rentfolio/rentfolio/internal/charge/domain"
	"gorm.io/datatypes"
)

var (
	ErrNotFound      = errors.New("billing_cycle_not_found")
	ErrInvalidID     = errors.New("invalid_billing_cycle_id")
	ErrInvalidMonth  = errors.New("invalid_billing_month")
	ErrInvalidStatus = errors.New("invalid_cycle_status")

	// State conflict: closing is one-way and a double close is rejected,
	// not ignored.
	ErrNotOpen = errors.New("billing_cycle_not_open")
)

type CurrentCycleRequest struct {
	AgencyID *string `form:"agency_id" json:"agency_id"`
	OwnerID  *string `form:"owner_id" json:"owner_id"`
}

type ListCyclesRequest struct {
	AgencyID     *string `form:"agency_id" json:"agency_id"`
	OwnerID      *string `form:"owner_id" json:"owner_id"`
	BillingMonth string  `form:"billing_month" json:"billing_month"`
	Status       string  `form:"status" json:"status"`
	Cursor       string  `form:"cursor" json:"cursor"`
	PageSize     int     `form:"page_size" json:"page_size"`
}

type ListCyclesResponse struct {
	Cycles     []CycleResponse `json:"billing_cycles"`
	NextCursor string          `json:"next_cursor,omitempty"`
	HasMore    bool            `json:"has_more"`
}

type CycleResponse struct {
	ID                  string         `json:"id"`
	AgencyID            *string        `json:"agency_id,omitempty"`
	OwnerID             *string        `json:"owner_id,omitempty"`
	BillingMonth        string         `json:"billing_month"`
	Status              Status         `json:"status"`
	UsageSnapshot       datatypes.JSON `json:"usage_snapshot,omitempty"`
	TotalOverage        int64          `json:"total_overage"`
	TotalOperationalFee int64          `json:"total_operational_fee"`
	ChargeIDs           []string       `json:"charge_ids,omitempty"`
	ClosedBy            *string        `json:"closed_by,omitempty"`
	ClosedAt            *time.Time     `json:"closed_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// CloseCycleResponse reports a finished close: the cycle with its
// snapshot, the charges it emitted, and non-blocking warnings such as a
// missing split configuration.
type CloseCycleResponse struct {
	Cycle    CycleResponse                 `json:"billing_cycle"`
	Charges  []chargedomain.ChargeResponse `json:"charges,omitempty"`
	Warnings []string                      `json:"warnings,omitempty"`
}

type Service interface {
	// GetOrCreateCurrent returns the scope's OPEN cycle for the current
	// month, creating it on first access. Concurrent creators race safely
	// on the scope+month unique index; the loser re-reads.
	GetOrCreateCurrent(ctx context.Context, req CurrentCycleRequest) (*CycleResponse, error)
	Get(ctx context.Context, id string) (*CycleResponse, error)
	List(ctx context.Context, req ListCyclesRequest) (*ListCyclesResponse, error)

	// Close aggregates the month's usage into overage and operational fee
	// charges, snapshots the counters, and marks the cycle CLOSED. The
	// cycle, its charges, and the audit trail commit as one transaction.
	Close(ctx context.Context, id string) (*CloseCycleResponse, error)
	// CloseDue closes OPEN cycles from past months one at a time until
	// none remain or limit is reached; used by the scheduler.
	CloseDue(ctx context.Context, limit int) (int, error)
}
