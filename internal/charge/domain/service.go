package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	splitconfigdomain "github.com/rentfolio/rentfolio/internal/splitconfig/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound            = errors.New("charge_not_found")
	ErrInvalidID           = errors.New("invalid_charge_id")
	ErrInvalidAmount       = errors.New("invalid_charge_amount")
	ErrInvalidChargeType   = errors.New("invalid_charge_type")
	ErrInvalidStatus       = errors.New("invalid_charge_status")
	ErrInvalidBillingMonth = errors.New("invalid_billing_month")

	// State conflicts.
	ErrInvalidTransition = errors.New("invalid_charge_transition")
	ErrAlreadyDispatched = errors.New("charge_already_dispatched")
)

// CreateRequest materializes a charge inside the caller's transaction.
// The breakdown is the calculator output for this charge, stored
// verbatim; PlatformFee is the PLATFORM receiver's share of it.
type CreateRequest struct {
	AgencyID        *snowflake.ID
	OwnerID         *snowflake.ID
	ContractID      *snowflake.ID
	PropertyID      *snowflake.ID
	BillingCycleID  *snowflake.ID
	ConfigurationID *snowflake.ID
	ChargeType      splitconfigdomain.ChargeType
	Description     string
	BillingMonth    string
	GrossAmount     int64
	PlatformFee     int64
	SplitBreakdown  datatypes.JSON
	DueDate         *time.Time
}

type ListChargesRequest struct {
	AgencyID     *string `form:"agency_id" json:"agency_id"`
	OwnerID      *string `form:"owner_id" json:"owner_id"`
	BillingMonth string  `form:"billing_month" json:"billing_month"`
	Status       string  `form:"status" json:"status"`
	Cursor       string  `form:"cursor" json:"cursor"`
	PageSize     int     `form:"page_size" json:"page_size"`
}

type ListChargesResponse struct {
	Charges    []ChargeResponse `json:"charges"`
	NextCursor string           `json:"next_cursor,omitempty"`
	HasMore    bool             `json:"has_more"`
}

type UpdateStatusRequest struct {
	Status     string  `json:"status"`
	GatewayRef *string `json:"gateway_ref"`
}

type ChargeResponse struct {
	ID             string                       `json:"id"`
	Token          string                       `json:"token"`
	AgencyID       *string                      `json:"agency_id,omitempty"`
	OwnerID        *string                      `json:"owner_id,omitempty"`
	ContractID     *string                      `json:"contract_id,omitempty"`
	PropertyID     *string                      `json:"property_id,omitempty"`
	BillingCycleID *string                      `json:"billing_cycle_id,omitempty"`
	ChargeType     splitconfigdomain.ChargeType `json:"charge_type"`
	Description    string                       `json:"description,omitempty"`
	BillingMonth   string                       `json:"billing_month"`
	GrossAmount    int64                        `json:"gross_amount"`
	PlatformFee    int64                        `json:"platform_fee"`
	NetAmount      int64                        `json:"net_amount"`
	SplitBreakdown datatypes.JSON               `json:"split_breakdown,omitempty"`
	Status         Status                       `json:"status"`
	GatewayRef     *string                      `json:"gateway_ref,omitempty"`
	DueDate        *time.Time                   `json:"due_date,omitempty"`
	PaidAt         *time.Time                   `json:"paid_at,omitempty"`
	CreatedAt      time.Time                    `json:"created_at"`
	UpdatedAt      time.Time                    `json:"updated_at"`
}

// Response maps the persistence model to its transport shape.
func (c *Charge) Response() ChargeResponse {
	return ChargeResponse{
		ID:             c.ID.String(),
		Token:          c.Token,
		AgencyID:       idString(c.AgencyID),
		OwnerID:        idString(c.OwnerID),
		ContractID:     idString(c.ContractID),
		PropertyID:     idString(c.PropertyID),
		BillingCycleID: idString(c.BillingCycleID),
		ChargeType:     c.ChargeType,
		Description:    c.Description,
		BillingMonth:   c.BillingMonth,
		GrossAmount:    c.GrossAmount,
		PlatformFee:    c.PlatformFee,
		NetAmount:      c.NetAmount,
		SplitBreakdown: c.SplitBreakdown,
		Status:         c.Status,
		GatewayRef:     c.GatewayRef,
		DueDate:        c.DueDate,
		PaidAt:         c.PaidAt,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func idString(id *snowflake.ID) *string {
	if id == nil {
		return nil
	}
	value := id.String()
	return &value
}

type Service interface {
	// CreateInTx persists a new PENDING charge and its audit entry inside
	// the caller's transaction. The billing cycle close uses this so the
	// cycle, its charges, and the audit trail commit or roll back as one.
	CreateInTx(ctx context.Context, tx *gorm.DB, req CreateRequest) (*Charge, error)

	List(ctx context.Context, req ListChargesRequest) (*ListChargesResponse, error)
	// Get accepts a snowflake id or an opaque charge token.
	Get(ctx context.Context, idOrToken string) (*ChargeResponse, error)
	ListByCycle(ctx context.Context, cycleID string) ([]ChargeResponse, error)

	// Dispatch hands a PENDING charge to the payment gateway, attaches
	// the returned reference and moves it to PROCESSING.
	Dispatch(ctx context.Context, id string) (*ChargeResponse, error)
	// DispatchPending claims and dispatches up to limit PENDING charges;
	// used by the scheduler.
	DispatchPending(ctx context.Context, limit int) (int, error)

	UpdateStatus(ctx context.Context, id string, req UpdateStatusRequest) (*ChargeResponse, error)
	// MarkOverdue moves claimed PENDING/PROCESSING charges whose due date
	// passed to OVERDUE; returns how many moved.
	MarkOverdue(ctx context.Context, limit int) (int, error)
}
