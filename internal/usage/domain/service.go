package domain

import (
	"context"
	"errors"
	"time"

	"github.com/rentfolio/rentfolio/internal/scopectx"
	"github.com/rentfolio/rentfolio/pkg/db/pagination"
	"gorm.io/gorm"
)

var (
	ErrInvalidFeature        = errors.New("invalid_feature")
	ErrInvalidQuantity       = errors.New("invalid_quantity")
	ErrInvalidIdempotencyKey = errors.New("invalid_idempotency_key")
	ErrInvalidBillingMonth   = errors.New("invalid_billing_month")
)

type TrackRequest struct {
	AgencyID       *string        `json:"agency_id"`
	OwnerID        *string        `json:"owner_id"`
	Feature        string         `json:"feature"`
	Quantity       int64          `json:"quantity"`
	IdempotencyKey string         `json:"idempotency_key"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Metadata       map[string]any `json:"metadata"`
}

type ListUsageRequest struct {
	AgencyID     *string `form:"agency_id" json:"agency_id"`
	OwnerID      *string `form:"owner_id" json:"owner_id"`
	Feature      string  `form:"feature" json:"feature"`
	BillingMonth string  `form:"billing_month" json:"billing_month"`
	PageToken    string  `form:"page_token" json:"page_token"`
	PageSize     int32   `form:"page_size" json:"page_size"`
}

type ListUsageResponse struct {
	pagination.PageInfo
	UsageEvents []UsageEvent `json:"usage_events"`
}

type OverageRequest struct {
	AgencyID     *string `form:"agency_id" json:"agency_id"`
	OwnerID      *string `form:"owner_id" json:"owner_id"`
	BillingMonth string  `form:"billing_month" json:"billing_month"`
	Plan         string  `form:"plan" json:"plan"`
}

// FeatureOverage is one feature's counters with the charge a cycle
// close would produce right now.
type FeatureOverage struct {
	Feature         string `json:"feature"`
	Used            int64  `json:"used"`
	FreeLimit       int64  `json:"free_limit"`
	UnitPrice       int64  `json:"unit_price"`
	Overage         int64  `json:"overage"`
	ProjectedCharge int64  `json:"projected_charge"`
}

type OverageResponse struct {
	BillingMonth   string           `json:"billing_month"`
	Features       []FeatureOverage `json:"features"`
	TotalProjected int64            `json:"total_projected"`
}

type Service interface {
	Track(context.Context, TrackRequest) (*UsageEvent, error)
	List(context.Context, ListUsageRequest) (ListUsageResponse, error)
	Overage(context.Context, OverageRequest) (*OverageResponse, error)

	// TotalsForMonth sums quantities per feature for a scope and month,
	// running inside the caller's transaction so a cycle close reads the
	// counters it is about to snapshot.
	TotalsForMonth(ctx context.Context, tx *gorm.DB, scope scopectx.Scope, month string) (map[string]int64, error)
}
