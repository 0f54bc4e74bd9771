package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/rentfolio/rentfolio/internal/scopectx"
	"gorm.io/gorm"
)

// ListFilter narrows cycle listings.
type ListFilter struct {
	AgencyID     *snowflake.ID
	OwnerID      *snowflake.ID
	BillingMonth string
	Status       Status
	Cursor       snowflake.ID
	Limit        int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, cycle *BillingCycle) error
	Update(ctx context.Context, db *gorm.DB, cycle *BillingCycle) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BillingCycle, error)
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*BillingCycle, error)
	FindByScopeMonth(ctx context.Context, db *gorm.DB, scope scopectx.Scope, month string) (*BillingCycle, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]BillingCycle, error)

	// ClaimDue locks up to limit OPEN cycles for months before the given
	// one, skipping rows claimed by a concurrent worker.
	ClaimDue(ctx context.Context, tx *gorm.DB, beforeMonth string, limit int) ([]BillingCycle, error)
}
