package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ListFilter narrows charge listings.
type ListFilter struct {
	AgencyID       *snowflake.ID
	OwnerID        *snowflake.ID
	BillingCycleID *snowflake.ID
	BillingMonth   string
	Status         Status
	Cursor         snowflake.ID
	Limit          int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, charge *Charge) error
	// Update persists the mutable charge fields. Gross amount and
	// breakdown are deliberately not part of the column list.
	Update(ctx context.Context, db *gorm.DB, charge *Charge) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Charge, error)
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Charge, error)
	FindByToken(ctx context.Context, db *gorm.DB, token string) (*Charge, error)
	FindByCycle(ctx context.Context, db *gorm.DB, cycleID snowflake.ID) ([]Charge, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Charge, error)

	// ClaimPending locks up to limit PENDING charges for dispatch,
	// skipping rows already claimed by a concurrent worker.
	ClaimPending(ctx context.Context, tx *gorm.DB, limit int) ([]Charge, error)
	// ClaimOverdue locks up to limit undispatched or processing charges
	// whose due date passed before the given time.
	ClaimOverdue(ctx context.Context, tx *gorm.DB, before time.Time, limit int) ([]Charge, error)
}
