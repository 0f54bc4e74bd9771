package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// Status represents the cycle lifecycle. Closing is one-way.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// BillingCycle is one scope's billing period for a calendar month,
// created lazily on first access. Uniqueness per scope+month is
// enforced by an expression index in the migrations, since exactly one
// of AgencyID/OwnerID is set.
type BillingCycle struct {
	ID                  snowflake.ID   `gorm:"primaryKey"`
	AgencyID            *snowflake.ID  `gorm:"index:idx_billing_cycles_scope,priority:1"`
	OwnerID             *snowflake.ID  `gorm:"index:idx_billing_cycles_scope,priority:2"`
	BillingMonth        string         `gorm:"type:varchar(7);not null;index"`
	Status              Status         `gorm:"type:text;not null;default:'OPEN';index"`
	UsageSnapshot       datatypes.JSON `gorm:"type:jsonb"`
	TotalOverage        int64          `gorm:"not null;default:0"`
	TotalOperationalFee int64          `gorm:"not null;default:0"`
	ChargeIDs           pq.StringArray `gorm:"type:text[]"`
	ClosedBy            *string        `gorm:"type:text"`
	ClosedAt            *time.Time     `gorm:""`
	CreatedAt           time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingCycle) TableName() string { return "billing_cycles" }

// FeatureCounter is one feature's metering state, snapshotted into the
// cycle at close so later plan changes cannot rewrite history.
type FeatureCounter struct {
	Feature       string `json:"feature"`
	Used          int64  `json:"used"`
	FreeLimit     int64  `json:"free_limit"`
	UnitPrice     int64  `json:"unit_price"`
	Overage       int64  `json:"overage"`
	ChargedAmount int64  `json:"charged_amount"`
}
