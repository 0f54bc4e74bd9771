// Package domain contains persistence models for metered usage
// ingestion.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageEvent stores a single unit of metered activity for a billing
// scope. Re-sends with the same idempotency key are accepted but
// counted once; the (scope, idempotency_key) pair is unique.
type UsageEvent struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	AgencyID       *snowflake.ID     `gorm:"index:idx_usage_events_scope,priority:1"`
	OwnerID        *snowflake.ID     `gorm:"index:idx_usage_events_scope,priority:2"`
	Feature        string            `gorm:"type:text;not null"`
	Quantity       int64             `gorm:"not null"`
	BillingMonth   string            `gorm:"type:varchar(7);not null;index"` // YYYY-MM snapshot of occurred_at
	IdempotencyKey string            `gorm:"type:text;not null"`
	OccurredAt     time.Time         `gorm:"not null"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }
