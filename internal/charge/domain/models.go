// Package domain contains persistence models for charges produced by
// the billing engine.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	splitconfigdomain "github.com/rentfolio/rentfolio/internal/splitconfig/domain"
	"gorm.io/datatypes"
)

// Status is the charge lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusPaid       Status = "PAID"
	StatusOverdue    Status = "OVERDUE"
	StatusRefunded   Status = "REFUNDED"
)

// CanTransitionTo reports whether the move is a legal lifecycle step.
// Dispatching moves PENDING to PROCESSING; the gateway settles
// PROCESSING to PAID; anything not yet paid can fall OVERDUE past its
// due date; only PAID charges are refundable.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusOverdue
	case StatusProcessing:
		return next == StatusPaid || next == StatusOverdue
	case StatusPaid:
		return next == StatusRefunded
	default:
		return false
	}
}

// ValidBillingMonth reports whether the value is a YYYY-MM month.
func ValidBillingMonth(value string) bool {
	_, err := time.Parse("2006-01", value)
	return err == nil
}

// Charge is one billable amount produced for a scope, carrying the
// split breakdown it was created with. Once a gateway reference is
// attached the gross amount and breakdown never change; only status
// and payment fields evolve.
type Charge struct {
	ID              snowflake.ID                 `gorm:"primaryKey"`
	Token           string                       `gorm:"type:text;not null;uniqueIndex:ux_charges_token"`
	AgencyID        *snowflake.ID                `gorm:"index:idx_charges_scope,priority:1"`
	OwnerID         *snowflake.ID                `gorm:"index:idx_charges_scope,priority:2"`
	ContractID      *snowflake.ID                `gorm:"index"`
	PropertyID      *snowflake.ID                `gorm:"index"`
	BillingCycleID  *snowflake.ID                `gorm:"index"`
	ConfigurationID *snowflake.ID                `gorm:"index"`
	ChargeType      splitconfigdomain.ChargeType `gorm:"type:text;not null"`
	Description     string                       `gorm:"type:text;not null;default:''"`
	BillingMonth    string                       `gorm:"type:varchar(7);not null;index"`
	GrossAmount     int64                        `gorm:"not null"`
	PlatformFee     int64                        `gorm:"not null;default:0"`
	NetAmount       int64                        `gorm:"not null"`
	SplitBreakdown  datatypes.JSON               `gorm:"type:jsonb"`
	Status          Status                       `gorm:"type:text;not null;default:'PENDING';index"`
	GatewayRef      *string                      `gorm:"type:text"`
	DueDate         *time.Time                   `gorm:""`
	PaidAt          *time.Time                   `gorm:""`
	CreatedAt       time.Time                    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time                    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Charge) TableName() string { return "charges" }

// Dispatched reports whether the charge has been handed to the payment
// gateway.
func (c *Charge) Dispatched() bool {
	return c.GatewayRef != nil && *c.GatewayRef != ""
}
