package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ScopeKind says which slice of the tenancy a configuration governs.
type ScopeKind string

const (
	ScopeGlobal      ScopeKind = "GLOBAL"
	ScopePerContract ScopeKind = "PER_CONTRACT"
	ScopePerProperty ScopeKind = "PER_PROPERTY"
)

// Status is the configuration lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusValidated Status = "VALIDATED"
	StatusActive    Status = "ACTIVE"
	StatusInactive  Status = "INACTIVE"
	StatusArchived  Status = "ARCHIVED"
)

type ReceiverType string

const (
	ReceiverPlatform ReceiverType = "PLATFORM"
	ReceiverAgency   ReceiverType = "AGENCY"
	ReceiverOwner    ReceiverType = "OWNER"
)

type RuleType string

const (
	RulePercentage RuleType = "PERCENTAGE"
	RuleFixed      RuleType = "FIXED"
)

// ChargeType classifies the money a split applies to. A nil filter on a
// rule means the rule applies to every charge type.
type ChargeType string

const (
	ChargeRent           ChargeType = "RENT"
	ChargeOveruse        ChargeType = "OVERUSE"
	ChargeOperationalFee ChargeType = "OPERATIONAL_FEE"
	ChargeDeposit        ChargeType = "DEPOSIT"
	ChargePenalty        ChargeType = "PENALTY"
)

// ValidChargeType reports whether the value is a known charge type.
func ValidChargeType(value ChargeType) bool {
	switch value {
	case ChargeRent, ChargeOveruse, ChargeOperationalFee, ChargeDeposit, ChargePenalty:
		return true
	default:
		return false
	}
}

// ScopeKey is the tuple identifying where a configuration applies. All
// fields are optional; the kind dictates which ones must be set.
type ScopeKey struct {
	AgencyID   *snowflake.ID `json:"agency_id,omitempty"`
	OwnerID    *snowflake.ID `json:"owner_id,omitempty"`
	ContractID *snowflake.ID `json:"contract_id,omitempty"`
	PropertyID *snowflake.ID `json:"property_id,omitempty"`
}

// Configuration is a versioned split definition. At most one ACTIVE
// configuration may exist per (scope kind, scope key); the service
// enforces that transactionally.
type Configuration struct {
	ID          snowflake.ID  `json:"id" gorm:"primaryKey"`
	ScopeKind   ScopeKind     `json:"scope_kind" gorm:"column:scope_kind;type:text;not null;index:idx_split_configs_scope,priority:1"`
	AgencyID    *snowflake.ID `json:"agency_id,omitempty" gorm:"column:agency_id;index:idx_split_configs_scope,priority:2"`
	OwnerID     *snowflake.ID `json:"owner_id,omitempty" gorm:"column:owner_id;index:idx_split_configs_scope,priority:3"`
	ContractID  *snowflake.ID `json:"contract_id,omitempty" gorm:"column:contract_id;index:idx_split_configs_scope,priority:4"`
	PropertyID  *snowflake.ID `json:"property_id,omitempty" gorm:"column:property_id;index:idx_split_configs_scope,priority:5"`
	Name        string        `json:"name" gorm:"type:text;not null"`
	Description string        `json:"description" gorm:"type:text;not null;default:''"`
	Code        string        `json:"code" gorm:"type:text;not null;index"`
	Version     int           `json:"version" gorm:"not null;default:1"`
	Status      Status        `json:"status" gorm:"type:text;not null;default:'DRAFT'"`
	IsValidated bool          `json:"is_validated" gorm:"not null;default:false"`

	CreatedBy     string  `json:"created_by" gorm:"type:text;not null;default:''"`
	ValidatedBy   *string `json:"validated_by,omitempty" gorm:"type:text"`
	ActivatedBy   *string `json:"activated_by,omitempty" gorm:"type:text"`
	DeactivatedBy *string `json:"deactivated_by,omitempty" gorm:"type:text"`

	ValidatedAt   *time.Time `json:"validated_at,omitempty"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	Receivers []Receiver `json:"receivers,omitempty" gorm:"-"`
}

func (Configuration) TableName() string { return "split_configs" }

// ScopeKey extracts the scope tuple from the configuration columns.
func (c *Configuration) ScopeKey() ScopeKey {
	return ScopeKey{
		AgencyID:   c.AgencyID,
		OwnerID:    c.OwnerID,
		ContractID: c.ContractID,
		PropertyID: c.PropertyID,
	}
}

// Receiver is a payout destination owned by exactly one configuration.
// Locked receivers reject mutation and deletion in every status.
type Receiver struct {
	ID              snowflake.ID  `json:"id" gorm:"primaryKey"`
	ConfigurationID snowflake.ID  `json:"configuration_id" gorm:"not null;index"`
	Type            ReceiverType  `json:"type" gorm:"type:text;not null"`
	Name            string        `json:"name" gorm:"type:text;not null"`
	Document        string        `json:"document" gorm:"type:text;not null;default:''"`
	UserID          *snowflake.ID `json:"user_id,omitempty"`
	AgencyID        *snowflake.ID `json:"agency_id,omitempty"`
	WalletID        *string       `json:"wallet_id,omitempty" gorm:"type:text"`
	IsLocked        bool          `json:"is_locked" gorm:"not null;default:false"`
	CreatedAt       time.Time     `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time     `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`

	Rules []Rule `json:"rules,omitempty" gorm:"-"`
}

func (Receiver) TableName() string { return "split_receivers" }

// Rule defines how much of a charge its receiver takes. Value is a
// percent for PERCENTAGE rules and minor units for FIXED rules.
type Rule struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	ConfigurationID snowflake.ID `json:"configuration_id" gorm:"not null;index"`
	ReceiverID      snowflake.ID `json:"receiver_id" gorm:"not null;index"`
	RuleType        RuleType     `json:"rule_type" gorm:"type:text;not null"`
	Value           float64      `json:"value" gorm:"type:numeric;not null"`
	MinimumAmount   *int64       `json:"minimum_amount,omitempty"`
	MaximumAmount   *int64       `json:"maximum_amount,omitempty"`
	ChargeType      *ChargeType  `json:"charge_type,omitempty" gorm:"type:text"`
	Priority        int          `json:"priority" gorm:"not null;default:0"`
	IsActive        bool         `json:"is_active" gorm:"not null;default:true"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Rule) TableName() string { return "split_rules" }

// AppliesTo reports whether the rule participates in a calculation for
// the given charge type.
func (r Rule) AppliesTo(chargeType *ChargeType) bool {
	if !r.IsActive {
		return false
	}
	if r.ChargeType == nil {
		return true
	}
	if chargeType == nil {
		return false
	}
	return *r.ChargeType == *chargeType
}
