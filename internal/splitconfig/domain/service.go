package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound         = errors.New("split_config_not_found")
	ErrReceiverNotFound = errors.New("receiver_not_found")
	ErrRuleNotFound     = errors.New("rule_not_found")

	ErrInvalidID           = errors.New("invalid_id")
	ErrInvalidScopeKind    = errors.New("invalid_scope_kind")
	ErrInvalidScopeKey     = errors.New("invalid_scope_key")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidReceiverType = errors.New("invalid_receiver_type")
	ErrInvalidRuleType     = errors.New("invalid_rule_type")
	ErrInvalidRuleValue    = errors.New("invalid_rule_value")
	ErrInvalidChargeType   = errors.New("invalid_charge_type")
	ErrInvalidAmountBounds = errors.New("invalid_amount_bounds")
	ErrInvalidStatus       = errors.New("invalid_status")

	// State conflicts. Activation and mutation guards return these so the
	// transport layer can answer 409 instead of 422.
	ErrNotValidated      = errors.New("split_config_not_validated")
	ErrNotEditable       = errors.New("split_config_not_editable")
	ErrArchived          = errors.New("split_config_archived")
	ErrInvalidTransition = errors.New("invalid_status_transition")
	ErrReceiverLocked    = errors.New("receiver_locked")
	ErrReceiverMismatch  = errors.New("receiver_not_in_config")
	ErrVersionConflict   = errors.New("version_conflict")
)

// ValidationIssue is a single failed validation check.
type ValidationIssue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationIssues carries every check that failed during Validate, so
// callers see the whole picture in one round trip.
type ValidationIssues struct {
	Issues []ValidationIssue `json:"issues"`
}

func (v *ValidationIssues) Error() string {
	codes := make([]string, 0, len(v.Issues))
	for _, issue := range v.Issues {
		codes = append(codes, issue.Code)
	}
	return "validation_failed: " + strings.Join(codes, ", ")
}

type ScopeRequest struct {
	Kind       string  `json:"scope_kind"`
	AgencyID   *string `json:"agency_id"`
	OwnerID    *string `json:"owner_id"`
	ContractID *string `json:"contract_id"`
	PropertyID *string `json:"property_id"`
}

type CreateConfigurationRequest struct {
	Scope       ScopeRequest `json:"scope"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
}

type UpdateConfigurationRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

type ListConfigurationsRequest struct {
	ScopeKind  string  `form:"scope_kind" json:"scope_kind"`
	Status     string  `form:"status" json:"status"`
	Code       string  `form:"code" json:"code"`
	AgencyID   *string `form:"agency_id" json:"agency_id"`
	OwnerID    *string `form:"owner_id" json:"owner_id"`
	ContractID *string `form:"contract_id" json:"contract_id"`
	PropertyID *string `form:"property_id" json:"property_id"`
	Cursor     string  `form:"cursor" json:"cursor"`
	PageSize   int     `form:"page_size" json:"page_size"`
}

type ListConfigurationsResponse struct {
	Configurations []ConfigurationResponse `json:"configurations"`
	NextCursor     string                  `json:"next_cursor,omitempty"`
	HasMore        bool                    `json:"has_more"`
}

type ReceiverRequest struct {
	Type     string  `json:"type"`
	Name     string  `json:"name"`
	Document string  `json:"document"`
	UserID   *string `json:"user_id"`
	AgencyID *string `json:"agency_id"`
	WalletID *string `json:"wallet_id"`
	IsLocked *bool   `json:"is_locked"`
}

type RuleRequest struct {
	ReceiverID    string   `json:"receiver_id"`
	RuleType      string   `json:"rule_type"`
	Value         *float64 `json:"value"`
	MinimumAmount *int64   `json:"minimum_amount"`
	MaximumAmount *int64   `json:"maximum_amount"`
	ChargeType    *string  `json:"charge_type"`
	Priority      *int     `json:"priority"`
	IsActive      *bool    `json:"is_active"`
}

type RuleResponse struct {
	ID            string      `json:"id"`
	ReceiverID    string      `json:"receiver_id"`
	RuleType      RuleType    `json:"rule_type"`
	Value         float64     `json:"value"`
	MinimumAmount *int64      `json:"minimum_amount,omitempty"`
	MaximumAmount *int64      `json:"maximum_amount,omitempty"`
	ChargeType    *ChargeType `json:"charge_type,omitempty"`
	Priority      int         `json:"priority"`
	IsActive      bool        `json:"is_active"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

type ReceiverResponse struct {
	ID        string         `json:"id"`
	Type      ReceiverType   `json:"type"`
	Name      string         `json:"name"`
	Document  string         `json:"document,omitempty"`
	UserID    *string        `json:"user_id,omitempty"`
	AgencyID  *string        `json:"agency_id,omitempty"`
	WalletID  *string        `json:"wallet_id,omitempty"`
	IsLocked  bool           `json:"is_locked"`
	Rules     []RuleResponse `json:"rules,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type ScopeResponse struct {
	Kind       ScopeKind `json:"scope_kind"`
	AgencyID   *string   `json:"agency_id,omitempty"`
	OwnerID    *string   `json:"owner_id,omitempty"`
	ContractID *string   `json:"contract_id,omitempty"`
	PropertyID *string   `json:"property_id,omitempty"`
}

type ConfigurationResponse struct {
	ID          string             `json:"id"`
	Scope       ScopeResponse      `json:"scope"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Code        string             `json:"code"`
	Version     int                `json:"version"`
	Status      Status             `json:"status"`
	IsValidated bool               `json:"is_validated"`
	CreatedBy   string             `json:"created_by,omitempty"`
	ValidatedBy *string            `json:"validated_by,omitempty"`
	ActivatedBy *string            `json:"activated_by,omitempty"`
	ValidatedAt *time.Time         `json:"validated_at,omitempty"`
	ActivatedAt *time.Time         `json:"activated_at,omitempty"`
	Receivers   []ReceiverResponse `json:"receivers,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// ResolveScopeRequest asks for the configuration governing a charge. The
// lookup walks PER_CONTRACT, then PER_PROPERTY, then GLOBAL.
type ResolveScopeRequest struct {
	AgencyID   *string `json:"agency_id"`
	OwnerID    *string `json:"owner_id"`
	ContractID *string `json:"contract_id"`
	PropertyID *string `json:"property_id"`
}

type Service interface {
	Create(ctx context.Context, req CreateConfigurationRequest) (*ConfigurationResponse, error)
	List(ctx context.Context, req ListConfigurationsRequest) (*ListConfigurationsResponse, error)
	Get(ctx context.Context, id string) (*ConfigurationResponse, error)
	Update(ctx context.Context, id string, req UpdateConfigurationRequest) (*ConfigurationResponse, error)
	Delete(ctx context.Context, id string) error
	Archive(ctx context.Context, id string) (*ConfigurationResponse, error)

	Validate(ctx context.Context, id string) (*ConfigurationResponse, error)
	Activate(ctx context.Context, id string) (*ConfigurationResponse, error)
	Deactivate(ctx context.Context, id string) (*ConfigurationResponse, error)
	CreateNewVersion(ctx context.Context, id string) (*ConfigurationResponse, error)

	AddReceiver(ctx context.Context, configID string, req ReceiverRequest) (*ReceiverResponse, error)
	UpdateReceiver(ctx context.Context, configID, receiverID string, req ReceiverRequest) (*ReceiverResponse, error)
	RemoveReceiver(ctx context.Context, configID, receiverID string) error

	AddRule(ctx context.Context, configID string, req RuleRequest) (*RuleResponse, error)
	UpdateRule(ctx context.Context, configID, ruleID string, req RuleRequest) (*RuleResponse, error)
	RemoveRule(ctx context.Context, configID, ruleID string) error

	// ResolveActive returns the winning ACTIVE configuration for a scope,
	// with receivers and rules loaded, or ErrNotFound when no scope level
	// has one.
	ResolveActive(ctx context.Context, req ResolveScopeRequest) (*Configuration, error)

	// GetModel loads the full aggregate for internal callers that need
	// domain types rather than transport DTOs.
	GetModel(ctx context.Context, id string) (*Configuration, error)
}
