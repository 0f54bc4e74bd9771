package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ListFilter narrows configuration listings. Zero values mean "any".
type ListFilter struct {
	ScopeKind  ScopeKind
	Status     Status
	Code       string
	AgencyID   *snowflake.ID
	OwnerID    *snowflake.ID
	ContractID *snowflake.ID
	PropertyID *snowflake.ID
	Cursor     snowflake.ID
	Limit      int
}

// Repository persists the configuration aggregate. Every method takes
// the *gorm.DB it should run on so callers can compose transactions.
type Repository interface {
	InsertConfiguration(ctx context.Context, db *gorm.DB, config *Configuration) error
	UpdateConfiguration(ctx context.Context, db *gorm.DB, config *Configuration) error
	DeleteConfiguration(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	FindConfigurationByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Configuration, error)
	FindConfigurationByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Configuration, error)
	ListConfigurations(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Configuration, error)

	// LockScopeLineage takes row locks on every configuration sharing the
	// scope tuple so activation exclusivity survives concurrent writers.
	LockScopeLineage(ctx context.Context, tx *gorm.DB, kind ScopeKind, key ScopeKey) ([]Configuration, error)
	FindActiveByScope(ctx context.Context, db *gorm.DB, kind ScopeKind, key ScopeKey) (*Configuration, error)
	MaxVersion(ctx context.Context, tx *gorm.DB, kind ScopeKind, key ScopeKey, code string) (int, error)

	InsertReceiver(ctx context.Context, db *gorm.DB, receiver *Receiver) error
	UpdateReceiver(ctx context.Context, db *gorm.DB, receiver *Receiver) error
	DeleteReceiver(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	FindReceiverByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Receiver, error)
	ListReceivers(ctx context.Context, db *gorm.DB, configID snowflake.ID) ([]Receiver, error)

	InsertRule(ctx context.Context, db *gorm.DB, rule *Rule) error
	UpdateRule(ctx context.Context, db *gorm.DB, rule *Rule) error
	DeleteRule(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	DeleteRulesByReceiver(ctx context.Context, db *gorm.DB, receiverID snowflake.ID) error
	FindRuleByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Rule, error)
	ListRules(ctx context.Context, db *gorm.DB, configID snowflake.ID) ([]Rule, error)
}
