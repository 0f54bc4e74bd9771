package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ActionCreate        = "CREATE"
	ActionUpdate        = "UPDATE"
	ActionDelete        = "DELETE"
	ActionValidate      = "VALIDATE"
	ActionActivate      = "ACTIVATE"
	ActionDeactivate    = "DEACTIVATE"
	ActionArchive       = "ARCHIVE"
	ActionCreateVersion = "CREATE_VERSION"
	ActionCloseCycle    = "CLOSE_CYCLE"
	ActionStatusChange  = "STATUS_CHANGE"
)

const (
	EntityConfiguration = "configuration"
	EntityReceiver      = "receiver"
	EntityRule          = "rule"
	EntityBillingCycle  = "billing_cycle"
	EntityCharge        = "charge"
)

// Entry is one immutable audit record. Rows are insert-only; the hash
// lets auditors detect after-the-fact tampering.
type Entry struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	ConfigurationID *snowflake.ID  `json:"configuration_id,omitempty" gorm:"index"`
	Action          string         `json:"action" gorm:"type:text;not null;index"`
	EntityType      string         `json:"entity_type" gorm:"type:text;not null"`
	EntityID        string         `json:"entity_id" gorm:"type:text;not null;default:''"`
	// Snapshots are stored as text so the bytes read back are the exact
	// bytes that went into Hash. A jsonb column would re-serialize them.
	Before      datatypes.JSON `json:"before,omitempty" gorm:"type:text"`
	After       datatypes.JSON `json:"after,omitempty" gorm:"type:text"`
	PerformedBy string         `json:"performed_by" gorm:"type:text;not null;default:''"`
	OccurredAt  time.Time      `json:"occurred_at" gorm:"not null;index"`
	Hash        string         `json:"hash" gorm:"type:text;not null"`
}

func (Entry) TableName() string { return "audit_log_entries" }

// ComputeHash derives the tamper-evidence hash from the entry fields.
// The input is the pipe-joined field list with snapshots as their JSON
// text, a nil snapshot as the literal "null", and the timestamp in
// RFC3339Nano UTC.
func ComputeHash(e *Entry) string {
	configID := ""
	if e.ConfigurationID != nil {
		configID = e.ConfigurationID.String()
	}
	parts := []string{
		configID,
		e.Action,
		e.EntityType,
		e.EntityID,
		snapshotString(e.Before),
		snapshotString(e.After),
		e.PerformedBy,
		e.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func snapshotString(snapshot datatypes.JSON) string {
	if len(snapshot) == 0 {
		return "null"
	}
	return string(snapshot)
}

// AuditCursor is the decoded list position.
type AuditCursor struct {
	ID         snowflake.ID
	OccurredAt time.Time
}

// ListFilter narrows entry listings. Zero values mean "any".
type ListFilter struct {
	ConfigurationID *snowflake.ID
	Action          string
	EntityType      string
	EntityID        string
	PerformedBy     string
	StartAt         *time.Time
	EndAt           *time.Time
	Cursor          *AuditCursor
	Limit           int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Entry, error)
}
