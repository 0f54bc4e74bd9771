package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rentfolio/rentfolio/pkg/db/pagination"
	"gorm.io/gorm"
)

var (
	ErrInvalidAction    = errors.New("invalid_action")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
)

// RecordRequest describes one mutation to audit. Before and After are
// marshaled to JSON by the service; pass nil for creations/deletions.
type RecordRequest struct {
	ConfigurationID *snowflake.ID
	Action          string
	EntityType      string
	EntityID        string
	Before          any
	After           any
	PerformedBy     string
}

type ListEntriesRequest struct {
	pagination.Pagination
	ConfigurationID string     `form:"configuration_id"`
	Action          string     `form:"action"`
	EntityType      string     `form:"entity_type"`
	EntityID        string     `form:"entity_id"`
	PerformedBy     string     `form:"performed_by"`
	StartAt         *time.Time `form:"start_at"`
	EndAt           *time.Time `form:"end_at"`
}

type ListEntriesResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"entries"`
}

type VerifyRequest struct {
	ConfigurationID string `form:"configuration_id"`
	Limit           int    `form:"limit"`
}

// VerifyResponse reports a hash recomputation sweep. Mismatched holds
// the IDs of entries whose stored hash no longer matches their fields.
type VerifyResponse struct {
	Checked    int      `json:"checked"`
	Mismatched []string `json:"mismatched,omitempty"`
}

// Service writes and reads the audit trail. Record takes the caller's
// transaction handle so the entry commits and rolls back together with
// the mutation it describes.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, req RecordRequest) error
	List(ctx context.Context, req ListEntriesRequest) (ListEntriesResponse, error)
	Verify(ctx context.Context, req VerifyRequest) (VerifyResponse, error)
}
