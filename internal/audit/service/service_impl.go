package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rentfolio/rentfolio/internal/actorctx"
	auditdomain "github.com/rentfolio/rentfolio/internal/audit/domain"
	"github.com/rentfolio/rentfolio/internal/audit/masking"
	"github.com/rentfolio/rentfolio/internal/clock"
	"github.com/rentfolio/rentfolio/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Record writes the entry on the caller's transaction. A failed audit
// write fails the surrounding transaction with it.
func (s *Service) Record(ctx context.Context, tx *gorm.DB, req auditdomain.RecordRequest) error {
	action := strings.TrimSpace(req.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	entityType := strings.TrimSpace(req.EntityType)
	if entityType == "" {
		entityType = "unknown"
	}

	before, err := s.snapshot(req.Before)
	if err != nil {
		return err
	}
	after, err := s.snapshot(req.After)
	if err != nil {
		return err
	}

	// Microsecond truncation keeps the hash recomputable after a
	// round trip through timestamp columns that drop nanoseconds.
	entry := auditdomain.Entry{
		ID:              s.genID.Generate(),
		ConfigurationID: req.ConfigurationID,
		Action:          action,
		EntityType:      entityType,
		EntityID:        strings.TrimSpace(req.EntityID),
		Before:          before,
		After:           after,
		PerformedBy:     s.resolvePerformer(ctx, req.PerformedBy),
		OccurredAt:      s.clock.Now().UTC().Truncate(time.Microsecond),
	}
	entry.Hash = auditdomain.ComputeHash(&entry)

	db := tx
	if db == nil {
		db = s.db
	}
	if err := s.repo.Insert(ctx, db, &entry); err != nil {
		s.log.Warn("failed to write audit entry", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListEntriesRequest) (auditdomain.ListEntriesResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListEntriesResponse{}, auditdomain.ErrInvalidTimeRange
	}

	var configID *snowflake.ID
	if trimmed := strings.TrimSpace(req.ConfigurationID); trimmed != "" {
		id, err := snowflake.ParseString(trimmed)
		if err != nil || id == 0 {
			return auditdomain.ListEntriesResponse{}, auditdomain.ErrInvalidPageToken
		}
		configID = &id
	}

	var cursor *auditdomain.AuditCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListEntriesResponse{}, auditdomain.ErrInvalidPageToken
		}
		occurredAt, err := time.Parse(time.RFC3339, decoded.CreatedAt)
		if err != nil {
			return auditdomain.ListEntriesResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListEntriesResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.AuditCursor{
			ID:         id,
			OccurredAt: occurredAt,
		}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		ConfigurationID: configID,
		Action:          req.Action,
		EntityType:      req.EntityType,
		EntityID:        req.EntityID,
		PerformedBy:     req.PerformedBy,
		StartAt:         req.StartAt,
		EndAt:           req.EndAt,
		Cursor:          cursor,
		Limit:           pageSize,
	})
	if err != nil {
		return auditdomain.ListEntriesResponse{}, err
	}

	pageInfo, items := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *auditdomain.Entry) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.OccurredAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})

	entries := make([]auditdomain.Entry, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		entries = append(entries, *item)
	}

	resp := auditdomain.ListEntriesResponse{Entries: entries}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// Verify recomputes hashes over stored entries and reports the IDs
// whose hash no longer matches.
func (s *Service) Verify(ctx context.Context, req auditdomain.VerifyRequest) (auditdomain.VerifyResponse, error) {
	var configID *snowflake.ID
	if trimmed := strings.TrimSpace(req.ConfigurationID); trimmed != "" {
		id, err := snowflake.ParseString(trimmed)
		if err != nil || id == 0 {
			return auditdomain.VerifyResponse{}, auditdomain.ErrInvalidPageToken
		}
		configID = &id
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 1000
	}
	if limit > 10000 {
		limit = 10000
	}

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		ConfigurationID: configID,
		Limit:           limit,
	})
	if err != nil {
		return auditdomain.VerifyResponse{}, err
	}
	if len(items) > limit {
		items = items[:limit]
	}

	resp := auditdomain.VerifyResponse{}
	for _, item := range items {
		if item == nil {
			continue
		}
		resp.Checked++
		if auditdomain.ComputeHash(item) != item.Hash {
			resp.Mismatched = append(resp.Mismatched, item.ID.String())
			s.log.Error("audit entry hash mismatch",
				zap.String("entry_id", item.ID.String()),
				zap.String("action", item.Action),
			)
		}
	}
	return resp, nil
}

func (s *Service) resolvePerformer(ctx context.Context, performedBy string) string {
	if trimmed := strings.TrimSpace(performedBy); trimmed != "" {
		return trimmed
	}
	if actor, ok := actorctx.ActorFromContext(ctx); ok {
		return actor.ID
	}
	return "system"
}

// snapshot marshals a before/after value with sensitive fields masked.
func (s *Service) snapshot(value any) (datatypes.JSON, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return datatypes.JSON(raw), nil
	}
	masked, err := json.Marshal(masking.MaskSnapshot(asMap))
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(masked), nil
}
