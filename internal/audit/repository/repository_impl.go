package repository

import (
	"context"
	"strings"

	"github.com/rentfolio/rentfolio/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_log_entries (
			id, configuration_id, action, entity_type, entity_id,
			"before", "after", performed_by, occurred_at, hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ConfigurationID,
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		entry.Before,
		entry.After,
		entry.PerformedBy,
		entry.OccurredAt,
		entry.Hash,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	stmt := db.WithContext(ctx).Model(&domain.Entry{})

	if filter.ConfigurationID != nil {
		stmt = stmt.Where("configuration_id = ?", *filter.ConfigurationID)
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		stmt = stmt.Where("action = ?", action)
	}
	if entityType := strings.TrimSpace(filter.EntityType); entityType != "" {
		stmt = stmt.Where("entity_type = ?", entityType)
	}
	if entityID := strings.TrimSpace(filter.EntityID); entityID != "" {
		stmt = stmt.Where("entity_id = ?", entityID)
	}
	if performedBy := strings.TrimSpace(filter.PerformedBy); performedBy != "" {
		stmt = stmt.Where("performed_by = ?", performedBy)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("occurred_at >= ?", filter.StartAt.UTC())
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("occurred_at <= ?", filter.EndAt.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(occurred_at < ?) OR (occurred_at = ? AND id < ?)",
			filter.Cursor.OccurredAt,
			filter.Cursor.OccurredAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("occurred_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
