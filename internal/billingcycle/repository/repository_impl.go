package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	billingcycledomain "github.com/rentfolio/rentfolio/internal/billingcycle/domain"
	"github.com/rentfolio/rentfolio/internal/scopectx"
	"gorm.io/gorm"
)

const cycleColumns = `id, agency_id, owner_id, billing_month, status, usage_snapshot,
	 total_overage, total_operational_fee, charge_ids, closed_by, closed_at, created_at, updated_at`

type repo struct{}

func Provide() billingcycledomain.Repository {
	return &repo{}
}

// scopeWhere builds NULL-safe equality clauses so an agency cycle never
// matches an owner cycle that happens to share the numeric id.
func scopeWhere(scope scopectx.Scope) (string, []any) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if scope.AgencyID != nil {
		clauses = append(clauses, "agency_id = ?")
		args = append(args, *scope.AgencyID)
	} else {
		clauses = append(clauses, "agency_id IS NULL")
	}
	if scope.OwnerID != nil {
		clauses = append(clauses, "owner_id = ?")
		args = append(args, *scope.OwnerID)
	} else {
		clauses = append(clauses, "owner_id IS NULL")
	}
	return strings.Join(clauses, " AND "), args
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, cycle *billingcycledomain.BillingCycle) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_cycles (
			id, agency_id, owner_id, billing_month, status, usage_snapshot,
			total_overage, total_operational_fee, charge_ids, closed_by, closed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cycle.ID,
		cycle.AgencyID,
		cycle.OwnerID,
		cycle.BillingMonth,
		cycle.Status,
		cycle.UsageSnapshot,
		cycle.TotalOverage,
		cycle.TotalOperationalFee,
		cycle.ChargeIDs,
		cycle.ClosedBy,
		cycle.ClosedAt,
		cycle.CreatedAt,
		cycle.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, cycle *billingcycledomain.BillingCycle) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_cycles SET
			status = ?, usage_snapshot = ?, total_overage = ?, total_operational_fee = ?,
			charge_ids = ?, closed_by = ?, closed_at = ?, updated_at = ?
		 WHERE id = ?`,
		cycle.Status,
		cycle.UsageSnapshot,
		cycle.TotalOverage,
		cycle.TotalOperationalFee,
		cycle.ChargeIDs,
		cycle.ClosedBy,
		cycle.ClosedAt,
		cycle.UpdatedAt,
		cycle.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*billingcycledomain.BillingCycle, error) {
	var cycle billingcycledomain.BillingCycle
	err := db.WithContext(ctx).Raw(
		`SELECT `+cycleColumns+` FROM billing_cycles WHERE id = ?`, id,
	).Scan(&cycle).Error
	if err != nil {
		return nil, err
	}
	if cycle.ID == 0 {
		return nil, nil
	}
	return &cycle, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*billingcycledomain.BillingCycle, error) {
	var cycle billingcycledomain.BillingCycle
	err := tx.WithContext(ctx).Raw(
		`SELECT `+cycleColumns+` FROM billing_cycles WHERE id = ? FOR UPDATE`, id,
	).Scan(&cycle).Error
	if err != nil {
		return nil, err
	}
	if cycle.ID == 0 {
		return nil, nil
	}
	return &cycle, nil
}

func (r *repo) FindByScopeMonth(ctx context.Context, db *gorm.DB, scope scopectx.Scope, month string) (*billingcycledomain.BillingCycle, error) {
	where, args := scopeWhere(scope)
	var cycle billingcycledomain.BillingCycle
	err := db.WithContext(ctx).Raw(
		`SELECT `+cycleColumns+` FROM billing_cycles WHERE `+where+` AND billing_month = ?`,
		append(args, month)...,
	).Scan(&cycle).Error
	if err != nil {
		return nil, err
	}
	if cycle.ID == 0 {
		return nil, nil
	}
	return &cycle, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter billingcycledomain.ListFilter) ([]billingcycledomain.BillingCycle, error) {
	clauses := make([]string, 0, 5)
	args := make([]any, 0, 5)

	if filter.AgencyID != nil {
		clauses = append(clauses, "agency_id = ?")
		args = append(args, *filter.AgencyID)
	}
	if filter.OwnerID != nil {
		clauses = append(clauses, "owner_id = ?")
		args = append(args, *filter.OwnerID)
	}
	if filter.BillingMonth != "" {
		clauses = append(clauses, "billing_month = ?")
		args = append(args, filter.BillingMonth)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Cursor != 0 {
		clauses = append(clauses, "id < ?")
		args = append(args, filter.Cursor)
	}

	query := `SELECT ` + cycleColumns + ` FROM billing_cycles`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var items []billingcycledomain.BillingCycle
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ClaimDue(ctx context.Context, tx *gorm.DB, beforeMonth string, limit int) ([]billingcycledomain.BillingCycle, error) {
	var items []billingcycledomain.BillingCycle
	err := tx.WithContext(ctx).Raw(
		`SELECT `+cycleColumns+` FROM billing_cycles
		 WHERE status = ? AND billing_month < ?
		 ORDER BY billing_month ASC, id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		billingcycledomain.StatusOpen,
		beforeMonth,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
