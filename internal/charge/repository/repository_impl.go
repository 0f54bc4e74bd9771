package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	chargedomain "github.com/rentfolio/rentfolio/internal/charge/domain"
	"gorm.io/gorm"
)

const chargeColumns = `id, token, agency_id, owner_id, contract_id, property_id, billing_cycle_id,
	 configuration_id, charge_type, description, billing_month, gross_amount, platform_fee,
	 net_amount, split_breakdown, status, gateway_ref, due_date, paid_at, created_at, updated_at`

type repo struct{}

func Provide() chargedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, charge *chargedomain.Charge) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO charges (
			id, token, agency_id, owner_id, contract_id, property_id, billing_cycle_id,
			configuration_id, charge_type, description, billing_month, gross_amount, platform_fee,
			net_amount, split_breakdown, status, gateway_ref, due_date, paid_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		charge.ID,
		charge.Token,
		charge.AgencyID,
		charge.OwnerID,
		charge.ContractID,
		charge.PropertyID,
		charge.BillingCycleID,
		charge.ConfigurationID,
		charge.ChargeType,
		charge.Description,
		charge.BillingMonth,
		charge.GrossAmount,
		charge.PlatformFee,
		charge.NetAmount,
		charge.SplitBreakdown,
		charge.Status,
		charge.GatewayRef,
		charge.DueDate,
		charge.PaidAt,
		charge.CreatedAt,
		charge.UpdatedAt,
	).Error
}

// Update writes only the lifecycle columns. The money columns are fixed
// at insert time and never appear in the SET list.
func (r *repo) Update(ctx context.Context, db *gorm.DB, charge *chargedomain.Charge) error {
	return db.WithContext(ctx).Exec(
		`UPDATE charges SET
			description = ?, status = ?, gateway_ref = ?, due_date = ?, paid_at = ?, updated_at = ?
		 WHERE id = ?`,
		charge.Description,
		charge.Status,
		charge.GatewayRef,
		charge.DueDate,
		charge.PaidAt,
		charge.UpdatedAt,
		charge.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*chargedomain.Charge, error) {
	var charge chargedomain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT `+chargeColumns+` FROM charges WHERE id = ?`, id,
	).Scan(&charge).Error
	if err != nil {
		return nil, err
	}
	if charge.ID == 0 {
		return nil, nil
	}
	return &charge, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*chargedomain.Charge, error) {
	var charge chargedomain.Charge
	err := tx.WithContext(ctx).Raw(
		`SELECT `+chargeColumns+` FROM charges WHERE id = ? FOR UPDATE`, id,
	).Scan(&charge).Error
	if err != nil {
		return nil, err
	}
	if charge.ID == 0 {
		return nil, nil
	}
	return &charge, nil
}

func (r *repo) FindByToken(ctx context.Context, db *gorm.DB, token string) (*chargedomain.Charge, error) {
	var charge chargedomain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT `+chargeColumns+` FROM charges WHERE token = ?`, token,
	).Scan(&charge).Error
	if err != nil {
		return nil, err
	}
	if charge.ID == 0 {
		return nil, nil
	}
	return &charge, nil
}

func (r *repo) FindByCycle(ctx context.Context, db *gorm.DB, cycleID snowflake.ID) ([]chargedomain.Charge, error) {
	var items []chargedomain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT `+chargeColumns+` FROM charges WHERE billing_cycle_id = ? ORDER BY id ASC`,
		cycleID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter chargedomain.ListFilter) ([]chargedomain.Charge, error) {
	clauses := make([]string, 0, 6)
	args := make([]any, 0, 6)

	if filter.AgencyID != nil {
		clauses = append(clauses, "agency_id = ?")
		args = append(args, *filter.AgencyID)
	}
	if filter.OwnerID != nil {
		clauses = append(clauses, "owner_id = ?")
		args = append(args, *filter.OwnerID)
	}
	if filter.BillingCycleID != nil {
		clauses = append(clauses, "billing_cycle_id = ?")
		args = append(args, *filter.BillingCycleID)
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

	query := `SELECT ` + chargeColumns + ` FROM charges`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var items []chargedomain.Charge
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ClaimPending(ctx context.Context, tx *gorm.DB, limit int) ([]chargedomain.Charge, error) {
	var items []chargedomain.Charge
	err := tx.WithContext(ctx).Raw(
		`SELECT `+chargeColumns+` FROM charges
		 WHERE status = ?
		 ORDER BY id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		chargedomain.StatusPending,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ClaimOverdue(ctx context.Context, tx *gorm.DB, before time.Time, limit int) ([]chargedomain.Charge, error) {
	var items []chargedomain.Charge
	err := tx.WithContext(ctx).Raw(
		`SELECT `+chargeColumns+` FROM charges
		 WHERE status IN (?, ?) AND due_date IS NOT NULL AND due_date < ?
		 ORDER BY id ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED`,
		chargedomain.StatusPending,
		chargedomain.StatusProcessing,
		before,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
