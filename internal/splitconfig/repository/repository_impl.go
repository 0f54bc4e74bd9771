package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	splitconfigdomain "github.com/rentfolio/rentfolio/internal/splitconfig/domain"
	"gorm.io/gorm"
)

const configColumns = `id, scope_kind, agency_id, owner_id, contract_id, property_id, name, description,
	 code, version, status, is_validated, created_by, validated_by, activated_by, deactivated_by,
	 validated_at, activated_at, deactivated_at, created_at, updated_at`

const receiverColumns = `id, configuration_id, type, name, document, user_id, agency_id, wallet_id,
	 is_locked, created_at, updated_at`

const ruleColumns = `id, configuration_id, receiver_id, rule_type, value, minimum_amount, maximum_amount,
	 charge_type, priority, is_active, created_at, updated_at`

type repo struct{}

func Provide() splitconfigdomain.Repository {
	return &repo{}
}

// scopeWhere builds NULL-safe equality clauses for the scope tuple so a
// GLOBAL config (all ids NULL) matches itself and nothing else.
func scopeWhere(kind splitconfigdomain.ScopeKind, key splitconfigdomain.ScopeKey) (string, []any) {
	clauses := []string{"scope_kind = ?"}
	args := []any{kind}

	cols := []struct {
		name string
		id   *snowflake.ID
	}{
		{"agency_id", key.AgencyID},
		{"owner_id", key.OwnerID},
		{"contract_id", key.ContractID},
		{"property_id", key.PropertyID},
	}
	for _, col := range cols {
		if col.id == nil {
			clauses = append(clauses, col.name+" IS NULL")
			continue
		}
		clauses = append(clauses, col.name+" = ?")
		args = append(args, *col.id)
	}
	return strings.Join(clauses, " AND "), args
}

func (r *repo) InsertConfiguration(ctx context.Context, db *gorm.DB, config *splitconfigdomain.Configuration) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO split_configs (
			id, scope_kind, agency_id, owner_id, contract_id, property_id, name, description,
			code, version, status, is_validated, created_by, validated_by, activated_by, deactivated_by,
			validated_at, activated_at, deactivated_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		config.ID,
		config.ScopeKind,
		config.AgencyID,
		config.OwnerID,
		config.ContractID,
		config.PropertyID,
		config.Name,
		config.Description,
		config.Code,
		config.Version,
		config.Status,
		config.IsValidated,
		config.CreatedBy,
		config.ValidatedBy,
		config.ActivatedBy,
		config.DeactivatedBy,
		config.ValidatedAt,
		config.ActivatedAt,
		config.DeactivatedAt,
		config.CreatedAt,
		config.UpdatedAt,
	).Error
}

func (r *repo) UpdateConfiguration(ctx context.Context, db *gorm.DB, config *splitconfigdomain.Configuration) error {
	return db.WithContext(ctx).Exec(
		`UPDATE split_configs SET
			name = ?, description = ?, status = ?, is_validated = ?,
			validated_by = ?, activated_by = ?, deactivated_by = ?,
			validated_at = ?, activated_at = ?, deactivated_at = ?, updated_at = ?
		 WHERE id = ?`,
		config.Name,
		config.Description,
		config.Status,
		config.IsValidated,
		config.ValidatedBy,
		config.ActivatedBy,
		config.DeactivatedBy,
		config.ValidatedAt,
		config.ActivatedAt,
		config.DeactivatedAt,
		config.UpdatedAt,
		config.ID,
	).Error
}

func (r *repo) DeleteConfiguration(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	if err := db.WithContext(ctx).Exec(`DELETE FROM split_rules WHERE configuration_id = ?`, id).Error; err != nil {
		return err
	}
	if err := db.WithContext(ctx).Exec(`DELETE FROM split_receivers WHERE configuration_id = ?`, id).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(`DELETE FROM split_configs WHERE id = ?`, id).Error
}

func (r *repo) FindConfigurationByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*splitconfigdomain.Configuration, error) {
	var config splitconfigdomain.Configuration
	err := db.WithContext(ctx).Raw(
		`SELECT `+configColumns+` FROM split_configs WHERE id = ?`, id,
	).Scan(&config).Error
	if err != nil {
		return nil, err
	}
	if config.ID == 0 {
		return nil, nil
	}
	return &config, nil
}

func (r *repo) FindConfigurationByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*splitconfigdomain.Configuration, error) {
	var config splitconfigdomain.Configuration
	err := tx.WithContext(ctx).Raw(
		`SELECT `+configColumns+` FROM split_configs WHERE id = ? FOR UPDATE`, id,
	).Scan(&config).Error
	if err != nil {
		return nil, err
	}
	if config.ID == 0 {
		return nil, nil
	}
	return &config, nil
}

func (r *repo) ListConfigurations(ctx context.Context, db *gorm.DB, filter splitconfigdomain.ListFilter) ([]splitconfigdomain.Configuration, error) {
	clauses := make([]string, 0, 8)
	args := make([]any, 0, 8)

	if filter.ScopeKind != "" {
		clauses = append(clauses, "scope_kind = ?")
		args = append(args, filter.ScopeKind)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Code != "" {
		clauses = append(clauses, "code = ?")
		args = append(args, filter.Code)
	}
	if filter.AgencyID != nil {
		clauses = append(clauses, "agency_id = ?")
		args = append(args, *filter.AgencyID)
	}
	if filter.OwnerID != nil {
		clauses = append(clauses, "owner_id = ?")
		args = append(args, *filter.OwnerID)
	}
	if filter.ContractID != nil {
		clauses = append(clauses, "contract_id = ?")
		args = append(args, *filter.ContractID)
	}
	if filter.PropertyID != nil {
		clauses = append(clauses, "property_id = ?")
		args = append(args, *filter.PropertyID)
	}
	if filter.Cursor != 0 {
		clauses = append(clauses, "id < ?")
		args = append(args, filter.Cursor)
	}

	query := `SELECT ` + configColumns + ` FROM split_configs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var items []splitconfigdomain.Configuration
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) LockScopeLineage(ctx context.Context, tx *gorm.DB, kind splitconfigdomain.ScopeKind, key splitconfigdomain.ScopeKey) ([]splitconfigdomain.Configuration, error) {
	where, args := scopeWhere(kind, key)
	var items []splitconfigdomain.Configuration
	err := tx.WithContext(ctx).Raw(
		`SELECT `+configColumns+` FROM split_configs WHERE `+where+` ORDER BY id ASC FOR UPDATE`,
		args...,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindActiveByScope(ctx context.Context, db *gorm.DB, kind splitconfigdomain.ScopeKind, key splitconfigdomain.ScopeKey) (*splitconfigdomain.Configuration, error) {
	where, args := scopeWhere(kind, key)
	var config splitconfigdomain.Configuration
	err := db.WithContext(ctx).Raw(
		`SELECT `+configColumns+` FROM split_configs WHERE `+where+` AND status = ? ORDER BY version DESC LIMIT 1`,
		append(args, splitconfigdomain.StatusActive)...,
	).Scan(&config).Error
	if err != nil {
		return nil, err
	}
	if config.ID == 0 {
		return nil, nil
	}
	return &config, nil
}

func (r *repo) MaxVersion(ctx context.Context, tx *gorm.DB, kind splitconfigdomain.ScopeKind, key splitconfigdomain.ScopeKey, code string) (int, error) {
	where, args := scopeWhere(kind, key)
	var row struct {
		MaxVersion int
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(version), 0) AS max_version FROM split_configs WHERE `+where+` AND code = ?`,
		append(args, code)...,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return row.MaxVersion, nil
}

func (r *repo) InsertReceiver(ctx context.Context, db *gorm.DB, receiver *splitconfigdomain.Receiver) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO split_receivers (
			id, configuration_id, type, name, document, user_id, agency_id, wallet_id,
			is_locked, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		receiver.ID,
		receiver.ConfigurationID,
		receiver.Type,
		receiver.Name,
		receiver.Document,
		receiver.UserID,
		receiver.AgencyID,
		receiver.WalletID,
		receiver.IsLocked,
		receiver.CreatedAt,
		receiver.UpdatedAt,
	).Error
}

func (r *repo) UpdateReceiver(ctx context.Context, db *gorm.DB, receiver *splitconfigdomain.Receiver) error {
	return db.WithContext(ctx).Exec(
		`UPDATE split_receivers SET
			type = ?, name = ?, document = ?, user_id = ?, agency_id = ?, wallet_id = ?,
			is_locked = ?, updated_at = ?
		 WHERE id = ?`,
		receiver.Type,
		receiver.Name,
		receiver.Document,
		receiver.UserID,
		receiver.AgencyID,
		receiver.WalletID,
		receiver.IsLocked,
		receiver.UpdatedAt,
		receiver.ID,
	).Error
}

func (r *repo) DeleteReceiver(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM split_receivers WHERE id = ?`, id).Error
}

func (r *repo) FindReceiverByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*splitconfigdomain.Receiver, error) {
	var receiver splitconfigdomain.Receiver
	err := db.WithContext(ctx).Raw(
		`SELECT `+receiverColumns+` FROM split_receivers WHERE id = ?`, id,
	).Scan(&receiver).Error
	if err != nil {
		return nil, err
	}
	if receiver.ID == 0 {
		return nil, nil
	}
	return &receiver, nil
}

func (r *repo) ListReceivers(ctx context.Context, db *gorm.DB, configID snowflake.ID) ([]splitconfigdomain.Receiver, error) {
	var items []splitconfigdomain.Receiver
	err := db.WithContext(ctx).Raw(
		`SELECT `+receiverColumns+` FROM split_receivers WHERE configuration_id = ? ORDER BY id ASC`,
		configID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertRule(ctx context.Context, db *gorm.DB, rule *splitconfigdomain.Rule) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO split_rules (
			id, configuration_id, receiver_id, rule_type, value, minimum_amount, maximum_amount,
			charge_type, priority, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID,
		rule.ConfigurationID,
		rule.ReceiverID,
		rule.RuleType,
		rule.Value,
		rule.MinimumAmount,
		rule.MaximumAmount,
		rule.ChargeType,
		rule.Priority,
		rule.IsActive,
		rule.CreatedAt,
		rule.UpdatedAt,
	).Error
}

func (r *repo) UpdateRule(ctx context.Context, db *gorm.DB, rule *splitconfigdomain.Rule) error {
	return db.WithContext(ctx).Exec(
		`UPDATE split_rules SET
			receiver_id = ?, rule_type = ?, value = ?, minimum_amount = ?, maximum_amount = ?,
			charge_type = ?, priority = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		rule.ReceiverID,
		rule.RuleType,
		rule.Value,
		rule.MinimumAmount,
		rule.MaximumAmount,
		rule.ChargeType,
		rule.Priority,
		rule.IsActive,
		rule.UpdatedAt,
		rule.ID,
	).Error
}

func (r *repo) DeleteRule(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM split_rules WHERE id = ?`, id).Error
}

func (r *repo) DeleteRulesByReceiver(ctx context.Context, db *gorm.DB, receiverID snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM split_rules WHERE receiver_id = ?`, receiverID).Error
}

func (r *repo) FindRuleByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*splitconfigdomain.Rule, error) {
	var rule splitconfigdomain.Rule
	err := db.WithContext(ctx).Raw(
		`SELECT `+ruleColumns+` FROM split_rules WHERE id = ?`, id,
	).Scan(&rule).Error
	if err != nil {
		return nil, err
	}
	if rule.ID == 0 {
		return nil, nil
	}
	return &rule, nil
}

func (r *repo) ListRules(ctx context.Context, db *gorm.DB, configID snowflake.ID) ([]splitconfigdomain.Rule, error) {
	var items []splitconfigdomain.Rule
	err := db.WithContext(ctx).Raw(
		`SELECT `+ruleColumns+` FROM split_rules WHERE configuration_id = ? ORDER BY priority DESC, id ASC`,
		configID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
