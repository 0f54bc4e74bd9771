package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/rentfolio/rentfolio/internal/actorctx"
	auditdomain "github.com/rentfolio/rentfolio/internal/audit/domain"
	splitconfigdomain "github.com/rentfolio/rentfolio/internal/splitconfig/domain"
	"gorm.io/gorm"
)

// lockMutableConfig loads the configuration under a row lock and
// rejects receiver/rule mutation for ACTIVE and ARCHIVED configs.
func (s *service) lockMutableConfig(ctx context.Context, tx *gorm.DB, configID snowflake.ID) (*splitconfigdomain.Configuration, error) {
	config, err := s.repo.FindConfigurationByIDForUpdate(ctx, tx, configID)
	if err != nil {
		return nil, err
	}
	if config == nil {
		return nil, splitconfigdomain.ErrNotFound
	}
	if config.Status == splitconfigdomain.StatusArchived {
		return nil, splitconfigdomain.ErrArchived
	}
	if !isMutable(config.Status) {
		return nil, splitconfigdomain.ErrNotEditable
	}
	return config, nil
}

// markMutated persists the validation demotion after a child mutation.
func (s *service) markMutated(ctx context.Context, tx *gorm.DB, config *splitconfigdomain.Configuration) error {
	demoteOnMutation(config)
	config.UpdatedAt = s.clock.Now().UTC()
	return s.repo.UpdateConfiguration(ctx, tx, config)
}

func (s *service) AddReceiver(ctx context.Context, configID string, req splitconfigdomain.ReceiverRequest) (*splitconfigdomain.ReceiverResponse, error) {
	actor, err := actorctx.Require(ctx, actorctx.CapConfigWrite)
	if err != nil {
		return nil, err
	}
	id, err := parseID(configID)
	if err != nil {
		return nil, err
	}

	receiverType, err := parseReceiverType(req.Type)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, splitconfigdomain.ErrInvalidName
	}
	userID, err := parseOptionalID(req.UserID)
	if err != nil {
		return nil, err
	}
	agencyID, err := parseOptionalID(req.AgencyID)
	if err != nil {
		return nil, err
	}

	var receiver *splitconfigdomain.Receiver
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		config, err := s.lockMutableConfig(ctx, tx, id)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		receiver = &splitconfigdomain.Receiver{
			ID:              s.genID.Generate(),
			ConfigurationID: config.ID,
			Type:            receiverType,
			Name:            name,
			Document:        strings.TrimSpace(req.Document),
			UserID:          userID,
			AgencyID:        agencyID,
			WalletID:        normalizeWallet(req.WalletID),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if req.IsLocked != nil {
			receiver.IsLocked = *req.IsLocked
		}
		if err := s.repo.InsertReceiver(ctx, tx, receiver); err != nil {
			return err
		}
		if err := s.markMutated(ctx, tx, config); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.RecordRequest{
			ConfigurationID: &config.ID,
			Action:          auditdomain.ActionCreate,
			EntityType:      auditdomain.EntityReceiver,
			EntityID:        receiver.ID.String(),
			After:           receiver,
			PerformedBy:     actor.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return toReceiverResponse(receiver), nil
}

func (s *service) UpdateReceiver(ctx context.Context, configID, receiverID string, req splitconfigdomain.ReceiverRequest) (*splitconfigdomain.ReceiverResponse, error) {
	actor, err := actorctx.Require(ctx, actorctx.CapConfigWrite)
	if err != nil {
		return nil, err
	}
	id, err := parseID(configID)
	if err != nil {
		return nil, err
	}
	rid, err := parseID(receiverID)
	if err != nil {
		return nil, err
	}

	var receiver *splitconfigdomain.Receiver
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		config, err := s.lockMutableConfig(ctx, tx, id)
		if err != nil {
			return err
		}

		receiver, err = s.repo.FindReceiverByID(ctx, tx, rid)
		if err != nil {
			return err
		}
		if receiver == nil || receiver.ConfigurationID != config.ID {
			return splitconfigdomain.ErrReceiverNotFound
		}
		if receiver.IsLocked {
			return splitconfigdomain.ErrReceiverLocked
		}

		before := *receiver
		if strings.TrimSpace(req.Type) != "" {
			receiverType, err := parseReceiverType(req.Type)
			if err != nil {
				return err
			}
			receiver.Type = receiverType
		}
		if name := strings.TrimSpace(req.Name); name != "" {
			receiver.Name = name
		}
		if req.Document != "" {
			receiver.Document = strings.TrimSpace(req.Document)
		}
		if req.UserID != nil {
			userID, err := parseOptionalID(req.UserID)
			if err != nil {
				return err
			}
			receiver.UserID = userID
		}
		if req.AgencyID != nil {
			agencyID, err := parseOptionalID(req.AgencyID)
			if err != nil {
				return err
			}
			receiver.AgencyID = agencyID
		}
		if req.WalletID != nil {
			receiver.WalletID = normalizeWallet(req.WalletID)
		}
		if req.IsLocked != nil {
			receiver.IsLocked = *req.IsLocked
		}
		receiver.UpdatedAt = s.clock.Now().UTC()

		if err := s.repo.UpdateReceiver(ctx, tx, receiver); err != nil {
			return err
		}
		if err := s.markMutated(ctx, tx, config); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.RecordRequest{
			ConfigurationID: &config.ID,
			Action:          auditdomain.ActionUpdate,
			EntityType:      auditdomain.EntityReceiver,
			EntityID:        receiver.ID.String(),
			Before:          before,
			After:           receiver,
			PerformedBy:     actor.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return toReceiverResponse(receiver), nil
}

func (s *service) RemoveReceiver(ctx context.Context, configID, receiverID string) error {
	actor, err := actorctx.Require(ctx, actorctx.CapConfigWrite)
	if err != nil {
		return err
	}
	id, err := parseID(configID)
	if err != nil {
		return err
	}
	rid, err := parseID(receiverID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		config, err := s.lockMutableConfig(ctx, tx, id)
		if err != nil {
			return err
		}

		receiver, err := s.repo.FindReceiverByID(ctx, tx, rid)
		if err != nil {
			return err
		}
		if receiver == nil || receiver.ConfigurationID != config.ID {
			return splitconfigdomain.ErrReceiverNotFound
		}
		if receiver.IsLocked {
			return splitconfigdomain.ErrReceiverLocked
		}

		if err := s.repo.DeleteRulesByReceiver(ctx, tx, receiver.ID); err != nil {
			return err
		}
		if err := s.repo.DeleteReceiver(ctx, tx, receiver.ID); err != nil {
			return err
		}
		if err := s.markMutated(ctx, tx, config); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.RecordRequest{
			ConfigurationID: &config.ID,
			Action:          auditdomain.ActionDelete,
			EntityType:      auditdomain.EntityReceiver,
			EntityID:        receiver.ID.String(),
			Before:          receiver,
			PerformedBy:     actor.ID,
		})
	})
}

func (s *service) AddRule(ctx context.Context, configID string, req splitconfigdomain.RuleRequest) (*splitconfigdomain.RuleResponse, error) {
	actor, err := actorctx.Require(ctx, actorctx.CapConfigWrite)
	if err != nil {
		return nil, err
	}
	id, err := parseID(configID)
	if err != nil {
		return nil, err
	}
	rid, err := parseID(req.ReceiverID)
	if err != nil {
		return nil, err
	}

	ruleType, err := parseRuleType(req.RuleType)
	if err != nil {
		return nil, err
	}
	if req.Value == nil || *req.Value < 0 {
		return nil, splitconfigdomain.ErrInvalidRuleValue
	}
	chargeType, err := parseOptionalChargeType(req.ChargeType)
	if err != nil {
		return nil, err
	}
	if err := validateBounds(req.MinimumAmount, req.MaximumAmount); err != nil {
		return nil, err
	}

	var rule *splitconfigdomain.Rule
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		config, err := s.lockMutableConfig(ctx, tx, id)
		if err != nil {
			return err
		}

		receiver, err := s.repo.FindReceiverByID(ctx, tx, rid)
		if err != nil {
			return err
		}
		if receiver == nil {
			return splitconfigdomain.ErrReceiverNotFound
		}
		if receiver.ConfigurationID != config.ID {
			return splitconfigdomain.ErrReceiverMismatch
		}

		now := s.clock.Now().UTC()
		rule = &splitconfigdomain.Rule{
			ID:              s.genID.Generate(),
			ConfigurationID: config.ID,
			ReceiverID:      receiver.ID,
			RuleType:        ruleType,
			Value:           *req.Value,
			MinimumAmount:   req.MinimumAmount,
			MaximumAmount:   req.MaximumAmount,
			ChargeType:      chargeType,
			IsActive:        true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if req.Priority != nil {
			rule.Priority = *req.Priority
		}
		if req.IsActive != nil {
			rule.IsActive = *req.IsActive
		}
		if err := s.repo.InsertRule(ctx, tx, rule); err != nil {
			return err
		}
		if err := s.markMutated(ctx, tx, config); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.RecordRequest{
			ConfigurationID: &config.ID,
			Action:          auditdomain.ActionCreate,
			EntityType:      auditdomain.EntityRule,
			EntityID:        rule.ID.String(),
			After:           rule,
			PerformedBy:     actor.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return toRuleResponse(rule), nil
}

func (s *service) UpdateRule(ctx context.Context, configID, ruleID string, req splitconfigdomain.RuleRequest) (*splitconfigdomain.RuleResponse, error) {
	actor, err := actorctx.Require(ctx, actorctx.CapConfigWrite)
	if err != nil {
		return nil, err
	}
	id, err := parseID(configID)
	if err != nil {
		return nil, err
	}
	rid, err := parseID(ruleID)
	if err != nil {
		return nil, err
	}

	var rule *splitconfigdomain.Rule
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		config, err := s.lockMutableConfig(ctx, tx, id)
		if err != nil {
			return err
		}

		rule, err = s.repo.FindRuleByID(ctx, tx, rid)
		if err != nil {
			return err
		}
		if rule == nil || rule.ConfigurationID != config.ID {
			return splitconfigdomain.ErrRuleNotFound
		}

		before := *rule
		if strings.TrimSpace(req.ReceiverID) != "" {
			receiverID, err := parseID(req.ReceiverID)
			if err != nil {
				return err
			}
			if receiverID != rule.ReceiverID {
				receiver, err := s.repo.FindReceiverByID(ctx, tx, receiverID)
				if err != nil {
					return err
				}
				if receiver == nil {
					return splitconfigdomain.ErrReceiverNotFound
				}
				if receiver.ConfigurationID != config.ID {
					return splitconfigdomain.ErrReceiverMismatch
				}
				rule.ReceiverID = receiverID
			}
		}
		if strings.TrimSpace(req.RuleType) != "" {
			ruleType, err := parseRuleType(req.RuleType)
			if err != nil {
				return err
			}
			rule.RuleType = ruleType
		}
		if req.Value != nil {
			if *req.Value < 0 {
				return splitconfigdomain.ErrInvalidRuleValue
			}
			rule.Value = *req.Value
		}
		if req.MinimumAmount != nil {
			rule.MinimumAmount = req.MinimumAmount
		}
		if req.MaximumAmount != nil {
			rule.MaximumAmount = req.MaximumAmount
		}
		if err := validateBounds(rule.MinimumAmount, rule.MaximumAmount); err != nil {
			return err
		}
		if req.ChargeType != nil {
			chargeType, err := parseOptionalChargeType(req.ChargeType)
			if err != nil {
				return err
			}
			rule.ChargeType = chargeType
		}
		if req.Priority != nil {
			rule.Priority = *req.Priority
		}
		if req.IsActive != nil {
			rule.IsActive = *req.IsActive
		}
		rule.UpdatedAt = s.clock.Now().UTC()

		if err := s.repo.UpdateRule(ctx, tx, rule); err != nil {
			return err
		}
		if err := s.markMutated(ctx, tx, config); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.RecordRequest{
			ConfigurationID: &config.ID,
			Action:          auditdomain.ActionUpdate,
			EntityType:      auditdomain.EntityRule,
			EntityID:        rule.ID.String(),
			Before:          before,
			After:           rule,
			PerformedBy:     actor.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return toRuleResponse(rule), nil
}

func (s *service) RemoveRule(ctx context.Context, configID, ruleID string) error {
	actor, err := actorctx.Require(ctx, actorctx.CapConfigWrite)
	if err != nil {
		return err
	}
	id, err := parseID(configID)
	if err != nil {
		return err
	}
	rid, err := parseID(ruleID)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		config, err := s.lockMutableConfig(ctx, tx, id)
		if err != nil {
			return err
		}

		rule, err := s.repo.FindRuleByID(ctx, tx, rid)
		if err != nil {
			return err
		}
		if rule == nil || rule.ConfigurationID != config.ID {
			return splitconfigdomain.ErrRuleNotFound
		}

		if err := s.repo.DeleteRule(ctx, tx, rule.ID); err != nil {
			return err
		}
		if err := s.markMutated(ctx, tx, config); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.RecordRequest{
			ConfigurationID: &config.ID,
			Action:          auditdomain.ActionDelete,
			EntityType:      auditdomain.EntityRule,
			EntityID:        rule.ID.String(),
			Before:          rule,
			PerformedBy:     actor.ID,
		})
	})
}

func parseReceiverType(value string) (splitconfigdomain.ReceiverType, error) {
	switch splitconfigdomain.ReceiverType(strings.ToUpper(strings.TrimSpace(value))) {
	case splitconfigdomain.ReceiverPlatform:
		return splitconfigdomain.ReceiverPlatform, nil
	case splitconfigdomain.ReceiverAgency:
		return splitconfigdomain.ReceiverAgency, nil
	case splitconfigdomain.ReceiverOwner:
		return splitconfigdomain.ReceiverOwner, nil
	default:
		return "", splitconfigdomain.ErrInvalidReceiverType
	}
}

func parseRuleType(value string) (splitconfigdomain.RuleType, error) {
	switch splitconfigdomain.RuleType(strings.ToUpper(strings.TrimSpace(value))) {
	case splitconfigdomain.RulePercentage:
		return splitconfigdomain.RulePercentage, nil
	case splitconfigdomain.RuleFixed:
		return splitconfigdomain.RuleFixed, nil
	default:
		return "", splitconfigdomain.ErrInvalidRuleType
	}
}

func parseOptionalChargeType(value *string) (*splitconfigdomain.ChargeType, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	chargeType := splitconfigdomain.ChargeType(strings.ToUpper(strings.TrimSpace(*value)))
	if !splitconfigdomain.ValidChargeType(chargeType) {
		return nil, splitconfigdomain.ErrInvalidChargeType
	}
	return &chargeType, nil
}

func validateBounds(minimum, maximum *int64) error {
	if minimum != nil && *minimum < 0 {
		return splitconfigdomain.ErrInvalidAmountBounds
	}
	if maximum != nil && *maximum < 0 {
		return splitconfigdomain.ErrInvalidAmountBounds
	}
	if minimum != nil && maximum != nil && *minimum > *maximum {
		return splitconfigdomain.ErrInvalidAmountBounds
	}
	return nil
}

func normalizeWallet(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
