// Package seed provisions demo data so a fresh install can exercise
// the split engine without any manual setup.
package seed

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	auditdomain "github.com/rentfolio/rentfolio/internal/audit/domain"
	splitconfigdomain "github.com/rentfolio/rentfolio/internal/splitconfig/domain"
)

const (
	demoConfigCode   = "demo-platform-split"
	demoAgencyID     = snowflake.ID(1)
	demoOwnerWallet  = "demo-wallet-owner"
	seedActor        = "system:seed"
	platformShare    = 10
	ownerShare       = 90
	platformPriority = 100
	ownerPriority    = 50
)

// EnsureDemoSplitConfig creates an active demo configuration for the
// demo agency: 10% to the platform, 90% to the property owner. Safe to
// call on every boot; an existing demo configuration is left alone.
func EnsureDemoSplitConfig(conn *gorm.DB, node *snowflake.Node) error {
	if conn == nil {
		return errors.New("seed database handle is required")
	}
	if node == nil {
		return errors.New("seed id generator is required")
	}

	var count int64
	err := conn.Model(&splitconfigdomain.Configuration{}).
		Where("code = ?", demoConfigCode).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	now := time.Now().UTC()
	agencyID := demoAgencyID
	actor := seedActor
	wallet := demoOwnerWallet

	config := &splitconfigdomain.Configuration{
		ID:          node.Generate(),
		ScopeKind:   splitconfigdomain.ScopeGlobal,
		AgencyID:    &agencyID,
		Name:        "Demo Platform Split",
		Description: "Seeded 10/90 platform and owner split for the demo agency.",
		Code:        demoConfigCode,
		Version:     1,
		Status:      splitconfigdomain.StatusActive,
		IsValidated: true,
		CreatedBy:   seedActor,
		ValidatedBy: &actor,
		ActivatedBy: &actor,
		ValidatedAt: &now,
		ActivatedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	platform := &splitconfigdomain.Receiver{
		ID:              node.Generate(),
		ConfigurationID: config.ID,
		Type:            splitconfigdomain.ReceiverPlatform,
		Name:            "Rentfolio Platform",
		IsLocked:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	owner := &splitconfigdomain.Receiver{
		ID:              node.Generate(),
		ConfigurationID: config.ID,
		Type:            splitconfigdomain.ReceiverOwner,
		Name:            "Demo Property Owner",
		WalletID:        &wallet,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	rules := []*splitconfigdomain.Rule{
		{
			ID:              node.Generate(),
			ConfigurationID: config.ID,
			ReceiverID:      platform.ID,
			RuleType:        splitconfigdomain.RulePercentage,
			Value:           platformShare,
			Priority:        platformPriority,
			IsActive:        true,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		{
			ID:              node.Generate(),
			ConfigurationID: config.ID,
			ReceiverID:      owner.ID,
			RuleType:        splitconfigdomain.RulePercentage,
			Value:           ownerShare,
			Priority:        ownerPriority,
			IsActive:        true,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
	}

	return conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(config).Error; err != nil {
			return err
		}
		if err := tx.Create(platform).Error; err != nil {
			return err
		}
		if err := tx.Create(owner).Error; err != nil {
			return err
		}
		for _, rule := range rules {
			if err := tx.Create(rule).Error; err != nil {
				return err
			}
		}

		snapshot, err := json.Marshal(config)
		if err != nil {
			return err
		}
		configID := config.ID
		entry := &auditdomain.Entry{
			ID:              node.Generate(),
			ConfigurationID: &configID,
			Action:          auditdomain.ActionCreate,
			EntityType:      auditdomain.EntityConfiguration,
			EntityID:        config.ID.String(),
			After:           datatypes.JSON(snapshot),
			PerformedBy:     seedActor,
			OccurredAt:      now,
		}
		entry.Hash = auditdomain.ComputeHash(entry)
		return tx.Create(entry).Error
	})
}
