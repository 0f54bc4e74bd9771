package service

import (
	"errors"
	"testing"

	"github.com/rentfolio/rentfolio/internal/splitconfig/domain"
)

func TestActiveConfigurationRejectsMutation(t *testing.T) {
	svc, _, _, _ := setupService(t)
	ctx := operatorContext()

	config := createDraft(t, svc, ctx, "Frozen Split")
	platformID, _ := addStandardSplit(t, svc, ctx, config.ID)
	if _, err := svc.Validate(ctx, config.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := svc.Activate(ctx, config.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	_, err := svc.AddReceiver(ctx, config.ID, domain.ReceiverRequest{Type: "AGENCY", Name: "Late Agency"})
	if !errors.Is(err, domain.ErrNotEditable) {
		t.Fatalf("expected ErrNotEditable for receiver add on ACTIVE, got %v", err)
	}

	five := 5.0
	_, err = svc.AddRule(ctx, config.ID, domain.RuleRequest{
		ReceiverID: platformID,
		RuleType:   "PERCENTAGE",
		Value:      &five,
	})
	if !errors.Is(err, domain.ErrNotEditable) {
		t.Fatalf("expected ErrNotEditable for rule add on ACTIVE, got %v", err)
	}

	name := "Renamed"
	_, err = svc.Update(ctx, config.ID, domain.UpdateConfigurationRequest{Name: &name})
	if !errors.Is(err, domain.ErrNotEditable) {
		t.Fatalf("expected ErrNotEditable for update on ACTIVE, got %v", err)
	}
}

func TestMutationDropsValidation(t *testing.T) {
	svc, _, _, _ := setupService(t)
	ctx := operatorContext()

	config := createDraft(t, svc, ctx, "Revalidate Split")
	addStandardSplit(t, svc, ctx, config.ID)
	if _, err := svc.Validate(ctx, config.ID); err != nil {
		t.Fatalf("validate: %v", err)
	}

	wallet := "wallet-agency-9"
	if _, err := svc.AddReceiver(ctx, config.ID, domain.ReceiverRequest{
		Type:     "AGENCY",
		Name:     "Agency Nine",
		WalletID: &wallet,
	}); err != nil {
		t.Fatalf("add receiver: %v", err)
	}

	reloaded, err := svc.Get(ctx, config.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Status != domain.StatusDraft || reloaded.IsValidated {
		t.Fatalf("expected mutation to drop back to DRAFT, got %s validated=%v", reloaded.Status, reloaded.IsValidated)
	}

	if _, err := svc.Activate(ctx, config.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected activation to require revalidation, got %v", err)
	}
}

func TestLockedReceiverRejectsChanges(t *testing.T) {
	svc, _, _, _ := setupService(t)
	ctx := operatorContext()

	config := createDraft(t, svc, ctx, "Locked Split")
	locked := true
	receiver, err := svc.AddReceiver(ctx, config.ID, domain.ReceiverRequest{
		Type:     "PLATFORM",
		Name:     "Rentfolio",
		IsLocked: &locked,
	})
	if err != nil {
		t.Fatalf("add receiver: %v", err)
	}

	name := "Renamed Platform"
	_, err = svc.UpdateReceiver(ctx, config.ID, receiver.ID, domain.ReceiverRequest{Name: name})
	if !errors.Is(err, domain.ErrReceiverLocked) {
		t.Fatalf("expected ErrReceiverLocked on update, got %v", err)
	}

	if err := svc.RemoveReceiver(ctx, config.ID, receiver.ID); !errors.Is(err, domain.ErrReceiverLocked) {
		t.Fatalf("expected ErrReceiverLocked on remove, got %v", err)
	}
}

func TestRuleBelongsToConfiguration(t *testing.T) {
	svc, _, _, _ := setupService(t)
	ctx := operatorContext()

	first := createDraft(t, svc, ctx, "Config One")
	second := createDraft(t, svc, ctx, "Config Two")
	foreign, err := svc.AddReceiver(ctx, second.ID, domain.ReceiverRequest{
		Type: "PLATFORM",
		Name: "Elsewhere",
	})
	if err != nil {
		t.Fatalf("add receiver: %v", err)
	}

	ten := 10.0
	_, err = svc.AddRule(ctx, first.ID, domain.RuleRequest{
		ReceiverID: foreign.ID,
		RuleType:   "PERCENTAGE",
		Value:      &ten,
	})
	if !errors.Is(err, domain.ErrReceiverMismatch) {
		t.Fatalf("expected ErrReceiverMismatch for foreign receiver, got %v", err)
	}
}

func TestRuleValidation(t *testing.T) {
	svc, _, _, _ := setupService(t)
	ctx := operatorContext()

	config := createDraft(t, svc, ctx, "Rule Bounds")
	receiver, err := svc.AddReceiver(ctx, config.ID, domain.ReceiverRequest{
		Type: "PLATFORM",
		Name: "Rentfolio",
	})
	if err != nil {
		t.Fatalf("add receiver: %v", err)
	}

	negative := -5.0
	if _, err := svc.AddRule(ctx, config.ID, domain.RuleRequest{
		ReceiverID: receiver.ID,
		RuleType:   "PERCENTAGE",
		Value:      &negative,
	}); !errors.Is(err, domain.ErrInvalidRuleValue) {
		t.Fatalf("expected ErrInvalidRuleValue, got %v", err)
	}

	ten := 10.0
	minAmount := int64(5000)
	maxAmount := int64(1000)
	if _, err := svc.AddRule(ctx, config.ID, domain.RuleRequest{
		ReceiverID:    receiver.ID,
		RuleType:      "PERCENTAGE",
		Value:         &ten,
		MinimumAmount: &minAmount,
		MaximumAmount: &maxAmount,
	}); !errors.Is(err, domain.ErrInvalidAmountBounds) {
		t.Fatalf("expected ErrInvalidAmountBounds for min > max, got %v", err)
	}

	badType := "SOMETIMES"
	if _, err := svc.AddRule(ctx, config.ID, domain.RuleRequest{
		ReceiverID: receiver.ID,
		RuleType:   "PERCENTAGE",
		Value:      &ten,
		ChargeType: &badType,
	}); !errors.Is(err, domain.ErrInvalidChargeType) {
		t.Fatalf("expected ErrInvalidChargeType, got %v", err)
	}
}

func TestUpdateRuleRetargetsAndFilters(t *testing.T) {
	svc, _, _, _ := setupService(t)
	ctx := operatorContext()

	config := createDraft(t, svc, ctx, "Retarget Split")
	platformID, ownerID := addStandardSplit(t, svc, ctx, config.ID)
	_ = platformID

	wallet := "wallet-agency-2"
	agency, err := svc.AddReceiver(ctx, config.ID, domain.ReceiverRequest{
		Type:     "AGENCY",
		Name:     "Agency Two",
		WalletID: &wallet,
	})
	if err != nil {
		t.Fatalf("add agency receiver: %v", err)
	}
	eight := 8.0
	chargeType := "RENT"
	priority := 20
	rule, err := svc.AddRule(ctx, config.ID, domain.RuleRequest{
		ReceiverID: agency.ID,
		RuleType:   "PERCENTAGE",
		Value:      &eight,
		ChargeType: &chargeType,
		Priority:   &priority,
	})
	if err != nil {
		t.Fatalf("add rule: %v", err)
	}
	if rule.ChargeType == nil || *rule.ChargeType != domain.ChargeRent {
		t.Fatalf("expected RENT filter, got %v", rule.ChargeType)
	}
	if rule.Priority != 20 {
		t.Fatalf("expected priority 20, got %d", rule.Priority)
	}

	inactive := false
	updated, err := svc.UpdateRule(ctx, config.ID, rule.ID, domain.RuleRequest{
		ReceiverID: ownerID,
		IsActive:   &inactive,
	})
	if err != nil {
		t.Fatalf("update rule: %v", err)
	}
	if updated.ReceiverID != ownerID {
		t.Fatalf("expected rule moved to owner receiver, got %s", updated.ReceiverID)
	}
	if updated.IsActive {
		t.Fatal("expected rule deactivated")
	}
	if updated.Priority != 20 {
		t.Fatalf("expected priority preserved, got %d", updated.Priority)
	}
}

func TestRemoveReceiverCascadesRules(t *testing.T) {
	svc, db, _, _ := setupService(t)
	ctx := operatorContext()

	config := createDraft(t, svc, ctx, "Cascade Split")
	_, ownerID := addStandardSplit(t, svc, ctx, config.ID)

	if err := svc.RemoveReceiver(ctx, config.ID, ownerID); err != nil {
		t.Fatalf("remove receiver: %v", err)
	}

	var rules int
	if err := db.Raw(`SELECT COUNT(1) FROM split_rules`).Scan(&rules).Error; err != nil {
		t.Fatalf("count rules: %v", err)
	}
	if rules != 1 {
		t.Fatalf("expected only the platform rule to remain, got %d", rules)
	}
}
