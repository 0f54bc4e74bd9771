package splitcalc

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/rentfolio/rentfolio/internal/splitconfig/domain"
)

func percentRule(id, receiverID snowflake.ID, value float64, priority int) domain.Rule {
	return domain.Rule{
		ID:         id,
		ReceiverID: receiverID,
		RuleType:   domain.RulePercentage,
		Value:      value,
		Priority:   priority,
		IsActive:   true,
	}
}

func fixedRule(id, receiverID snowflake.ID, value float64, priority int) domain.Rule {
	return domain.Rule{
		ID:         id,
		ReceiverID: receiverID,
		RuleType:   domain.RuleFixed,
		Value:      value,
		Priority:   priority,
		IsActive:   true,
	}
}

func tenNinetyConfig() *domain.Configuration {
	return &domain.Configuration{
		ID: snowflake.ID(1),
		Receivers: []domain.Receiver{
			{
				ID:    snowflake.ID(10),
				Type:  domain.ReceiverPlatform,
				Name:  "Rentfolio",
				Rules: []domain.Rule{percentRule(100, 10, 10, 10)},
			},
			{
				ID:    snowflake.ID(20),
				Type:  domain.ReceiverOwner,
				Name:  "Owner One",
				Rules: []domain.Rule{percentRule(200, 20, 90, 5)},
			},
		},
	}
}

func TestTenNinetySplit(t *testing.T) {
	result := Calculate(tenNinetyConfig(), 100000, nil)

	if !result.IsValid {
		t.Fatalf("expected valid result, errors: %v", result.Errors)
	}
	if result.TotalDistributed != 100000 {
		t.Fatalf("expected full distribution, got %d", result.TotalDistributed)
	}
	if len(result.Receivers) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(result.Receivers))
	}
	platform, owner := result.Receivers[0], result.Receivers[1]
	if platform.Amount != 10000 || platform.Percentage != 10 {
		t.Fatalf("platform line wrong: %+v", platform)
	}
	if owner.Amount != 90000 || owner.Percentage != 90 {
		t.Fatalf("owner line wrong: %+v", owner)
	}
}

func TestZeroGrossKeepsDeclaredPercentages(t *testing.T) {
	result := Calculate(tenNinetyConfig(), 0, nil)

	if !result.IsValid {
		t.Fatalf("expected zero gross to be valid, errors: %v", result.Errors)
	}
	if result.TotalDistributed != 0 {
		t.Fatalf("expected nothing distributed, got %d", result.TotalDistributed)
	}
	for _, line := range result.Receivers {
		if line.Amount != 0 {
			t.Fatalf("expected zero amount for %s, got %d", line.Name, line.Amount)
		}
	}
	if result.Receivers[0].Percentage != 10 || result.Receivers[1].Percentage != 90 {
		t.Fatalf("expected declared percentages at zero gross, got %+v", result.Receivers)
	}
}

func TestFixedRuleCappedAtGross(t *testing.T) {
	config := &domain.Configuration{
		ID: snowflake.ID(1),
		Receivers: []domain.Receiver{
			{
				ID:    snowflake.ID(10),
				Type:  domain.ReceiverPlatform,
				Name:  "Rentfolio",
				Rules: []domain.Rule{fixedRule(100, 10, 5000, 0)},
			},
		},
	}

	result := Calculate(config, 3000, nil)
	if !result.IsValid {
		t.Fatalf("expected capped fixed rule to stay valid, errors: %v", result.Errors)
	}
	if result.Receivers[0].Amount != 3000 {
		t.Fatalf("expected cap at remaining funds, got %d", result.Receivers[0].Amount)
	}
	if result.TotalDistributed != 3000 {
		t.Fatalf("expected total 3000, got %d", result.TotalDistributed)
	}
}

func TestPriorityDecidesWhoIsPaidFirst(t *testing.T) {
	config := &domain.Configuration{
		ID: snowflake.ID(1),
		Receivers: []domain.Receiver{
			{
				ID:    snowflake.ID(10),
				Type:  domain.ReceiverAgency,
				Name:  "Low Priority",
				Rules: []domain.Rule{fixedRule(100, 10, 5000, 5)},
			},
			{
				ID:    snowflake.ID(20),
				Type:  domain.ReceiverOwner,
				Name:  "High Priority",
				Rules: []domain.Rule{fixedRule(200, 20, 5000, 10)},
			},
		},
	}

	result := Calculate(config, 6000, nil)
	if !result.IsValid {
		t.Fatalf("expected valid result, errors: %v", result.Errors)
	}
	byName := map[string]int64{}
	for _, line := range result.Receivers {
		byName[line.Name] = line.Amount
	}
	if byName["High Priority"] != 5000 {
		t.Fatalf("expected priority 10 rule fully paid, got %d", byName["High Priority"])
	}
	if byName["Low Priority"] != 1000 {
		t.Fatalf("expected priority 5 rule to take the remainder, got %d", byName["Low Priority"])
	}
}

func TestNoApplicableRulesIsInvalid(t *testing.T) {
	result := Calculate(&domain.Configuration{ID: snowflake.ID(1)}, 10000, nil)
	if result.IsValid {
		t.Fatal("expected empty configuration to be invalid")
	}
	if len(result.Receivers) != 0 {
		t.Fatalf("expected no lines, got %d", len(result.Receivers))
	}
	if len(result.Errors) == 0 {
		t.Fatal("expected a descriptive error")
	}
}

func TestChargeTypeFilter(t *testing.T) {
	rent := domain.ChargeRent
	filtered := percentRule(100, 10, 100, 0)
	filtered.ChargeType = &rent

	config := &domain.Configuration{
		ID: snowflake.ID(1),
		Receivers: []domain.Receiver{
			{
				ID:    snowflake.ID(10),
				Type:  domain.ReceiverOwner,
				Name:  "Owner",
				Rules: []domain.Rule{filtered},
			},
		},
	}

	result := Calculate(config, 10000, &rent)
	if !result.IsValid || result.TotalDistributed != 10000 {
		t.Fatalf("expected RENT charge to match RENT filter: %+v", result)
	}

	overuse := domain.ChargeOveruse
	result = Calculate(config, 10000, &overuse)
	if result.IsValid || len(result.Receivers) != 0 {
		t.Fatalf("expected OVERUSE charge to skip RENT-only rule: %+v", result)
	}

	// An unrequested charge type never matches a filtered rule.
	result = Calculate(config, 10000, nil)
	if result.IsValid {
		t.Fatalf("expected untyped charge to skip filtered rule: %+v", result)
	}
}

func TestInactiveRuleIgnored(t *testing.T) {
	config := tenNinetyConfig()
	config.Receivers[0].Rules[0].IsActive = false

	result := Calculate(config, 100000, nil)
	if result.IsValid {
		t.Fatal("expected 90 percent-only distribution to be invalid")
	}
	if len(result.Receivers) != 1 || result.Receivers[0].Amount != 90000 {
		t.Fatalf("expected only the owner line, got %+v", result.Receivers)
	}
}

func TestUndersubscribedReportsBothTotals(t *testing.T) {
	config := &domain.Configuration{
		ID: snowflake.ID(1),
		Receivers: []domain.Receiver{
			{
				ID:    snowflake.ID(10),
				Type:  domain.ReceiverOwner,
				Name:  "Owner",
				Rules: []domain.Rule{percentRule(100, 10, 50, 0)},
			},
		},
	}

	result := Calculate(config, 10000, nil)
	if result.IsValid {
		t.Fatal("expected a lone 50 percent receiver to fail the total check")
	}
	if result.TotalDistributed != 5000 {
		t.Fatalf("expected 5000 distributed, got %d", result.TotalDistributed)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "5000") || !strings.Contains(result.Errors[0], "10000") {
		t.Fatalf("expected error carrying both totals, got %v", result.Errors)
	}

	inconsistency := result.Inconsistency()
	if inconsistency == nil {
		t.Fatal("expected inconsistency error")
	}
	if inconsistency.GrossAmount != 10000 || inconsistency.TotalDistributed != 5000 {
		t.Fatalf("unexpected inconsistency payload: %+v", inconsistency)
	}
}

func TestBoundsClampBeforeCapping(t *testing.T) {
	capAmount := int64(5000)
	capped := percentRule(100, 10, 10, 10)
	capped.MaximumAmount = &capAmount

	floorAmount := int64(500)
	raised := percentRule(200, 20, 1, 5)
	raised.MinimumAmount = &floorAmount

	config := &domain.Configuration{
		ID: snowflake.ID(1),
		Receivers: []domain.Receiver{
			{ID: snowflake.ID(10), Type: domain.ReceiverPlatform, Name: "Capped", Rules: []domain.Rule{capped}},
			{ID: snowflake.ID(20), Type: domain.ReceiverAgency, Name: "Raised", Rules: []domain.Rule{raised}},
		},
	}

	result := Calculate(config, 100000, nil)
	byName := map[string]int64{}
	for _, line := range result.Receivers {
		byName[line.Name] = line.Amount
	}
	if byName["Capped"] != 5000 {
		t.Fatalf("expected 10%% of 100000 capped to 5000, got %d", byName["Capped"])
	}
	if byName["Raised"] != 1000 {
		t.Fatalf("expected 1%% of 100000 untouched by a 500 floor, got %d", byName["Raised"])
	}

	result = Calculate(config, 10000, nil)
	byName = map[string]int64{}
	for _, line := range result.Receivers {
		byName[line.Name] = line.Amount
	}
	if byName["Raised"] != 500 {
		t.Fatalf("expected 1%% of 10000 raised to the 500 floor, got %d", byName["Raised"])
	}
}

func TestRoundingHappensOncePerReceiver(t *testing.T) {
	// Two 16.665% rules produce 1666.5 each. Rounding per rule would
	// yield 1667+1667=3334; rounding the summed total yields 3333.
	config := &domain.Configuration{
		ID: snowflake.ID(1),
		Receivers: []domain.Receiver{
			{
				ID:   snowflake.ID(10),
				Type: domain.ReceiverAgency,
				Name: "Split Receiver",
				Rules: []domain.Rule{
					percentRule(100, 10, 16.665, 0),
					percentRule(101, 10, 16.665, 0),
				},
			},
			{
				ID:    snowflake.ID(20),
				Type:  domain.ReceiverOwner,
				Name:  "Owner",
				Rules: []domain.Rule{percentRule(200, 20, 66.67, 0)},
			},
		},
	}

	result := Calculate(config, 10000, nil)
	if result.Receivers[0].Amount != 3333 {
		t.Fatalf("expected summed-then-rounded 3333, got %d", result.Receivers[0].Amount)
	}
	if result.Receivers[1].Amount != 6667 {
		t.Fatalf("expected 6667, got %d", result.Receivers[1].Amount)
	}
	if !result.IsValid || result.TotalDistributed != 10000 {
		t.Fatalf("expected reconciled total, got %+v", result)
	}
}

func TestCalculateIsDeterministic(t *testing.T) {
	config := tenNinetyConfig()
	rent := domain.ChargeRent

	first := Calculate(config, 123457, &rent)
	second := Calculate(config, 123457, &rent)

	firstJSON, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal first: %v", err)
	}
	secondJSON, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("marshal second: %v", err)
	}
	if !bytes.Equal(firstJSON, secondJSON) {
		t.Fatalf("expected byte-identical results:\n%s\n%s", firstJSON, secondJSON)
	}
}
