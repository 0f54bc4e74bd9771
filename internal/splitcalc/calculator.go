// Package splitcalc computes deterministic split breakdowns. Calculate
// is pure: no clock, no storage, no shared state, so identical inputs
// always produce identical output.
package splitcalc

import (
	"fmt"
	"math"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/rentfolio/rentfolio/internal/splitconfig/domain"
)

// Line is one receiver's share of a gross amount, in minor units.
type Line struct {
	ReceiverID   snowflake.ID        `json:"receiver_id"`
	ReceiverType domain.ReceiverType `json:"receiver_type"`
	Name         string              `json:"name"`
	Amount       int64               `json:"amount"`
	Percentage   float64             `json:"percentage"`
}

// Result is the breakdown of a gross amount across a configuration's
// receivers. An invalid result must never be turned into a charge.
type Result struct {
	GrossAmount      int64    `json:"gross_amount"`
	Receivers        []Line   `json:"receivers"`
	TotalDistributed int64    `json:"total_distributed"`
	IsValid          bool     `json:"is_valid"`
	Errors           []string `json:"errors,omitempty"`
}

// Inconsistency returns the mismatch between gross and distributed
// totals, or nil when the result reconciles.
func (r Result) Inconsistency() *InconsistencyError {
	if r.IsValid {
		return nil
	}
	return &InconsistencyError{
		GrossAmount:      r.GrossAmount,
		TotalDistributed: r.TotalDistributed,
	}
}

// InconsistencyError reports a breakdown that does not reconcile with
// the gross amount. It carries both totals because the mismatch points
// at a misconfigured rule set with real financial impact.
type InconsistencyError struct {
	GrossAmount      int64
	TotalDistributed int64
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("split_inconsistent: distributed %d of gross %d", e.TotalDistributed, e.GrossAmount)
}

type pair struct {
	receiver *domain.Receiver
	rule     *domain.Rule
}

// Calculate distributes grossAmount (minor units) across the
// configuration's receivers.
//
// Pairs are evaluated by rule priority descending, ties kept in input
// order. Each rule claims grossAmount×value/100 (PERCENTAGE) or value
// (FIXED, already minor units), clamped to its bounds and capped at
// whatever the higher-priority rules left over. Per-receiver totals are
// rounded half-up once at the end, never per rule.
func Calculate(config *domain.Configuration, grossAmount int64, chargeType *domain.ChargeType) Result {
	result := Result{GrossAmount: grossAmount}
	if config == nil {
		result.Errors = append(result.Errors, "no configuration provided")
		return result
	}

	pairs := collectPairs(config, chargeType)
	if len(pairs) == 0 {
		result.Receivers = []Line{}
		result.Errors = append(result.Errors, "no applicable rules for this charge")
		return result
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].rule.Priority > pairs[j].rule.Priority
	})

	remaining := float64(grossAmount)
	rawTotals := make(map[snowflake.ID]float64, len(pairs))
	declaredPct := make(map[snowflake.ID]float64, len(pairs))
	for _, p := range pairs {
		var raw float64
		switch p.rule.RuleType {
		case domain.RulePercentage:
			raw = float64(grossAmount) * p.rule.Value / 100
			declaredPct[p.receiver.ID] += p.rule.Value
		case domain.RuleFixed:
			raw = p.rule.Value
		}
		if p.rule.MinimumAmount != nil && raw < float64(*p.rule.MinimumAmount) {
			raw = float64(*p.rule.MinimumAmount)
		}
		if p.rule.MaximumAmount != nil && raw > float64(*p.rule.MaximumAmount) {
			raw = float64(*p.rule.MaximumAmount)
		}
		// A rule never claims more than what higher-priority rules left.
		if raw > remaining {
			raw = remaining
		}
		if raw < 0 {
			raw = 0
		}
		rawTotals[p.receiver.ID] += raw
		remaining -= raw
	}

	var total int64
	result.Receivers = make([]Line, 0, len(rawTotals))
	for i := range config.Receivers {
		receiver := &config.Receivers[i]
		raw, ok := rawTotals[receiver.ID]
		if !ok {
			continue
		}
		amount := roundMoney(raw)
		total += amount
		result.Receivers = append(result.Receivers, Line{
			ReceiverID:   receiver.ID,
			ReceiverType: receiver.Type,
			Name:         receiver.Name,
			Amount:       amount,
			Percentage:   linePercentage(grossAmount, amount, declaredPct[receiver.ID]),
		})
	}

	result.TotalDistributed = total
	diff := total - grossAmount
	if diff < 0 {
		diff = -diff
	}
	if diff <= 1 {
		result.IsValid = true
	} else {
		result.Errors = append(result.Errors,
			fmt.Sprintf("distributed total %d does not match gross amount %d", total, grossAmount))
	}
	return result
}

func collectPairs(config *domain.Configuration, chargeType *domain.ChargeType) []pair {
	var pairs []pair
	for i := range config.Receivers {
		receiver := &config.Receivers[i]
		for j := range receiver.Rules {
			rule := &receiver.Rules[j]
			if !rule.AppliesTo(chargeType) {
				continue
			}
			pairs = append(pairs, pair{receiver: receiver, rule: rule})
		}
	}
	return pairs
}

// linePercentage reports the receiver's effective share. A zero gross
// amount falls back to the declared percentage sum so a 10/90 split of
// zero still reads as 10 and 90.
func linePercentage(grossAmount, amount int64, declared float64) float64 {
	if grossAmount == 0 {
		return roundTo2(declared)
	}
	return roundTo2(float64(amount) / float64(grossAmount) * 100)
}

func roundMoney(raw float64) int64 {
	return int64(math.Floor(raw + 0.5))
}

func roundTo2(value float64) float64 {
	return math.Floor(value*100+0.5) / 100
}
