package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFallsBackToDefaultPlan(t *testing.T) {
	cfg := DefaultPlanConfig()

	plan := cfg.Resolve("standard")
	limit, ok := plan.Feature("contract")
	require.True(t, ok)
	assert.Equal(t, int64(10), limit.FreeLimit)
	assert.Equal(t, int64(500), limit.UnitPrice)

	assert.Equal(t, plan, cfg.Resolve(""))
	assert.Equal(t, plan, cfg.Resolve("no-such-plan"))

	_, ok = plan.Feature("unmetered")
	assert.False(t, ok)
}

func TestStaticHolderServesFixedConfig(t *testing.T) {
	holder := NewStaticPlanConfigHolder(PlanConfig{
		DefaultPlan: "trial",
		Plans: map[string]Plan{
			"trial": {Features: map[string]FeatureLimit{
				"sms": {FreeLimit: 5, UnitPrice: 40},
			}},
		},
	})

	got := holder.Get()
	assert.Equal(t, "trial", got.DefaultPlan)
	limit, ok := got.Resolve("trial").Feature("sms")
	require.True(t, ok)
	assert.Equal(t, int64(40), limit.UnitPrice)
}

func TestValidatePlanConfig(t *testing.T) {
	require.NoError(t, validatePlanConfig(DefaultPlanConfig()))

	bad := DefaultPlanConfig()
	bad.DefaultPlan = "missing"
	assert.Error(t, validatePlanConfig(bad))

	negative := DefaultPlanConfig()
	negative.Plans["standard"].Features["sms"] = FeatureLimit{FreeLimit: -1, UnitPrice: 25}
	assert.Error(t, validatePlanConfig(negative))
}
