package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PlanConfig declares, per plan, which metered features exist, how much
// of each is free per billing month, and the unit price charged beyond
// the free allotment. The operational fee section prices the per-boleto
// markup applied at cycle close.
type PlanConfig struct {
	DefaultPlan    string               `mapstructure:"defaultPlan"`
	OperationalFee OperationalFeeConfig `mapstructure:"operationalFee"`
	Plans          map[string]Plan      `mapstructure:"plans"`
}

type OperationalFeeConfig struct {
	// BoletoMarkup is charged per boleto invoice issued in the period,
	// in minor units.
	BoletoMarkup  int64  `mapstructure:"boletoMarkup"`
	BoletoFeature string `mapstructure:"boletoFeature"`
}

type Plan struct {
	Features map[string]FeatureLimit `mapstructure:"features"`
}

type FeatureLimit struct {
	FreeLimit int64 `mapstructure:"freeLimit"`
	UnitPrice int64 `mapstructure:"unitPrice"`
}

func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		DefaultPlan: "standard",
		OperationalFee: OperationalFeeConfig{
			BoletoMarkup:  250,
			BoletoFeature: "boleto_invoice",
		},
		Plans: map[string]Plan{
			"standard": {
				Features: map[string]FeatureLimit{
					"contract": {FreeLimit: 10, UnitPrice: 500},
					"property": {FreeLimit: 20, UnitPrice: 300},
					"sms":      {FreeLimit: 100, UnitPrice: 25},
				},
			},
		},
	}
}

// Resolve returns the plan for the given code, falling back to the
// default plan when the code is empty or unknown.
func (c PlanConfig) Resolve(code string) Plan {
	code = strings.TrimSpace(code)
	if code != "" {
		if plan, ok := c.Plans[code]; ok {
			return plan
		}
	}
	return c.Plans[c.DefaultPlan]
}

// Feature looks up the metering limits for a feature code.
func (p Plan) Feature(code string) (FeatureLimit, bool) {
	limit, ok := p.Features[code]
	return limit, ok
}

// PlanConfigHolder exposes the current plan configuration and swaps it
// atomically on hot reload, so readers never observe a partial config.
type PlanConfigHolder struct {
	current atomic.Value // holds PlanConfig
}

func NewPlanConfigHolder() (*PlanConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/rentfolio/config") // Volume-mounted config
	v.AddConfigPath("/etc/rentfolio")            // System config
	v.AddConfigPath(".")                         // Current directory (dev mode)

	v.SetEnvPrefix("RENTFOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// if config file not found, use defaults
		defaults := DefaultPlanConfig()
		v.SetDefault("billing.defaultPlan", defaults.DefaultPlan)
		v.SetDefault("billing.operationalFee", defaults.OperationalFee)
		v.SetDefault("billing.plans", defaults.Plans)
	}

	var cfg PlanConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validatePlanConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PlanConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PlanConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[plan-config] reload failed: %v", err)
			return
		}
		if err := validatePlanConfig(updated); err != nil {
			log.Printf("[plan-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[plan-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PlanConfigHolder) Get() PlanConfig {
	return h.current.Load().(PlanConfig)
}

// NewStaticPlanConfigHolder wraps a fixed config, bypassing viper.
// Intended for tests and for callers that assemble config in code.
func NewStaticPlanConfigHolder(cfg PlanConfig) *PlanConfigHolder {
	holder := &PlanConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validatePlanConfig(cfg PlanConfig) error {
	if strings.TrimSpace(cfg.DefaultPlan) == "" {
		return errors.New("billing.defaultPlan cannot be empty")
	}
	if _, ok := cfg.Plans[cfg.DefaultPlan]; !ok {
		return fmt.Errorf("billing.plans is missing the default plan %q", cfg.DefaultPlan)
	}
	if cfg.OperationalFee.BoletoMarkup < 0 {
		return errors.New("billing.operationalFee.boletoMarkup cannot be negative")
	}
	if cfg.OperationalFee.BoletoMarkup > 0 && strings.TrimSpace(cfg.OperationalFee.BoletoFeature) == "" {
		return errors.New("billing.operationalFee.boletoFeature is required when a markup is set")
	}
	for name, plan := range cfg.Plans {
		for feature, limit := range plan.Features {
			if limit.FreeLimit < 0 {
				return fmt.Errorf("plan %q feature %q: freeLimit cannot be negative", name, feature)
			}
			if limit.UnitPrice < 0 {
				return fmt.Errorf("plan %q feature %q: unitPrice cannot be negative", name, feature)
			}
		}
	}
	return nil
}
