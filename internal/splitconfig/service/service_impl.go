package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/rentfolio/rentfolio/internal/actorctx"
	auditdomain "github.com/rentfolio/rentfolio/internal/audit/domain"
	"github.com/rentfolio/rentfolio/internal/clock"
	"github.com/rentfolio/rentfolio/internal/observability/metrics"
	splitconfigdomain "github.com/rentfolio/rentfolio/internal/splitconfig/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    splitconfigdomain.Repository
	Audit   auditdomain.Service
	Metrics *metrics.Metrics `optional:"true"`
}

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    splitconfigdomain.Repository
	audit   auditdomain.Service
	metrics *metrics.Metrics
}

func New(p ServiceParam) splitconfigdomain.Service {
	return &service{
		db:      p.DB,
		log:     p.Log.Named("splitconfig.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		audit:   p.Audit,
		metrics: p.Metrics,
	}
}

func (s *service) Create(ctx context.Context, req splitconfigdomain.CreateConfigurationRequest) (*splitconfigdomain.ConfigurationResponse, error) {
	actor, err := actorctx.Require(ctx, actorctx.CapConfigWrite)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, splitconfigdomain.ErrInvalidName
	}

	kind, key, err := parseScope(req.Scope)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	config := &splitconfigdomain.Configuration{
		ID:          s.genID.Generate(),
		ScopeKind:   kind,
		AgencyID:    key.AgencyID,
		OwnerID:     key.OwnerID,
		ContractID:  key.ContractID,
		PropertyID:  key.PropertyID,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Code:        slug.Make(name),
		Version:     1,
		Status:      splitconfigdomain.StatusDraft,
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		version, err := s.repo.MaxVersion(ctx, tx, kind, key, config.Code)
		if err != nil {
			return err
		}
		config.Version = version + 1

		if err := s.repo.InsertConfiguration(ctx, tx, config); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.RecordRequest{
			ConfigurationID: &config.ID,
			Action:          auditdomain.ActionCreate,
			EntityType:      auditdomain.EntityConfiguration,
			EntityID:        config.ID.String(),
			After:           config,
			PerformedBy:     actor.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("split configuration created",
		zap.String("configuration_id", config.ID.String()),
		zap.String("scope_kind", string(kind)),
		zap.String("code", config.Code),
		zap.Int("version", config.Version),
	)
	return toConfigurationResponse(config), nil
}

func (s *service) List(ctx context.Context, req splitconfigdomain.ListConfigurationsRequest) (*splitconfigdomain.ListConfigurationsResponse, error) {
	filter := splitconfigdomain.ListFilter{
		Code: strings.TrimSpace(req.Code),
	}

	if kind := strings.TrimSpace(req.ScopeKind); kind != "" {
		parsed, err := parseScopeKind(kind)
		if err != nil {
			return nil, err
		}
		filter.ScopeKind = parsed
	}
	if status := strings.TrimSpace(req.Status); status != "" {
		parsed, err := parseStatus(status)
		if err != nil {
			return nil, err
		}
		filter.Status = parsed
	}

	var err error
	if filter.AgencyID, err = parseOptionalID(req.AgencyID); err != nil {
		return nil, err
	}
	if filter.OwnerID, err = parseOptionalID(req.OwnerID); err != nil {
		return nil, err
	}
	if filter.ContractID, err = parseOptionalID(req.ContractID); err != nil {
		return nil, err
	}
	if filter.PropertyID, err = parseOptionalID(req.PropertyID); err != nil {
		return nil, err
	}

	if cursor := strings.TrimSpace(req.Cursor); cursor != "" {
		id, err := snowflake.ParseString(cursor)
		if err != nil || id == 0 {
			return nil, splitconfigdomain.ErrInvalidID
		}
		filter.Cursor = id
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}
	filter.Limit = pageSize + 1

	items, err := s.repo.ListConfigurations(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}

	resp := &splitconfigdomain.ListConfigurationsResponse{
		Configurations: make([]splitconfigdomain.ConfigurationResponse, 0, len(items)),
	}
	if len(items) > pageSize {
		resp.HasMore = true
		items = items[:pageSize]
	}
	for i := range items {
		resp.Configurations = append(resp.Configurations, *toConfigurationResponse(&items[i]))
	}
	if resp.HasMore && len(items) > 0 {
		resp.NextCursor = items[len(items)-1].ID.String()
	}
	return resp, nil
}

func (s *service) Get(ctx context.Context, id string) (*splitconfigdomain.ConfigurationResponse, error) {
	config, err := s.GetModel(ctx, id)
	if err != nil {
		return nil, err
	}
	return toConfigurationResponse(config), nil
}

func (s *service) GetModel(ctx context.Context, id string) (*splitconfigdomain.Configuration, error) {
	configID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	config, err := s.repo.FindConfigurationByID(ctx, s.db, configID)
	if err != nil {
		return nil, err
	}
	if config == nil {
		return nil, splitconfigdomain.ErrNotFound
	}
	if err := s.loadAggregate(ctx, s.db, config); err != nil {
		return nil, err
	}
	return config, nil
}

func (s *service) Update(ctx context.Context, id string, req splitconfigdomain.UpdateConfigurationRequest) (*splitconfigdomain.ConfigurationResponse, error) {
	actor, err := actorctx.Require(ctx, actorctx.CapConfigWrite)
	if err != nil {
		return nil, err
	}
	configID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var updated *splitconfigdomain.Configuration
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		config, err := s.repo.FindConfigurationByIDForUpdate(ctx, tx, configID)
		if err != nil {
			return err
		}
		if config == nil {
			return splitconfigdomain.ErrNotFound
		}
		if !isMutable(config.Status) {
			return splitconfigdomain.ErrNotEditable
		}

		before := *config
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return splitconfigdomain.ErrInvalidName
			}
			config.Name = name
		}
		if req.Description != nil {
			config.Description = strings.TrimSpace(*req.Description)
		}
		demoteOnMutation(config)
		config.UpdatedAt = s.clock.Now().UTC()

		if err := s.repo.UpdateConfiguration(ctx, tx, config); err != nil {
			return err
		}
		updated = config
		return s.audit.Record(ctx, tx, auditdomain.RecordRequest{
			ConfigurationID: &config.ID,
			Action:          auditdomain.ActionUpdate,
			EntityType:      auditdomain.EntityConfiguration,
			EntityID:        config.ID.String(),
			Before:          before,
			After:           config,
			PerformedBy:     actor.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return toConfigurationResponse(updated), nil
}

func (s *service) Delete(ctx context.Context, id string) error {
	actor, err := actorctx.Require(ctx, actorctx.CapConfigWrite)
	if err != nil {
		return err
	}
	configID, err := parseID(id)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		config, err := s.repo.FindConfigurationByIDForUpdate(ctx, tx, configID)
		if err != nil {
			return err
		}
		if config == nil {
			return splitconfigdomain.ErrNotFound
		}
		if config.Status == splitconfigdomain.StatusActive {
			return splitconfigdomain.ErrInvalidTransition
		}

		if err := s.repo.DeleteConfiguration(ctx, tx, configID); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.RecordRequest{
			ConfigurationID: &configID,
			Action:          auditdomain.ActionDelete,
			EntityType:      auditdomain.EntityConfiguration,
			EntityID:        configID.String(),
			Before:          config,
			PerformedBy:     actor.ID,
		})
	})
}

func (s *service) Archive(ctx context.Context, id string) (*splitconfigdomain.ConfigurationResponse, error) {
	actor, err := actorctx.Require(ctx, actorctx.CapConfigWrite)
	if err != nil {
		return nil, err
	}
	configID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var archived *splitconfigdomain.Configuration
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		config, err := s.repo.FindConfigurationByIDForUpdate(ctx, tx, configID)
		if err != nil {
			return err
		}
		if config == nil {
			return splitconfigdomain.ErrNotFound
		}
		if config.Status == splitconfigdomain.StatusActive || config.Status == splitconfigdomain.StatusArchived {
			return splitconfigdomain.ErrInvalidTransition
		}

		before := *config
		config.Status = splitconfigdomain.StatusArchived
		config.UpdatedAt = s.clock.Now().UTC()
		if err := s.repo.UpdateConfiguration(ctx, tx, config); err != nil {
			return err
		}
		archived = config
		return s.audit.Record(ctx, tx, auditdomain.RecordRequest{
			ConfigurationID: &config.ID,
			Action:          auditdomain.ActionArchive,
			EntityType:      auditdomain.EntityConfiguration,
			EntityID:        config.ID.String(),
			Before:          before,
			After:           config,
			PerformedBy:     actor.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return toConfigurationResponse(archived), nil
}

// Validate runs every check and returns the full failure list, never
// just the first failed check.
func (s *service) Validate(ctx context.Context, id string) (*splitconfigdomain.ConfigurationResponse, error) {
	actor, err := actorctx.Require(ctx, actorctx.CapConfigWrite)
	if err != nil {
		return nil, err
	}
	configID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var validated *splitconfigdomain.Configuration
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		config, err := s.repo.FindConfigurationByIDForUpdate(ctx, tx, configID)
		if err != nil {
			return err
		}
		if config == nil {
			return splitconfigdomain.ErrNotFound
		}
		switch config.Status {
		case splitconfigdomain.StatusDraft, splitconfigdomain.StatusValidated, splitconfigdomain.StatusInactive:
		default:
			return splitconfigdomain.ErrInvalidTransition
		}
		if err := s.loadAggregate(ctx, tx, config); err != nil {
			return err
		}

		if issues := validateConfiguration(config); len(issues) > 0 {
			return &splitconfigdomain.ValidationIssues{Issues: issues}
		}

		before := *config
		now := s.clock.Now().UTC()
		config.IsValidated = true
		config.ValidatedBy = &actor.ID
		config.ValidatedAt = &now
		if config.Status == splitconfigdomain.StatusDraft {
			config.Status = splitconfigdomain.StatusValidated
		}
		config.UpdatedAt = now

		if err := s.repo.UpdateConfiguration(ctx, tx, config); err != nil {
			return err
		}
		validated = config
		return s.audit.Record(ctx, tx, auditdomain.RecordRequest{
			ConfigurationID: &config.ID,
			Action:          auditdomain.ActionValidate,
			EntityType:      auditdomain.EntityConfiguration,
			EntityID:        config.ID.String(),
			Before:          before,
			After:           config,
			PerformedBy:     actor.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return toConfigurationResponse(validated), nil
}

// Activate promotes the configuration and demotes any sibling ACTIVE in
// the same scope. Row locks over the scope lineage keep concurrent
// activations single-winner.
func (s *service) Activate(ctx context.Context, id string) (*splitconfigdomain.ConfigurationResponse, error) {
	actor, err := actorctx.Require(ctx, actorctx.CapConfigActivate)
	if err != nil {
		return nil, err
	}
	configID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var activated *splitconfigdomain.Configuration
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		config, err := s.repo.FindConfigurationByIDForUpdate(ctx, tx, configID)
		if err != nil {
			return err
		}
		if config == nil {
			return splitconfigdomain.ErrNotFound
		}
		switch config.Status {
		case splitconfigdomain.StatusValidated, splitconfigdomain.StatusInactive:
		case splitconfigdomain.StatusActive:
			return splitconfigdomain.ErrInvalidTransition
		default:
			return splitconfigdomain.ErrInvalidTransition
		}
		if !config.IsValidated {
			return splitconfigdomain.ErrNotValidated
		}

		siblings, err := s.repo.LockScopeLineage(ctx, tx, config.ScopeKind, config.ScopeKey())
		if err != nil {
			return err
		}
		now := s.clock.Now().UTC()
		for i := range siblings {
			sibling := &siblings[i]
			if sibling.ID == config.ID || sibling.Status != splitconfigdomain.StatusActive {
				continue
			}
			demotedBefore := *sibling
			sibling.Status = splitconfigdomain.StatusInactive
			sibling.DeactivatedBy = &actor.ID
			sibling.DeactivatedAt = &now
			sibling.UpdatedAt = now
			if err := s.repo.UpdateConfiguration(ctx, tx, sibling); err != nil {
				return err
			}
			if err := s.audit.Record(ctx, tx, auditdomain.RecordRequest{
				ConfigurationID: &sibling.ID,
				Action:          auditdomain.ActionDeactivate,
				EntityType:      auditdomain.EntityConfiguration,
				EntityID:        sibling.ID.String(),
				Before:          demotedBefore,
				After:           sibling,
				PerformedBy:     actor.ID,
			}); err != nil {
				return err
			}
		}

		before := *config
		config.Status = splitconfigdomain.StatusActive
		config.ActivatedBy = &actor.ID
		config.ActivatedAt = &now
		config.UpdatedAt = now
		if err := s.repo.UpdateConfiguration(ctx, tx, config); err != nil {
			return err
		}
		activated = config
		return s.audit.Record(ctx, tx, auditdomain.RecordRequest{
			ConfigurationID: &config.ID,
			Action:          auditdomain.ActionActivate,
			EntityType:      auditdomain.EntityConfiguration,
			EntityID:        config.ID.String(),
			Before:          before,
			After:           config,
			PerformedBy:     actor.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordConfigActivation(ctx, string(activated.ScopeKind))
	}
	s.log.Info("split configuration activated",
		zap.String("configuration_id", activated.ID.String()),
		zap.String("scope_kind", string(activated.ScopeKind)),
		zap.Int("version", activated.Version),
	)
	return toConfigurationResponse(activated), nil
}

func (s *service) Deactivate(ctx context.Context, id string) (*splitconfigdomain.ConfigurationResponse, error) {
	actor, err := actorctx.Require(ctx, actorctx.CapConfigActivate)
	if err != nil {
		return nil, err
	}
	configID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var deactivated *splitconfigdomain.Configuration
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		config, err := s.repo.FindConfigurationByIDForUpdate(ctx, tx, configID)
		if err != nil {
			return err
		}
		if config == nil {
			return splitconfigdomain.ErrNotFound
		}
		if config.Status != splitconfigdomain.StatusActive {
			return splitconfigdomain.ErrInvalidTransition
		}

		before := *config
		now := s.clock.Now().UTC()
		config.Status = splitconfigdomain.StatusInactive
		config.DeactivatedBy = &actor.ID
		config.DeactivatedAt = &now
		config.UpdatedAt = now
		if err := s.repo.UpdateConfiguration(ctx, tx, config); err != nil {
			return err
		}
		deactivated = config
		return s.audit.Record(ctx, tx, auditdomain.RecordRequest{
			ConfigurationID: &config.ID,
			Action:          auditdomain.ActionDeactivate,
			EntityType:      auditdomain.EntityConfiguration,
			EntityID:        config.ID.String(),
			Before:          before,
			After:           config,
			PerformedBy:     actor.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return toConfigurationResponse(deactivated), nil
}

// CreateNewVersion deep-copies an ACTIVE configuration into a fresh
// DRAFT with the next version number. The source stays ACTIVE.
func (s *service) CreateNewVersion(ctx context.Context, id string) (*splitconfigdomain.ConfigurationResponse, error) {
	actor, err := actorctx.Require(ctx, actorctx.CapConfigWrite)
	if err != nil {
		return nil, err
	}
	configID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var draft *splitconfigdomain.Configuration
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		source, err := s.repo.FindConfigurationByIDForUpdate(ctx, tx, configID)
		if err != nil {
			return err
		}
		if source == nil {
			return splitconfigdomain.ErrNotFound
		}
		if source.Status != splitconfigdomain.StatusActive {
			return splitconfigdomain.ErrInvalidTransition
		}
		if err := s.loadAggregate(ctx, tx, source); err != nil {
			return err
		}

		version, err := s.repo.MaxVersion(ctx, tx, source.ScopeKind, source.ScopeKey(), source.Code)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		next := &splitconfigdomain.Configuration{
			ID:          s.genID.Generate(),
			ScopeKind:   source.ScopeKind,
			AgencyID:    source.AgencyID,
			OwnerID:     source.OwnerID,
			ContractID:  source.ContractID,
			PropertyID:  source.PropertyID,
			Name:        source.Name,
			Description: source.Description,
			Code:        source.Code,
			Version:     version + 1,
			Status:      splitconfigdomain.StatusDraft,
			CreatedBy:   actor.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.InsertConfiguration(ctx, tx, next); err != nil {
			return err
		}

		for _, receiver := range source.Receivers {
			newReceiver := receiver
			newReceiver.ID = s.genID.Generate()
			newReceiver.ConfigurationID = next.ID
			newReceiver.CreatedAt = now
			newReceiver.UpdatedAt = now
			newReceiver.Rules = nil
			if err := s.repo.InsertReceiver(ctx, tx, &newReceiver); err != nil {
				return err
			}
			for _, rule := range receiver.Rules {
				newRule := rule
				newRule.ID = s.genID.Generate()
				newRule.ConfigurationID = next.ID
				newRule.ReceiverID = newReceiver.ID
				newRule.CreatedAt = now
				newRule.UpdatedAt = now
				if err := s.repo.InsertRule(ctx, tx, &newRule); err != nil {
					return err
				}
			}
			next.Receivers = append(next.Receivers, newReceiver)
		}

		draft = next
		return s.audit.Record(ctx, tx, auditdomain.RecordRequest{
			ConfigurationID: &next.ID,
			Action:          auditdomain.ActionCreateVersion,
			EntityType:      auditdomain.EntityConfiguration,
			EntityID:        next.ID.String(),
			Before:          source,
			After:           next,
			PerformedBy:     actor.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("split configuration version created",
		zap.String("source_id", configID.String()),
		zap.String("configuration_id", draft.ID.String()),
		zap.Int("version", draft.Version),
	)
	if err := s.loadAggregate(ctx, s.db, draft); err != nil {
		return nil, err
	}
	return toConfigurationResponse(draft), nil
}

// ResolveActive walks PER_CONTRACT, then PER_PROPERTY, then GLOBAL and
// returns the first ACTIVE configuration, fully loaded.
func (s *service) ResolveActive(ctx context.Context, req splitconfigdomain.ResolveScopeRequest) (*splitconfigdomain.Configuration, error) {
	contractID, err := parseOptionalID(req.ContractID)
	if err != nil {
		return nil, err
	}
	propertyID, err := parseOptionalID(req.PropertyID)
	if err != nil {
		return nil, err
	}
	agencyID, err := parseOptionalID(req.AgencyID)
	if err != nil {
		return nil, err
	}
	ownerID, err := parseOptionalID(req.OwnerID)
	if err != nil {
		return nil, err
	}

	if contractID != nil {
		config, err := s.repo.FindActiveByScope(ctx, s.db, splitconfigdomain.ScopePerContract, splitconfigdomain.ScopeKey{ContractID: contractID})
		if err != nil {
			return nil, err
		}
		if config != nil {
			return config, s.loadAggregate(ctx, s.db, config)
		}
	}
	if propertyID != nil {
		config, err := s.repo.FindActiveByScope(ctx, s.db, splitconfigdomain.ScopePerProperty, splitconfigdomain.ScopeKey{PropertyID: propertyID})
		if err != nil {
			return nil, err
		}
		if config != nil {
			return config, s.loadAggregate(ctx, s.db, config)
		}
	}

	// Tenant-scoped GLOBAL first, platform-wide GLOBAL as the fallback.
	for _, key := range globalScopeKeys(agencyID, ownerID) {
		config, err := s.repo.FindActiveByScope(ctx, s.db, splitconfigdomain.ScopeGlobal, key)
		if err != nil {
			return nil, err
		}
		if config != nil {
			return config, s.loadAggregate(ctx, s.db, config)
		}
	}
	return nil, splitconfigdomain.ErrNotFound
}

func globalScopeKeys(agencyID, ownerID *snowflake.ID) []splitconfigdomain.ScopeKey {
	keys := make([]splitconfigdomain.ScopeKey, 0, 3)
	if agencyID != nil {
		keys = append(keys, splitconfigdomain.ScopeKey{AgencyID: agencyID})
	}
	if ownerID != nil {
		keys = append(keys, splitconfigdomain.ScopeKey{OwnerID: ownerID})
	}
	keys = append(keys, splitconfigdomain.ScopeKey{})
	return keys
}

func (s *service) loadAggregate(ctx context.Context, db *gorm.DB, config *splitconfigdomain.Configuration) error {
	receivers, err := s.repo.ListReceivers(ctx, db, config.ID)
	if err != nil {
		return err
	}
	rules, err := s.repo.ListRules(ctx, db, config.ID)
	if err != nil {
		return err
	}
	byReceiver := make(map[snowflake.ID][]splitconfigdomain.Rule, len(receivers))
	for _, rule := range rules {
		byReceiver[rule.ReceiverID] = append(byReceiver[rule.ReceiverID], rule)
	}
	for i := range receivers {
		receivers[i].Rules = byReceiver[receivers[i].ID]
	}
	config.Receivers = receivers
	return nil
}

func isMutable(status splitconfigdomain.Status) bool {
	switch status {
	case splitconfigdomain.StatusDraft, splitconfigdomain.StatusValidated, splitconfigdomain.StatusInactive:
		return true
	default:
		return false
	}
}

// demoteOnMutation clears the validation mark after any aggregate
// mutation. A mutated VALIDATED config returns to DRAFT; a mutated
// INACTIVE one keeps its status but must re-validate before activation.
func demoteOnMutation(config *splitconfigdomain.Configuration) {
	config.IsValidated = false
	config.ValidatedBy = nil
	config.ValidatedAt = nil
	if config.Status == splitconfigdomain.StatusValidated {
		config.Status = splitconfigdomain.StatusDraft
	}
}

func validateConfiguration(config *splitconfigdomain.Configuration) []splitconfigdomain.ValidationIssue {
	var issues []splitconfigdomain.ValidationIssue

	if len(config.Receivers) == 0 {
		issues = append(issues, splitconfigdomain.ValidationIssue{
			Field:   "receivers",
			Code:    "no_receivers",
			Message: "configuration has no receivers",
		})
	}

	activeRules := 0
	percentageTotal := 0.0
	for _, receiver := range config.Receivers {
		for _, rule := range receiver.Rules {
			if !rule.IsActive {
				continue
			}
			activeRules++
			if rule.RuleType == splitconfigdomain.RulePercentage {
				percentageTotal += rule.Value
			}
		}
		if receiver.Type != splitconfigdomain.ReceiverPlatform {
			if receiver.WalletID == nil || strings.TrimSpace(*receiver.WalletID) == "" {
				issues = append(issues, splitconfigdomain.ValidationIssue{
					Field:   "receivers",
					Code:    "missing_wallet",
					Message: fmt.Sprintf("receiver %q has no payout wallet", receiver.Name),
				})
			}
		}
	}
	if activeRules == 0 {
		issues = append(issues, splitconfigdomain.ValidationIssue{
			Field:   "rules",
			Code:    "no_active_rules",
			Message: "configuration has no active rules",
		})
	}
	if percentageTotal > 100 {
		issues = append(issues, splitconfigdomain.ValidationIssue{
			Field:   "rules",
			Code:    "percentage_overflow",
			Message: fmt.Sprintf("active percentage rules total %.2f%%, exceeding 100%%", percentageTotal),
		})
	}
	return issues
}

func parseScope(req splitconfigdomain.ScopeRequest) (splitconfigdomain.ScopeKind, splitconfigdomain.ScopeKey, error) {
	kind, err := parseScopeKind(req.Kind)
	if err != nil {
		return "", splitconfigdomain.ScopeKey{}, err
	}

	var key splitconfigdomain.ScopeKey
	if key.AgencyID, err = parseOptionalID(req.AgencyID); err != nil {
		return "", splitconfigdomain.ScopeKey{}, err
	}
	if key.OwnerID, err = parseOptionalID(req.OwnerID); err != nil {
		return "", splitconfigdomain.ScopeKey{}, err
	}
	if key.ContractID, err = parseOptionalID(req.ContractID); err != nil {
		return "", splitconfigdomain.ScopeKey{}, err
	}
	if key.PropertyID, err = parseOptionalID(req.PropertyID); err != nil {
		return "", splitconfigdomain.ScopeKey{}, err
	}

	switch kind {
	case splitconfigdomain.ScopeGlobal:
		if key.ContractID != nil || key.PropertyID != nil {
			return "", splitconfigdomain.ScopeKey{}, splitconfigdomain.ErrInvalidScopeKey
		}
	case splitconfigdomain.ScopePerContract:
		if key.ContractID == nil {
			return "", splitconfigdomain.ScopeKey{}, splitconfigdomain.ErrInvalidScopeKey
		}
	case splitconfigdomain.ScopePerProperty:
		if key.PropertyID == nil {
			return "", splitconfigdomain.ScopeKey{}, splitconfigdomain.ErrInvalidScopeKey
		}
	}
	return kind, key, nil
}

func parseScopeKind(value string) (splitconfigdomain.ScopeKind, error) {
	switch splitconfigdomain.ScopeKind(strings.ToUpper(strings.TrimSpace(value))) {
	case splitconfigdomain.ScopeGlobal:
		return splitconfigdomain.ScopeGlobal, nil
	case splitconfigdomain.ScopePerContract:
		return splitconfigdomain.ScopePerContract, nil
	case splitconfigdomain.ScopePerProperty:
		return splitconfigdomain.ScopePerProperty, nil
	default:
		return "", splitconfigdomain.ErrInvalidScopeKind
	}
}

func parseStatus(value string) (splitconfigdomain.Status, error) {
	switch splitconfigdomain.Status(strings.ToUpper(strings.TrimSpace(value))) {
	case splitconfigdomain.StatusDraft:
		return splitconfigdomain.StatusDraft, nil
	case splitconfigdomain.StatusValidated:
		return splitconfigdomain.StatusValidated, nil
	case splitconfigdomain.StatusActive:
		return splitconfigdomain.StatusActive, nil
	case splitconfigdomain.StatusInactive:
		return splitconfigdomain.StatusInactive, nil
	case splitconfigdomain.StatusArchived:
		return splitconfigdomain.StatusArchived, nil
	default:
		return "", splitconfigdomain.ErrInvalidStatus
	}
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, splitconfigdomain.ErrInvalidID
	}
	return id, nil
}

func parseOptionalID(value *string) (*snowflake.ID, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	id, err := parseID(*value)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func idString(id *snowflake.ID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func toConfigurationResponse(config *splitconfigdomain.Configuration) *splitconfigdomain.ConfigurationResponse {
	resp := &splitconfigdomain.ConfigurationResponse{
		ID: config.ID.String(),
		Scope: splitconfigdomain.ScopeResponse{
			Kind:       config.ScopeKind,
			AgencyID:   idString(config.AgencyID),
			OwnerID:    idString(config.OwnerID),
			ContractID: idString(config.ContractID),
			PropertyID: idString(config.PropertyID),
		},
		Name:        config.Name,
		Description: config.Description,
		Code:        config.Code,
		Version:     config.Version,
		Status:      config.Status,
		IsValidated: config.IsValidated,
		CreatedBy:   config.CreatedBy,
		ValidatedBy: config.ValidatedBy,
		ActivatedBy: config.ActivatedBy,
		ValidatedAt: config.ValidatedAt,
		ActivatedAt: config.ActivatedAt,
		CreatedAt:   config.CreatedAt,
		UpdatedAt:   config.UpdatedAt,
	}
	for i := range config.Receivers {
		resp.Receivers = append(resp.Receivers, *toReceiverResponse(&config.Receivers[i]))
	}
	return resp
}

func toReceiverResponse(receiver *splitconfigdomain.Receiver) *splitconfigdomain.ReceiverResponse {
	resp := &splitconfigdomain.ReceiverResponse{
		ID:        receiver.ID.String(),
		Type:      receiver.Type,
		Name:      receiver.Name,
		Document:  receiver.Document,
		UserID:    idString(receiver.UserID),
		AgencyID:  idString(receiver.AgencyID),
		WalletID:  receiver.WalletID,
		IsLocked:  receiver.IsLocked,
		CreatedAt: receiver.CreatedAt,
		UpdatedAt: receiver.UpdatedAt,
	}
	for i := range receiver.Rules {
		resp.Rules = append(resp.Rules, *toRuleResponse(&receiver.Rules[i]))
	}
	return resp
}

func toRuleResponse(rule *splitconfigdomain.Rule) *splitconfigdomain.RuleResponse {
	return &splitconfigdomain.RuleResponse{
		ID:            rule.ID.String(),
		ReceiverID:    rule.ReceiverID.String(),
		RuleType:      rule.RuleType,
		Value:         rule.Value,
		MinimumAmount: rule.MinimumAmount,
		MaximumAmount: rule.MaximumAmount,
		ChargeType:    rule.ChargeType,
		Priority:      rule.Priority,
		IsActive:      rule.IsActive,
		CreatedAt:     rule.CreatedAt,
		UpdatedAt:     rule.UpdatedAt,
	}
}
