package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"github.com/rentfolio/rentfolio/internal/actorctx"
	auditdomain "github.com/rentfolio/rentfolio/internal/audit/domain"
	billingcycledomain "github.com/rentfolio/rentfolio/internal/billingcycle/domain"
	chargedomain "github.com/rentfolio/rentfolio/internal/charge/domain"
	"github.com/rentfolio/rentfolio/internal/clock"
	"github.com/rentfolio/rentfolio/internal/cloudmetrics"
	"github.com/rentfolio/rentfolio/internal/config"
	"github.com/rentfolio/rentfolio/internal/notifier"
	"github.com/rentfolio/rentfolio/internal/observability/metrics"
	"github.com/rentfolio/rentfolio/internal/scopectx"
	"github.com/rentfolio/rentfolio/internal/splitcalc"
	splitconfigdomain "github.com/rentfolio/rentfolio/internal/splitconfig/domain"
	usagedomain "github.com/rentfolio/rentfolio/internal/usage/domain"
	pkgdb "github.com/rentfolio/rentfolio/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     billingcycledomain.Repository
	Audit    auditdomain.Service
	Usage    usagedomain.Service
	Charges  chargedomain.Service
	Configs  splitconfigdomain.Service
	Plans    *config.PlanConfigHolder
	Notifier notifier.Notifier
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     billingcycledomain.Repository
	audit    auditdomain.Service
	usage    usagedomain.Service
	charges  chargedomain.Service
	configs  splitconfigdomain.Service
	plans    *config.PlanConfigHolder
	notifier notifier.Notifier
	metrics  *metrics.Metrics
}

func NewService(p ServiceParam) billingcycledomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("billingcycle.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		audit:    p.Audit,
		usage:    p.Usage,
		charges:  p.Charges,
		configs:  p.Configs,
		plans:    p.Plans,
		notifier: p.Notifier,
		metrics:  p.Metrics,
	}
}

func (s *Service) GetOrCreateCurrent(ctx context.Context, req billingcycledomain.CurrentCycleRequest) (*billingcycledomain.CycleResponse, error) {
	actor, err := actorctx.Require(ctx, actorctx.CapBillingRead)
	if err != nil {
		return nil, err
	}
	scope, err := scopectx.Parse(req.AgencyID, req.OwnerID)
	if err != nil {
		return nil, err
	}

	month := s.clock.Now().UTC().Format("2006-01")
	existing, err := s.repo.FindByScopeMonth(ctx, s.db, scope, month)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return toCycleResponse(existing), nil
	}

	now := s.clock.Now().UTC()
	cycle := &billingcycledomain.BillingCycle{
		ID:           s.genID.Generate(),
		AgencyID:     scope.AgencyID,
		OwnerID:      scope.OwnerID,
		BillingMonth: month,
		Status:       billingcycledomain.StatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, cycle); err != nil {
			return err
		}
		return s.audit.Record(ctx, tx, auditdomain.RecordRequest{
			Action:      auditdomain.ActionCreate,
			EntityType:  auditdomain.EntityBillingCycle,
			EntityID:    cycle.ID.String(),
			After:       cycle,
			PerformedBy: actor.ID,
		})
	})
	if err != nil {
		// A concurrent creator won the race on the scope+month index.
		if pkgdb.IsDuplicateKeyErr(err) {
			winner, readErr := s.repo.FindByScopeMonth(ctx, s.db, scope, month)
			if readErr != nil {
				return nil, readErr
			}
			if winner != nil {
				return toCycleResponse(winner), nil
			}
		}
		return nil, err
	}

	s.log.Info("billing cycle opened",
		zap.String("cycle_id", cycle.ID.String()),
		zap.String("scope", scope.Key()),
		zap.String("billing_month", month),
	)
	return toCycleResponse(cycle), nil
}

func (s *Service) Get(ctx context.Context, id string) (*billingcycledomain.CycleResponse, error) {
	if _, err := actorctx.Require(ctx, actorctx.CapBillingRead); err != nil {
		return nil, err
	}
	cycleID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	cycle, err := s.repo.FindByID(ctx, s.db, cycleID)
	if err != nil {
		return nil, err
	}
	if cycle == nil {
		return nil, billingcycledomain.ErrNotFound
	}
	return toCycleResponse(cycle), nil
}

func (s *Service) List(ctx context.Context, req billingcycledomain.ListCyclesRequest) (*billingcycledomain.ListCyclesResponse, error) {
	if _, err := actorctx.Require(ctx, actorctx.CapBillingRead); err != nil {
		return nil, err
	}

	var filter billingcycledomain.ListFilter
	var err error
	if filter.AgencyID, err = parseOptionalID(req.AgencyID); err != nil {
		return nil, err
	}
	if filter.OwnerID, err = parseOptionalID(req.OwnerID); err != nil {
		return nil, err
	}
	if month := strings.TrimSpace(req.BillingMonth); month != "" {
		if !chargedomain.ValidBillingMonth(month) {
			return nil, billingcycledomain.ErrInvalidMonth
		}
		filter.BillingMonth = month
	}
	if status := strings.TrimSpace(req.Status); status != "" {
		switch billingcycledomain.Status(strings.ToUpper(status)) {
		case billingcycledomain.StatusOpen:
			filter.Status = billingcycledomain.StatusOpen
		case billingcycledomain.StatusClosed:
			filter.Status = billingcycledomain.StatusClosed
		default:
			return nil, billingcycledomain.ErrInvalidStatus
		}
	}
	if cursor := strings.TrimSpace(req.Cursor); cursor != "" {
		id, err := snowflake.ParseString(cursor)
		if err != nil || id == 0 {
			return nil, billingcycledomain.ErrInvalidID
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

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}

	resp := &billingcycledomain.ListCyclesResponse{
		Cycles: make([]billingcycledomain.CycleResponse, 0, len(items)),
	}
	if len(items) > pageSize {
		resp.HasMore = true
		items = items[:pageSize]
	}
	for i := range items {
		resp.Cycles = append(resp.Cycles, *toCycleResponse(&items[i]))
	}
	if resp.HasMore && len(items) > 0 {
		resp.NextCursor = items[len(items)-1].ID.String()
	}
	return resp, nil
}

func (s *Service) Close(ctx context.Context, id string) (*billingcycledomain.CloseCycleResponse, error) {
	actor, err := actorctx.Require(ctx, actorctx.CapBillingClose)
	if err != nil {
		return nil, err
	}
	cycleID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var outcome *closeOutcome
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cycle, err := s.repo.FindByIDForUpdate(ctx, tx, cycleID)
		if err != nil {
			return err
		}
		if cycle == nil {
			return billingcycledomain.ErrNotFound
		}
		outcome, err = s.closeLocked(ctx, tx, cycle, actor.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.announceClose(ctx, outcome)
	return outcome.response(), nil
}

func (s *Service) CloseDue(ctx context.Context, limit int) (int, error) {
	actor, err := actorctx.Require(ctx, actorctx.CapBillingClose)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = 20
	}
	currentMonth := s.clock.Now().UTC().Format("2006-01")

	closed := 0
	for closed < limit {
		// One cycle per transaction: a close blocked by an inconsistent
		// split must not roll back its siblings.
		var outcome *closeOutcome
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			due, err := s.repo.ClaimDue(ctx, tx, currentMonth, 1)
			if err != nil {
				return err
			}
			if len(due) == 0 {
				return nil
			}
			outcome, err = s.closeLocked(ctx, tx, &due[0], actor.ID)
			return err
		})
		if err != nil {
			return closed, err
		}
		if outcome == nil {
			break
		}
		s.announceClose(ctx, outcome)
		closed++
	}
	return closed, nil
}

type closeOutcome struct {
	cycle    *billingcycledomain.BillingCycle
	charges  []*chargedomain.Charge
	warnings []string
}

func (o *closeOutcome) response() *billingcycledomain.CloseCycleResponse {
	resp := &billingcycledomain.CloseCycleResponse{
		Cycle:    *toCycleResponse(o.cycle),
		Warnings: o.warnings,
	}
	for _, charge := range o.charges {
		resp.Charges = append(resp.Charges, charge.Response())
	}
	return resp
}

// closeLocked aggregates a row-locked OPEN cycle: overage and
// operational fee charges, counter snapshot, CLOSED flip, audit entry.
// Everything runs on the caller's transaction.
func (s *Service) closeLocked(ctx context.Context, tx *gorm.DB, cycle *billingcycledomain.BillingCycle, closedBy string) (*closeOutcome, error) {
	if cycle.Status != billingcycledomain.StatusOpen {
		return nil, billingcycledomain.ErrNotOpen
	}

	scope := scopectx.Scope{AgencyID: cycle.AgencyID, OwnerID: cycle.OwnerID}
	totals, err := s.usage.TotalsForMonth(ctx, tx, scope, cycle.BillingMonth)
	if err != nil {
		return nil, err
	}

	// Scope-level plan overrides are not modeled; every scope is priced
	// by the default plan from the injected configuration.
	plans := s.plans.Get()
	plan := plans.Resolve("")

	counters, totalOverage := buildCounters(plan, totals)
	boletoCount := totals[plans.OperationalFee.BoletoFeature]
	totalOperationalFee := plans.OperationalFee.BoletoMarkup * boletoCount

	outcome := &closeOutcome{cycle: cycle}
	if totalOverage > 0 {
		charge, warning, err := s.emitCharge(ctx, tx, cycle, scope,
			splitconfigdomain.ChargeOveruse, totalOverage, overageDescription(cycle.BillingMonth, counters))
		if err != nil {
			return nil, err
		}
		outcome.charges = append(outcome.charges, charge)
		outcome.addWarning(warning)
	}
	if totalOperationalFee > 0 {
		description := fmt.Sprintf("operational fee for %s: %d boleto invoices", cycle.BillingMonth, boletoCount)
		charge, warning, err := s.emitCharge(ctx, tx, cycle, scope,
			splitconfigdomain.ChargeOperationalFee, totalOperationalFee, description)
		if err != nil {
			return nil, err
		}
		outcome.charges = append(outcome.charges, charge)
		outcome.addWarning(warning)
	}

	snapshot, err := json.Marshal(counters)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	before := *cycle
	cycle.Status = billingcycledomain.StatusClosed
	cycle.UsageSnapshot = datatypes.JSON(snapshot)
	cycle.TotalOverage = totalOverage
	cycle.TotalOperationalFee = totalOperationalFee
	cycle.ChargeIDs = chargeIDList(outcome.charges)
	cycle.ClosedBy = &closedBy
	cycle.ClosedAt = &now
	cycle.UpdatedAt = now

	if err := s.repo.Update(ctx, tx, cycle); err != nil {
		return nil, err
	}
	err = s.audit.Record(ctx, tx, auditdomain.RecordRequest{
		Action:      auditdomain.ActionCloseCycle,
		EntityType:  auditdomain.EntityBillingCycle,
		EntityID:    cycle.ID.String(),
		Before:      before,
		After:       cycle,
		PerformedBy: closedBy,
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// emitCharge resolves the scope's active split configuration, runs the
// calculator and materializes one charge. A missing configuration is a
// warning, not an error: the charge is still recorded with a zero
// platform fee. An inconsistent split blocks the close.
func (s *Service) emitCharge(ctx context.Context, tx *gorm.DB, cycle *billingcycledomain.BillingCycle, scope scopectx.Scope, chargeType splitconfigdomain.ChargeType, gross int64, description string) (*chargedomain.Charge, string, error) {
	var (
		configID    *snowflake.ID
		platformFee int64
		breakdown   datatypes.JSON
		warning     string
	)

	splitConfig, err := s.configs.ResolveActive(ctx, splitconfigdomain.ResolveScopeRequest{
		AgencyID: idString(scope.AgencyID),
		OwnerID:  idString(scope.OwnerID),
	})
	switch {
	case errors.Is(err, splitconfigdomain.ErrNotFound):
		warning = fmt.Sprintf("no active split configuration for %s; platform fee defaulted to 0", scope.Key())
	case err != nil:
		return nil, "", err
	default:
		result := splitcalc.Calculate(splitConfig, gross, &chargeType)
		s.metrics.RecordSplitCalculation(ctx, string(chargeType), result.IsValid)
		cloudmetrics.RecordSplitCalculation(scopeType(scope), string(chargeType))
		if inconsistency := result.Inconsistency(); inconsistency != nil {
			cloudmetrics.RecordEngineError(scopeType(scope), "split_calculation")
			return nil, "", inconsistency
		}
		lines, err := json.Marshal(result.Receivers)
		if err != nil {
			return nil, "", err
		}
		breakdown = datatypes.JSON(lines)
		platformFee = platformShare(result)
		configID = &splitConfig.ID
	}

	charge, err := s.charges.CreateInTx(ctx, tx, chargedomain.CreateRequest{
		AgencyID:        scope.AgencyID,
		OwnerID:         scope.OwnerID,
		BillingCycleID:  &cycle.ID,
		ConfigurationID: configID,
		ChargeType:      chargeType,
		Description:     description,
		BillingMonth:    cycle.BillingMonth,
		GrossAmount:     gross,
		PlatformFee:     platformFee,
		SplitBreakdown:  breakdown,
	})
	if err != nil {
		return nil, "", err
	}
	return charge, warning, nil
}

func (s *Service) announceClose(ctx context.Context, outcome *closeOutcome) {
	cycle := outcome.cycle
	scope := scopectx.Scope{AgencyID: cycle.AgencyID, OwnerID: cycle.OwnerID}

	s.metrics.RecordCycleClosed(ctx, scopeType(scope))
	cloudmetrics.RecordCycleClosed(scopeType(scope))
	for _, charge := range outcome.charges {
		err := s.notifier.ChargeCreated(ctx, notifier.ChargeNotification{
			Token:        charge.Token,
			ChargeType:   string(charge.ChargeType),
			Scope:        scope.Key(),
			BillingMonth: charge.BillingMonth,
			GrossAmount:  charge.GrossAmount,
		})
		if err != nil {
			s.log.Warn("charge notification failed", zap.Error(err))
		}
	}
	err := s.notifier.CycleClosed(ctx, notifier.CycleNotification{
		CycleID:             cycle.ID.String(),
		Scope:               scope.Key(),
		BillingMonth:        cycle.BillingMonth,
		ChargeCount:         len(outcome.charges),
		TotalOverage:        cycle.TotalOverage,
		TotalOperationalFee: cycle.TotalOperationalFee,
	})
	if err != nil {
		s.log.Warn("cycle notification failed", zap.Error(err))
	}

	s.log.Info("billing cycle closed",
		zap.String("cycle_id", cycle.ID.String()),
		zap.String("scope", scope.Key()),
		zap.String("billing_month", cycle.BillingMonth),
		zap.Int("charges", len(outcome.charges)),
		zap.Int64("total_overage", cycle.TotalOverage),
		zap.Int64("total_operational_fee", cycle.TotalOperationalFee),
		zap.Strings("warnings", outcome.warnings),
	)
}

func (o *closeOutcome) addWarning(warning string) {
	if warning == "" {
		return
	}
	for _, existing := range o.warnings {
		if existing == warning {
			return
		}
	}
	o.warnings = append(o.warnings, warning)
}

// buildCounters snapshots the union of plan features and observed usage.
// Features without a plan entry stay at freeLimit 0 / unitPrice 0:
// tracked, never billed.
func buildCounters(plan config.Plan, totals map[string]int64) ([]billingcycledomain.FeatureCounter, int64) {
	names := make(map[string]struct{}, len(totals)+len(plan.Features))
	for feature := range totals {
		names[feature] = struct{}{}
	}
	for feature := range plan.Features {
		names[feature] = struct{}{}
	}
	ordered := make([]string, 0, len(names))
	for feature := range names {
		ordered = append(ordered, feature)
	}
	sort.Strings(ordered)

	counters := make([]billingcycledomain.FeatureCounter, 0, len(ordered))
	var totalOverage int64
	for _, feature := range ordered {
		counter := billingcycledomain.FeatureCounter{
			Feature: feature,
			Used:    totals[feature],
		}
		if limit, priced := plan.Feature(feature); priced {
			counter.FreeLimit = limit.FreeLimit
			counter.UnitPrice = limit.UnitPrice
			overage := counter.Used - limit.FreeLimit
			if overage < 0 {
				overage = 0
			}
			counter.Overage = overage
			counter.ChargedAmount = overage * limit.UnitPrice
			totalOverage += counter.ChargedAmount
		}
		counters = append(counters, counter)
	}
	return counters, totalOverage
}

func overageDescription(month string, counters []billingcycledomain.FeatureCounter) string {
	parts := make([]string, 0, len(counters))
	for _, counter := range counters {
		if counter.ChargedAmount <= 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %d over limit", counter.Feature, counter.Overage))
	}
	return "usage overage for " + month + ": " + strings.Join(parts, ", ")
}

func platformShare(result splitcalc.Result) int64 {
	var fee int64
	for _, line := range result.Receivers {
		if line.ReceiverType == splitconfigdomain.ReceiverPlatform {
			fee += line.Amount
		}
	}
	return fee
}

func chargeIDList(charges []*chargedomain.Charge) pq.StringArray {
	ids := make(pq.StringArray, 0, len(charges))
	for _, charge := range charges {
		ids = append(ids, charge.ID.String())
	}
	return ids
}

func scopeType(scope scopectx.Scope) string {
	if scope.AgencyID != nil {
		return "agency"
	}
	return "owner"
}

func parseID(raw string) (snowflake.ID, error) {
	id, ok := scopectx.ParseID(raw)
	if !ok {
		return 0, billingcycledomain.ErrInvalidID
	}
	return id, nil
}

func parseOptionalID(raw *string) (*snowflake.ID, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	id, ok := scopectx.ParseID(*raw)
	if !ok {
		return nil, billingcycledomain.ErrInvalidID
	}
	return &id, nil
}

func idString(id *snowflake.ID) *string {
	if id == nil {
		return nil
	}
	value := id.String()
	return &value
}

func toCycleResponse(cycle *billingcycledomain.BillingCycle) *billingcycledomain.CycleResponse {
	return &billingcycledomain.CycleResponse{
		ID:                  cycle.ID.String(),
		AgencyID:            idString(cycle.AgencyID),
		OwnerID:             idString(cycle.OwnerID),
		BillingMonth:        cycle.BillingMonth,
		Status:              cycle.Status,
		UsageSnapshot:       cycle.UsageSnapshot,
		TotalOverage:        cycle.TotalOverage,
		TotalOperationalFee: cycle.TotalOperationalFee,
		ChargeIDs:           cycle.ChargeIDs,
		ClosedBy:            cycle.ClosedBy,
		ClosedAt:            cycle.ClosedAt,
		CreatedAt:           cycle.CreatedAt,
		UpdatedAt:           cycle.UpdatedAt,
	}
}
