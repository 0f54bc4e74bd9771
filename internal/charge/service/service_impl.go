package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/rentfolio/rentfolio/internal/actorctx"
	auditdomain "github.com/rentfolio/rentfolio/internal/audit/domain"
	chargedomain "github.com/rentfolio/rentfolio/internal/charge/domain"
	"github.com/rentfolio/rentfolio/internal/clock"
	"github.com/rentfolio/rentfolio/internal/cloudmetrics"
	"github.com/rentfolio/rentfolio/internal/gateway"
	"github.com/rentfolio/rentfolio/internal/observability/metrics"
	"github.com/rentfolio/rentfolio/internal/scopectx"
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
	Repo    chargedomain.Repository
	Audit   auditdomain.Service
	Gateway gateway.Gateway
	Metrics *metrics.Metrics `optional:"true"`
}

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    chargedomain.Repository
	audit   auditdomain.Service
	gateway gateway.Gateway
	metrics *metrics.Metrics
}

func New(p ServiceParam) chargedomain.Service {
	return &service{
		db:      p.DB,
		log:     p.Log.Named("charge.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		audit:   p.Audit,
		gateway: p.Gateway,
		metrics: p.Metrics,
	}
}

func (s *service) CreateInTx(ctx context.Context, tx *gorm.DB, req chargedomain.CreateRequest) (*chargedomain.Charge, error) {
	if req.GrossAmount < 0 {
		return nil, chargedomain.ErrInvalidAmount
	}
	if req.PlatformFee < 0 || req.PlatformFee > req.GrossAmount {
		return nil, chargedomain.ErrInvalidAmount
	}
	if !splitconfigdomain.ValidChargeType(req.ChargeType) {
		return nil, chargedomain.ErrInvalidChargeType
	}

	performedBy := "system"
	if actor, ok := actorctx.ActorFromContext(ctx); ok {
		performedBy = actor.ID
	}

	now := s.clock.Now().UTC()
	charge := &chargedomain.Charge{
		ID:              s.genID.Generate(),
		Token:           ulid.Make().String(),
		AgencyID:        req.AgencyID,
		OwnerID:         req.OwnerID,
		ContractID:      req.ContractID,
		PropertyID:      req.PropertyID,
		BillingCycleID:  req.BillingCycleID,
		ConfigurationID: req.ConfigurationID,
		ChargeType:      req.ChargeType,
		Description:     strings.TrimSpace(req.Description),
		BillingMonth:    req.BillingMonth,
		GrossAmount:     req.GrossAmount,
		PlatformFee:     req.PlatformFee,
		NetAmount:       req.GrossAmount - req.PlatformFee,
		SplitBreakdown:  req.SplitBreakdown,
		Status:          chargedomain.StatusPending,
		DueDate:         req.DueDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Insert(ctx, tx, charge); err != nil {
		return nil, err
	}
	err := s.audit.Record(ctx, tx, auditdomain.RecordRequest{
		ConfigurationID: req.ConfigurationID,
		Action:          auditdomain.ActionCreate,
		EntityType:      auditdomain.EntityCharge,
		EntityID:        charge.ID.String(),
		After:           charge,
		PerformedBy:     performedBy,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordChargeCreated(ctx, string(charge.ChargeType))
	cloudmetrics.RecordChargeCreated(scopeLabel(charge), string(charge.ChargeType))
	s.log.Debug("charge created",
		zap.String("charge_id", charge.ID.String()),
		zap.String("charge_type", string(charge.ChargeType)),
		zap.Int64("gross_amount", charge.GrossAmount),
		zap.Int64("platform_fee", charge.PlatformFee),
	)
	return charge, nil
}

func (s *service) List(ctx context.Context, req chargedomain.ListChargesRequest) (*chargedomain.ListChargesResponse, error) {
	if _, err := actorctx.Require(ctx, actorctx.CapBillingRead); err != nil {
		return nil, err
	}

	var filter chargedomain.ListFilter
	var err error
	if filter.AgencyID, err = parseOptionalID(req.AgencyID); err != nil {
		return nil, err
	}
	if filter.OwnerID, err = parseOptionalID(req.OwnerID); err != nil {
		return nil, err
	}
	if month := strings.TrimSpace(req.BillingMonth); month != "" {
		if !chargedomain.ValidBillingMonth(month) {
			return nil, chargedomain.ErrInvalidBillingMonth
		}
		filter.BillingMonth = month
	}
	if status := strings.TrimSpace(req.Status); status != "" {
		parsed, err := parseStatus(status)
		if err != nil {
			return nil, err
		}
		filter.Status = parsed
	}
	if cursor := strings.TrimSpace(req.Cursor); cursor != "" {
		id, err := snowflake.ParseString(cursor)
		if err != nil || id == 0 {
			return nil, chargedomain.ErrInvalidID
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

	resp := &chargedomain.ListChargesResponse{
		Charges: make([]chargedomain.ChargeResponse, 0, len(items)),
	}
	if len(items) > pageSize {
		resp.HasMore = true
		items = items[:pageSize]
	}
	for i := range items {
		resp.Charges = append(resp.Charges, *toChargeResponse(&items[i]))
	}
	if resp.HasMore && len(items) > 0 {
		resp.NextCursor = items[len(items)-1].ID.String()
	}
	return resp, nil
}

func (s *service) Get(ctx context.Context, idOrToken string) (*chargedomain.ChargeResponse, error) {
	if _, err := actorctx.Require(ctx, actorctx.CapBillingRead); err != nil {
		return nil, err
	}
	charge, err := s.resolve(ctx, idOrToken)
	if err != nil {
		return nil, err
	}
	return toChargeResponse(charge), nil
}

func (s *service) ListByCycle(ctx context.Context, cycleID string) ([]chargedomain.ChargeResponse, error) {
	if _, err := actorctx.Require(ctx, actorctx.CapBillingRead); err != nil {
		return nil, err
	}
	id, ok := scopectx.ParseID(cycleID)
	if !ok {
		return nil, chargedomain.ErrInvalidID
	}
	items, err := s.repo.FindByCycle(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	out := make([]chargedomain.ChargeResponse, 0, len(items))
	for i := range items {
		out = append(out, *toChargeResponse(&items[i]))
	}
	return out, nil
}

func (s *service) Dispatch(ctx context.Context, id string) (*chargedomain.ChargeResponse, error) {
	actor, err := actorctx.Require(ctx, actorctx.CapChargeDispatch)
	if err != nil {
		return nil, err
	}
	found, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	var dispatched *chargedomain.Charge
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		charge, err := s.repo.FindByIDForUpdate(ctx, tx, found.ID)
		if err != nil {
			return err
		}
		if charge == nil {
			return chargedomain.ErrNotFound
		}
		if err := s.dispatchLocked(ctx, tx, charge, actor.ID); err != nil {
			return err
		}
		dispatched = charge
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("charge dispatched",
		zap.String("charge_id", dispatched.ID.String()),
		zap.String("token", dispatched.Token),
		zap.Stringp("gateway_ref", dispatched.GatewayRef),
	)
	return toChargeResponse(dispatched), nil
}

func (s *service) DispatchPending(ctx context.Context, limit int) (int, error) {
	actor, err := actorctx.Require(ctx, actorctx.CapChargeDispatch)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = 50
	}

	count := 0
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := s.repo.ClaimPending(ctx, tx, limit)
		if err != nil {
			return err
		}
		for i := range claimed {
			if err := s.dispatchLocked(ctx, tx, &claimed[i], actor.ID); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if count > 0 {
		s.log.Info("pending charges dispatched", zap.Int("count", count))
	}
	return count, nil
}

// dispatchLocked hands one row-locked PENDING charge to the gateway. The
// gateway call runs inside the transaction so the reference is attached
// exactly when the status moves.
func (s *service) dispatchLocked(ctx context.Context, tx *gorm.DB, charge *chargedomain.Charge, performedBy string) error {
	if charge.Dispatched() {
		return chargedomain.ErrAlreadyDispatched
	}
	if charge.Status != chargedomain.StatusPending {
		return chargedomain.ErrInvalidTransition
	}

	before := *charge
	scope := scopectx.Scope{AgencyID: charge.AgencyID, OwnerID: charge.OwnerID}
	ref, err := s.gateway.Dispatch(ctx, gateway.DispatchRequest{
		CustomerID:     scope.Key(),
		Amount:         charge.GrossAmount,
		Description:    charge.Description,
		DueDate:        charge.DueDate,
		SplitBreakdown: charge.SplitBreakdown,
	})
	if err != nil {
		cloudmetrics.RecordEngineError(scopeLabel(charge), "gateway_dispatch")
		return err
	}

	charge.GatewayRef = &ref
	charge.Status = chargedomain.StatusProcessing
	charge.UpdatedAt = s.clock.Now().UTC()

	if err := s.repo.Update(ctx, tx, charge); err != nil {
		return err
	}
	return s.audit.Record(ctx, tx, auditdomain.RecordRequest{
		ConfigurationID: charge.ConfigurationID,
		Action:          auditdomain.ActionStatusChange,
		EntityType:      auditdomain.EntityCharge,
		EntityID:        charge.ID.String(),
		Before:          before,
		After:           charge,
		PerformedBy:     performedBy,
	})
}

func (s *service) UpdateStatus(ctx context.Context, id string, req chargedomain.UpdateStatusRequest) (*chargedomain.ChargeResponse, error) {
	actor, err := actorctx.Require(ctx, actorctx.CapChargeDispatch)
	if err != nil {
		return nil, err
	}
	next, err := parseStatus(req.Status)
	if err != nil {
		return nil, err
	}
	found, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	var updated *chargedomain.Charge
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		charge, err := s.repo.FindByIDForUpdate(ctx, tx, found.ID)
		if err != nil {
			return err
		}
		if charge == nil {
			return chargedomain.ErrNotFound
		}
		if !charge.Status.CanTransitionTo(next) {
			return chargedomain.ErrInvalidTransition
		}

		before := *charge
		if req.GatewayRef != nil && strings.TrimSpace(*req.GatewayRef) != "" {
			ref := strings.TrimSpace(*req.GatewayRef)
			// Webhooks may echo the reference back; only re-pointing an
			// already dispatched charge at a different one conflicts.
			if charge.Dispatched() && *charge.GatewayRef != ref {
				return chargedomain.ErrAlreadyDispatched
			}
			charge.GatewayRef = &ref
		}

		now := s.clock.Now().UTC()
		charge.Status = next
		if next == chargedomain.StatusPaid {
			charge.PaidAt = &now
		}
		charge.UpdatedAt = now

		if err := s.repo.Update(ctx, tx, charge); err != nil {
			return err
		}
		if err := s.audit.Record(ctx, tx, auditdomain.RecordRequest{
			ConfigurationID: charge.ConfigurationID,
			Action:          auditdomain.ActionStatusChange,
			EntityType:      auditdomain.EntityCharge,
			EntityID:        charge.ID.String(),
			Before:          before,
			After:           charge,
			PerformedBy:     actor.ID,
		}); err != nil {
			return err
		}
		updated = charge
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("charge status updated",
		zap.String("charge_id", updated.ID.String()),
		zap.String("status", string(updated.Status)),
	)
	return toChargeResponse(updated), nil
}

func (s *service) MarkOverdue(ctx context.Context, limit int) (int, error) {
	actor, err := actorctx.Require(ctx, actorctx.CapChargeDispatch)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = 50
	}

	now := s.clock.Now().UTC()
	count := 0
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := s.repo.ClaimOverdue(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		for i := range claimed {
			charge := &claimed[i]
			before := *charge
			charge.Status = chargedomain.StatusOverdue
			charge.UpdatedAt = now

			if err := s.repo.Update(ctx, tx, charge); err != nil {
				return err
			}
			err = s.audit.Record(ctx, tx, auditdomain.RecordRequest{
				ConfigurationID: charge.ConfigurationID,
				Action:          auditdomain.ActionStatusChange,
				EntityType:      auditdomain.EntityCharge,
				EntityID:        charge.ID.String(),
				Before:          before,
				After:           charge,
				PerformedBy:     actor.ID,
			})
			if err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if count > 0 {
		s.log.Info("charges marked overdue", zap.Int("count", count))
	}
	return count, nil
}

// resolve finds a charge by snowflake id or by its opaque token.
func (s *service) resolve(ctx context.Context, idOrToken string) (*chargedomain.Charge, error) {
	idOrToken = strings.TrimSpace(idOrToken)
	if idOrToken == "" {
		return nil, chargedomain.ErrInvalidID
	}

	var charge *chargedomain.Charge
	var err error
	if id, ok := scopectx.ParseID(idOrToken); ok {
		charge, err = s.repo.FindByID(ctx, s.db, id)
	} else {
		charge, err = s.repo.FindByToken(ctx, s.db, idOrToken)
	}
	if err != nil {
		return nil, err
	}
	if charge == nil {
		return nil, chargedomain.ErrNotFound
	}
	return charge, nil
}

func scopeLabel(charge *chargedomain.Charge) string {
	if charge.AgencyID != nil {
		return "agency"
	}
	return "owner"
}

func parseOptionalID(raw *string) (*snowflake.ID, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	id, ok := scopectx.ParseID(*raw)
	if !ok {
		return nil, chargedomain.ErrInvalidID
	}
	return &id, nil
}

func parseStatus(raw string) (chargedomain.Status, error) {
	status := chargedomain.Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case chargedomain.StatusPending, chargedomain.StatusProcessing, chargedomain.StatusPaid,
		chargedomain.StatusOverdue, chargedomain.StatusRefunded:
		return status, nil
	default:
		return "", chargedomain.ErrInvalidStatus
	}
}

func toChargeResponse(charge *chargedomain.Charge) *chargedomain.ChargeResponse {
	resp := charge.Response()
	return &resp
}
