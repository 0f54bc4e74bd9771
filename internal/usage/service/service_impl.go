package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rentfolio/rentfolio/internal/actorctx"
	"github.com/rentfolio/rentfolio/internal/clock"
	"github.com/rentfolio/rentfolio/internal/config"
	obsmetrics "github.com/rentfolio/rentfolio/internal/observability/metrics"
	"github.com/rentfolio/rentfolio/internal/scopectx"
	usagedomain "github.com/rentfolio/rentfolio/internal/usage/domain"
	"github.com/rentfolio/rentfolio/pkg/db/option"
	"github.com/rentfolio/rentfolio/pkg/db/pagination"
	"github.com/rentfolio/rentfolio/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Plans   *config.PlanConfigHolder
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	plans   *config.PlanConfigHolder
	store   repository.Repository[usagedomain.UsageEvent]
	metrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usage.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		plans:   p.Plans,
		store:   repository.ProvideStore[usagedomain.UsageEvent](p.DB),
		metrics: p.Metrics,
	}
}

func (s *Service) Track(ctx context.Context, req usagedomain.TrackRequest) (*usagedomain.UsageEvent, error) {
	if _, err := actorctx.Require(ctx, actorctx.CapUsageWrite); err != nil {
		return nil, err
	}

	scope, err := scopectx.Parse(req.AgencyID, req.OwnerID)
	if err != nil {
		return nil, err
	}

	feature := strings.TrimSpace(req.Feature)
	if feature == "" {
		return nil, usagedomain.ErrInvalidFeature
	}
	if req.Quantity <= 0 {
		return nil, usagedomain.ErrInvalidQuantity
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, usagedomain.ErrInvalidIdempotencyKey
	}

	// Check presence before any other work. A retry must get back the
	// original event exactly as stored, even if plan or scope state
	// changed between the first send and the retry.
	existing, err := s.findByIdempotencyKey(ctx, scope, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := s.clock.Now().UTC()
	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	event := &usagedomain.UsageEvent{
		ID:             s.genID.Generate(),
		AgencyID:       scope.AgencyID,
		OwnerID:        scope.OwnerID,
		Feature:        feature,
		Quantity:       req.Quantity,
		BillingMonth:   occurredAt.UTC().Format("2006-01"),
		IdempotencyKey: key,
		OccurredAt:     occurredAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Metadata != nil {
		event.Metadata = datatypes.JSONMap(req.Metadata)
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if result.Error != nil {
		return nil, result.Error
	}

	// Conflict on the unique (scope, idempotency_key) index: a
	// concurrent sender won the race, return the stored event.
	if result.RowsAffected == 0 {
		existing, err := s.findByIdempotencyKey(ctx, scope, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
		return nil, errors.New("usage_event_conflict_unresolved")
	}

	if s.metrics != nil {
		s.metrics.RecordUsageTracked(ctx, feature)
	}
	s.log.Debug("usage tracked",
		zap.String("scope", scope.Key()),
		zap.String("feature", feature),
		zap.Int64("quantity", req.Quantity),
	)
	return event, nil
}

func (s *Service) List(ctx context.Context, req usagedomain.ListUsageRequest) (usagedomain.ListUsageResponse, error) {
	if _, err := actorctx.Require(ctx, actorctx.CapBillingRead); err != nil {
		return usagedomain.ListUsageResponse{}, err
	}

	scope, err := scopectx.Parse(req.AgencyID, req.OwnerID)
	if err != nil {
		return usagedomain.ListUsageResponse{}, err
	}

	filter := &usagedomain.UsageEvent{
		AgencyID: scope.AgencyID,
		OwnerID:  scope.OwnerID,
		Feature:  strings.TrimSpace(req.Feature),
	}
	if month := strings.TrimSpace(req.BillingMonth); month != "" {
		if _, err := time.Parse("2006-01", month); err != nil {
			return usagedomain.ListUsageResponse{}, usagedomain.ErrInvalidBillingMonth
		}
		filter.BillingMonth = month
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.store.Find(ctx, filter,
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  int(pageSize),
		}),
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return usagedomain.ListUsageResponse{}, err
	}

	pageInfo, items := pagination.BuildCursorPageInfo(items, pageSize, func(event *usagedomain.UsageEvent) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        event.ID.String(),
			CreatedAt: event.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})

	events := make([]usagedomain.UsageEvent, 0, len(items))
	for _, item := range items {
		events = append(events, *item)
	}
	resp := usagedomain.ListUsageResponse{UsageEvents: events}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) Overage(ctx context.Context, req usagedomain.OverageRequest) (*usagedomain.OverageResponse, error) {
	if _, err := actorctx.Require(ctx, actorctx.CapBillingRead); err != nil {
		return nil, err
	}

	scope, err := scopectx.Parse(req.AgencyID, req.OwnerID)
	if err != nil {
		return nil, err
	}

	month := strings.TrimSpace(req.BillingMonth)
	if month == "" {
		month = s.clock.Now().UTC().Format("2006-01")
	} else if _, err := time.Parse("2006-01", month); err != nil {
		return nil, usagedomain.ErrInvalidBillingMonth
	}

	totals, err := s.TotalsForMonth(ctx, s.db, scope, month)
	if err != nil {
		return nil, err
	}

	plan := s.plans.Get().Resolve(req.Plan)
	resp := &usagedomain.OverageResponse{
		BillingMonth: month,
		Features:     make([]usagedomain.FeatureOverage, 0, len(totals)),
	}

	features := make([]string, 0, len(totals))
	for feature := range totals {
		features = append(features, feature)
	}
	sort.Strings(features)

	for _, feature := range features {
		used := totals[feature]
		// A feature without a plan entry is tracked but never billed.
		limit, _ := plan.Feature(feature)
		overage := used - limit.FreeLimit
		if overage < 0 {
			overage = 0
		}
		projected := overage * limit.UnitPrice
		resp.Features = append(resp.Features, usagedomain.FeatureOverage{
			Feature:         feature,
			Used:            used,
			FreeLimit:       limit.FreeLimit,
			UnitPrice:       limit.UnitPrice,
			Overage:         overage,
			ProjectedCharge: projected,
		})
		resp.TotalProjected += projected
	}
	return resp, nil
}

func (s *Service) TotalsForMonth(ctx context.Context, tx *gorm.DB, scope scopectx.Scope, month string) (map[string]int64, error) {
	if tx == nil {
		tx = s.db
	}

	where, args := scopeWhere(scope)
	var rows []struct {
		Feature string
		Total   int64
	}
	err := tx.WithContext(ctx).Raw(
		`SELECT feature, COALESCE(SUM(quantity), 0) AS total
		 FROM usage_events
		 WHERE billing_month = ? AND `+where+`
		 GROUP BY feature
		 ORDER BY feature ASC`,
		append([]any{month}, args...)...,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int64, len(rows))
	for _, row := range rows {
		totals[row.Feature] = row.Total
	}
	return totals, nil
}

func (s *Service) findByIdempotencyKey(ctx context.Context, scope scopectx.Scope, key string) (*usagedomain.UsageEvent, error) {
	where, args := scopeWhere(scope)
	var event usagedomain.UsageEvent
	err := s.db.WithContext(ctx).
		Where(where+" AND idempotency_key = ?", append(args, key)...).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// scopeWhere renders the scope columns with explicit IS NULL checks so
// the predicate is index-friendly on every supported dialect.
func scopeWhere(scope scopectx.Scope) (string, []any) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if scope.AgencyID != nil {
		clauses = append(clauses, "agency_id = ?")
		args = append(args, *scope.AgencyID)
	} else {
		clauses = append(clauses, "agency_id IS NULL")
	}
	if scope.OwnerID != nil {
		clauses = append(clauses, "owner_id = ?")
		args = append(args, *scope.OwnerID)
	} else {
		clauses = append(clauses, "owner_id IS NULL")
	}
	return strings.Join(clauses, " AND "), args
}
