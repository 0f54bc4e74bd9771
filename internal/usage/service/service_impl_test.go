package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/rentfolio/rentfolio/internal/actorctx"
	"github.com/rentfolio/rentfolio/internal/clock"
	"github.com/rentfolio/rentfolio/internal/config"
	"github.com/rentfolio/rentfolio/internal/scopectx"
	usagedomain "github.com/rentfolio/rentfolio/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupUsageService(t *testing.T) (usagedomain.Service, *gorm.DB, *snowflake.Node, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	statements := []string{
		`CREATE TABLE usage_events (
			id BIGINT PRIMARY KEY,
			agency_id BIGINT,
			owner_id BIGINT,
			feature TEXT NOT NULL,
			quantity BIGINT NOT NULL,
			billing_month VARCHAR(7) NOT NULL,
			idempotency_key TEXT NOT NULL,
			occurred_at DATETIME NOT NULL,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_usage_events_scope_key
			ON usage_events (COALESCE(agency_id, 0), COALESCE(owner_id, 0), idempotency_key)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	plans := config.NewStaticPlanConfigHolder(config.PlanConfig{
		DefaultPlan: "standard",
		OperationalFee: config.OperationalFeeConfig{
			BoletoMarkup:  250,
			BoletoFeature: "boleto_invoice",
		},
		Plans: map[string]config.Plan{
			"standard": {
				Features: map[string]config.FeatureLimit{
					"contract": {FreeLimit: 2, UnitPrice: 500},
					"sms":      {FreeLimit: 100, UnitPrice: 25},
				},
			},
		},
	})

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fakeClock,
		Plans: plans,
	})
	return svc, db, node, fakeClock
}

func trackerContext() context.Context {
	return actorctx.WithActor(context.Background(), actorctx.Actor{
		ID:           "metering@rentfolio",
		Kind:         actorctx.KindService,
		Capabilities: []string{actorctx.CapAll},
	})
}

func countUsageEvents(t *testing.T, db *gorm.DB) int {
	t.Helper()
	var count int
	if err := db.Raw(`SELECT COUNT(1) FROM usage_events`).Scan(&count).Error; err != nil {
		t.Fatalf("count usage events: %v", err)
	}
	return count
}

func TestTrackIsIdempotent(t *testing.T) {
	svc, db, node, _ := setupUsageService(t)
	ctx := trackerContext()
	agencyID := node.Generate().String()

	first, err := svc.Track(ctx, usagedomain.TrackRequest{
		AgencyID:       &agencyID,
		Feature:        "contract",
		Quantity:       1,
		IdempotencyKey: "evt-001",
	})
	if err != nil {
		t.Fatalf("track: %v", err)
	}

	second, err := svc.Track(ctx, usagedomain.TrackRequest{
		AgencyID:       &agencyID,
		Feature:        "contract",
		Quantity:       1,
		IdempotencyKey: "evt-001",
	})
	if err != nil {
		t.Fatalf("track retry: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected retry to return the stored event, got %s and %s", first.ID, second.ID)
	}
	if got := countUsageEvents(t, db); got != 1 {
		t.Fatalf("expected a single stored event, got %d", got)
	}

	// The same key under a different scope is a different event.
	ownerID := node.Generate().String()
	third, err := svc.Track(ctx, usagedomain.TrackRequest{
		OwnerID:        &ownerID,
		Feature:        "contract",
		Quantity:       1,
		IdempotencyKey: "evt-001",
	})
	if err != nil {
		t.Fatalf("track other scope: %v", err)
	}
	if third.ID == first.ID {
		t.Fatal("expected a distinct event for a distinct scope")
	}
	if got := countUsageEvents(t, db); got != 2 {
		t.Fatalf("expected two stored events, got %d", got)
	}
}

func TestTrackValidatesInput(t *testing.T) {
	svc, _, node, _ := setupUsageService(t)
	ctx := trackerContext()
	agencyID := node.Generate().String()
	ownerID := node.Generate().String()

	_, err := svc.Track(ctx, usagedomain.TrackRequest{
		AgencyID:       &agencyID,
		Quantity:       1,
		IdempotencyKey: "evt-1",
	})
	if !errors.Is(err, usagedomain.ErrInvalidFeature) {
		t.Fatalf("expected ErrInvalidFeature, got %v", err)
	}

	_, err = svc.Track(ctx, usagedomain.TrackRequest{
		AgencyID:       &agencyID,
		Feature:        "contract",
		IdempotencyKey: "evt-2",
	})
	if !errors.Is(err, usagedomain.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}

	_, err = svc.Track(ctx, usagedomain.TrackRequest{
		AgencyID: &agencyID,
		Feature:  "contract",
		Quantity: 1,
	})
	if !errors.Is(err, usagedomain.ErrInvalidIdempotencyKey) {
		t.Fatalf("expected ErrInvalidIdempotencyKey, got %v", err)
	}

	_, err = svc.Track(ctx, usagedomain.TrackRequest{
		AgencyID:       &agencyID,
		OwnerID:        &ownerID,
		Feature:        "contract",
		Quantity:       1,
		IdempotencyKey: "evt-3",
	})
	if !errors.Is(err, scopectx.ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope for double scope, got %v", err)
	}

	_, err = svc.Track(ctx, usagedomain.TrackRequest{
		Feature:        "contract",
		Quantity:       1,
		IdempotencyKey: "evt-4",
	})
	if !errors.Is(err, scopectx.ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope for missing scope, got %v", err)
	}
}

func TestTrackRequiresCapability(t *testing.T) {
	svc, _, node, _ := setupUsageService(t)
	agencyID := node.Generate().String()

	reader := actorctx.WithActor(context.Background(), actorctx.Actor{
		ID:           "viewer",
		Kind:         actorctx.KindUser,
		Capabilities: []string{actorctx.CapBillingRead},
	})
	_, err := svc.Track(reader, usagedomain.TrackRequest{
		AgencyID:       &agencyID,
		Feature:        "contract",
		Quantity:       1,
		IdempotencyKey: "evt-1",
	})
	if !errors.Is(err, actorctx.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestOverageProjectsCharges(t *testing.T) {
	svc, _, node, _ := setupUsageService(t)
	ctx := trackerContext()
	agencyID := node.Generate().String()

	for i, key := range []string{"c-1", "c-2", "c-3"} {
		if _, err := svc.Track(ctx, usagedomain.TrackRequest{
			AgencyID:       &agencyID,
			Feature:        "contract",
			Quantity:       1,
			IdempotencyKey: key,
		}); err != nil {
			t.Fatalf("track contract %d: %v", i, err)
		}
	}
	if _, err := svc.Track(ctx, usagedomain.TrackRequest{
		AgencyID:       &agencyID,
		Feature:        "sms",
		Quantity:       5,
		IdempotencyKey: "s-1",
	}); err != nil {
		t.Fatalf("track sms: %v", err)
	}

	resp, err := svc.Overage(ctx, usagedomain.OverageRequest{AgencyID: &agencyID})
	if err != nil {
		t.Fatalf("overage: %v", err)
	}
	if resp.BillingMonth != "2026-03" {
		t.Fatalf("expected current month 2026-03, got %s", resp.BillingMonth)
	}
	if len(resp.Features) != 2 {
		t.Fatalf("expected 2 feature rows, got %d", len(resp.Features))
	}

	contract := resp.Features[0]
	if contract.Feature != "contract" || contract.Used != 3 || contract.Overage != 1 || contract.ProjectedCharge != 500 {
		t.Fatalf("unexpected contract overage: %+v", contract)
	}
	sms := resp.Features[1]
	if sms.Feature != "sms" || sms.Used != 5 || sms.Overage != 0 || sms.ProjectedCharge != 0 {
		t.Fatalf("unexpected sms overage: %+v", sms)
	}
	if resp.TotalProjected != 500 {
		t.Fatalf("expected total 500, got %d", resp.TotalProjected)
	}
}

func TestOverageLeavesUnknownFeaturesUnbilled(t *testing.T) {
	svc, _, node, _ := setupUsageService(t)
	ctx := trackerContext()
	ownerID := node.Generate().String()

	if _, err := svc.Track(ctx, usagedomain.TrackRequest{
		OwnerID:        &ownerID,
		Feature:        "webhook",
		Quantity:       10,
		IdempotencyKey: "w-1",
	}); err != nil {
		t.Fatalf("track: %v", err)
	}

	resp, err := svc.Overage(ctx, usagedomain.OverageRequest{OwnerID: &ownerID})
	if err != nil {
		t.Fatalf("overage: %v", err)
	}
	if len(resp.Features) != 1 {
		t.Fatalf("expected 1 feature row, got %d", len(resp.Features))
	}
	row := resp.Features[0]
	if row.Used != 10 || row.Overage != 10 || row.ProjectedCharge != 0 {
		t.Fatalf("expected unknown feature tracked but unbilled, got %+v", row)
	}
	if resp.TotalProjected != 0 {
		t.Fatalf("expected nothing projected, got %d", resp.TotalProjected)
	}
}

func TestTotalsForMonthIsolatesMonths(t *testing.T) {
	svc, db, node, _ := setupUsageService(t)
	ctx := trackerContext()
	agencyID := node.Generate().String()

	if _, err := svc.Track(ctx, usagedomain.TrackRequest{
		AgencyID:       &agencyID,
		Feature:        "contract",
		Quantity:       2,
		IdempotencyKey: "march",
		OccurredAt:     time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("track march: %v", err)
	}
	if _, err := svc.Track(ctx, usagedomain.TrackRequest{
		AgencyID:       &agencyID,
		Feature:        "contract",
		Quantity:       7,
		IdempotencyKey: "april",
		OccurredAt:     time.Date(2026, 4, 5, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("track april: %v", err)
	}

	id, _ := scopectx.ParseID(agencyID)
	scope := scopectx.Scope{AgencyID: &id}

	totals, err := svc.TotalsForMonth(ctx, db, scope, "2026-03")
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals["contract"] != 2 {
		t.Fatalf("expected march total 2, got %d", totals["contract"])
	}

	totals, err = svc.TotalsForMonth(ctx, db, scope, "2026-04")
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals["contract"] != 7 {
		t.Fatalf("expected april total 7, got %d", totals["contract"])
	}
}

func TestListFiltersByScopeAndFeature(t *testing.T) {
	svc, _, node, _ := setupUsageService(t)
	ctx := trackerContext()
	agencyID := node.Generate().String()
	ownerID := node.Generate().String()

	seed := []usagedomain.TrackRequest{
		{AgencyID: &agencyID, Feature: "contract", Quantity: 1, IdempotencyKey: "a-1"},
		{AgencyID: &agencyID, Feature: "sms", Quantity: 1, IdempotencyKey: "a-2"},
		{OwnerID: &ownerID, Feature: "contract", Quantity: 1, IdempotencyKey: "o-1"},
	}
	for _, req := range seed {
		if _, err := svc.Track(ctx, req); err != nil {
			t.Fatalf("track %s: %v", req.IdempotencyKey, err)
		}
	}

	resp, err := svc.List(ctx, usagedomain.ListUsageRequest{AgencyID: &agencyID})
	if err != nil {
		t.Fatalf("list agency: %v", err)
	}
	if len(resp.UsageEvents) != 2 {
		t.Fatalf("expected 2 agency events, got %d", len(resp.UsageEvents))
	}

	resp, err = svc.List(ctx, usagedomain.ListUsageRequest{AgencyID: &agencyID, Feature: "sms"})
	if err != nil {
		t.Fatalf("list sms: %v", err)
	}
	if len(resp.UsageEvents) != 1 || resp.UsageEvents[0].Feature != "sms" {
		t.Fatalf("expected the sms event, got %+v", resp.UsageEvents)
	}
}
