package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/rentfolio/rentfolio/internal/actorctx"
	auditrepository "github.com/rentfolio/rentfolio/internal/audit/repository"
	auditservice "github.com/rentfolio/rentfolio/internal/audit/service"
	"github.com/rentfolio/rentfolio/internal/charge/domain"
	"github.com/rentfolio/rentfolio/internal/charge/repository"
	"github.com/rentfolio/rentfolio/internal/clock"
	"github.com/rentfolio/rentfolio/internal/gateway"
	splitconfigdomain "github.com/rentfolio/rentfolio/internal/splitconfig/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupChargeService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
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

	// SQLite support hack: remove FOR UPDATE clauses
	stripLocks := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	db.Callback().Query().Before("gorm:query").Register("sqlite_strip_for_update", stripLocks)
	db.Callback().Row().Before("gorm:row").Register("sqlite_strip_for_update_row", stripLocks)

	prepareChargeSchema(t, db)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fakeClock,
		Repo:  auditrepository.Provide(),
	})

	svc := New(ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fakeClock,
		Repo:    repository.Provide(),
		Audit:   audit,
		Gateway: gateway.NewLogGateway(gateway.LogGatewayParam{Log: zap.NewNop()}),
	})
	return svc, db, fakeClock
}

func prepareChargeSchema(t *testing.T, db *gorm.DB) {
	t.Helper()
	statements := []string{
		`CREATE TABLE charges (
			id BIGINT PRIMARY KEY,
			token TEXT NOT NULL UNIQUE,
			agency_id BIGINT,
			owner_id BIGINT,
			contract_id BIGINT,
			property_id BIGINT,
			billing_cycle_id BIGINT,
			configuration_id BIGINT,
			charge_type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			billing_month VARCHAR(7) NOT NULL,
			gross_amount BIGINT NOT NULL,
			platform_fee BIGINT NOT NULL DEFAULT 0,
			net_amount BIGINT NOT NULL,
			split_breakdown TEXT,
			status TEXT NOT NULL DEFAULT 'PENDING',
			gateway_ref TEXT,
			due_date DATETIME,
			paid_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE audit_log_entries (
			id BIGINT PRIMARY KEY,
			configuration_id BIGINT,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL DEFAULT '',
			"before" TEXT,
			"after" TEXT,
			performed_by TEXT NOT NULL DEFAULT '',
			occurred_at DATETIME NOT NULL,
			hash TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
}

func billingContext() context.Context {
	return actorctx.WithActor(context.Background(), actorctx.Actor{
		ID:           "billing@rentfolio",
		Kind:         actorctx.KindService,
		Capabilities: []string{actorctx.CapAll},
	})
}

func createPendingCharge(t *testing.T, svc domain.Service, db *gorm.DB, mutate func(*domain.CreateRequest)) *domain.Charge {
	t.Helper()
	agencyID := snowflake.ID(42)
	req := domain.CreateRequest{
		AgencyID:       &agencyID,
		ChargeType:     splitconfigdomain.ChargeRent,
		Description:    "march rent",
		BillingMonth:   "2026-03",
		GrossAmount:    100000,
		PlatformFee:    10000,
		SplitBreakdown: datatypes.JSON(`[{"receiver_type":"PLATFORM","amount":10000},{"receiver_type":"OWNER","amount":90000}]`),
	}
	if mutate != nil {
		mutate(&req)
	}
	charge, err := svc.CreateInTx(billingContext(), db, req)
	if err != nil {
		t.Fatalf("create charge: %v", err)
	}
	return charge
}

func countChargeAudits(t *testing.T, db *gorm.DB, action string) int {
	t.Helper()
	var n int64
	err := db.Raw(
		`SELECT COUNT(*) FROM audit_log_entries WHERE action = ? AND entity_type = 'charge'`,
		action,
	).Scan(&n).Error
	if err != nil {
		t.Fatalf("count audit rows: %v", err)
	}
	return int(n)
}

func TestCreateChargeWritesAuditTrail(t *testing.T) {
	svc, db, _ := setupChargeService(t)

	charge := createPendingCharge(t, svc, db, nil)

	if charge.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", charge.Status)
	}
	if charge.Token == "" {
		t.Fatal("expected a charge token")
	}
	if charge.NetAmount != 90000 {
		t.Fatalf("expected net 90000, got %d", charge.NetAmount)
	}
	if charge.Dispatched() {
		t.Fatal("fresh charge must not carry a gateway ref")
	}
	if got := countChargeAudits(t, db, "CREATE"); got != 1 {
		t.Fatalf("expected 1 CREATE audit entry, got %d", got)
	}

	fetched, err := svc.Get(billingContext(), charge.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if fetched.ID != charge.ID.String() {
		t.Fatalf("token lookup returned %s, want %s", fetched.ID, charge.ID)
	}
}

func TestCreateChargeValidatesInput(t *testing.T) {
	svc, db, _ := setupChargeService(t)
	ctx := billingContext()

	_, err := svc.CreateInTx(ctx, db, domain.CreateRequest{
		ChargeType:  splitconfigdomain.ChargeRent,
		GrossAmount: -1,
	})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative gross, got %v", err)
	}

	_, err = svc.CreateInTx(ctx, db, domain.CreateRequest{
		ChargeType:  splitconfigdomain.ChargeRent,
		GrossAmount: 1000,
		PlatformFee: 2000,
	})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for fee above gross, got %v", err)
	}

	_, err = svc.CreateInTx(ctx, db, domain.CreateRequest{
		ChargeType:  "SUBSCRIPTION",
		GrossAmount: 1000,
	})
	if !errors.Is(err, domain.ErrInvalidChargeType) {
		t.Fatalf("expected ErrInvalidChargeType, got %v", err)
	}
}

func TestDispatchAttachesGatewayRef(t *testing.T) {
	svc, db, _ := setupChargeService(t)
	ctx := billingContext()

	charge := createPendingCharge(t, svc, db, nil)

	dispatched, err := svc.Dispatch(ctx, charge.ID.String())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if dispatched.Status != domain.StatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", dispatched.Status)
	}
	if dispatched.GatewayRef == nil || !strings.HasPrefix(*dispatched.GatewayRef, "log-") {
		t.Fatalf("expected a log gateway ref, got %v", dispatched.GatewayRef)
	}
	if got := countChargeAudits(t, db, "STATUS_CHANGE"); got != 1 {
		t.Fatalf("expected 1 STATUS_CHANGE audit entry, got %d", got)
	}

	_, err = svc.Dispatch(ctx, charge.ID.String())
	if !errors.Is(err, domain.ErrAlreadyDispatched) {
		t.Fatalf("expected ErrAlreadyDispatched on second dispatch, got %v", err)
	}
}

func TestDispatchRequiresCapability(t *testing.T) {
	svc, db, _ := setupChargeService(t)

	charge := createPendingCharge(t, svc, db, nil)

	viewer := actorctx.WithActor(context.Background(), actorctx.Actor{
		ID:           "viewer@rentfolio",
		Kind:         actorctx.KindUser,
		Capabilities: []string{actorctx.CapBillingRead},
	})
	if _, err := svc.Dispatch(viewer, charge.ID.String()); !errors.Is(err, actorctx.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Dispatch(context.Background(), charge.ID.String()); !errors.Is(err, actorctx.ErrInvalidActor) {
		t.Fatalf("expected ErrInvalidActor, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	svc, db, fakeClock := setupChargeService(t)
	ctx := billingContext()

	charge := createPendingCharge(t, svc, db, nil)
	id := charge.ID.String()

	// A provider-side dispatch recorded through the status endpoint.
	ref := "prov-123"
	processing, err := svc.UpdateStatus(ctx, id, domain.UpdateStatusRequest{Status: "PROCESSING", GatewayRef: &ref})
	if err != nil {
		t.Fatalf("move to PROCESSING: %v", err)
	}
	if processing.GatewayRef == nil || *processing.GatewayRef != "prov-123" {
		t.Fatalf("expected gateway ref prov-123, got %v", processing.GatewayRef)
	}

	fakeClock.Advance(48 * time.Hour)
	paid, err := svc.UpdateStatus(ctx, id, domain.UpdateStatusRequest{Status: "PAID", GatewayRef: &ref})
	if err != nil {
		t.Fatalf("move to PAID: %v", err)
	}
	if paid.PaidAt == nil || !paid.PaidAt.Equal(fakeClock.Now().UTC()) {
		t.Fatalf("expected paid_at %s, got %v", fakeClock.Now().UTC(), paid.PaidAt)
	}

	refunded, err := svc.UpdateStatus(ctx, id, domain.UpdateStatusRequest{Status: "REFUNDED"})
	if err != nil {
		t.Fatalf("move to REFUNDED: %v", err)
	}
	if refunded.Status != domain.StatusRefunded {
		t.Fatalf("expected REFUNDED, got %s", refunded.Status)
	}

	if _, err := svc.UpdateStatus(ctx, id, domain.UpdateStatusRequest{Status: "PAID"}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from REFUNDED, got %v", err)
	}
}

func TestStatusRejectsIllegalMoves(t *testing.T) {
	svc, db, _ := setupChargeService(t)
	ctx := billingContext()

	charge := createPendingCharge(t, svc, db, nil)
	id := charge.ID.String()

	if _, err := svc.UpdateStatus(ctx, id, domain.UpdateStatusRequest{Status: "PAID"}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for PENDING to PAID, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, id, domain.UpdateStatusRequest{Status: "REFUNDED"}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for PENDING to REFUNDED, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, id, domain.UpdateStatusRequest{Status: "SETTLED"}); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}

	if _, err := svc.Dispatch(ctx, id); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	other := "prov-999"
	_, err := svc.UpdateStatus(ctx, id, domain.UpdateStatusRequest{Status: "PAID", GatewayRef: &other})
	if !errors.Is(err, domain.ErrAlreadyDispatched) {
		t.Fatalf("expected ErrAlreadyDispatched when re-pointing the gateway ref, got %v", err)
	}
}

func TestDispatchPendingClaimsBatch(t *testing.T) {
	svc, db, _ := setupChargeService(t)
	ctx := billingContext()

	for i := 0; i < 3; i++ {
		createPendingCharge(t, svc, db, nil)
	}

	count, err := svc.DispatchPending(ctx, 2)
	if err != nil {
		t.Fatalf("dispatch pending: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 dispatched, got %d", count)
	}

	count, err = svc.DispatchPending(ctx, 10)
	if err != nil {
		t.Fatalf("dispatch remaining: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 dispatched on the second pass, got %d", count)
	}

	var pending int64
	if err := db.Raw(`SELECT COUNT(*) FROM charges WHERE status = 'PENDING'`).Scan(&pending).Error; err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if pending != 0 {
		t.Fatalf("expected no PENDING charges left, got %d", pending)
	}
}

func TestMarkOverdueMovesOnlyPastDue(t *testing.T) {
	svc, db, fakeClock := setupChargeService(t)
	ctx := billingContext()

	pastDue := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	futureDue := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)

	latePending := createPendingCharge(t, svc, db, func(req *domain.CreateRequest) {
		req.DueDate = &pastDue
	})
	lateProcessing := createPendingCharge(t, svc, db, func(req *domain.CreateRequest) {
		req.DueDate = &pastDue
	})
	onTime := createPendingCharge(t, svc, db, func(req *domain.CreateRequest) {
		req.DueDate = &futureDue
	})
	settled := createPendingCharge(t, svc, db, func(req *domain.CreateRequest) {
		req.DueDate = &pastDue
	})

	if _, err := svc.Dispatch(ctx, lateProcessing.ID.String()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if _, err := svc.Dispatch(ctx, settled.ID.String()); err != nil {
		t.Fatalf("dispatch settled: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, settled.ID.String(), domain.UpdateStatusRequest{Status: "PAID"}); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	fakeClock.Advance(24 * time.Hour)
	count, err := svc.MarkOverdue(ctx, 10)
	if err != nil {
		t.Fatalf("mark overdue: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 charges marked overdue, got %d", count)
	}

	for _, tc := range []struct {
		id   snowflake.ID
		want domain.Status
	}{
		{latePending.ID, domain.StatusOverdue},
		{lateProcessing.ID, domain.StatusOverdue},
		{onTime.ID, domain.StatusPending},
		{settled.ID, domain.StatusPaid},
	} {
		got, err := svc.Get(ctx, tc.id.String())
		if err != nil {
			t.Fatalf("get %s: %v", tc.id, err)
		}
		if got.Status != tc.want {
			t.Fatalf("charge %s: expected %s, got %s", tc.id, tc.want, got.Status)
		}
	}
}

func TestListFiltersAndPaginates(t *testing.T) {
	svc, db, _ := setupChargeService(t)
	ctx := billingContext()

	ownerID := snowflake.ID(77)
	for i := 0; i < 3; i++ {
		createPendingCharge(t, svc, db, nil)
	}
	createPendingCharge(t, svc, db, func(req *domain.CreateRequest) {
		req.AgencyID = nil
		req.OwnerID = &ownerID
		req.ChargeType = splitconfigdomain.ChargeOveruse
		req.BillingMonth = "2026-02"
	})

	owner := "77"
	byOwner, err := svc.List(ctx, domain.ListChargesRequest{OwnerID: &owner})
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(byOwner.Charges) != 1 || byOwner.Charges[0].ChargeType != splitconfigdomain.ChargeOveruse {
		t.Fatalf("expected the single owner charge, got %+v", byOwner.Charges)
	}

	byMonth, err := svc.List(ctx, domain.ListChargesRequest{BillingMonth: "2026-03"})
	if err != nil {
		t.Fatalf("list by month: %v", err)
	}
	if len(byMonth.Charges) != 3 {
		t.Fatalf("expected 3 march charges, got %d", len(byMonth.Charges))
	}

	firstPage, err := svc.List(ctx, domain.ListChargesRequest{PageSize: 2})
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if len(firstPage.Charges) != 2 || !firstPage.HasMore || firstPage.NextCursor == "" {
		t.Fatalf("expected a full first page with a cursor, got %+v", firstPage)
	}
	secondPage, err := svc.List(ctx, domain.ListChargesRequest{PageSize: 2, Cursor: firstPage.NextCursor})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(secondPage.Charges) != 2 || secondPage.HasMore {
		t.Fatalf("expected the final page, got %+v", secondPage)
	}

	if _, err := svc.List(ctx, domain.ListChargesRequest{BillingMonth: "march"}); !errors.Is(err, domain.ErrInvalidBillingMonth) {
		t.Fatalf("expected ErrInvalidBillingMonth, got %v", err)
	}
	if _, err := svc.List(ctx, domain.ListChargesRequest{Status: "SETTLED"}); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestListByCycle(t *testing.T) {
	svc, db, _ := setupChargeService(t)
	ctx := billingContext()

	cycleID := snowflake.ID(9001)
	for i := 0; i < 2; i++ {
		createPendingCharge(t, svc, db, func(req *domain.CreateRequest) {
			req.BillingCycleID = &cycleID
		})
	}
	createPendingCharge(t, svc, db, nil)

	charges, err := svc.ListByCycle(ctx, cycleID.String())
	if err != nil {
		t.Fatalf("list by cycle: %v", err)
	}
	if len(charges) != 2 {
		t.Fatalf("expected 2 cycle charges, got %d", len(charges))
	}
	for _, c := range charges {
		if c.BillingCycleID == nil || *c.BillingCycleID != cycleID.String() {
			t.Fatalf("charge %s not bound to cycle %s", c.ID, cycleID)
		}
	}

	if _, err := svc.Get(ctx, snowflake.ID(123456).String()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
