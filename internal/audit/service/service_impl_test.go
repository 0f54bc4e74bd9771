package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/rentfolio/rentfolio/internal/actorctx"
	auditdomain "github.com/rentfolio/rentfolio/internal/audit/domain"
	"github.com/rentfolio/rentfolio/internal/audit/repository"
	"github.com/rentfolio/rentfolio/internal/clock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupAuditService(t *testing.T) (auditdomain.Service, *gorm.DB, *snowflake.Node, *clock.FakeClock) {
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

	if err := db.Exec(`CREATE TABLE audit_log_entries (
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
	)`).Error; err != nil {
		t.Fatalf("create audit_log_entries: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fakeClock,
		Repo:  repository.Provide(),
	})
	return svc, db, node, fakeClock
}

func TestRecordComputesHash(t *testing.T) {
	svc, db, node, _ := setupAuditService(t)

	configID := node.Generate()
	ctx := actorctx.WithActor(context.Background(), actorctx.Actor{
		ID:           "ops@rentfolio",
		Kind:         actorctx.KindUser,
		Capabilities: []string{actorctx.CapAll},
	})

	err := svc.Record(ctx, db, auditdomain.RecordRequest{
		ConfigurationID: &configID,
		Action:          auditdomain.ActionCreate,
		EntityType:      auditdomain.EntityConfiguration,
		EntityID:        configID.String(),
		After:           map[string]any{"name": "default split", "version": 1},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	var stored auditdomain.Entry
	if err := db.Raw(`SELECT * FROM audit_log_entries WHERE configuration_id = ?`, configID).Scan(&stored).Error; err != nil {
		t.Fatalf("read back: %v", err)
	}
	if stored.ID == 0 {
		t.Fatal("expected entry to be written")
	}
	if stored.PerformedBy != "ops@rentfolio" {
		t.Fatalf("expected actor from context, got %q", stored.PerformedBy)
	}
	if got := auditdomain.ComputeHash(&stored); got != stored.Hash {
		t.Fatalf("stored hash does not recompute: stored=%s recomputed=%s", stored.Hash, got)
	}
}

func TestSnapshotBytesSurviveStorage(t *testing.T) {
	svc, db, node, _ := setupAuditService(t)

	configID := node.Generate()
	// Keys chosen so that any store-side re-serialization (key reorder,
	// inserted whitespace) would change the bytes and break the hash.
	err := svc.Record(context.Background(), db, auditdomain.RecordRequest{
		ConfigurationID: &configID,
		Action:          auditdomain.ActionUpdate,
		EntityType:      auditdomain.EntityRule,
		EntityID:        node.Generate().String(),
		Before:          map[string]any{"rate": 1, "id": 2},
		After:           map[string]any{"rate": 3, "id": 2, "charge_type": "RENT"},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	var stored auditdomain.Entry
	if err := db.Raw(`SELECT * FROM audit_log_entries WHERE configuration_id = ?`, configID).Scan(&stored).Error; err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got := string(stored.Before); got != `{"id":2,"rate":1}` {
		t.Fatalf("before snapshot re-serialized by storage: %s", got)
	}
	if got := string(stored.After); got != `{"charge_type":"RENT","id":2,"rate":3}` {
		t.Fatalf("after snapshot re-serialized by storage: %s", got)
	}
	if got := auditdomain.ComputeHash(&stored); got != stored.Hash {
		t.Fatalf("hash does not recompute from the stored row: stored=%s recomputed=%s", stored.Hash, got)
	}

	report, err := svc.Verify(context.Background(), auditdomain.VerifyRequest{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.Checked != 1 || len(report.Mismatched) != 0 {
		t.Fatalf("expected a clean verify over the re-read entry, got checked=%d mismatched=%v", report.Checked, report.Mismatched)
	}
}

func TestRecordMasksDocuments(t *testing.T) {
	svc, db, node, _ := setupAuditService(t)

	configID := node.Generate()
	err := svc.Record(context.Background(), db, auditdomain.RecordRequest{
		ConfigurationID: &configID,
		Action:          auditdomain.ActionUpdate,
		EntityType:      auditdomain.EntityReceiver,
		EntityID:        node.Generate().String(),
		After:           map[string]any{"name": "Owner One", "document": "12345678901"},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	var stored auditdomain.Entry
	if err := db.Raw(`SELECT * FROM audit_log_entries WHERE configuration_id = ?`, configID).Scan(&stored).Error; err != nil {
		t.Fatalf("read back: %v", err)
	}
	after := string(stored.After)
	if strings.Contains(after, "12345678901") {
		t.Fatalf("document leaked into audit snapshot: %s", after)
	}
	if !strings.Contains(after, "****8901") {
		t.Fatalf("expected masked document suffix, got %s", after)
	}
	if !strings.Contains(after, "Owner One") {
		t.Fatalf("expected non-sensitive fields untouched, got %s", after)
	}
}

func TestRecordRequiresAction(t *testing.T) {
	svc, db, _, _ := setupAuditService(t)

	err := svc.Record(context.Background(), db, auditdomain.RecordRequest{
		EntityType: auditdomain.EntityConfiguration,
	})
	if err != auditdomain.ErrInvalidAction {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	svc, db, node, _ := setupAuditService(t)

	configID := node.Generate()
	for _, action := range []string{auditdomain.ActionCreate, auditdomain.ActionValidate} {
		if err := svc.Record(context.Background(), db, auditdomain.RecordRequest{
			ConfigurationID: &configID,
			Action:          action,
			EntityType:      auditdomain.EntityConfiguration,
			EntityID:        configID.String(),
		}); err != nil {
			t.Fatalf("record %s: %v", action, err)
		}
	}

	report, err := svc.Verify(context.Background(), auditdomain.VerifyRequest{})
	if err != nil {
		t.Fatalf("verify clean: %v", err)
	}
	if report.Checked != 2 || len(report.Mismatched) != 0 {
		t.Fatalf("expected 2 clean entries, got checked=%d mismatched=%v", report.Checked, report.Mismatched)
	}

	var tamperedID int64
	if err := db.Raw(`SELECT id FROM audit_log_entries WHERE action = ?`, auditdomain.ActionValidate).Scan(&tamperedID).Error; err != nil {
		t.Fatalf("pick entry: %v", err)
	}
	if err := db.Exec(`UPDATE audit_log_entries SET performed_by = 'intruder' WHERE id = ?`, tamperedID).Error; err != nil {
		t.Fatalf("tamper: %v", err)
	}

	report, err = svc.Verify(context.Background(), auditdomain.VerifyRequest{})
	if err != nil {
		t.Fatalf("verify tampered: %v", err)
	}
	if report.Checked != 2 {
		t.Fatalf("expected 2 checked, got %d", report.Checked)
	}
	if len(report.Mismatched) != 1 || report.Mismatched[0] != snowflake.ID(tamperedID).String() {
		t.Fatalf("expected tampered entry %d reported, got %v", tamperedID, report.Mismatched)
	}
}

func TestListPagination(t *testing.T) {
	svc, db, node, fakeClock := setupAuditService(t)

	configID := node.Generate()
	actions := []string{auditdomain.ActionCreate, auditdomain.ActionValidate, auditdomain.ActionActivate}
	for _, action := range actions {
		// Cursor tokens carry second precision, so space the entries out.
		fakeClock.Advance(time.Second)
		if err := svc.Record(context.Background(), db, auditdomain.RecordRequest{
			ConfigurationID: &configID,
			Action:          action,
			EntityType:      auditdomain.EntityConfiguration,
			EntityID:        configID.String(),
		}); err != nil {
			t.Fatalf("record %s: %v", action, err)
		}
	}

	req := auditdomain.ListEntriesRequest{ConfigurationID: configID.String()}
	req.PageSize = 2
	first, err := svc.List(context.Background(), req)
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if len(first.Entries) != 2 || !first.HasMore {
		t.Fatalf("expected 2 entries with more, got %d has_more=%v", len(first.Entries), first.HasMore)
	}

	req.PageToken = first.NextPageToken
	second, err := svc.List(context.Background(), req)
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(second.Entries) != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", len(second.Entries))
	}
	if second.Entries[0].ID == first.Entries[0].ID || second.Entries[0].ID == first.Entries[1].ID {
		t.Fatal("second page repeated an entry from the first page")
	}
}
