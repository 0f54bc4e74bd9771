package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	billingcycledomain "github.com/rentfolio/rentfolio/internal/billingcycle/domain"
	chargedomain "github.com/rentfolio/rentfolio/internal/charge/domain"
	"github.com/rentfolio/rentfolio/internal/ratelimit"
	"github.com/rentfolio/rentfolio/internal/splitcalc"
	usagedomain "github.com/rentfolio/rentfolio/internal/usage/domain"
)

func TestGetCurrentBillingCycleBindsScope(t *testing.T) {
	cycleSvc := &fakeCycleService{
		currentFn: func(ctx context.Context, req billingcycledomain.CurrentCycleRequest) (*billingcycledomain.CycleResponse, error) {
			if req.AgencyID == nil || *req.AgencyID != "7" {
				t.Fatalf("expected agency_id 7 from query, got %+v", req)
			}
			return &billingcycledomain.CycleResponse{
				ID:           "101",
				AgencyID:     req.AgencyID,
				BillingMonth: "2026-04",
				Status:       billingcycledomain.StatusOpen,
			}, nil
		},
	}
	srv := &Server{cycleSvc: cycleSvc}
	engine := newHandlerTestEngine(t, srv)

	resp := doJSON(t, engine, http.MethodGet, "/api/v1/billing-cycles/current?agency_id=7", "", "billing:read")

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (body %s)", resp.Code, resp.Body.String())
	}
	var cycle billingcycledomain.CycleResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &cycle); err != nil {
		t.Fatalf("decode cycle: %v", err)
	}
	if cycle.ID != "101" || cycle.BillingMonth != "2026-04" {
		t.Fatalf("unexpected cycle: %+v", cycle)
	}
}

func TestCloseBillingCycleDoubleCloseConflict(t *testing.T) {
	cycleSvc := &fakeCycleService{
		closeFn: func(ctx context.Context, id string) (*billingcycledomain.CloseCycleResponse, error) {
			return nil, billingcycledomain.ErrNotOpen
		},
	}
	srv := &Server{cycleSvc: cycleSvc}
	engine := newHandlerTestEngine(t, srv)

	resp := doJSON(t, engine, http.MethodPost, "/api/v1/billing-cycles/101/close", "", "billing:close")

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	payload := decodeErrorEnvelope(t, resp)
	if payload.Message != "billing_cycle_not_open" {
		t.Fatalf("expected the violated rule in the message, got %q", payload.Message)
	}
}

func TestCloseBillingCycleInconsistencyBlocked(t *testing.T) {
	cycleSvc := &fakeCycleService{
		closeFn: func(ctx context.Context, id string) (*billingcycledomain.CloseCycleResponse, error) {
			return nil, &splitcalc.InconsistencyError{GrossAmount: 500, TotalDistributed: 250}
		},
	}
	srv := &Server{cycleSvc: cycleSvc}
	engine := newHandlerTestEngine(t, srv)

	resp := doJSON(t, engine, http.MethodPost, "/api/v1/billing-cycles/101/close", "", "billing:close")

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", resp.Code)
	}
	payload := decodeErrorEnvelope(t, resp)
	if payload.Type != "split_inconsistent" {
		t.Fatalf("expected type split_inconsistent, got %q", payload.Type)
	}
	if payload.Message != "split distributed 250 of gross 500" {
		t.Fatalf("expected both totals in the message, got %q", payload.Message)
	}
}

func TestListBillingCycleCharges(t *testing.T) {
	chargeSvc := &fakeChargeService{
		listByCycleFn: func(ctx context.Context, cycleID string) ([]chargedomain.ChargeResponse, error) {
			if cycleID != "101" {
				t.Fatalf("expected cycle id 101, got %q", cycleID)
			}
			return []chargedomain.ChargeResponse{
				{ID: "1", ChargeType: "OVERUSE", GrossAmount: 500},
				{ID: "2", ChargeType: "OPERATIONAL_FEE", GrossAmount: 250},
			}, nil
		},
	}
	srv := &Server{chargeSvc: chargeSvc}
	engine := newHandlerTestEngine(t, srv)

	resp := doJSON(t, engine, http.MethodGet, "/api/v1/billing-cycles/101/charges", "", "billing:read")

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var body struct {
		Charges []chargedomain.ChargeResponse `json:"charges"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode charges: %v", err)
	}
	if len(body.Charges) != 2 || body.Charges[0].GrossAmount != 500 {
		t.Fatalf("unexpected charges: %+v", body.Charges)
	}
}

func TestTrackUsageRejectsAmbiguousScope(t *testing.T) {
	srv := &Server{usageSvc: &fakeUsageService{}}
	engine := newHandlerTestEngine(t, srv)

	resp := doJSON(t, engine, http.MethodPost, "/api/v1/usage/track",
		`{"agency_id":"7","owner_id":"8","feature":"contract","quantity":1,"idempotency_key":"k1"}`, "usage:write")

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	payload := decodeErrorEnvelope(t, resp)
	if len(payload.Errors) != 1 || payload.Errors[0].Code != "invalid_scope" {
		t.Fatalf("unexpected errors: %+v", payload.Errors)
	}
}

func TestTrackUsageReturnsEvent(t *testing.T) {
	agencyID := snowflake.ID(7)
	occurredAt := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	usageSvc := &fakeUsageService{
		trackFn: func(ctx context.Context, req usagedomain.TrackRequest) (*usagedomain.UsageEvent, error) {
			if req.Feature != "contract" || req.Quantity != 3 {
				t.Fatalf("unexpected track request: %+v", req)
			}
			return &usagedomain.UsageEvent{
				ID:             snowflake.ID(900),
				AgencyID:       &agencyID,
				Feature:        req.Feature,
				Quantity:       req.Quantity,
				BillingMonth:   "2026-04",
				IdempotencyKey: req.IdempotencyKey,
				OccurredAt:     occurredAt,
			}, nil
		},
	}
	srv := &Server{usageSvc: usageSvc}
	engine := newHandlerTestEngine(t, srv)

	resp := doJSON(t, engine, http.MethodPost, "/api/v1/usage/track",
		`{"agency_id":"7","feature":"contract","quantity":3,"idempotency_key":"k1"}`, "usage:write")

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (body %s)", resp.Code, resp.Body.String())
	}
	var body trackUsageResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if body.ID != "900" || body.BillingMonth != "2026-04" || body.IdempotencyKey != "k1" {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.AgencyID == nil || *body.AgencyID != "7" {
		t.Fatalf("expected agency_id 7, got %+v", body.AgencyID)
	}
}

func TestTrackRateLimitDenialSetsHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/usage/track", nil)

	denyTrackRateLimit(c, "/api/v1/usage/track", "agency:7",
		&ratelimit.RateLimitResult{RetryAfter: 1500 * time.Millisecond}, nil)

	if got := recorder.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After rounded up to 2, got %q", got)
	}
	if got := recorder.Header().Get("X-Rate-Limited-Reason"); got != rateLimitReasonScopeRate {
		t.Fatalf("expected reason header, got %q", got)
	}

	last := c.Errors.Last()
	if last == nil || !errors.Is(last.Err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited recorded, got %v", last)
	}
	status, payload := mapError(last.Err)
	if status != http.StatusTooManyRequests || payload.Type != "rate_limited" {
		t.Fatalf("expected 429 rate_limited, got %d %q", status, payload.Type)
	}
}

func TestUpdateChargeStatusInvalidTransition(t *testing.T) {
	chargeSvc := &fakeChargeService{
		updateStatusFn: func(ctx context.Context, id string, req chargedomain.UpdateStatusRequest) (*chargedomain.ChargeResponse, error) {
			return nil, chargedomain.ErrInvalidTransition
		},
	}
	srv := &Server{chargeSvc: chargeSvc}
	engine := newHandlerTestEngine(t, srv)

	resp := doJSON(t, engine, http.MethodPost, "/api/v1/charges/9/status",
		`{"status":"PAID"}`, "charge:dispatch")

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	payload := decodeErrorEnvelope(t, resp)
	if payload.Message != "invalid_charge_transition" {
		t.Fatalf("expected transition rule in message, got %q", payload.Message)
	}
}

func TestDispatchChargeReturnsProcessing(t *testing.T) {
	gatewayRef := "gw-123"
	chargeSvc := &fakeChargeService{
		dispatchFn: func(ctx context.Context, id string) (*chargedomain.ChargeResponse, error) {
			if id != "9" {
				t.Fatalf("expected charge id 9, got %q", id)
			}
			return &chargedomain.ChargeResponse{
				ID:         "9",
				Status:     chargedomain.StatusProcessing,
				GatewayRef: &gatewayRef,
			}, nil
		},
	}
	srv := &Server{chargeSvc: chargeSvc}
	engine := newHandlerTestEngine(t, srv)

	resp := doJSON(t, engine, http.MethodPost, "/api/v1/charges/9/dispatch", "", "charge:dispatch")

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (body %s)", resp.Code, resp.Body.String())
	}
	var charge chargedomain.ChargeResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &charge); err != nil {
		t.Fatalf("decode charge: %v", err)
	}
	if charge.Status != chargedomain.StatusProcessing || charge.GatewayRef == nil || *charge.GatewayRef != "gw-123" {
		t.Fatalf("unexpected charge: %+v", charge)
	}
}

func TestDispatchAlreadyDispatchedConflict(t *testing.T) {
	chargeSvc := &fakeChargeService{
		dispatchFn: func(ctx context.Context, id string) (*chargedomain.ChargeResponse, error) {
			return nil, chargedomain.ErrAlreadyDispatched
		},
	}
	srv := &Server{chargeSvc: chargeSvc}
	engine := newHandlerTestEngine(t, srv)

	resp := doJSON(t, engine, http.MethodPost, "/api/v1/charges/9/dispatch", "", "charge:dispatch")

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}
