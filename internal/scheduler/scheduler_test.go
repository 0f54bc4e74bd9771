package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rentfolio/rentfolio/internal/actorctx"
	billingcycledomain "github.com/rentfolio/rentfolio/internal/billingcycle/domain"
	chargedomain "github.com/rentfolio/rentfolio/internal/charge/domain"
	"github.com/rentfolio/rentfolio/internal/clock"
	obsmetrics "github.com/rentfolio/rentfolio/internal/observability/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubCycleService struct {
	closeDueLimits []int
	closeDueCount  int
	closeDueErr    error
	lastCtx        context.Context
}

func (s *stubCycleService) GetOrCreateCurrent(context.Context, billingcycledomain.CurrentCycleRequest) (*billingcycledomain.CycleResponse, error) {
	return nil, nil
}

func (s *stubCycleService) Get(context.Context, string) (*billingcycledomain.CycleResponse, error) {
	return nil, nil
}

func (s *stubCycleService) List(context.Context, billingcycledomain.ListCyclesRequest) (*billingcycledomain.ListCyclesResponse, error) {
	return nil, nil
}

func (s *stubCycleService) Close(context.Context, string) (*billingcycledomain.CloseCycleResponse, error) {
	return nil, nil
}

func (s *stubCycleService) CloseDue(ctx context.Context, limit int) (int, error) {
	s.lastCtx = ctx
	s.closeDueLimits = append(s.closeDueLimits, limit)
	return s.closeDueCount, s.closeDueErr
}

type stubChargeService struct {
	dispatchCalls int
	overdueCalls  int
	dispatchCount int
	overdueCount  int
}

func (s *stubChargeService) CreateInTx(context.Context, *gorm.DB, chargedomain.CreateRequest) (*chargedomain.Charge, error) {
	return nil, nil
}

func (s *stubChargeService) List(context.Context, chargedomain.ListChargesRequest) (*chargedomain.ListChargesResponse, error) {
	return nil, nil
}

func (s *stubChargeService) Get(context.Context, string) (*chargedomain.ChargeResponse, error) {
	return nil, nil
}

func (s *stubChargeService) ListByCycle(context.Context, string) ([]chargedomain.ChargeResponse, error) {
	return nil, nil
}

func (s *stubChargeService) Dispatch(context.Context, string) (*chargedomain.ChargeResponse, error) {
	return nil, nil
}

func (s *stubChargeService) DispatchPending(ctx context.Context, limit int) (int, error) {
	s.dispatchCalls++
	return s.dispatchCount, nil
}

func (s *stubChargeService) UpdateStatus(context.Context, string, chargedomain.UpdateStatusRequest) (*chargedomain.ChargeResponse, error) {
	return nil, nil
}

func (s *stubChargeService) MarkOverdue(ctx context.Context, limit int) (int, error) {
	s.overdueCalls++
	return s.overdueCount, nil
}

func newTestScheduler(t *testing.T, cycles *stubCycleService, charges *stubChargeService, cfg Config) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	sched, err := New(Params{
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clock.NewFakeClock(time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)),
		Cycles:  cycles,
		Charges: charges,
		Config:  cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return sched
}

func setupMetricsRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "rentfolio",
		Environment: "test",
	})
	return registry
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := setupMetricsRegistry(t)

	sched := newTestScheduler(t, &stubCycleService{}, &stubChargeService{}, Config{})
	err := sched.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "rentfolio",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "rentfolio_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "rentfolio",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "rentfolio_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunOnceRunsEveryJobByDefault(t *testing.T) {
	registry := setupMetricsRegistry(t)

	cycles := &stubCycleService{closeDueCount: 3}
	charges := &stubChargeService{dispatchCount: 2, overdueCount: 1}
	sched := newTestScheduler(t, cycles, charges, Config{})

	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if len(cycles.closeDueLimits) != 1 || cycles.closeDueLimits[0] != 50 {
		t.Fatalf("expected one CloseDue call with the default batch size, got %v", cycles.closeDueLimits)
	}
	if charges.dispatchCalls != 1 || charges.overdueCalls != 1 {
		t.Fatalf("expected each charge job to run once, got dispatch=%d overdue=%d", charges.dispatchCalls, charges.overdueCalls)
	}

	actor, ok := actorctx.ActorFromContext(cycles.lastCtx)
	if !ok || actor.Kind != actorctx.KindSystem {
		t.Fatalf("expected the system actor on the job context, got %+v", actor)
	}
	if !actor.Can(actorctx.CapBillingClose) {
		t.Fatal("expected the system actor to hold billing:close")
	}

	processedLabels := map[string]string{
		"service":  "rentfolio",
		"env":      "test",
		"job":      JobCloseDueCycles,
		"resource": "billing_cycles",
	}
	if got := getCounterValue(t, registry, "rentfolio_scheduler_batch_processed_total", processedLabels); got != 3 {
		t.Fatalf("expected 3 cycles counted, got %v", got)
	}
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	setupMetricsRegistry(t)

	cycles := &stubCycleService{}
	charges := &stubChargeService{}
	sched := newTestScheduler(t, cycles, charges, Config{
		EnabledJobs: []string{JobDispatchPendingCharges},
	})

	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(cycles.closeDueLimits) != 0 {
		t.Fatalf("expected CloseDue to be skipped, got %v", cycles.closeDueLimits)
	}
	if charges.dispatchCalls != 1 {
		t.Fatalf("expected dispatch to run, got %d calls", charges.dispatchCalls)
	}
	if charges.overdueCalls != 0 {
		t.Fatalf("expected mark overdue to be skipped, got %d calls", charges.overdueCalls)
	}
}

func TestRunOnceContinuesPastFailedJob(t *testing.T) {
	setupMetricsRegistry(t)

	cycles := &stubCycleService{closeDueErr: errors.New("close blocked")}
	charges := &stubChargeService{}
	sched := newTestScheduler(t, cycles, charges, Config{})

	err := sched.RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), JobCloseDueCycles) {
		t.Fatalf("expected the failed job in the error, got %v", err)
	}
	if charges.dispatchCalls != 1 || charges.overdueCalls != 1 {
		t.Fatalf("expected the remaining jobs to run, got dispatch=%d overdue=%d", charges.dispatchCalls, charges.overdueCalls)
	}
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
