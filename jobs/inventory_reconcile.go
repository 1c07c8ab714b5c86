package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tokoarang/storefront/internal/inventory"
	jobmetrics "github.com/tokoarang/storefront/internal/jobs"
)

// SummaryRecomputer rebuilds the stock summary from the full ledger.
type SummaryRecomputer interface {
	RecomputeSummary(ctx context.Context) (inventory.Summary, error)
}

// InventoryReconcileJob heals the stock summary after failed recomputes and on a schedule.
type InventoryReconcileJob struct {
	Service SummaryRecomputer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewInventoryReconcileJob constructs the job handler.
func NewInventoryReconcileJob(service SummaryRecomputer, logger *slog.Logger, metrics *jobmetrics.Metrics) *InventoryReconcileJob {
	return &InventoryReconcileJob{
		Service: service,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the reconcile job.
func (j *InventoryReconcileJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("inventory reconcile: dependencies not configured")
	}
	var payload SummaryReconcilePayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Reason == "" {
		payload.Reason = "scheduled"
	}

	tracker := j.metrics().Track(TaskInventorySummaryReconcile)
	start := j.now()
	summary, err := j.Service.RecomputeSummary(ctx)
	if err != nil {
		j.log().Error("recompute inventory summary", slog.String("reason", payload.Reason), slog.Any("error", err))
		return tracker.End(err)
	}
	j.log().Info("reconciled inventory summary",
		slog.String("reason", payload.Reason),
		slog.Float64("current_stock_kg", summary.CurrentStockKg),
		slog.Duration("duration", j.now().Sub(start)))
	return tracker.End(nil)
}

func (j *InventoryReconcileJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *InventoryReconcileJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInventorySummaryReconcile))
	}
	return slog.Default().With(slog.String("job", TaskInventorySummaryReconcile))
}

func (j *InventoryReconcileJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *InventoryReconcileJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
