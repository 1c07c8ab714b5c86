package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/tokoarang/storefront/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInventorySummaryReconcile rebuilds the stock summary from the ledger.
	TaskInventorySummaryReconcile = "inventory:summary-reconcile"
	// TaskIdempotencyCleanup prunes old idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency-cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SummaryReconcilePayload records why a reconcile was requested. It carries no
// timestamp so identical requests deduplicate under asynq.Unique.
type SummaryReconcilePayload struct {
	Reason string `json:"reason"`
}

// NewSummaryReconcileTask constructs an Asynq task for rebuilding the stock summary.
func NewSummaryReconcileTask(reason string) (*asynq.Task, error) {
	if reason == "" {
		reason = "scheduled"
	}
	body, err := json.Marshal(SummaryReconcilePayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInventorySummaryReconcile, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload configures how old a key must be to be removed.
type IdempotencyCleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for pruning idempotency keys.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
