package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/custody/internal/property"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerReplay recomputes the running balances of one property card.
	TaskLedgerReplay = "custody:replay"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "custody:idempotency-cleanup"
)

// ReplayPayload selects the card to replay. CardID wins over the item
// reference when both are set. RequestKey deduplicates deliveries.
type ReplayPayload struct {
	CardID     string           `json:"card_id,omitempty"`
	Item       property.ItemRef `json:"item,omitempty"`
	RequestKey string           `json:"request_key,omitempty"`
}

// NewReplayTask constructs an Asynq task for a ledger replay.
func NewReplayTask(payload ReplayPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReplay, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// IdempotencyCleanupPayload carries scheduling metadata.
type IdempotencyCleanupPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewIdempotencyCleanupTask constructs the retention sweep task.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
