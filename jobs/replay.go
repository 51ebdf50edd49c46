package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/custody/internal/jobs"
	"github.com/odyssey-erp/custody/internal/ledger"
	"github.com/odyssey-erp/custody/internal/property"
	"github.com/odyssey-erp/custody/internal/shared"
)

// LedgerPort is the part of the ledger engine a replay needs.
type LedgerPort interface {
	Card(ctx context.Context, cardID string) (property.Card, []property.Entry, error)
	CardForItem(ctx context.Context, ref property.ItemRef) (property.Card, []property.Entry, error)
	Recompute(ctx context.Context, cardID string) ([]property.Entry, error)
}

// KeyStore records processed request keys.
type KeyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ReplayJob recomputes a card when its stored balances drifted from the walk.
type ReplayJob struct {
	Ledger  LedgerPort
	Keys    KeyStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReplayJob initialises the replay handler.
func NewReplayJob(engine LedgerPort, keys KeyStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReplayJob {
	return &ReplayJob{Ledger: engine, Keys: keys, Logger: logger, Metrics: metrics}
}

// Handle executes one replay.
func (j *ReplayJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("replay: handler not configured")
	}
	var payload ReplayPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.CardID == "" && payload.Item.Empty() {
		return fmt.Errorf("replay: card or item required: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskLedgerReplay)
	logger := j.logger().With(slog.String("card_id", payload.CardID), slog.String("property_number", payload.Item.PropertyNumber))

	if payload.RequestKey != "" && j.Keys != nil {
		if err := j.Keys.CheckAndInsert(ctx, payload.RequestKey, TaskLedgerReplay); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				logger.Info("replay already processed", slog.String("request_key", payload.RequestKey))
				return tracker.End(nil)
			}
			return tracker.End(err)
		}
	}

	drifted, err := j.replay(ctx, payload)
	if err != nil {
		logger.Error("replay failed", slog.Any("error", err))
		if payload.RequestKey != "" && j.Keys != nil {
			if delErr := j.Keys.Delete(ctx, payload.RequestKey); delErr != nil {
				logger.Warn("release request key", slog.Any("error", delErr))
			}
		}
		if errors.Is(err, property.ErrNotFound) {
			return tracker.End(fmt.Errorf("%w: %w", err, asynq.SkipRetry))
		}
		return tracker.End(err)
	}
	if drifted {
		j.Metrics.AddDrift(1)
	}
	logger.Info("replay completed", slog.Bool("drifted", drifted))
	return tracker.End(nil)
}

func (j *ReplayJob) replay(ctx context.Context, payload ReplayPayload) (bool, error) {
	var (
		card    property.Card
		entries []property.Entry
		err     error
	)
	if payload.CardID != "" {
		card, entries, err = j.Ledger.Card(ctx, payload.CardID)
	} else {
		card, entries, err = j.Ledger.CardForItem(ctx, payload.Item)
	}
	if err != nil {
		return false, err
	}
	if ledger.Verify(entries) < 0 {
		return false, nil
	}
	if _, err := j.Ledger.Recompute(ctx, card.ID); err != nil {
		return true, err
	}
	return true, nil
}

func (j *ReplayJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerReplay))
	}
	return slog.Default().With(slog.String("job", TaskLedgerReplay))
}
