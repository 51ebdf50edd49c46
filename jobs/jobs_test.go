package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/custody/internal/custody"
	jobmetrics "github.com/odyssey-erp/custody/internal/jobs"
	"github.com/odyssey-erp/custody/internal/ledger"
	"github.com/odyssey-erp/custody/internal/property"
	"github.com/odyssey-erp/custody/internal/shared"
	"github.com/odyssey-erp/custody/internal/store/memstore"
)

type memoryKeys struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryKeys) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = map[string]string{}
	}
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryKeys) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type replayFixture struct {
	store  *memstore.Store
	engine *ledger.Engine
	card   property.Card
}

func newReplayFixture(t *testing.T) replayFixture {
	t.Helper()
	store := memstore.New()
	engine := ledger.NewEngine(store, nil, nil, nil)
	registry := custody.NewRegistry(store, engine, nil, nil, nil)
	res, err := registry.Intake(context.Background(), custody.IntakeInput{
		PropertyNumber: "SP-0100",
		Description:    "Projector",
		UnitCost:       decimal.RequireFromString("18000.00"),
		Quantity:       2,
		EntityName:     "Division Office",
		FundCluster:    "101",
		Reference:      "RIS-2025-09",
		ReceivedAt:     time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Card)
	return replayFixture{store: store, engine: engine, card: *res.Card}
}

func (f replayFixture) corrupt(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx property.Tx) error {
		entries, err := tx.ListEntries(ctx, f.card.ID)
		if err != nil {
			return err
		}
		entries[0].BalanceQty = 99
		return tx.UpdateEntry(ctx, entries[0])
	}))
}

func replayTask(t *testing.T, payload ReplayPayload) *asynq.Task {
	t.Helper()
	task, err := NewReplayTask(payload)
	require.NoError(t, err)
	return task
}

func TestReplayRewritesDriftedCard(t *testing.T) {
	f := newReplayFixture(t)
	f.corrupt(t)
	job := NewReplayJob(f.engine, &memoryKeys{}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), replayTask(t, ReplayPayload{CardID: f.card.ID})))

	_, entries, err := f.engine.Card(context.Background(), f.card.ID)
	require.NoError(t, err)
	require.Equal(t, 2, entries[0].BalanceQty)
	require.Equal(t, -1, ledger.Verify(entries))
}

func TestReplayKeepsImportedBalance(t *testing.T) {
	f := newReplayFixture(t)
	ctx := context.Background()
	opening, err := f.engine.AppendEntry(ctx, f.card.ID, ledger.EntryInput{
		Date:       time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC),
		Reference:  "BEGINNING BALANCE",
		Imported:   true,
		BalanceQty: 10,
		Amount:     decimal.RequireFromString("180000.00"),
	})
	require.NoError(t, err)
	job := NewReplayJob(f.engine, nil, nil, nil)

	require.NoError(t, job.Handle(ctx, replayTask(t, ReplayPayload{CardID: f.card.ID})))

	_, entries, err := f.engine.Card(ctx, f.card.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, opening.ID, entries[0].ID)
	require.Equal(t, 10, entries[0].BalanceQty)
	require.True(t, entries[0].Amount.Equal(decimal.RequireFromString("180000.00")))
	require.Equal(t, 12, entries[1].BalanceQty)
	require.True(t, entries[1].Amount.Equal(decimal.RequireFromString("216000.00")))
	require.Equal(t, -1, ledger.Verify(entries))
}

func TestReplayByPropertyNumber(t *testing.T) {
	f := newReplayFixture(t)
	f.corrupt(t)
	job := NewReplayJob(f.engine, nil, nil, nil)

	require.NoError(t, job.Handle(context.Background(), replayTask(t, ReplayPayload{Item: property.ItemRef{PropertyNumber: "SP-0100"}})))

	_, entries, err := f.engine.Card(context.Background(), f.card.ID)
	require.NoError(t, err)
	require.Equal(t, -1, ledger.Verify(entries))
}

func TestReplaySkipsProcessedRequestKey(t *testing.T) {
	f := newReplayFixture(t)
	keys := &memoryKeys{}
	job := NewReplayJob(f.engine, keys, nil, nil)
	payload := ReplayPayload{CardID: f.card.ID, RequestKey: "req-1"}

	require.NoError(t, job.Handle(context.Background(), replayTask(t, payload)))
	f.corrupt(t)
	require.NoError(t, job.Handle(context.Background(), replayTask(t, payload)))

	_, entries, err := f.engine.Card(context.Background(), f.card.ID)
	require.NoError(t, err)
	require.Equal(t, 99, entries[0].BalanceQty, "second delivery must not run")
}

func TestReplayReleasesKeyOnFailure(t *testing.T) {
	f := newReplayFixture(t)
	keys := &memoryKeys{}
	job := NewReplayJob(f.engine, keys, nil, nil)

	err := job.Handle(context.Background(), replayTask(t, ReplayPayload{CardID: "missing", RequestKey: "req-2"}))
	require.ErrorIs(t, err, property.ErrNotFound)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, keys.keys)
}

func TestReplayRejectsEmptyPayload(t *testing.T) {
	job := NewReplayJob(newReplayFixture(t).engine, nil, nil, nil)
	err := job.Handle(context.Background(), replayTask(t, ReplayPayload{}))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeCleaner struct {
	olderThan time.Duration
	purged    int64
	err       error
}

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return f.purged, f.err
}

func TestIdempotencyCleanupUsesRetention(t *testing.T) {
	cleaner := &fakeCleaner{purged: 4}
	job := NewIdempotencyCleanupJob(cleaner, 0, nil, nil)
	task, err := NewIdempotencyCleanupTask(time.Now())
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, DefaultRetention, cleaner.olderThan)

	cleaner.err = errors.New("db down")
	require.Error(t, job.Handle(context.Background(), task))
}

type fakeEnqueuer struct {
	payloads []ReplayPayload
	err      error
}

func (f *fakeEnqueuer) EnqueueReplay(_ context.Context, payload ReplayPayload) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	return &asynq.TaskInfo{ID: "task-1", Queue: QueueDefault}, nil
}

func TestHandlerEnqueuesReplay(t *testing.T) {
	enq := &fakeEnqueuer{}
	r := chi.NewRouter()
	NewHandler(enq, nil, nil).MountRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/replay", strings.NewReader(`{"card_id":"card-1"}`))
	req.Header.Set("Idempotency-Key", "abc")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, enq.payloads, 1)
	require.Equal(t, "abc", enq.payloads[0].RequestKey)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "task-1", body["task_id"])
}

func TestHandlerReplayValidationAndConflict(t *testing.T) {
	enq := &fakeEnqueuer{}
	r := chi.NewRouter()
	NewHandler(enq, nil, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/replay", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	enq.err = asynq.ErrTaskIDConflict
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/replay", strings.NewReader(`{"card_id":"card-1","request_key":"k"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandlerHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil, nil).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0}`, rec.Body.String())
}
