package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/custody/internal/property"
	"github.com/odyssey-erp/custody/internal/store/memstore"
)

func serveJSON(t *testing.T, engine *Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(nil, engine).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestHandlerAppendAndShow(t *testing.T) {
	store := memstore.New()
	engine := NewEngine(store, nil, nil, nil)
	card := newCard(t, store, engine)

	rec := serveJSON(t, engine, http.MethodPost, "/cards/"+card.ID+"/entries",
		`{"date":"2025-03-01T00:00:00Z","reference":"RR-1","receipt_qty":3,"unit_cost":"1500"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var entry property.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	require.Equal(t, 3, entry.BalanceQty)
	require.True(t, entry.Amount.Equal(decimal.NewFromInt(4500)))

	rec = serveJSON(t, engine, http.MethodGet, "/cards/by-item/SP-0001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view CardView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, card.ID, view.Card.ID)
	require.Len(t, view.Entries, 1)

	rec = serveJSON(t, engine, http.MethodPatch, "/entries/"+entry.ID, `{"receipt_qty":5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	require.Equal(t, 5, entry.BalanceQty)
}

func TestHandlerAppendRejectsInvalidMovement(t *testing.T) {
	store := memstore.New()
	engine := NewEngine(store, nil, nil, nil)
	card := newCard(t, store, engine)

	rec := serveJSON(t, engine, http.MethodPost, "/cards/"+card.ID+"/entries", `{"date":"2025-03-01T00:00:00Z","receipt_qty":-1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serveJSON(t, engine, http.MethodPost, "/cards/"+card.ID+"/entries", `{"date":"2025-03-01T00:00:00Z","receipt_qty":1,"colour":"red"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serveJSON(t, engine, http.MethodGet, "/cards/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerRecomputeRepairsCard(t *testing.T) {
	store := memstore.New()
	engine := NewEngine(store, nil, nil, nil)
	card := newCard(t, store, engine)
	ctx := context.Background()

	for d := 1; d <= 2; d++ {
		_, err := engine.AppendEntry(ctx, card.ID, EntryInput{Date: day(d), ReceiptQty: 1, UnitCost: decimal.NewFromInt(10)})
		require.NoError(t, err)
	}
	_, entries, err := engine.Card(ctx, card.ID)
	require.NoError(t, err)
	drifted := entries[1]
	drifted.BalanceQty = 42
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx property.Tx) error {
		return tx.UpdateEntry(ctx, drifted)
	}))

	rec := serveJSON(t, engine, http.MethodPost, "/cards/"+card.ID+"/recompute", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view CardView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Entries, 2)
	require.Equal(t, 2, view.Entries[1].BalanceQty)
}
