package custody

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/custody/internal/platform/httpx"
	"github.com/odyssey-erp/custody/internal/property"
)

func (f fixture) router() http.Handler {
	r := chi.NewRouter()
	NewHandler(nil, f.registry).MountRoutes(r)
	return r
}

func serve(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestHandlerIntakeAssignRelease(t *testing.T) {
	f := newFixture(t)
	router := f.router()

	rec := serve(t, router, http.MethodPost, "/", IntakeInput{
		PropertyNumber: "SP-0100",
		Description:    "Projector",
		UnitCost:       decimal.NewFromInt(18000),
		Quantity:       1,
		ReceivedAt:     jan3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res IntakeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotNil(t, res.Card)

	rec = serve(t, router, http.MethodPost, "/SP-0100/assign", assignRequest{Custodian: ana, At: jan3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var item property.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	require.Equal(t, "C1", item.Custodian.ID)

	rec = serve(t, router, http.MethodGet, "/"+res.Item.ID+"/assigned", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var assigned struct {
		ItemID   string `json:"item_id"`
		Assigned bool   `json:"assigned"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assigned))
	require.True(t, assigned.Assigned)
	require.Equal(t, res.Item.ID, assigned.ItemID)

	rec = serve(t, router, http.MethodGet, "/?custodian_id=C1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var holdings []property.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &holdings))
	require.Len(t, holdings, 1)

	rec = serve(t, router, http.MethodPost, "/SP-0100/assign", assignRequest{Custodian: ben, At: jan3})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(t, router, http.MethodPost, "/SP-0100/release", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	require.True(t, item.Custodian.IsZero())

	rec = serve(t, router, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var available []property.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &available))
	require.Len(t, available, 1)
}

func TestHandlerConditionAndStatus(t *testing.T) {
	f := newFixture(t)
	f.intake(t, "SP-0001")
	router := f.router()

	rec := serve(t, router, http.MethodPut, "/SP-0001/condition", conditionRequest{Condition: property.ConditionForRepair})
	require.Equal(t, http.StatusOK, rec.Code)
	var item property.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	require.Equal(t, property.ConditionForRepair, item.Condition)

	rec = serve(t, router, http.MethodPut, "/SP-0001/condition", conditionRequest{Condition: "Shiny"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "condition", problem.Field)

	rec = serve(t, router, http.MethodPut, "/SP-0001/status", statusRequest{Status: property.ItemMissing})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	require.Equal(t, property.ItemMissing, item.Status)
}

func TestHandlerUnknownItem(t *testing.T) {
	f := newFixture(t)
	rec := serve(t, f.router(), http.MethodGet, "/SP-9999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
