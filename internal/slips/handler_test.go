package slips

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/custody/internal/platform/httpx"
)

func serve(t *testing.T, svc *Service, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestHandlerIssueAndShow(t *testing.T) {
	_, _, svc, _ := setup(t, "SP-0001")

	rec := serve(t, svc, http.MethodPost, "/", issueInput(ana, "SP-0001"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var detail Detail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Equal(t, "ICS-2025-0001", detail.Slip.SlipNumber)
	require.Len(t, detail.Lines, 1)

	rec = serve(t, svc, http.MethodGet, "/"+detail.Slip.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got Detail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, detail.Lines[0].ID, got.Lines[0].ID)
}

func TestHandlerIssueErrors(t *testing.T) {
	_, _, svc, _ := setup(t, "SP-0001")

	rec := serve(t, svc, http.MethodPost, "/", issueInput(ana, "SP-0404"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "lines[0]", problem.Field)

	rec = serve(t, svc, http.MethodPost, "/", issueInput(ana, "SP-0001"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = serve(t, svc, http.MethodPost, "/", issueInput(ben, "SP-0001"))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(t, svc, http.MethodGet, "/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
