package stock

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	_ "github.com/meridian-pos/meridian/internal/testing/guard"
)

func newTestServer(t *testing.T) (*httptest.Server, *memoryRepo) {
	t.Helper()
	svc, repo, _, _ := newTestService(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(logger, svc)
	r := chi.NewRouter()
	r.Route("/stock", handler.MountRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", "7")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func TestHandlerEntryLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/stock/entries", `{
		"type": "RECEIPT",
		"note": "initial delivery",
		"lines": [{"item_id": 1, "qty": "10", "unit_rate": "5", "target_location_id": 10}]
	}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "DRAFT", body["status"])
	entryID := body["id"].(string)
	require.NotEmpty(t, body["code"])

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/stock/entries/"+entryID+"/submit", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "SUBMITTED", body["status"])
	require.NotEmpty(t, body["posted_at"])

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/stock/balance?item_id=1&location_id=10", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "10", body["qty"])
	require.Equal(t, "50", body["value"])

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/stock/ledger?item_id=1&location_id=10", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/stock/entries/"+entryID+"/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "CANCELLED", body["status"])
}

func TestHandlerDraftUpdateAndDiscard(t *testing.T) {
	srv, repo := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, srv.URL+"/stock/entries", `{
		"type": "RECEIPT",
		"lines": [{"item_id": 1, "qty": "3", "unit_rate": "5", "target_location_id": 10}]
	}`)
	entryID := body["id"].(string)

	resp, body := doJSON(t, http.MethodPut, srv.URL+"/stock/entries/"+entryID, `{
		"lines": [{"item_id": 1, "qty": "9", "unit_rate": "5", "target_location_id": 10}]
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	lines := body["lines"].([]any)
	require.Equal(t, "9", lines[0].(map[string]any)["qty"])

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/stock/entries/"+entryID, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Empty(t, repo.entries)
}

func TestHandlerErrorMapping(t *testing.T) {
	srv, _ := newTestServer(t)

	// Malformed JSON.
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/stock/entries", `{`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown entry type fails request validation.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/stock/entries", `{
		"type": "BOGUS",
		"lines": [{"item_id": 1, "qty": "1", "target_location_id": 10}]
	}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Bad uuid in path.
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/stock/entries/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown entry.
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/stock/entries/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Missing rebuild parameters.
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/stock/bins/rebuild", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerSubmitConflictsAndInsufficientStock(t *testing.T) {
	srv, _ := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, srv.URL+"/stock/entries", `{
		"type": "ISSUE",
		"lines": [{"item_id": 1, "qty": "5", "source_location_id": 10}]
	}`)
	entryID := body["id"].(string)

	// Issuing from an empty bin maps to 422.
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/stock/entries/"+entryID+"/submit", "")
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Receive stock, submit, then submitting again is a state conflict.
	_, body = doJSON(t, http.MethodPost, srv.URL+"/stock/entries", `{
		"type": "RECEIPT",
		"lines": [{"item_id": 1, "qty": "10", "unit_rate": "5", "target_location_id": 10}]
	}`)
	receiptID := body["id"].(string)
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/stock/entries/"+receiptID+"/submit", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/stock/entries/"+receiptID+"/submit", "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}
