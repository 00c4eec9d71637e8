package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlink/ledgerlink/internal/dispatch"
)

type fakeLister struct {
	events    []dispatch.FailedEvent
	err       error
	workspace int64
	limit     int
}

func (f *fakeLister) ListByWorkspace(_ context.Context, workspaceID int64, limit int) ([]dispatch.FailedEvent, error) {
	f.workspace = workspaceID
	f.limit = limit
	return f.events, f.err
}

func newTestRouter(lister FailedEventLister) chi.Router {
	h := NewHandler(nil, nil, lister, slog.New(slog.NewTextHandler(discard{}, nil)))
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestFailedEventsListsWorkspace(t *testing.T) {
	lister := &fakeLister{events: []dispatch.FailedEvent{{
		ID:          7,
		RoutingKey:  "EXPORT.P0.DIRECT",
		WorkspaceID: 42,
		Payload:     json.RawMessage(`{"action":"EXPORT.BILLS"}`),
		Traceback:   "netsuite: connection reset",
		CreatedAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}}}
	router := newTestRouter(lister)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workspaces/42/failed-events?limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 42, lister.workspace)
	require.Equal(t, 10, lister.limit)

	var got []failedEventView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, "EXPORT.P0.DIRECT", got[0].RoutingKey)
	require.Equal(t, "netsuite: connection reset", got[0].Traceback)
}

func TestFailedEventsDefaultsLimit(t *testing.T) {
	lister := &fakeLister{}
	router := newTestRouter(lister)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workspaces/42/failed-events", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 50, lister.limit)
	require.JSONEq(t, "[]", rec.Body.String())
}

func TestFailedEventsRejectsBadInput(t *testing.T) {
	router := newTestRouter(&fakeLister{})

	for _, path := range []string{
		"/workspaces/0/failed-events",
		"/workspaces/abc/failed-events",
		"/workspaces/42/failed-events?limit=0",
		"/workspaces/42/failed-events?limit=500",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestFailedEventsRepositoryError(t *testing.T) {
	router := newTestRouter(&fakeLister{err: fmt.Errorf("connection refused")})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workspaces/42/failed-events", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestEnqueueWithoutClientUnavailable(t *testing.T) {
	router := newTestRouter(&fakeLister{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/dispatch", strings.NewReader(`{"action":"EXPORT.BILLS","workspace_id":1}`))
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
