package app_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ledgerlink/ledgerlink/internal/app"
	_ "github.com/ledgerlink/ledgerlink/testing"
)

func TestInTestMode(t *testing.T) {
	require.True(t, app.InTestMode())

	t.Setenv("LEDGERLINK_TEST_MODE", "0")
	app.RefreshTestMode()
	require.False(t, app.InTestMode())

	t.Setenv("LEDGERLINK_TEST_MODE", "1")
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := app.LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 5, cfg.WorkerConcurrency)
	require.Equal(t, "20m0s", cfg.ImportTimeout.String())
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadWorkerSettings(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "0")
	_, err := app.LoadConfig()
	require.Error(t, err)

	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("IMPORT_TIMEOUT", "-1s")
	_, err = app.LoadConfig()
	require.Error(t, err)
}

func TestRouterHealthAndSecurityHeaders(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := app.NewRouter(app.RouterParams{Logger: logger, Config: &app.Config{}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
