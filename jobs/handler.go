package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/ledgerlink/ledgerlink/internal/dispatch"
	"github.com/ledgerlink/ledgerlink/internal/platform/httpx"
)

// FailedEventLister reads durable dispatch failures for operator inspection.
type FailedEventLister interface {
	ListByWorkspace(ctx context.Context, workspaceID int64, limit int) ([]dispatch.FailedEvent, error)
}

// Handler exposes HTTP endpoints for queue observability and the webhook
// entry point external schedulers enqueue through.
type Handler struct {
	inspector *asynq.Inspector
	client    *Client
	failed    FailedEventLister
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector *asynq.Inspector, client *Client, failed FailedEventLister, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, client: client, failed: failed, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Post("/dispatch", h.enqueue)
	r.Get("/workspaces/{workspaceID}/failed-events", h.failedEvents)
}

// enqueue accepts an external dispatch request and routes it to its queue
// lane. Deep validation stays with the dispatcher; this only rejects
// requests that could never route.
func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "queue client unavailable", "")
		return
	}
	var env dispatch.Envelope
	if err := httpx.DecodeJSON(r, &env); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "malformed request body", err.Error())
		return
	}
	if !env.Action.Known() || env.WorkspaceID <= 0 {
		httpx.Problem(w, http.StatusUnprocessableEntity, "unroutable dispatch request", "action must be namespaced and workspace_id positive")
		return
	}
	info, err := h.client.Enqueue(r.Context(), env)
	if err != nil {
		h.logger.Error("enqueue dispatch request", slog.String("action", string(env.Action)), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "enqueue failed", "")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": info.ID, "queue": info.Queue})
}

type failedEventView struct {
	ID          int64           `json:"id"`
	RoutingKey  string          `json:"routing_key"`
	WorkspaceID int64           `json:"workspace_id"`
	Payload     json.RawMessage `json:"payload"`
	Traceback   string          `json:"traceback"`
	CreatedAt   time.Time       `json:"created_at"`
}

// failedEvents lists a workspace's dead-lettered tasks, newest first.
func (h *Handler) failedEvents(w http.ResponseWriter, r *http.Request) {
	workspaceID, err := strconv.ParseInt(chi.URLParam(r, "workspaceID"), 10, 64)
	if err != nil || workspaceID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid workspace id", "")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			httpx.Problem(w, http.StatusBadRequest, "invalid limit", "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}
	events, err := h.failed.ListByWorkspace(r.Context(), workspaceID, limit)
	if err != nil {
		h.logger.Error("list failed events", slog.Int64("workspace_id", workspaceID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "list failed events", "")
		return
	}
	out := make([]failedEventView, 0, len(events))
	for _, event := range events {
		out = append(out, failedEventView{
			ID:          event.ID,
			RoutingKey:  event.RoutingKey,
			WorkspaceID: event.WorkspaceID,
			Payload:     event.Payload,
			Traceback:   event.Traceback,
			CreatedAt:   event.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

type queueHealth struct {
	Queue   string `json:"queue"`
	Pending int    `json:"pending"`
	Active  int    `json:"active"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, []queueHealth{})
		return
	}
	out := make([]queueHealth, 0, len(QueueWeights))
	for _, queue := range []string{QueueExportP0, QueueExportP1, QueueImport, QueueUtility} {
		info, err := h.inspector.GetQueueInfo(queue)
		if err != nil {
			h.logger.Warn("jobs health", slog.String("queue", queue), slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "queue inspection failed", queue)
			return
		}
		out = append(out, queueHealth{Queue: info.Queue, Pending: info.Pending, Active: info.Active})
	}
	httpx.JSON(w, http.StatusOK, out)
}
