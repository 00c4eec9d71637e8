package export

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerlink/ledgerlink/internal/errorstore"
	"github.com/ledgerlink/ledgerlink/internal/platform/httpx"
	"github.com/ledgerlink/ledgerlink/internal/taskledger"
	"github.com/ledgerlink/ledgerlink/internal/workunit"
)

// Handler serves workspace export state over HTTP.
type Handler struct {
	summaries *SummaryRepository
	errors    *errorstore.Repository
	taskLog   *taskledger.Repository
	groups    *workunit.Repository
	logger    *slog.Logger
}

// NewHandler constructs the export HTTP handler.
func NewHandler(summaries *SummaryRepository, errs *errorstore.Repository, taskLog *taskledger.Repository, groups *workunit.Repository, logger *slog.Logger) *Handler {
	return &Handler{summaries: summaries, errors: errs, taskLog: taskLog, groups: groups, logger: logger}
}

// MountRoutes attaches export routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/workspaces/{workspaceID}/export-summary", h.getSummary)
	r.Get("/workspaces/{workspaceID}/errors", h.listErrors)
	r.Get("/workspaces/{workspaceID}/expense-groups", h.listGroups)
	r.Get("/workspaces/{workspaceID}/expense-groups/{groupID}", h.getGroup)
	r.Post("/workspaces/{workspaceID}/expense-groups/{groupID}/retry", h.retryGroup)
}

func workspaceParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "workspaceID"), 10, 64)
	return id, err == nil && id > 0
}

type summaryResponse struct {
	WorkspaceID     int64      `json:"workspace_id"`
	LastExportedAt  time.Time  `json:"last_exported_at"`
	NextExportAt    *time.Time `json:"next_export_at,omitempty"`
	Mode            Mode       `json:"mode"`
	TotalCount      int        `json:"total_count"`
	SuccessfulCount int        `json:"successful_count"`
	FailedCount     int        `json:"failed_count"`
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := workspaceParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "invalid workspace id", "")
		return
	}
	summary, err := h.summaries.Get(r.Context(), workspaceID)
	if err != nil {
		if errors.Is(err, ErrSummaryNotFound) {
			httpx.Problem(w, http.StatusNotFound, "export summary not found", "the workspace has not completed an export cycle yet")
			return
		}
		h.logger.Error("load export summary", slog.Int64("workspace_id", workspaceID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, summaryResponse{
		WorkspaceID:     summary.WorkspaceID,
		LastExportedAt:  summary.LastExportedAt,
		NextExportAt:    summary.NextExportAt,
		Mode:            summary.Mode,
		TotalCount:      summary.TotalCount,
		SuccessfulCount: summary.SuccessfulCount,
		FailedCount:     summary.FailedCount,
	})
}

type errorResponse struct {
	Type            errorstore.Type `json:"type"`
	Title           string          `json:"title"`
	Detail          string          `json:"detail"`
	ArticleLink     string          `json:"article_link,omitempty"`
	RepetitionCount int             `json:"repetition_count"`
	IsParsed        bool            `json:"is_parsed"`
	ExpenseGroupID  *int64          `json:"expense_group_id,omitempty"`
}

func (h *Handler) listErrors(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := workspaceParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "invalid workspace id", "")
		return
	}
	records, err := h.errors.ListOpen(r.Context(), workspaceID)
	if err != nil {
		h.logger.Error("list error records", slog.Int64("workspace_id", workspaceID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	out := make([]errorResponse, len(records))
	for i, rec := range records {
		out[i] = errorResponse{
			Type:            rec.Type,
			Title:           rec.Title,
			Detail:          rec.Detail,
			ArticleLink:     rec.ArticleLink,
			RepetitionCount: rec.RepetitionCount,
			IsParsed:        rec.IsParsed,
			ExpenseGroupID:  rec.ExpenseGroupID,
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}

type groupResponse struct {
	ID            int64               `json:"id"`
	FundSource    workunit.FundSource `json:"fund_source"`
	EmployeeEmail string              `json:"employee_email"`
	Description   map[string]string   `json:"description,omitempty"`
	ExpenseIDs    []int64             `json:"expense_ids"`
	ExportedAt    *time.Time          `json:"exported_at,omitempty"`
	ExportURL     string              `json:"export_url,omitempty"`
}

func groupView(g workunit.ExpenseGroup) groupResponse {
	return groupResponse{
		ID:            g.ID,
		FundSource:    g.FundSource,
		EmployeeEmail: g.EmployeeEmail,
		Description:   g.Description,
		ExpenseIDs:    g.ExpenseIDs,
		ExportedAt:    g.ExportedAt,
		ExportURL:     g.ExportURL,
	}
}

// listGroups resolves a batch of expense groups by id, typically the ones an
// error record or failed event points at.
func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := workspaceParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "invalid workspace id", "")
		return
	}
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		httpx.Problem(w, http.StatusBadRequest, "ids required", "pass a comma separated list of expense group ids")
		return
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "invalid ids", "ids must be positive integers")
			return
		}
		ids = append(ids, id)
	}
	groups, err := h.groups.ListByIDs(r.Context(), workspaceID, ids)
	if err != nil {
		h.logger.Error("list expense groups", slog.Int64("workspace_id", workspaceID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	out := make([]groupResponse, len(groups))
	for i, g := range groups {
		out[i] = groupView(g)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := workspaceParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "invalid workspace id", "")
		return
	}
	groupID, err := strconv.ParseInt(chi.URLParam(r, "groupID"), 10, 64)
	if err != nil || groupID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid expense group id", "")
		return
	}
	group, err := h.groups.Get(r.Context(), workspaceID, groupID)
	if err != nil {
		if errors.Is(err, workunit.ErrGroupNotFound) {
			httpx.Problem(w, http.StatusNotFound, "expense group not found", "")
			return
		}
		h.logger.Error("load expense group", slog.Int64("expense_group_id", groupID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, groupView(group))
}

type retryRequest struct {
	TaskType taskledger.Type `json:"task_type"`
}

// retryGroup flips re_attempt_export so a permanently failed group re-enters
// the next cycle. It does not enqueue an export by itself.
func (h *Handler) retryGroup(w http.ResponseWriter, r *http.Request) {
	if _, ok := workspaceParam(r); !ok {
		httpx.Problem(w, http.StatusBadRequest, "invalid workspace id", "")
		return
	}
	groupID, err := strconv.ParseInt(chi.URLParam(r, "groupID"), 10, 64)
	if err != nil || groupID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "invalid expense group id", "")
		return
	}
	var req retryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "malformed request body", err.Error())
		return
	}
	if req.TaskType == "" {
		httpx.Problem(w, http.StatusUnprocessableEntity, "task_type required", "")
		return
	}
	if err := h.taskLog.SetReAttemptExport(r.Context(), groupID, req.TaskType, true); err != nil {
		if errors.Is(err, taskledger.ErrEntryNotFound) {
			httpx.Problem(w, http.StatusNotFound, "task entry not found", "no attempt exists for this group and task type")
			return
		}
		h.logger.Error("re-enable export attempt", slog.Int64("expense_group_id", groupID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"re_attempt_export": true})
}
