package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/schemaloom/schemaloom/domains/queries/be/service"
	platformlogging "github.com/schemaloom/schemaloom/platform/go/logging"
)

const (
	problemTypeValidation = "https://schemaloom.dev/problems/validation-error"
	problemTypeNotFound   = "https://schemaloom.dev/problems/not-found"
	problemTypeInternal   = "https://schemaloom.dev/problems/internal-error"
)

// Service is the surface of the query service consumed over HTTP.
type Service interface {
	Execute(ctx context.Context, tenantID uuid.UUID, queryText string) (service.ExecutionResult, error)
	History(ctx context.Context, tenantID uuid.UUID, opts service.HistoryOptions) (service.HistoryResult, error)
}

// Handler wires the query service to the HTTP API.
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("query service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the query endpoints under a tenant-scoped router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.execute)
	r.Get("/history", h.history)
}

type executeRequest struct {
	Query string `json:"query"`
}

type executeResponse struct {
	Success         bool     `json:"success"`
	Columns         []string `json:"columns"`
	Rows            [][]any  `json:"rows"`
	RowCount        int64    `json:"rowCount"`
	RowsAffected    int64    `json:"rowsAffected"`
	Truncated       bool     `json:"truncated"`
	ExecutionTimeMs int64    `json:"executionTimeMs"`
	Error           string   `json:"error,omitempty"`
}

type historyEntryResponse struct {
	ID              string    `json:"id"`
	QueryText       string    `json:"queryText"`
	QueryHash       string    `json:"queryHash"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
	RowsAffected    int64     `json:"rowsAffected"`
	Success         bool      `json:"success"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	RequestID       string    `json:"requestId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

type historyResponse struct {
	Items      []historyEntryResponse `json:"items"`
	Page       int                    `json:"page"`
	PageSize   int                    `json:"pageSize"`
	TotalItems int                    `json:"totalItems"`
	TotalPages int                    `json:"totalPages"`
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		h.writeProblem(w, http.StatusBadRequest, "Invalid tenant id", err.Error(), problemTypeValidation, nil)
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeProblem(w, http.StatusBadRequest, "Invalid request body", err.Error(), problemTypeValidation, nil)
		return
	}

	result, err := h.svc.Execute(r.Context(), tenantID, req.Query)
	if err != nil {
		h.writeError(r.Context(), w, err, "executeQuery")
		return
	}

	resp := executeResponse{
		Success:         result.Success,
		Columns:         result.Columns,
		Rows:            result.Rows,
		RowCount:        result.RowCount,
		RowsAffected:    result.RowsAffected,
		Truncated:       result.Truncated,
		ExecutionTimeMs: result.ExecutionTimeMs,
		Error:           result.Error,
	}
	if resp.Columns == nil {
		resp.Columns = []string{}
	}
	if resp.Rows == nil {
		resp.Rows = [][]any{}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		h.writeProblem(w, http.StatusBadRequest, "Invalid tenant id", err.Error(), problemTypeValidation, nil)
		return
	}

	opts := service.HistoryOptions{
		Page:     queryInt(r, "page", 1),
		PageSize: queryInt(r, "pageSize", 20),
	}
	switch r.URL.Query().Get("success") {
	case "true":
		yes := true
		opts.Success = &yes
	case "false":
		no := false
		opts.Success = &no
	}
	if from, ok := queryTime(r, "from"); ok {
		opts.From = &from
	}
	if to, ok := queryTime(r, "to"); ok {
		opts.To = &to
	}

	result, err := h.svc.History(r.Context(), tenantID, opts)
	if err != nil {
		h.writeError(r.Context(), w, err, "queryHistory")
		return
	}

	items := make([]historyEntryResponse, 0, len(result.Entries))
	for _, entry := range result.Entries {
		items = append(items, historyEntryResponse{
			ID:              entry.ID.String(),
			QueryText:       entry.QueryText,
			QueryHash:       entry.QueryHash,
			ExecutionTimeMs: entry.ExecutionTimeMs,
			RowsAffected:    entry.RowsAffected,
			Success:         entry.Success,
			ErrorMessage:    entry.ErrorMessage,
			RequestID:       entry.RequestID,
			CreatedAt:       entry.CreatedAt,
		})
	}

	h.writeJSON(w, http.StatusOK, historyResponse{
		Items:      items,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error, op string) {
	status, title, detail, problemType, fields := classifyError(err)

	logger := h.loggerFrom(ctx).With(zap.String("operation", op), zap.Int("status", status))
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("query operation failed", zap.Error(err))
	case status == http.StatusNotFound:
		logger.Info("query resource not found", zap.Error(err))
	default:
		logger.Warn("query request rejected", zap.Error(err))
	}

	h.writeProblem(w, status, title, detail, problemType, fields)
}

func classifyError(err error) (status int, title, detail, problemType string, fields service.FieldErrors) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "Validation failed", "the query was rejected before execution", problemTypeValidation, validationErr.Fields
	case errors.Is(err, service.ErrTenantNotFound):
		return http.StatusNotFound, "Resource not found", "tenant not found", problemTypeNotFound, nil
	default:
		return http.StatusInternalServerError, "Internal server error", "an unexpected error occurred", problemTypeInternal, nil
	}
}

func (h *Handler) writeProblem(w http.ResponseWriter, status int, title, detail, problemType string, fields service.FieldErrors) {
	problem := map[string]any{
		"title":  title,
		"status": status,
	}
	if detail != "" {
		problem["detail"] = detail
	}
	if problemType != "" {
		problem["type"] = problemType
	}
	if len(fields) > 0 {
		problem["errors"] = fields
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

func queryTime(r *http.Request, key string) (time.Time, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, false
	}
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return value, true
}
