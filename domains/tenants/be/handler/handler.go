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

	"github.com/schemaloom/schemaloom/domains/tenants/be/service"
	platformlogging "github.com/schemaloom/schemaloom/platform/go/logging"
)

const (
	problemTypeValidation = "https://schemaloom.dev/problems/validation-error"
	problemTypeNotFound   = "https://schemaloom.dev/problems/not-found"
	problemTypeConflict   = "https://schemaloom.dev/problems/conflict"
	problemTypeInternal   = "https://schemaloom.dev/problems/internal-error"
)

// Service is the surface of the tenant service consumed over HTTP.
type Service interface {
	Create(ctx context.Context, input service.CreateInput) (service.Tenant, error)
	Get(ctx context.Context, id uuid.UUID) (service.Tenant, error)
	List(ctx context.Context, opts service.ListOptions) (service.ListResult, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Handler wires the tenant service to the HTTP API.
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenant service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the tenant endpoints on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{tenantID}", h.get)
	r.Delete("/{tenantID}", h.delete)
}

type createRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type tenantResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug"`
	IsActive     bool      `json:"isActive"`
	DatabaseName string    `json:"databaseName"`
	CacheNS      int       `json:"cacheNamespace"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type listResponse struct {
	Items      []tenantResponse `json:"items"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
	TotalItems int              `json:"totalItems"`
	TotalPages int              `json:"totalPages"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeProblem(w, http.StatusBadRequest, "Invalid request body", err.Error(), problemTypeValidation, nil)
		return
	}

	tenant, err := h.svc.Create(r.Context(), service.CreateInput{Name: req.Name, Slug: req.Slug})
	if err != nil {
		h.writeError(r.Context(), w, err, "createTenant")
		return
	}

	h.writeJSON(w, http.StatusCreated, toResponse(tenant))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	opts := service.ListOptions{
		Page:       queryInt(r, "page", 1),
		PageSize:   queryInt(r, "pageSize", 20),
		ActiveOnly: r.URL.Query().Get("status") == "active",
	}

	result, err := h.svc.List(r.Context(), opts)
	if err != nil {
		h.writeError(r.Context(), w, err, "listTenants")
		return
	}

	items := make([]tenantResponse, 0, len(result.Tenants))
	for _, t := range result.Tenants {
		items = append(items, toResponse(t))
	}

	h.writeJSON(w, http.StatusOK, listResponse{
		Items:      items,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalItems: result.TotalItems,
		TotalPages: result.TotalPages,
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		h.writeProblem(w, http.StatusBadRequest, "Invalid tenant id", err.Error(), problemTypeValidation, nil)
		return
	}

	tenant, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(r.Context(), w, err, "getTenant")
		return
	}

	h.writeJSON(w, http.StatusOK, toResponse(tenant))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		h.writeProblem(w, http.StatusBadRequest, "Invalid tenant id", err.Error(), problemTypeValidation, nil)
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeError(r.Context(), w, err, "deleteTenant")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toResponse(t service.Tenant) tenantResponse {
	return tenantResponse{
		ID:           t.ID.String(),
		Name:         t.Name,
		Slug:         t.Slug,
		IsActive:     t.IsActive,
		DatabaseName: t.DatabaseName,
		CacheNS:      t.CacheNS,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error, op string) {
	status, title, detail, problemType, fields := classifyError(err)

	logger := h.loggerFrom(ctx).With(zap.String("operation", op), zap.Int("status", status))
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("tenant operation failed", zap.Error(err))
	case status == http.StatusNotFound:
		logger.Info("tenant not found", zap.Error(err))
	default:
		logger.Warn("tenant request rejected", zap.Error(err))
	}

	h.writeProblem(w, status, title, detail, problemType, fields)
}

func classifyError(err error) (status int, title, detail, problemType string, fields service.FieldErrors) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "Validation failed", "one or more fields are invalid", problemTypeValidation, validationErr.Fields
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "Resource not found", "tenant not found", problemTypeNotFound, nil
	case errors.Is(err, service.ErrConflictSlug):
		return http.StatusConflict, "Conflict", "tenant slug already exists", problemTypeConflict, nil
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
