package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/schemaloom/schemaloom/domains/schemas/be/service"
	"github.com/schemaloom/schemaloom/platform/go/dsl"
	platformlogging "github.com/schemaloom/schemaloom/platform/go/logging"
)

const (
	problemTypeValidation = "https://schemaloom.dev/problems/validation-error"
	problemTypeNotFound   = "https://schemaloom.dev/problems/not-found"
	problemTypeReconcile  = "https://schemaloom.dev/problems/reconcile-failed"
	problemTypeInternal   = "https://schemaloom.dev/problems/internal-error"
)

// Service is the surface of the schema service consumed over HTTP.
type Service interface {
	Update(ctx context.Context, tenantID uuid.UUID, input service.UpdateInput) (service.UpdateResult, error)
	Overview(ctx context.Context, tenantID uuid.UUID) (service.Overview, error)
}

// Handler wires the schema service to the HTTP API.
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("schema service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the schema endpoints under a tenant-scoped router.
func (h *Handler) Routes(r chi.Router) {
	r.Put("/", h.update)
	r.Get("/", h.overview)
}

type updateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Definition  struct {
		Code string `json:"code"`
	} `json:"definition"`
}

type definitionPayload struct {
	Code string `json:"code"`
}

type updateResponse struct {
	ID                 uuid.UUID         `json:"id"`
	TenantID           uuid.UUID         `json:"tenantId"`
	Name               string            `json:"name"`
	Description        string            `json:"description"`
	Version            int               `json:"version"`
	Definition         definitionPayload `json:"definition"`
	Status             string            `json:"status"`
	IsActive           bool              `json:"isActive"`
	TablesCreated      int               `json:"tablesCreated"`
	ConstraintFailures int               `json:"constraintFailures"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

type overviewResponse struct {
	TenantID      uuid.UUID          `json:"tenantId"`
	SchemaName    string             `json:"schemaName"`
	Tables        []dsl.Table        `json:"tables"`
	Relationships []dsl.Relationship `json:"relationships"`
	TotalTables   int                `json:"totalTables"`
	TotalRows     int64              `json:"totalRows"`
	LastModified  *time.Time         `json:"lastModified,omitempty"`
	SavedCode     string             `json:"savedCode,omitempty"`
	Version       int                `json:"version,omitempty"`
	Introspected  bool               `json:"introspected"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		h.writeProblem(w, http.StatusBadRequest, "Invalid tenant id", err.Error(), problemTypeValidation, nil)
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeProblem(w, http.StatusBadRequest, "Invalid request body", err.Error(), problemTypeValidation, nil)
		return
	}

	result, err := h.svc.Update(r.Context(), tenantID, service.UpdateInput{
		Name:        req.Name,
		Description: req.Description,
		Code:        req.Definition.Code,
	})
	if err != nil {
		h.writeError(r.Context(), w, err, "updateSchema")
		return
	}

	h.writeJSON(w, http.StatusOK, updateResponse{
		ID:                 result.Definition.ID,
		TenantID:           result.Definition.TenantID,
		Name:               result.Definition.Name,
		Description:        result.Definition.Description,
		Version:            result.Definition.Version,
		Definition:         definitionPayload{Code: result.Definition.DSLText},
		Status:             result.Definition.Status,
		IsActive:           result.Definition.IsActive,
		TablesCreated:      result.TablesCreated,
		ConstraintFailures: result.ConstraintFailures,
		CreatedAt:          result.Definition.CreatedAt,
		UpdatedAt:          result.Definition.UpdatedAt,
	})
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		h.writeProblem(w, http.StatusBadRequest, "Invalid tenant id", err.Error(), problemTypeValidation, nil)
		return
	}

	overview, err := h.svc.Overview(r.Context(), tenantID)
	if err != nil {
		h.writeError(r.Context(), w, err, "schemaOverview")
		return
	}

	resp := overviewResponse{
		TenantID:      tenantID,
		SchemaName:    overview.SchemaName,
		Tables:        overview.Model.Tables,
		Relationships: overview.Model.Relationships,
		TotalTables:   overview.TotalTables,
		TotalRows:     overview.TotalRows,
		SavedCode:     overview.SavedCode,
		Version:       overview.Version,
		Introspected:  overview.Introspected,
	}
	if !overview.LastModified.IsZero() {
		lastModified := overview.LastModified
		resp.LastModified = &lastModified
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error, op string) {
	status, title, detail, problemType, fields := classifyError(err)

	logger := h.loggerFrom(ctx).With(zap.String("operation", op), zap.Int("status", status))
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("schema operation failed", zap.Error(err))
	case status == http.StatusNotFound:
		logger.Info("schema resource not found", zap.Error(err))
	default:
		logger.Warn("schema request rejected", zap.Error(err))
	}

	h.writeProblem(w, status, title, detail, problemType, fields)
}

func classifyError(err error) (status int, title, detail, problemType string, fields service.FieldErrors) {
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "Validation failed", "one or more fields are invalid", problemTypeValidation, validationErr.Fields
	case errors.Is(err, service.ErrTenantNotFound):
		return http.StatusNotFound, "Resource not found", "tenant not found", problemTypeNotFound, nil
	case errors.Is(err, service.ErrDefinitionNotFound):
		return http.StatusNotFound, "Resource not found", "schema definition not found", problemTypeNotFound, nil
	case errors.Is(err, service.ErrReconcileFailed):
		return http.StatusUnprocessableEntity, "Schema reconciliation failed", "the schema rebuild was rolled back; the previous definition remains inactive until a valid update succeeds", problemTypeReconcile, nil
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
