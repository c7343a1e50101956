package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"experiment_import_backend/internal/experiment/service"
	"experiment_import_backend/internal/experiment/transport"
	"experiment_import_backend/platform/httpkit"
	"experiment_import_backend/platform/validator"
)

// Handler handles HTTP requests for experiment imports.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidImportID  = "invalid import id"
	msgInvalidProgramID = "invalid program id"
)

// New creates a new experiment import handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// ListWorkflows lists the available import workflows.
// GET /api/v1/programs/:programId/experiment-imports/workflows
func (h *Handler) ListWorkflows(c *gin.Context) {
	if _, ok := programID(c); !ok {
		return
	}
	httpkit.OK(c, h.svc.Workflows())
}

// Import previews or commits an uploaded table. Commits are queued when
// asynchronous commits are enabled.
// POST /api/v1/programs/:programId/experiment-imports
func (h *Handler) Import(c *gin.Context) {
	program, ok := programID(c)
	if !ok {
		return
	}
	var req transport.ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}
	identity, ok := httpkit.MustGetIdentity(c)
	if !ok {
		return
	}

	if req.Commit && h.svc.QueuesCommits() {
		result, err := h.svc.Submit(c.Request.Context(), program, identity.UserID(), req)
		if httpkit.HandleError(c, err) {
			return
		}
		httpkit.Accepted(c, result)
		return
	}

	result, err := h.svc.Run(c.Request.Context(), program, identity.UserID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// GetImport returns the progress and result of an import.
// GET /api/v1/programs/:programId/experiment-imports/:importId
func (h *Handler) GetImport(c *gin.Context) {
	program, ok := programID(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("importId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidImportID, nil)
		return
	}

	result, err := h.svc.GetStatus(c.Request.Context(), program, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func programID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("programId"))
	if id == "" {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidProgramID, nil)
		return "", false
	}
	return id, true
}
