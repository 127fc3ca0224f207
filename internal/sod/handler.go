package sod

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-authz/aegis/internal/platform/httpx"
)

// CheckAssignmentRequest asks whether an actor may take a role.
type CheckAssignmentRequest struct {
	ActorID int64 `json:"actor_id" validate:"required,gt=0"`
	RoleID  int64 `json:"role_id" validate:"required,gt=0"`
}

// Handler exposes SoD endpoints.
type Handler struct {
	logger   *slog.Logger
	checker  *Checker
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, checker *Checker) *Handler {
	return &Handler{logger: logger, checker: checker, validate: validator.New()}
}

// MountRoutes registers SoD routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.check)
	r.Post("/scan", h.scan)
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req CheckAssignmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.checker.CheckAssignment(r.Context(), req.ActorID, req.RoleID)
	if err != nil {
		h.logger.Warn("sod check", slog.Int64("actor_id", req.ActorID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	findings, err := h.checker.ScanAllUsers(r.Context())
	if err != nil {
		h.logger.Error("sod scan", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if findings == nil {
		findings = []ActorViolations{}
	}
	httpx.JSON(w, http.StatusOK, findings)
}
