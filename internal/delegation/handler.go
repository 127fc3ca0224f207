package delegation

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/aegis-authz/aegis/internal/platform/httpx"
	"github.com/aegis-authz/aegis/internal/shared"
)

// Handler exposes delegation lifecycle endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers delegation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/revoke", h.revoke)
	r.Get("/", h.listForDelegate)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateDelegationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	d, err := h.service.Create(r.Context(), CreateInput{
		DelegatorID:       req.DelegatorID,
		DelegateID:        req.DelegateID,
		RoleID:            req.RoleID,
		PermissionIDs:     req.PermissionIDs,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		Reason:            req.Reason,
		ScopeRestrictions: req.ScopeRestrictions,
		AutoRevoke:        req.AutoRevoke,
	})
	if err != nil {
		h.logger.Warn("create delegation", slog.Int64("delegate_id", req.DelegateID), slog.Any("error", err))
		switch {
		case errors.Is(err, ErrRoleNotDelegable), errors.Is(err, ErrEmptyGrant):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Not Delegable", err.Error())
		case errors.Is(err, ErrDuplicate):
			httpx.Problem(w, http.StatusConflict, "Duplicate Delegation", err.Error())
		default:
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(d))
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(d))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "approver identity required")
		return
	}
	var req ApproveDelegationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	d, err := h.service.Approve(r.Context(), id, principal.ActorID, req.Approved, req.Comments)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(d))
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "revoker identity required")
		return
	}
	var req RevokeDelegationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	d, err := h.service.Revoke(r.Context(), id, principal.ActorID, req.Reason)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(d))
}

func (h *Handler) listForDelegate(w http.ResponseWriter, r *http.Request) {
	delegateID, err := strconv.ParseInt(r.URL.Query().Get("delegate_id"), 10, 64)
	if err != nil || delegateID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "delegate_id query parameter required")
		return
	}
	delegations, err := h.service.ListForDelegate(r.Context(), delegateID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]DelegationResponse, 0, len(delegations))
	for _, d := range delegations {
		out = append(out, toResponse(d))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid delegation id")
		return uuid.Nil, false
	}
	return id, true
}
