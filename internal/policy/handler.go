package policy

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegis-authz/aegis/internal/observability"
	"github.com/aegis-authz/aegis/internal/platform/httpx"
)

// EvaluateRequest is the sole inbound decision request callers use.
type EvaluateRequest struct {
	ActorID    int64             `json:"actor_id" validate:"required,gt=0"`
	Action     string            `json:"action" validate:"required,max=100"`
	Resource   string            `json:"resource" validate:"required,max=100"`
	ResourceID string            `json:"resource_id,omitempty" validate:"max=100"`
	Attributes map[string]string `json:"attributes,omitempty"`
	IP         string            `json:"ip,omitempty" validate:"omitempty,max=64"`
	UserAgent  string            `json:"user_agent,omitempty" validate:"max=512"`
	URL        string            `json:"url,omitempty" validate:"max=2048"`
}

// Handler exposes the decision endpoint.
type Handler struct {
	logger   *slog.Logger
	engine   *Engine
	metrics  *observability.Metrics
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, engine: engine, metrics: metrics, validate: validator.New()}
}

// MountRoutes registers the evaluation route.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/evaluate", h.evaluate)
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	ip := req.IP
	if ip == "" {
		ip = r.RemoteAddr
	}
	decision := h.engine.Evaluate(r.Context(), RequestContext{
		ActorID:    req.ActorID,
		Action:     req.Action,
		Resource:   req.Resource,
		ResourceID: req.ResourceID,
		Attributes: req.Attributes,
		IP:         ip,
		UserAgent:  req.UserAgent,
		URL:        req.URL,
	})
	if h.metrics != nil {
		h.metrics.ObserveDecision(decision.Allowed, string(decision.RiskLevel))
	}
	// Callers enforce requires_mfa themselves; the decision is always 200.
	httpx.JSON(w, http.StatusOK, decision)
}
