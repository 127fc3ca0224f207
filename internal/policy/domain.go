package policy

// RequestContext carries everything the engine needs for one decision. It is
// fully constructed by the caller; the engine never reads ambient state.
type RequestContext struct {
	ActorID    int64
	Action     string
	Resource   string
	ResourceID string
	Attributes map[string]string
	IP         string
	UserAgent  string
	URL        string
}

// DenialReason identifies why a request was denied.
type DenialReason string

const (
	// ReasonActorNotFound means the requesting actor is unknown.
	ReasonActorNotFound DenialReason = "actor_not_found"
	// ReasonActorInactive means the actor account is deactivated.
	ReasonActorInactive DenialReason = "actor_inactive"
	// ReasonInsufficientPermission means no effective permission matched.
	ReasonInsufficientPermission DenialReason = "insufficient_permission"
	// ReasonAttributeRestriction means an attribute refinement denied access.
	ReasonAttributeRestriction DenialReason = "attribute_restriction"
	// ReasonTimeRestricted means the request fell outside the role's hours.
	ReasonTimeRestricted DenialReason = "time_restricted"
	// ReasonIPRestricted means the origin is not on the role's IP allow-list.
	ReasonIPRestricted DenialReason = "ip_restricted"
	// ReasonInternalError means evaluation failed and the engine denied fail-safe.
	ReasonInternalError DenialReason = "internal error"
)

var reasonMessages = map[DenialReason]string{
	ReasonActorNotFound:          "actor not found",
	ReasonActorInactive:          "actor account is deactivated",
	ReasonInsufficientPermission: "no effective permission grants this action",
	ReasonAttributeRestriction:   "request attributes conflict with actor attributes",
	ReasonTimeRestricted:         "access is outside the permitted time window",
	ReasonIPRestricted:           "access from this network is not permitted",
	ReasonInternalError:          "internal error",
}

// Message returns the human-readable denial text.
func (r DenialReason) Message() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return string(r)
}

// Decision is the structured output of policy evaluation.
type Decision struct {
	Allowed       bool           `json:"allowed"`
	Reason        string         `json:"reason,omitempty"`
	RequiresMFA   bool           `json:"requires_mfa"`
	FieldMask     []string       `json:"field_mask,omitempty"`
	RecordFilters map[string]any `json:"record_filters,omitempty"`
	RiskLevel     RiskLevel      `json:"risk_level"`
}

func denied(reason DenialReason, risk RiskLevel) Decision {
	return Decision{Allowed: false, Reason: reason.Message(), RiskLevel: risk}
}
