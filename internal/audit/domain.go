package audit

import "time"

// TimelineRow is one immutable access record as rendered to reviewers.
type TimelineRow struct {
	At               time.Time      `json:"at"`
	Actor            string         `json:"actor"`
	ActorID          int64          `json:"actor_id"`
	Action           string         `json:"action"`
	Entity           string         `json:"entity"`
	EntityID         string         `json:"entity_id"`
	Success          bool           `json:"success"`
	RiskLevel        string         `json:"risk_level"`
	Reason           string         `json:"reason,omitempty"`
	FlaggedForReview bool           `json:"flagged_for_review"`
	DelegationID     string         `json:"delegation_id,omitempty"`
	Before           map[string]any `json:"before,omitempty"`
	After            map[string]any `json:"after,omitempty"`
}

// TimelineFilters narrows a timeline query.
type TimelineFilters struct {
	From         time.Time
	To           time.Time
	ActorID      int64
	Entity       string
	Action       string
	FlaggedOnly  bool
	Page         int
	PageSize     int
}

// PagingInfo describes position within a timeline result.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result wraps timeline rows with paging information.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}
