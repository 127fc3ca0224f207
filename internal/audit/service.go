package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aegis-authz/aegis/internal/shared"
)

// Repository provides the reads the timeline needs.
type Repository interface {
	TimelineWindow(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error)
	DelegationHistory(ctx context.Context, delegationID uuid.UUID) ([]TimelineRow, error)
}

// Service coordinates audit timeline retrieval. The log itself is append-only
// and written elsewhere; this is a read-only view over it.
type Service struct {
	repo Repository
}

// NewService builds a new audit timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline retrieves audit records with paging.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := s.repo.TimelineWindow(ctx, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// DelegationHistory returns the lifecycle trail of one delegation, oldest
// first. This is the derived view replacing any per-record embedded trail.
func (s *Service) DelegationHistory(ctx context.Context, delegationID uuid.UUID) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	return s.repo.DelegationHistory(ctx, delegationID)
}

// ActorLabel renders the actor column, mapping the system sentinel.
func ActorLabel(actorID int64) string {
	if actorID == shared.SystemActor {
		return "SYSTEM"
	}
	return fmt.Sprintf("actor:%d", actorID)
}
