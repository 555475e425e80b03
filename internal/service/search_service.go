package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"havosec-api/internal/models"
	"havosec-api/internal/util"
)

const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
	maxQueryLength     = 256
)

// EventSearcher is a full-text index over security events.
type EventSearcher interface {
	SearchEvents(ctx context.Context, query string, limit int) ([]*models.SecurityEvent, int64, error)
}

type SearchResult struct {
	Query   string                  `json:"query"`
	Total   int64                   `json:"total"`
	Results []*models.SecurityEvent `json:"results"`
}

type SearchService struct {
	index  EventSearcher
	logger *zap.Logger
}

// NewSearchService accepts a nil index; every search then reports
// ErrSearchUnavailable.
func NewSearchService(index EventSearcher, logger *zap.Logger) *SearchService {
	return &SearchService{index: index, logger: logger}
}

func (s *SearchService) Enabled() bool { return s.index != nil }

func (s *SearchService) Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	if s.index == nil {
		return nil, ErrSearchUnavailable
	}

	query = util.SanitizeInput(query)
	if query == "" {
		return nil, fmt.Errorf("%w: q is required", ErrInvalidInput)
	}
	if len(query) > maxQueryLength {
		return nil, fmt.Errorf("%w: q must be at most %d characters", ErrInvalidInput, maxQueryLength)
	}
	if limit == 0 {
		limit = DefaultSearchLimit
	}
	if limit < 1 || limit > MaxSearchLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidInput, MaxSearchLimit)
	}

	events, total, err := s.index.SearchEvents(ctx, query, limit)
	if err != nil {
		s.logger.Error("Event search failed",
			util.String("query", query),
			util.ErrorField(err))
		return nil, fmt.Errorf("failed to search events: %w", err)
	}
	if events == nil {
		events = []*models.SecurityEvent{}
	}

	return &SearchResult{
		Query:   query,
		Total:   total,
		Results: events,
	}, nil
}
