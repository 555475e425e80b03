package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"havosec-api/internal/models"
	"havosec-api/internal/repository"
)

// EventStore keeps events in insertion order behind a RWMutex.
// Readers work on cloned snapshots.
type EventStore struct {
	mu     sync.RWMutex
	events []*models.SecurityEvent
	byID   map[string]int
}

func NewEventStore() *EventStore {
	return &EventStore{byID: make(map[string]int)}
}

var _ repository.EventStore = (*EventStore)(nil)

func (s *EventStore) InsertEvents(_ context.Context, events []*models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if _, ok := s.byID[e.ID]; ok {
			return fmt.Errorf("%w: event %s", repository.ErrAlreadyExists, e.ID)
		}
	}
	for _, e := range events {
		s.byID[e.ID] = len(s.events)
		s.events = append(s.events, e.Clone())
	}
	return nil
}

// UpsertEvents lets the store act as a mirror sink in tests.
func (s *EventStore) UpsertEvents(_ context.Context, events []*models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if i, ok := s.byID[e.ID]; ok {
			s.events[i] = e.Clone()
			continue
		}
		s.byID[e.ID] = len(s.events)
		s.events = append(s.events, e.Clone())
	}
	return nil
}

func (s *EventStore) Name() string { return "memory" }

func (s *EventStore) GetEvent(_ context.Context, id string) (*models.SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: event %s", repository.ErrNotFound, id)
	}
	return s.events[i].Clone(), nil
}

func (s *EventStore) UpdateStatus(_ context.Context, id string, status models.EventStatus, updatedAt time.Time) (*models.SecurityEvent, error) {
	return s.mutate(id, func(e *models.SecurityEvent) {
		e.Status = status
		e.UpdatedAt = updatedAt
	})
}

func (s *EventStore) AppendMitigation(_ context.Context, id string, action models.MitigationAction, updatedAt time.Time) (*models.SecurityEvent, error) {
	return s.mutate(id, func(e *models.SecurityEvent) {
		e.MitigationActions = append(e.MitigationActions, action)
		e.UpdatedAt = updatedAt
	})
}

func (s *EventStore) Assign(_ context.Context, id, assignee string, updatedAt time.Time) (*models.SecurityEvent, error) {
	return s.mutate(id, func(e *models.SecurityEvent) {
		e.AssignedTo = assignee
		e.UpdatedAt = updatedAt
	})
}

func (s *EventStore) mutate(id string, fn func(*models.SecurityEvent)) (*models.SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: event %s", repository.ErrNotFound, id)
	}
	updated := s.events[i].Clone()
	fn(updated)
	s.events[i] = updated
	return updated.Clone(), nil
}

// snapshot returns the matching events in insertion order.
func (s *EventStore) snapshot(filter repository.EventFilter) []*models.SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.SecurityEvent
	for _, e := range s.events {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (s *EventStore) CountEvents(ctx context.Context, filter repository.EventFilter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return int64(len(s.snapshot(filter))), nil
}

func (s *EventStore) FindEvents(ctx context.Context, filter repository.EventFilter, opts repository.FindOptions) ([]*models.SecurityEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matched := s.snapshot(filter)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := opts.Skip
	if start > total {
		start = total
	}
	end := total
	if opts.Limit > 0 && start+opts.Limit < total {
		end = start + opts.Limit
	}

	page := make([]*models.SecurityEvent, 0, end-start)
	for _, e := range matched[start:end] {
		page = append(page, e.Clone())
	}
	return page, nil
}

// GroupCount returns groups in first-seen (insertion) order.
func (s *EventStore) GroupCount(ctx context.Context, filter repository.EventFilter, key repository.GroupKey) ([]repository.GroupCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var groups []repository.GroupCount
	index := make(map[string]int)

	for _, e := range s.snapshot(filter) {
		var (
			label  string
			bucket *models.TimeBucket
		)
		switch key {
		case repository.GroupByEventType:
			label = string(e.EventType)
		case repository.GroupBySeverity:
			label = string(e.Severity)
		case repository.GroupBySourceIP:
			label = e.Source.IP
		case repository.GroupByHour:
			b := models.HourBucket(e.CreatedAt)
			bucket = &b
			label = b.Start().Format(time.RFC3339)
		case repository.GroupByDay:
			b := models.DayBucket(e.CreatedAt)
			bucket = &b
			label = b.Start().Format(time.RFC3339)
		default:
			return nil, fmt.Errorf("unsupported group key %q", key)
		}

		if i, ok := index[label]; ok {
			groups[i].Count++
			continue
		}
		index[label] = len(groups)
		row := repository.GroupCount{Bucket: bucket, Count: 1}
		if bucket == nil {
			row.Key = label
		}
		groups = append(groups, row)
	}
	return groups, nil
}
