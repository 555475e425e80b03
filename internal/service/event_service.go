package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"havosec-api/internal/metrics"
	"havosec-api/internal/models"
	"havosec-api/internal/repository"
	"havosec-api/internal/util"
)

const (
	UpdateKindCreated    = "created"
	UpdateKindStatus     = "status_changed"
	UpdateKindAssigned   = "assigned"
	UpdateKindMitigation = "mitigation_added"

	maxIngestBatch = 1000
)

// EventPublisher announces event changes to downstream consumers.
type EventPublisher interface {
	PublishEventUpdate(ctx context.Context, kind string, event *models.SecurityEvent) error
}

// EventInput is an event as submitted by a detection feed or an operator.
type EventInput struct {
	ID          string             `json:"id,omitempty" validate:"omitempty,max=64"`
	EventType   string             `json:"eventType" validate:"required"`
	Severity    string             `json:"severity" validate:"required"`
	Source      models.EventSource `json:"source"`
	Target      models.EventTarget `json:"target"`
	Description string             `json:"description" validate:"required,max=4000"`
	Details     models.Details     `json:"details,omitempty"`
	Status      string             `json:"status,omitempty"`
	AssignedTo  string             `json:"assignedTo,omitempty"`
	Tags        []string           `json:"tags,omitempty" validate:"max=50,dive,max=64"`
	CreatedAt   *time.Time         `json:"createdAt,omitempty"`
}

// EventService owns the lifecycle of security events after detection:
// ingestion, status transitions, assignment and mitigation records.
type EventService struct {
	store     repository.EventWriter
	sinks     []repository.EventSink
	publisher EventPublisher
	validate  *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

func NewEventService(store repository.EventWriter, logger *zap.Logger) *EventService {
	return &EventService{
		store:    store,
		validate: newValidator(),
		logger:   logger,
		now:      time.Now,
	}
}

// WithSinks adds secondary stores that receive a copy of every write.
func (s *EventService) WithSinks(sinks ...repository.EventSink) *EventService {
	s.sinks = append(s.sinks, sinks...)
	return s
}

func (s *EventService) WithPublisher(p EventPublisher) *EventService {
	s.publisher = p
	return s
}

func (s *EventService) WithClock(now func() time.Time) *EventService {
	s.now = now
	return s
}

// Ingest validates and stores a batch of events. The batch is rejected as a
// whole when any event is invalid.
func (s *EventService) Ingest(ctx context.Context, inputs []EventInput) ([]*models.SecurityEvent, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no events supplied", ErrInvalidInput)
	}
	if len(inputs) > maxIngestBatch {
		return nil, fmt.Errorf("%w: at most %d events per batch", ErrInvalidInput, maxIngestBatch)
	}

	now := s.now().UTC()
	events := make([]*models.SecurityEvent, 0, len(inputs))
	for i := range inputs {
		event, err := s.buildEvent(&inputs[i], now)
		if err != nil {
			if len(inputs) > 1 {
				return nil, fmt.Errorf("event %d: %w", i, err)
			}
			return nil, err
		}
		events = append(events, event)
	}

	if err := s.store.InsertEvents(ctx, events); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: duplicate event id", ErrInvalidInput)
		}
		s.logger.Error("Failed to store security events",
			util.Int("count", len(events)),
			util.ErrorField(err))
		return nil, fmt.Errorf("failed to store events: %w", err)
	}

	s.fanOut(ctx, UpdateKindCreated, events...)

	s.logger.Info("Security events ingested", util.Int("count", len(events)))
	return events, nil
}

func (s *EventService) buildEvent(in *EventInput, now time.Time) (*models.SecurityEvent, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, describeValidation(err))
	}

	eventType := models.EventType(in.EventType)
	if !eventType.Valid() {
		return nil, fmt.Errorf("%w: unknown eventType %q", ErrInvalidInput, in.EventType)
	}
	severity := models.Severity(in.Severity)
	if !severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, in.Severity)
	}
	status := models.StatusDetected
	if in.Status != "" {
		status = models.EventStatus(in.Status)
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, in.Status)
		}
	}

	description := strings.TrimSpace(in.Description)
	if description == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}

	createdAt := now
	if in.CreatedAt != nil && !in.CreatedAt.IsZero() {
		createdAt = in.CreatedAt.UTC()
		if createdAt.After(now) {
			return nil, fmt.Errorf("%w: createdAt is in the future", ErrInvalidInput)
		}
	}

	tags := make([]string, 0, len(in.Tags))
	for _, t := range in.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	details := in.Details
	if details == nil {
		details = models.Details{}
	}

	return &models.SecurityEvent{
		ID:                id,
		EventType:         eventType,
		Severity:          severity,
		Source:            in.Source,
		Target:            in.Target,
		Description:       description,
		Details:           details,
		Status:            status,
		AssignedTo:        strings.TrimSpace(in.AssignedTo),
		Tags:              tags,
		MitigationActions: []models.MitigationAction{},
		CreatedAt:         createdAt,
		UpdatedAt:         now,
	}, nil
}

func (s *EventService) GetEvent(ctx context.Context, id string) (*models.SecurityEvent, error) {
	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, s.mapStoreError(err, id)
	}
	return event, nil
}

// UpdateStatus moves an event to a new status.
func (s *EventService) UpdateStatus(ctx context.Context, id, status, actor string) (*models.SecurityEvent, error) {
	st := models.EventStatus(status)
	if !st.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	event, err := s.store.UpdateStatus(ctx, id, st, s.now().UTC())
	if err != nil {
		return nil, s.mapStoreError(err, id)
	}

	s.logger.Info("Security event status updated",
		util.String("event_id", id),
		util.String("status", status),
		util.String("actor", actor))

	s.fanOut(ctx, UpdateKindStatus, event)
	return event, nil
}

// AddMitigationAction appends an action performed by actor.
func (s *EventService) AddMitigationAction(ctx context.Context, id, action, actor string) (*models.SecurityEvent, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return nil, fmt.Errorf("%w: action is required", ErrInvalidInput)
	}

	now := s.now().UTC()
	event, err := s.store.AppendMitigation(ctx, id, models.MitigationAction{
		Action:      action,
		Timestamp:   now,
		PerformedBy: actor,
	}, now)
	if err != nil {
		return nil, s.mapStoreError(err, id)
	}

	s.logger.Info("Mitigation action recorded",
		util.String("event_id", id),
		util.String("actor", actor))

	s.fanOut(ctx, UpdateKindMitigation, event)
	return event, nil
}

// Assign sets the operator responsible for the event. An empty assignee
// clears the assignment.
func (s *EventService) Assign(ctx context.Context, id, assignee string) (*models.SecurityEvent, error) {
	event, err := s.store.Assign(ctx, id, strings.TrimSpace(assignee), s.now().UTC())
	if err != nil {
		return nil, s.mapStoreError(err, id)
	}

	s.fanOut(ctx, UpdateKindAssigned, event)
	return event, nil
}

func (s *EventService) mapStoreError(err error, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	s.logger.Error("Security event store failure",
		util.String("event_id", id),
		util.ErrorField(err))
	return fmt.Errorf("failed to access event store: %w", err)
}

// fanOut copies events to the sinks and the publisher. Failures here are
// logged only; the primary store already holds the write.
func (s *EventService) fanOut(ctx context.Context, kind string, events ...*models.SecurityEvent) {
	for _, sink := range s.sinks {
		if err := sink.UpsertEvents(ctx, events); err != nil {
			metrics.SinkFailure(sink.Name())
			s.logger.Warn("Failed to mirror security events",
				util.String("sink", sink.Name()),
				util.Int("count", len(events)),
				util.ErrorField(err))
		}
	}
	if s.publisher == nil {
		return
	}
	for _, e := range events {
		if err := s.publisher.PublishEventUpdate(ctx, kind, e); err != nil {
			s.logger.Warn("Failed to publish security event update",
				util.String("event_id", e.ID),
				util.String("kind", kind),
				util.ErrorField(err))
		}
	}
}
