package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"havosec-api/internal/models"
	"havosec-api/internal/repository"
	"havosec-api/internal/repository/memory"
)

type recordingPublisher struct {
	mu    sync.Mutex
	kinds []string
	ids   []string
	err   error
}

func (p *recordingPublisher) PublishEventUpdate(_ context.Context, kind string, e *models.SecurityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, kind)
	p.ids = append(p.ids, e.ID)
	return p.err
}

type brokenSink struct{}

func (brokenSink) Name() string { return "broken" }

func (brokenSink) UpsertEvents(context.Context, []*models.SecurityEvent) error {
	return errors.New("sink offline")
}

func newEventService(t *testing.T) (*EventService, *memory.EventStore, *memory.EventStore, *recordingPublisher) {
	t.Helper()
	store := memory.NewEventStore()
	mirror := memory.NewEventStore()
	pub := &recordingPublisher{}
	svc := NewEventService(store, zaptest.NewLogger(t)).
		WithSinks(mirror, brokenSink{}).
		WithPublisher(pub).
		WithClock(func() time.Time { return fixedNow })
	return svc, store, mirror, pub
}

func validInput() EventInput {
	return EventInput{
		EventType:   string(models.EventTypeIntrusionAttempt),
		Severity:    string(models.SeverityHigh),
		Source:      models.EventSource{IP: "203.0.113.7", Country: "NL"},
		Target:      models.EventTarget{Endpoint: "/api/login", Service: "auth", Port: 443},
		Description: "  Brute force attempt on login  ",
		Details:     models.Details{"attempts": models.Number(42)},
		Tags:        []string{"bruteforce", " "},
	}
}

func TestIngest_AssignsDefaults(t *testing.T) {
	svc, store, mirror, pub := newEventService(t)

	events, err := svc.Ingest(context.Background(), []EventInput{validInput()})
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, models.StatusDetected, e.Status)
	assert.Equal(t, "Brute force attempt on login", e.Description)
	assert.Equal(t, []string{"bruteforce"}, e.Tags)
	assert.Equal(t, fixedNow, e.CreatedAt)
	assert.Equal(t, fixedNow, e.UpdatedAt)
	assert.NotNil(t, e.MitigationActions)

	stored, err := store.GetEvent(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, stored.ID)

	mirrored, err := mirror.GetEvent(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Description, mirrored.Description)

	assert.Equal(t, []string{UpdateKindCreated}, pub.kinds)
}

func TestIngest_KeepsPastCreatedAt(t *testing.T) {
	svc, _, _, _ := newEventService(t)
	in := validInput()
	past := fixedNow.Add(-48 * time.Hour)
	in.CreatedAt = &past
	in.ID = "feed-1"

	events, err := svc.Ingest(context.Background(), []EventInput{in})
	require.NoError(t, err)
	assert.Equal(t, "feed-1", events[0].ID)
	assert.Equal(t, past, events[0].CreatedAt)
}

func TestIngest_RejectsWholeBatch(t *testing.T) {
	svc, store, _, pub := newEventService(t)

	bad := validInput()
	bad.Severity = "urgent"
	_, err := svc.Ingest(context.Background(), []EventInput{validInput(), bad})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "event 1")

	n, err := store.CountEvents(context.Background(), repository.EventFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, pub.kinds)
}

func TestIngest_Validation(t *testing.T) {
	future := fixedNow.Add(time.Hour)
	cases := map[string]func(*EventInput){
		"missing type":      func(in *EventInput) { in.EventType = "" },
		"unknown type":      func(in *EventInput) { in.EventType = "worm" },
		"unknown status":    func(in *EventInput) { in.Status = "closed" },
		"blank description": func(in *EventInput) { in.Description = "   " },
		"future createdAt":  func(in *EventInput) { in.CreatedAt = &future },
		"long tag":          func(in *EventInput) { in.Tags = []string{strings.Repeat("x", 65)} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			svc, _, _, _ := newEventService(t)
			in := validInput()
			mutate(&in)
			_, err := svc.Ingest(context.Background(), []EventInput{in})
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestIngest_EmptyAndDuplicate(t *testing.T) {
	svc, _, _, _ := newEventService(t)

	_, err := svc.Ingest(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	in := validInput()
	in.ID = "dup"
	_, err = svc.Ingest(context.Background(), []EventInput{in})
	require.NoError(t, err)
	_, err = svc.Ingest(context.Background(), []EventInput{in})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLifecycleMutations(t *testing.T) {
	svc, _, mirror, pub := newEventService(t)
	ctx := context.Background()

	events, err := svc.Ingest(ctx, []EventInput{validInput()})
	require.NoError(t, err)
	id := events[0].ID
	createdAt := events[0].CreatedAt

	updated, err := svc.UpdateStatus(ctx, id, string(models.StatusInvestigating), "analyst@acme.io")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInvestigating, updated.Status)
	assert.Equal(t, createdAt, updated.CreatedAt)

	updated, err = svc.Assign(ctx, id, "  soc-oncall ")
	require.NoError(t, err)
	assert.Equal(t, "soc-oncall", updated.AssignedTo)

	updated, err = svc.AddMitigationAction(ctx, id, "Blocked IP at edge", "analyst@acme.io")
	require.NoError(t, err)
	require.Len(t, updated.MitigationActions, 1)
	assert.Equal(t, models.MitigationAction{
		Action:      "Blocked IP at edge",
		Timestamp:   fixedNow,
		PerformedBy: "analyst@acme.io",
	}, updated.MitigationActions[0])

	mirrored, err := mirror.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Len(t, mirrored.MitigationActions, 1)

	assert.Equal(t, []string{UpdateKindCreated, UpdateKindStatus, UpdateKindAssigned, UpdateKindMitigation}, pub.kinds)
}

func TestLifecycleErrors(t *testing.T) {
	svc, _, _, _ := newEventService(t)
	ctx := context.Background()

	_, err := svc.UpdateStatus(ctx, "missing", string(models.StatusResolved), "x")
	assert.ErrorIs(t, err, ErrEventNotFound)

	_, err = svc.UpdateStatus(ctx, "missing", "closed", "x")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.AddMitigationAction(ctx, "missing", " ", "x")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.GetEvent(ctx, "missing")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	svc, store, _, pub := newEventService(t)
	pub.err = errors.New("broker down")

	events, err := svc.Ingest(context.Background(), []EventInput{validInput()})
	require.NoError(t, err)

	_, err = store.GetEvent(context.Background(), events[0].ID)
	assert.NoError(t, err)
}
