package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"havosec-api/internal/models"
	"havosec-api/internal/repository"
	"havosec-api/internal/repository/memory"
	"havosec-api/internal/service"
)

// fakeReader serves queued messages then blocks until the context ends.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	drained   chan struct{}
}

func newFakeReader(values ...string) *fakeReader {
	r := &fakeReader{drained: make(chan struct{})}
	for i, v := range values {
		r.queue = append(r.queue, kafka.Message{Offset: int64(i), Value: []byte(v)})
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	if len(r.queue) == 0 {
		select {
		case <-r.drained:
		default:
			close(r.drained)
		}
	}
	return nil
}

func runUntilDrained(t *testing.T, c *Consumer, r *fakeReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-r.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain the queue")
	}
	cancel()
	require.NoError(t, <-done)
}

const singleEvent = `{"eventType":"attack_blocked","severity":"high","description":"SQLi blocked","source":{"ip":"198.51.100.1"}}`

func TestConsumer_IngestsAndCommitsEverything(t *testing.T) {
	store := memory.NewEventStore()
	svc := service.NewEventService(store, zaptest.NewLogger(t))

	batch := `[{"eventType":"malware_detected","severity":"critical","description":"trojan"},
	           {"eventType":"system_alert","severity":"low","description":"disk"}]`
	reader := newFakeReader(
		singleEvent,
		"not json at all",
		batch,
		`{"eventType":"worm","severity":"low","description":"bad enum"}`,
	)
	runUntilDrained(t, NewConsumer(reader, svc, zaptest.NewLogger(t)), reader)

	assert.Equal(t, []int64{0, 1, 2, 3}, reader.committed)

	n, err := store.CountEvents(context.Background(), repository.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

type flakyIngester struct {
	failures int
	calls    int
}

func (f *flakyIngester) Ingest(_ context.Context, inputs []service.EventInput) ([]*models.SecurityEvent, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("mongo unavailable")
	}
	return make([]*models.SecurityEvent, len(inputs)), nil
}

func TestConsumer_RetriesStorageFailures(t *testing.T) {
	reader := newFakeReader(singleEvent)
	ing := &flakyIngester{failures: 2}
	c := NewConsumer(reader, ing, zaptest.NewLogger(t))

	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	runUntilDrained(t, c, reader)

	assert.Equal(t, 3, ing.calls)
	assert.Equal(t, []time.Duration{initialBackoff, 2 * initialBackoff}, slept)
	assert.Equal(t, []int64{0}, reader.committed)
}

func TestDecodeEvents(t *testing.T) {
	one, err := DecodeEvents([]byte("  " + singleEvent + "\n"))
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "198.51.100.1", one[0].Source.IP)

	withDetails, err := DecodeEvents([]byte(`{"eventType":"system_alert","severity":"low","description":"x","details":{"rule":942100,"tags":["owasp"]}}`))
	require.NoError(t, err)
	n, ok := withDetails[0].Details["rule"].AsNumber()
	require.True(t, ok)
	assert.Equal(t, 942100.0, n)

	for _, bad := range []string{"", "   ", "[]", "42", `{"eventType":`} {
		_, err := DecodeEvents([]byte(bad))
		assert.Error(t, err, "input %q", bad)
	}
}

type recordingProducer struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

func (p *recordingProducer) ProduceMessage(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	p.topic, p.key, p.value, p.headers = topic, key, value, headers
	return nil
}

func TestPublisher(t *testing.T) {
	prod := &recordingProducer{}
	pub := NewPublisher(prod, "security-events.updates")
	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	pub.now = func() time.Time { return at }

	event := &models.SecurityEvent{ID: "evt-9", EventType: models.EventTypeDDoSMitigated, Severity: models.SeverityCritical}
	require.NoError(t, pub.PublishEventUpdate(context.Background(), service.UpdateKindStatus, event))

	assert.Equal(t, "security-events.updates", prod.topic)
	assert.Equal(t, []byte("evt-9"), prod.key)
	assert.Equal(t, "critical", prod.headers["severity"])

	var got EventUpdate
	require.NoError(t, json.Unmarshal(prod.value, &got))
	assert.Equal(t, service.UpdateKindStatus, got.Kind)
	assert.Equal(t, "evt-9", got.Event.ID)
	assert.Equal(t, at, got.OccurredAt)
}
