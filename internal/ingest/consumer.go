package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"havosec-api/internal/metrics"
	"havosec-api/internal/models"
	"havosec-api/internal/service"
	"havosec-api/internal/util"
)

const (
	sourceKafka = "kafka"

	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// MessageReader is the subset of a Kafka consumer group reader we need.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Ingester stores validated events.
type Ingester interface {
	Ingest(ctx context.Context, inputs []service.EventInput) ([]*models.SecurityEvent, error)
}

// Consumer feeds events from the detection topic into the event service.
type Consumer struct {
	reader   MessageReader
	ingester Ingester
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewConsumer(reader MessageReader, ingester Ingester, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader:   reader,
		ingester: ingester,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Run consumes until ctx is cancelled. Malformed or invalid messages are
// logged and committed; storage failures are retried with backoff and the
// offset is left uncommitted until the write succeeds.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Security event consumer started")
	defer c.logger.Info("Security event consumer stopped")

	backoff := initialBackoff
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("Failed to fetch message", util.ErrorField(err), util.Duration("backoff", backoff))
			if err := c.sleep(ctx, backoff); err != nil {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}

		for {
			err = c.handle(ctx, msg)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to store events from message, retrying",
				util.Int64("offset", msg.Offset),
				util.Int("partition", msg.Partition),
				util.Duration("backoff", backoff),
				util.ErrorField(err))
			if err := c.sleep(ctx, backoff); err != nil {
				return nil
			}
			backoff = nextBackoff(backoff)
		}
		backoff = initialBackoff

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("Failed to commit offset", util.Int64("offset", msg.Offset), util.ErrorField(err))
		}
	}
}

// handle returns an error only for failures worth retrying.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	inputs, err := DecodeEvents(msg.Value)
	if err != nil {
		metrics.EventsRejected(sourceKafka, "malformed")
		c.logger.Warn("Dropping malformed message",
			util.Int64("offset", msg.Offset),
			util.Int("partition", msg.Partition),
			util.ErrorField(err))
		return nil
	}

	events, err := c.ingester.Ingest(ctx, inputs)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			metrics.EventsRejected(sourceKafka, "invalid")
			c.logger.Warn("Dropping invalid events",
				util.Int64("offset", msg.Offset),
				util.Int("count", len(inputs)),
				util.ErrorField(err))
			return nil
		}
		return err
	}

	metrics.EventsIngested(sourceKafka, len(events))
	return nil
}

// DecodeEvents accepts a single event object or an array of them.
func DecodeEvents(value []byte) ([]service.EventInput, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 {
		return nil, errors.New("empty message")
	}

	switch trimmed[0] {
	case '[':
		var inputs []service.EventInput
		if err := json.Unmarshal(trimmed, &inputs); err != nil {
			return nil, fmt.Errorf("invalid event array: %w", err)
		}
		if len(inputs) == 0 {
			return nil, errors.New("empty event array")
		}
		return inputs, nil
	case '{':
		var input service.EventInput
		if err := json.Unmarshal(trimmed, &input); err != nil {
			return nil, fmt.Errorf("invalid event object: %w", err)
		}
		return []service.EventInput{input}, nil
	default:
		return nil, errors.New("message is neither a JSON object nor an array")
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
