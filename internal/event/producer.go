package event

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// payloadField is the single stream entry field holding the JSON payload.
const payloadField = "payload"

// MaxStreamLength bounds each stream so a stalled consumer group cannot grow
// Redis without limit. Trimming is approximate to keep appends cheap.
const MaxStreamLength = 100000

// Producer appends events to Redis streams.
type Producer struct {
	client rueidis.Client
	logger *zap.Logger
}

// NewProducer creates a producer on the given Redis client.
func NewProducer(client rueidis.Client, logger *zap.Logger) *Producer {
	return &Producer{
		client: client,
		logger: logger.Named("event_producer"),
	}
}

// Publish serializes the event and appends it to the stream.
func (p *Producer) Publish(ctx context.Context, stream string, event any) error {
	payload, err := sonic.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event for stream %s: %w", stream, err)
	}

	err = p.client.Do(ctx, p.client.B().Xadd().
		Key(stream).
		Maxlen().Almost().Threshold(fmt.Sprintf("%d", MaxStreamLength)).
		Id("*").
		FieldValue().FieldValue(payloadField, string(payload)).
		Build(),
	).Error()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}

	p.logger.Debug("Published event", zap.String("stream", stream))

	return nil
}
