package event

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// Handler processes one decoded stream payload. Returning an error leaves
// the entry pending in the consumer group so it is redelivered on restart.
type Handler func(ctx context.Context, payload []byte) error

const (
	// ReadBatchSize is how many entries one read fetches at most.
	ReadBatchSize = 32

	// ReadBlockDuration is how long a read waits for new entries before
	// returning empty-handed so the loop can observe context cancellation.
	ReadBlockDuration = 5 * time.Second
)

// Consumer reads one stream through a consumer group and feeds entries to a
// handler, acknowledging each entry only after the handler succeeds.
type Consumer struct {
	client   rueidis.Client
	stream   string
	group    string
	consumer string
	logger   *zap.Logger
}

// NewConsumer creates a consumer and ensures its group exists on the stream.
// The stream is created empty when it does not exist yet, so consumers can
// start before the gateway has published anything.
func NewConsumer(
	ctx context.Context, client rueidis.Client, stream, group, consumerName string, logger *zap.Logger,
) (*Consumer, error) {
	err := client.Do(ctx, client.B().XgroupCreate().
		Key(stream).Group(group).Id("0").Mkstream().Build(),
	).Error()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group %s on %s: %w", group, stream, err)
	}

	return &Consumer{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumerName,
		logger:   logger.Named("event_consumer").With(zap.String("stream", stream)),
	}, nil
}

// Run processes the stream until the context is cancelled. It first drains
// entries this consumer left pending in a previous run, then tails new ones.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	if err := c.drainPending(ctx, handler); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err //nolint:wrapcheck // context cancellation terminates the loop
		}

		entries, err := c.fetch(ctx, ">", true)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err //nolint:wrapcheck // context cancellation terminates the loop
			}

			c.logger.Error("Failed to read from stream", zap.Error(err))
			time.Sleep(time.Second)

			continue
		}

		c.dispatch(ctx, entries, handler)
	}
}

// drainPending replays entries that were delivered to this consumer name but
// never acknowledged, so a crash between delivery and ack loses nothing.
// Stops when a pass makes no progress; entries that still fail stay pending
// for the next restart rather than blocking new deliveries forever.
func (c *Consumer) drainPending(ctx context.Context, handler Handler) error {
	for {
		entries, err := c.fetch(ctx, "0", false)
		if err != nil {
			return fmt.Errorf("failed to drain pending entries: %w", err)
		}

		if len(entries) == 0 {
			return nil
		}

		c.logger.Info("Replaying pending entries", zap.Int("count", len(entries)))

		if acked := c.dispatch(ctx, entries, handler); acked == 0 {
			return nil
		}
	}
}

// fetch reads up to ReadBatchSize entries for this consumer. The id ">" asks
// for never-delivered entries; "0" asks for this consumer's pending ones.
func (c *Consumer) fetch(ctx context.Context, id string, block bool) ([]rueidis.XRangeEntry, error) {
	builder := c.client.B().Xreadgroup().Group(c.group, c.consumer).Count(ReadBatchSize)

	var cmd rueidis.Completed
	if block {
		cmd = builder.Block(ReadBlockDuration.Milliseconds()).Streams().Key(c.stream).Id(id).Build()
	} else {
		cmd = builder.Streams().Key(c.stream).Id(id).Build()
	}

	resp := c.client.Do(ctx, cmd)
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read stream %s: %w", c.stream, err)
	}

	streams, err := resp.AsXRead()
	if err != nil {
		return nil, fmt.Errorf("failed to parse stream response: %w", err)
	}

	return streams[c.stream], nil
}

// dispatch runs the handler for each entry and acknowledges successes,
// returning how many entries were acknowledged. Entries whose handler failed
// stay pending for replay.
func (c *Consumer) dispatch(ctx context.Context, entries []rueidis.XRangeEntry, handler Handler) int {
	acked := 0

	for _, entry := range entries {
		payload, ok := entry.FieldValues[payloadField]
		if !ok {
			// Malformed entries can never succeed; drop them.
			c.logger.Warn("Stream entry missing payload", zap.String("entryID", entry.ID))
			c.ack(ctx, entry.ID)

			acked++

			continue
		}

		if err := handler(ctx, []byte(payload)); err != nil {
			c.logger.Error("Handler failed, leaving entry pending",
				zap.String("entryID", entry.ID),
				zap.Error(err))

			continue
		}

		c.ack(ctx, entry.ID)

		acked++
	}

	return acked
}

func (c *Consumer) ack(ctx context.Context, entryID string) {
	err := c.client.Do(ctx, c.client.B().Xack().
		Key(c.stream).Group(c.group).Id(entryID).Build(),
	).Error()
	if err != nil {
		c.logger.Error("Failed to acknowledge entry",
			zap.String("entryID", entryID),
			zap.Error(err))
	}
}
