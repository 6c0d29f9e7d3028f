package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/crosswatch/crosswatch/internal/cache/scripts"
	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

const (
	// MaxTrackedMessages caps how many fingerprints are retained per user
	// regardless of the detection window, to bound memory per key.
	MaxTrackedMessages = 50

	// KeyTTL makes abandoned keys self-expire once a user stops posting.
	KeyTTL = time.Hour
)

// ErrCacheUnavailable indicates the Redis backend could not be reached.
// Callers decide whether to fail open (treat as no history) or fail the
// message; the cache itself does not choose a policy.
var ErrCacheUnavailable = errors.New("message cache unavailable")

// Message is the immutable fingerprint of one inbound message as stored in
// a user's sliding window.
type Message struct {
	Content         string `json:"content"`
	ChannelID       uint64 `json:"channelId"`
	MessageID       uint64 `json:"messageId"`
	Timestamp       int64  `json:"timestamp"` // Unix seconds; doubles as the window score
	AttachmentCount int    `json:"attachmentCount"`
}

// HasAttachments reports whether the message carried any attachments.
func (m *Message) HasAttachments() bool {
	return m.AttachmentCount > 0
}

// MessageCache stores per-(guild, user) sliding windows of recent message
// fingerprints in Redis sorted sets scored by post time. All mutations go
// through a single Lua script so concurrent adds for the same key cannot
// race each other.
type MessageCache struct {
	client rueidis.Client
	logger *zap.Logger
}

// NewMessageCache creates a message cache backed by the given Redis client.
func NewMessageCache(client rueidis.Client, logger *zap.Logger) *MessageCache {
	return &MessageCache{
		client: client,
		logger: logger.Named("message_cache"),
	}
}

// Add atomically inserts a message into the user's window, evicts entries
// outside the window or beyond the retained bound, refreshes the key TTL and
// returns the window contents prior to the insertion. Duplicate deliveries
// of the same message collapse into a single entry.
func (c *MessageCache) Add(
	ctx context.Context, guildID, userID uint64, msg *Message, window time.Duration,
) ([]*Message, error) {
	serialized, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	cutoff := time.Now().Unix() - int64(window.Seconds())

	resp := c.client.Do(ctx, c.client.B().Eval().
		Script(scripts.WindowAdd).
		Numkeys(1).
		Key(windowKey(guildID, userID)).
		Arg(
			strconv.FormatInt(msg.Timestamp, 10),
			string(serialized),
			strconv.FormatInt(cutoff, 10),
			strconv.Itoa(-MaxTrackedMessages),
			strconv.FormatInt(int64(KeyTTL.Seconds()), 10),
		).
		Build())
	if resp.Error() != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheUnavailable, resp.Error())
	}

	entries, err := resp.AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}

	prior := c.decodeEntries(entries)

	c.logger.Debug("Added message to window",
		zap.Uint64("guildID", guildID),
		zap.Uint64("userID", userID),
		zap.Int("priorCount", len(prior)))

	return prior, nil
}

// GetWindow returns the user's messages posted within the window without
// mutating the stored set.
func (c *MessageCache) GetWindow(
	ctx context.Context, guildID, userID uint64, window time.Duration,
) ([]*Message, error) {
	cutoff := time.Now().Unix() - int64(window.Seconds())

	resp := c.client.Do(ctx, c.client.B().Zrangebyscore().
		Key(windowKey(guildID, userID)).
		Min(strconv.FormatInt(cutoff, 10)).
		Max("+inf").
		Build())
	if resp.Error() != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheUnavailable, resp.Error())
	}

	entries, err := resp.AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}

	return c.decodeEntries(entries), nil
}

// Clear removes all tracked messages for a user in a guild.
func (c *MessageCache) Clear(ctx context.Context, guildID, userID uint64) error {
	err := c.client.Do(ctx, c.client.B().Del().Key(windowKey(guildID, userID)).Build()).Error()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}

	return nil
}

// decodeEntries deserializes raw sorted set members, dropping any that fail
// to parse. Corrupt entries only cost detection signal for one message.
func (c *MessageCache) decodeEntries(entries []string) []*Message {
	messages := make([]*Message, 0, len(entries))

	for _, entry := range entries {
		var msg Message
		if err := sonic.Unmarshal([]byte(entry), &msg); err != nil {
			c.logger.Warn("Dropping undecodable window entry", zap.Error(err))
			continue
		}

		messages = append(messages, &msg)
	}

	return messages
}

func windowKey(guildID, userID uint64) string {
	return fmt.Sprintf("messages:%d:%d", guildID, userID)
}
