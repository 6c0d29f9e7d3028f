package detection

import (
	"context"
	"time"

	"github.com/crosswatch/crosswatch/internal/cache"
	"github.com/crosswatch/crosswatch/internal/database/types/enum"
	"go.uber.org/zap"
)

// Settings carries the per-guild detection tuning for one evaluation. It is
// read as an immutable value; the detector never mutates it.
type Settings struct {
	MinChannels         int
	SimilarityThreshold float64
	Window              time.Duration
	NewAccountThreshold time.Duration
	AllowedLinks        []string
}

// Result is the outcome of evaluating one message against the user's recent
// window. MatchingMessages and ChannelIDs only ever contain evidence from
// tracks that crossed their threshold, so downstream deletion cannot touch
// innocuous messages.
type Result struct {
	IsSpam           bool
	Reason           enum.SpamReason
	MatchingMessages []*cache.Message
	ChannelIDs       []uint64
	MaxSimilarity    float64
	TotalAttachments int
}

// Detector correlates a user's messages across channels to decide whether a
// coordinated spam campaign has formed. Text and attachment evidence are
// tracked independently: pasted scam text and image flooding have unrelated
// similarity semantics, and merging them would let one dilute the other.
type Detector struct {
	cache  *cache.MessageCache
	logger *zap.Logger
}

// NewDetector creates a detector backed by the given message cache.
func NewDetector(msgCache *cache.MessageCache, logger *zap.Logger) *Detector {
	return &Detector{
		cache:  msgCache,
		logger: logger.Named("detector"),
	}
}

// Check records the message in the user's sliding window and evaluates the
// pre-insertion window for a cross-channel pattern. The atomic add returns
// history without the new message, so it is never compared against itself.
func (d *Detector) Check(
	ctx context.Context, guildID, userID uint64, msg *cache.Message, settings *Settings,
) (*Result, error) {
	prior, err := d.cache.Add(ctx, guildID, userID, msg, settings.Window)
	if err != nil {
		return nil, err
	}

	textMatches, maxSimilarity := d.findSimilarText(msg.Content, prior, settings.SimilarityThreshold)
	if normalizeContent(msg.Content) != "" {
		textMatches = append(textMatches, msg)
	}

	var attachmentMatches []*cache.Message

	if msg.HasAttachments() {
		for _, prev := range prior {
			if prev.HasAttachments() {
				attachmentMatches = append(attachmentMatches, prev)
			}
		}

		attachmentMatches = append(attachmentMatches, msg)
	}

	textChannels := distinctChannels(textMatches)
	attachmentChannels := distinctChannels(attachmentMatches)

	totalAttachments := 0
	for _, match := range attachmentMatches {
		totalAttachments += match.AttachmentCount
	}

	isTextSpam := len(textChannels) >= settings.MinChannels
	isAttachmentSpam := len(attachmentChannels) >= settings.MinChannels

	var reason enum.SpamReason

	switch {
	case isTextSpam && isAttachmentSpam:
		reason = enum.SpamReasonBoth
	case isTextSpam:
		reason = enum.SpamReasonSimilarText
	case isAttachmentSpam:
		reason = enum.SpamReasonAttachmentSpam
	default:
		reason = enum.SpamReasonNone
	}

	// Evidence only comes from the track that fired; the union covers the
	// case where both fired on the same message.
	var (
		matchingMessages []*cache.Message
		channelIDs       []uint64
	)

	switch reason {
	case enum.SpamReasonBoth:
		matchingMessages = unionMessages(textMatches, attachmentMatches)
		channelIDs = distinctChannels(matchingMessages)
	case enum.SpamReasonSimilarText:
		matchingMessages = textMatches
		channelIDs = textChannels
	case enum.SpamReasonAttachmentSpam:
		matchingMessages = attachmentMatches
		channelIDs = attachmentChannels
	case enum.SpamReasonNone, enum.SpamReasonNewAccountLink:
	}

	result := &Result{
		IsSpam:           isTextSpam || isAttachmentSpam,
		Reason:           reason,
		MatchingMessages: matchingMessages,
		ChannelIDs:       channelIDs,
		MaxSimilarity:    maxSimilarity,
		TotalAttachments: totalAttachments,
	}

	if result.IsSpam {
		d.logger.Warn("Spam pattern detected",
			zap.Uint64("guildID", guildID),
			zap.Uint64("userID", userID),
			zap.String("reason", reason.String()),
			zap.Int("textChannels", len(textChannels)),
			zap.Int("attachmentChannels", len(attachmentChannels)),
			zap.Float64("maxSimilarity", maxSimilarity))
	}

	return result, nil
}

// findSimilarText returns prior messages whose content scores at or above the
// threshold against the new content, plus the running maximum over all
// comparisons. Content that normalizes to empty never contributes to either;
// a plain TrimSpace would miss zero-width filler, which would then score 1.0
// against other zero-width filler.
func (d *Detector) findSimilarText(
	content string, prior []*cache.Message, threshold float64,
) ([]*cache.Message, float64) {
	if normalizeContent(content) == "" {
		return nil, 0
	}

	var (
		matches       []*cache.Message
		maxSimilarity float64
	)

	for _, prev := range prior {
		if normalizeContent(prev.Content) == "" {
			continue
		}

		score := Similarity(content, prev.Content)
		if score > maxSimilarity {
			maxSimilarity = score
		}

		if score >= threshold {
			matches = append(matches, prev)
		}
	}

	return matches, maxSimilarity
}

// distinctChannels returns the unique channel IDs across the given messages,
// in first-seen order.
func distinctChannels(messages []*cache.Message) []uint64 {
	seen := make(map[uint64]struct{}, len(messages))

	var channels []uint64

	for _, msg := range messages {
		if _, ok := seen[msg.ChannelID]; ok {
			continue
		}

		seen[msg.ChannelID] = struct{}{}
		channels = append(channels, msg.ChannelID)
	}

	return channels
}

// unionMessages merges two evidence sets, deduplicating by message ID.
func unionMessages(a, b []*cache.Message) []*cache.Message {
	seen := make(map[uint64]struct{}, len(a)+len(b))

	var merged []*cache.Message

	for _, msg := range append(append([]*cache.Message{}, a...), b...) {
		if _, ok := seen[msg.MessageID]; ok {
			continue
		}

		seen[msg.MessageID] = struct{}{}
		merged = append(merged, msg)
	}

	return merged
}
