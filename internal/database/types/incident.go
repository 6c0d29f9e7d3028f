package types

import (
	"time"
	"unicode/utf8"

	"github.com/crosswatch/crosswatch/internal/database/types/enum"
	"github.com/uptrace/bun"
)

// MaxIncidentContentLength caps how much of the offending message is stored
// with the incident.
const MaxIncidentContentLength = 500

// Incident is the unit of moderation review: one detected spam or
// suspicious-new-account event awaiting or having received resolution.
// Created exactly once per detection; mutated exactly once by whichever
// resolution request wins; immutable thereafter.
type Incident struct {
	bun.BaseModel `bun:"table:incidents"`

	ID         int64               `bun:",pk,autoincrement"`
	GuildID    uint64              `bun:",notnull"`
	UserID     uint64              `bun:",notnull"`
	Username   string              `bun:",notnull"`
	Content    string              `bun:",type:text"`  // Truncated to MaxIncidentContentLength
	ChannelIDs []uint64            `bun:"channel_ids"` // Channels where the spam was posted
	Reason     enum.SpamReason     `bun:",notnull"`
	Status     enum.IncidentStatus `bun:",notnull,default:0"`

	// Where the human-readable alert card lives, attached after creation.
	AlertChannelID *uint64 `bun:",nullzero"`
	AlertMessageID *uint64 `bun:",nullzero"`

	// Resolution details, set once by the winning resolver.
	HandledByUserID   *uint64 `bun:",nullzero"`
	HandledByUsername *string `bun:",nullzero"`
	ModeratorNote     *string `bun:",nullzero"`

	CreatedAt time.Time  `bun:",notnull"`
	HandledAt *time.Time `bun:",nullzero"`
}

// IsPending reports whether the incident still awaits resolution.
func (i *Incident) IsPending() bool {
	return i.Status == enum.IncidentStatusPending
}

// TruncateContent returns content cut to the stored limit, backing off to a
// rune boundary so the cut never leaves invalid UTF-8 behind.
func TruncateContent(content string) string {
	if len(content) <= MaxIncidentContentLength {
		return content
	}

	cut := MaxIncidentContentLength
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}

	return content[:cut]
}
