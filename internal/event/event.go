// Package event defines the contracts carried on the Redis streams that
// connect the gateway process to the bot's consumer workers, plus the
// producer and consumer plumbing around them.
package event

// Stream names. The gateway appends to these; each worker pool reads its own
// stream through a consumer group so horizontal scaling splits the load.
const (
	// MessageStream carries guild message creations for spam evaluation.
	MessageStream = "events:messages"

	// InteractionStream carries component clicks and reactions on alert cards.
	InteractionStream = "events:interactions"

	// CommandStream carries slash command invocations.
	CommandStream = "events:commands"
)

// Interaction kinds distinguish how a moderator expressed a resolution.
const (
	InteractionKindComponent = "component"
	InteractionKindReaction  = "reaction"
)

// MessageEvent describes a message created in a guild channel. The gateway
// forwards every non-system message; filtering (bots, blank content,
// disabled guilds) happens consumer-side so policy changes do not require a
// gateway deploy.
type MessageEvent struct {
	EventID         string `json:"eventId"`
	GuildID         uint64 `json:"guildId"`
	ChannelID       uint64 `json:"channelId"`
	MessageID       uint64 `json:"messageId"`
	UserID          uint64 `json:"userId"`
	Username        string `json:"username"`
	Content         string `json:"content"`
	AttachmentCount int    `json:"attachmentCount"`
	IsBot           bool   `json:"isBot"`
	Timestamp       int64  `json:"timestamp"` // Unix seconds of message creation

	// JoinedAt is the author's guild join time in Unix seconds, set when the
	// gateway had the member payload. Absent, the consumer falls back to a
	// platform lookup.
	JoinedAt *int64 `json:"joinedAt,omitempty"`
}

// InteractionEvent describes a moderator acting on an alert card, either by
// clicking one of its buttons or by reacting to it.
type InteractionEvent struct {
	EventID   string `json:"eventId"`
	Kind      string `json:"kind"`
	GuildID   uint64 `json:"guildId"`
	ChannelID uint64 `json:"channelId"`
	MessageID uint64 `json:"messageId"` // The alert card message
	UserID    uint64 `json:"userId"`
	Username  string `json:"username"`

	// Component fields, set when Kind is InteractionKindComponent.
	CustomID         string `json:"customId,omitempty"`
	ApplicationID    uint64 `json:"applicationId,omitempty"`
	InteractionID    uint64 `json:"interactionId,omitempty"`
	InteractionToken string `json:"interactionToken,omitempty"`

	// Reaction fields, set when Kind is InteractionKindReaction.
	Emoji string `json:"emoji,omitempty"`
}

// CommandEvent describes a slash command invocation. Options are carried as
// strings; the command consumer parses them against its own schema.
type CommandEvent struct {
	EventID          string            `json:"eventId"`
	GuildID          uint64            `json:"guildId"`
	ChannelID        uint64            `json:"channelId"`
	UserID           uint64            `json:"userId"`
	Username         string            `json:"username"`
	ApplicationID    uint64            `json:"applicationId"`
	InteractionID    uint64            `json:"interactionId"`
	InteractionToken string            `json:"interactionToken"`
	CommandName      string            `json:"commandName"`
	Subcommand       string            `json:"subcommand,omitempty"`
	Options          map[string]string `json:"options,omitempty"`
}
