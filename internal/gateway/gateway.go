// Package gateway runs the Discord gateway connection and forwards the
// events the bot consumes onto the Redis streams. It holds no detection
// logic; policy lives entirely consumer-side.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/crosswatch/crosswatch/internal/event"
	"github.com/crosswatch/crosswatch/internal/worker/command"
	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// publishTimeout bounds each stream append so a Redis stall cannot back up
// the gateway's event loop indefinitely.
const publishTimeout = 5 * time.Second

// Listener owns the gateway connection and publishes inbound events.
type Listener struct {
	client   bot.Client
	producer *event.Producer
	logger   *zap.Logger
}

// New creates a gateway listener for the given bot token.
func New(token string, producer *event.Producer, logger *zap.Logger) (*Listener, error) {
	l := &Listener{
		producer: producer,
		logger:   logger.Named("gateway"),
	}

	client, err := disgo.New(token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMessages,
				gateway.IntentMessageContent,
				gateway.IntentGuildMessageReactions,
			),
		),
		bot.WithEventListeners(&events.ListenerAdapter{
			OnGuildMessageCreate:      l.onMessageCreate,
			OnComponentInteraction:    l.onComponentInteraction,
			OnApplicationCommandInteraction: l.onCommandInteraction,
			OnGuildMessageReactionAdd: l.onReactionAdd,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway client: %w", err)
	}

	l.client = client

	return l, nil
}

// Start registers the settings command and opens the gateway connection.
func (l *Listener) Start(ctx context.Context) error {
	l.logger.Info("Registering commands")

	_, err := l.client.Rest().SetGlobalCommands(l.client.ApplicationID(), []discord.ApplicationCommandCreate{
		settingsCommand(),
	})
	if err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	l.logger.Info("Opening gateway connection")

	if err := l.client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	return nil
}

// Close gracefully shuts down the gateway connection.
func (l *Listener) Close(ctx context.Context) {
	l.logger.Info("Closing gateway connection")
	l.client.Close(ctx)
}

func (l *Listener) onMessageCreate(e *events.GuildMessageCreate) {
	if e.Message.Author.System {
		return
	}

	msg := &event.MessageEvent{
		EventID:         uuid.New().String(),
		GuildID:         uint64(e.GuildID),
		ChannelID:       uint64(e.ChannelID),
		MessageID:       uint64(e.MessageID),
		UserID:          uint64(e.Message.Author.ID),
		Username:        e.Message.Author.Username,
		Content:         e.Message.Content,
		AttachmentCount: len(e.Message.Attachments),
		IsBot:           e.Message.Author.Bot,
		Timestamp:       e.MessageID.Time().Unix(),
	}

	// The member payload rides along on guild message creates, sparing the
	// consumer a join-time lookup.
	if e.Message.Member != nil {
		joined := e.Message.Member.JoinedAt.Unix()
		msg.JoinedAt = &joined
	}

	l.publish(event.MessageStream, msg)
}

func (l *Listener) onComponentInteraction(e *events.ComponentInteractionCreate) {
	if e.GuildID() == nil {
		return
	}

	// Acknowledge immediately; resolution happens asynchronously through the
	// interaction stream and edits the card when done.
	if err := e.DeferUpdateMessage(); err != nil {
		l.logger.Warn("Failed to defer component interaction", zap.Error(err))
	}

	l.publish(event.InteractionStream, &event.InteractionEvent{
		EventID:          uuid.New().String(),
		Kind:             event.InteractionKindComponent,
		GuildID:          uint64(*e.GuildID()),
		ChannelID:        uint64(e.Channel().ID()),
		MessageID:        uint64(e.Message.ID),
		UserID:           uint64(e.User().ID),
		Username:         e.User().Username,
		CustomID:         e.Data.CustomID(),
		ApplicationID:    uint64(e.ApplicationID()),
		InteractionID:    uint64(e.ID()),
		InteractionToken: e.Token(),
	})
}

func (l *Listener) onReactionAdd(e *events.GuildMessageReactionAdd) {
	if e.Member.User.Bot || e.Emoji.Name == nil {
		return
	}

	l.publish(event.InteractionStream, &event.InteractionEvent{
		EventID:   uuid.New().String(),
		Kind:      event.InteractionKindReaction,
		GuildID:   uint64(e.GuildID),
		ChannelID: uint64(e.ChannelID),
		MessageID: uint64(e.MessageID),
		UserID:    uint64(e.UserID),
		Username:  e.Member.User.Username,
		Emoji:     *e.Emoji.Name,
	})
}

func (l *Listener) onCommandInteraction(e *events.ApplicationCommandInteractionCreate) {
	data := e.SlashCommandInteractionData()
	if data.CommandName() != command.CommandName || e.GuildID() == nil {
		return
	}

	// Defer ephemerally; the command worker sends the reply as a followup.
	if err := e.DeferCreateMessage(true); err != nil {
		l.logger.Warn("Failed to defer command interaction", zap.Error(err))
	}

	subcommand := ""
	if data.SubCommandName != nil {
		subcommand = *data.SubCommandName
	}

	options := make(map[string]string)

	for _, opt := range data.All() {
		var value any
		if err := sonic.Unmarshal(opt.Value, &value); err != nil {
			continue
		}

		options[opt.Name] = fmt.Sprint(value)
	}

	l.publish(event.CommandStream, &event.CommandEvent{
		EventID:          uuid.New().String(),
		GuildID:          uint64(*e.GuildID()),
		ChannelID:        uint64(e.Channel().ID()),
		UserID:           uint64(e.User().ID),
		Username:         e.User().Username,
		ApplicationID:    uint64(e.ApplicationID()),
		InteractionID:    uint64(e.ID()),
		InteractionToken: e.Token(),
		CommandName:      data.CommandName(),
		Subcommand:       subcommand,
		Options:          options,
	})
}

func (l *Listener) publish(stream string, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := l.producer.Publish(ctx, stream, payload); err != nil {
		l.logger.Error("Failed to publish gateway event",
			zap.String("stream", stream),
			zap.Error(err))
	}
}
