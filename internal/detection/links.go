package detection

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	urlPattern = regexp.MustCompile(`https?://[^\s<>()\[\]]+`)

	// Discord's "jump to message" deep links embed the guild ID as the first
	// path segment after /channels/.
	messageLinkPattern = regexp.MustCompile(`^/channels/(\d+)(?:/|$)`)

	invitePathPattern = regexp.MustCompile(`^/invite/([A-Za-z0-9-]+)`)
)

// InviteResolver resolves an invite code to the ID of the guild it points at.
// Implemented against the chat platform's API by the action executor.
type InviteResolver interface {
	ResolveInviteGuild(ctx context.Context, code string) (uint64, error)
}

// JoinTimeFetcher looks up when a user joined a guild, used as a fallback
// when the inbound event did not carry the join time.
type JoinTimeFetcher interface {
	FetchJoinedAt(ctx context.Context, guildID, userID uint64) (*time.Time, error)
}

// LinkFlag is the evidence attached when a new account posts a suspicious
// link: which URL fired and how long the author had been a member.
type LinkFlag struct {
	URL       string
	MemberFor time.Duration
}

// LinkChecker flags messages from recently joined accounts that contain
// links outside the guild's allow-list. A single occurrence is enough; no
// message history is consulted.
type LinkChecker struct {
	resolver InviteResolver
	joins    JoinTimeFetcher
	logger   *zap.Logger
}

// NewLinkChecker creates a link checker with its platform collaborators.
func NewLinkChecker(resolver InviteResolver, joins JoinTimeFetcher, logger *zap.Logger) *LinkChecker {
	return &LinkChecker{
		resolver: resolver,
		joins:    joins,
		logger:   logger.Named("link_checker"),
	}
}

// Check returns a LinkFlag when the message contains a suspicious link and
// the author joined more recently than the guild's new-account threshold.
// Returns nil when nothing is flagged. An unknowable join time fails open:
// the message is not flagged rather than guessed at.
func (c *LinkChecker) Check(
	ctx context.Context, guildID, userID uint64, content string,
	joinedAt *time.Time, settings *Settings,
) (*LinkFlag, error) {
	suspicious := c.findSuspiciousURL(ctx, guildID, content, settings.AllowedLinks)
	if suspicious == "" {
		return nil, nil
	}

	// Only pay for the join-time lookup once a suspicious URL exists.
	if joinedAt == nil {
		fetched, err := c.joins.FetchJoinedAt(ctx, guildID, userID)
		if err != nil {
			return nil, err
		}

		joinedAt = fetched
	}

	if joinedAt == nil {
		c.logger.Debug("Join time unknowable, not flagging",
			zap.Uint64("guildID", guildID),
			zap.Uint64("userID", userID))

		return nil, nil
	}

	memberFor := time.Since(*joinedAt)
	if memberFor >= settings.NewAccountThreshold {
		return nil, nil
	}

	c.logger.Warn("New account posted suspicious link",
		zap.Uint64("guildID", guildID),
		zap.Uint64("userID", userID),
		zap.String("url", suspicious),
		zap.Duration("memberFor", memberFor))

	return &LinkFlag{URL: suspicious, MemberFor: memberFor}, nil
}

// findSuspiciousURL returns the first URL in content that is neither
// allow-listed nor a same-guild deep link or invite. Invites are resolved
// before being exempted; a failed resolution stays suspicious.
func (c *LinkChecker) findSuspiciousURL(
	ctx context.Context, guildID uint64, content string, allowedLinks []string,
) string {
	for _, raw := range urlPattern.FindAllString(content, -1) {
		parsed, err := url.Parse(strings.TrimRight(raw, ".,!?;:'\""))
		if err != nil || parsed.Hostname() == "" {
			continue
		}

		if isAllowedLink(parsed, allowedLinks) {
			continue
		}

		if c.isSameGuildLink(ctx, guildID, parsed) {
			continue
		}

		return raw
	}

	return ""
}

// isAllowedLink reports whether the URL matches an allow-list entry. Entries
// can be bare domains ("youtube.com"), which match the host and any
// subdomain, or domain+path prefixes ("twitch.tv/mychannel").
func isAllowedLink(parsed *url.URL, allowedLinks []string) bool {
	host := strings.ToLower(parsed.Hostname())
	hostAndPath := host + strings.ToLower(parsed.EscapedPath())

	for _, entry := range allowedLinks {
		allowed := strings.ToLower(strings.TrimSpace(entry))
		if allowed == "" {
			continue
		}

		allowed = strings.TrimPrefix(allowed, "https://")
		allowed = strings.TrimPrefix(allowed, "http://")
		allowed = strings.TrimSuffix(allowed, "/")

		if strings.Contains(allowed, "/") {
			if strings.HasPrefix(hostAndPath, allowed) {
				return true
			}

			continue
		}

		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}

	return false
}

// isSameGuildLink exempts links that stay inside the current guild: message
// deep links carrying the guild ID, and invites that resolve to it. Invites
// that cannot be resolved are treated as pointing elsewhere.
func (c *LinkChecker) isSameGuildLink(ctx context.Context, guildID uint64, parsed *url.URL) bool {
	host := strings.ToLower(parsed.Hostname())

	switch host {
	case "discord.com", "www.discord.com", "discordapp.com", "ptb.discord.com", "canary.discord.com":
		if match := messageLinkPattern.FindStringSubmatch(parsed.Path); match != nil {
			linkedGuild, err := strconv.ParseUint(match[1], 10, 64)
			return err == nil && linkedGuild == guildID
		}

		if match := invitePathPattern.FindStringSubmatch(parsed.Path); match != nil {
			return c.inviteLeadsTo(ctx, guildID, match[1])
		}
	case "discord.gg", "www.discord.gg":
		code := strings.Trim(parsed.Path, "/")
		if code != "" {
			return c.inviteLeadsTo(ctx, guildID, code)
		}
	}

	return false
}

func (c *LinkChecker) inviteLeadsTo(ctx context.Context, guildID uint64, code string) bool {
	destination, err := c.resolver.ResolveInviteGuild(ctx, code)
	if err != nil {
		c.logger.Debug("Failed to resolve invite, treating as external",
			zap.String("code", code), zap.Error(err))

		return false
	}

	return destination == guildID
}
