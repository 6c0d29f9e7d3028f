package gateway

import (
	"github.com/crosswatch/crosswatch/internal/database/types"
	"github.com/crosswatch/crosswatch/internal/worker/command"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/json"
)

// settingsCommand declares the /antispam command tree. Ranges mirror the
// validation bounds enforced by the command worker so Discord rejects most
// bad input before it reaches the stream.
func settingsCommand() discord.SlashCommandCreate {
	adminOnly := json.NewNullable(discord.PermissionManageGuild)

	return discord.SlashCommandCreate{
		Name:                     command.CommandName,
		Description:              "Configure spam protection for this server",
		DefaultMemberPermissions: &adminOnly,
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        command.SubcommandShow,
				Description: "Show the current settings",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        command.SubcommandEnable,
				Description: "Enable spam protection",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        command.SubcommandDisable,
				Description: "Disable spam protection",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        command.SubcommandAlertChannel,
				Description: "Set the channel where alerts are posted",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionChannel{
						Name:        "channel",
						Description: "Alert channel",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        command.SubcommandThresholds,
				Description: "Tune cross-channel correlation thresholds",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "min-channels",
						Description: "Distinct channels required before detection fires",
						MinValue:    intPtr(types.MinChannelsLowerBound),
						MaxValue:    intPtr(types.MinChannelsUpperBound),
					},
					discord.ApplicationCommandOptionFloat{
						Name:        "similarity",
						Description: "Text similarity threshold",
						MinValue:    floatPtr(types.SimilarityLowerBound),
						MaxValue:    floatPtr(types.SimilarityUpperBound),
					},
					discord.ApplicationCommandOptionInt{
						Name:        "window-seconds",
						Description: "Detection window in seconds",
						MinValue:    intPtr(types.WindowSecondsLowerBound),
						MaxValue:    intPtr(types.WindowSecondsUpperBound),
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        command.SubcommandLinks,
				Description: "Tune new-account link detection",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "enabled",
						Description: "Whether link detection runs",
					},
					discord.ApplicationCommandOptionInt{
						Name:        "threshold-hours",
						Description: "How recently joined an account must be to be flagged",
						MinValue:    intPtr(types.NewAccountHoursLowerBound),
						MaxValue:    intPtr(types.NewAccountHoursUpperBound),
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        command.SubcommandActions,
				Description: "Tune automatic actions on detection",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "delete-messages",
						Description: "Delete evidence messages",
					},
					discord.ApplicationCommandOptionBool{
						Name:        "mute",
						Description: "Mute the flagged user",
					},
					discord.ApplicationCommandOptionInt{
						Name:        "mute-minutes",
						Description: "Mute duration in minutes",
						MinValue:    intPtr(types.MuteMinutesLowerBound),
						MaxValue:    intPtr(types.MuteMinutesUpperBound),
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        command.SubcommandAllowLink,
				Description: "Allow links matching a domain or URL prefix",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "link",
						Description: "Domain or URL prefix",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        command.SubcommandRemoveLink,
				Description: "Remove an entry from the link allow-list",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "link",
						Description: "Entry to remove",
						Required:    true,
					},
				},
			},
		},
	}
}

func intPtr(v int) *int {
	return &v
}

func floatPtr(v float64) *float64 {
	return &v
}
