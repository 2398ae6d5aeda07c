package discord

import (
	"github.com/bwmarrin/discordgo"
)

var manageGuild int64 = discordgo.PermissionManageGuild

// Commands returns the slash command definitions registered by the bot.
func Commands() []*discordgo.ApplicationCommand {
	dm := false
	usernameOption := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "username",
		Description: "Twitch username",
		Required:    true,
		MaxLength:   25,
	}
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "twitch",
			Description:              "Twitch live notifications for this server",
			DefaultMemberPermissions: &manageGuild,
			DMPermission:             &dm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "add",
					Description: "Announce when a Twitch streamer goes live",
					Options: []*discordgo.ApplicationCommandOption{
						usernameOption,
						{
							Type:         discordgo.ApplicationCommandOptionChannel,
							Name:         "channel",
							Description:  "Channel for announcements (defaults to this channel)",
							ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews},
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "Stop announcing a Twitch streamer",
					Options:     []*discordgo.ApplicationCommandOption{usernameOption},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "List monitored Twitch streamers",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "channel",
					Description: "Set the announcement channel",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:         discordgo.ApplicationCommandOptionChannel,
							Name:         "channel",
							Description:  "Channel for announcements",
							Required:     true,
							ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews},
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "stats",
					Description: "Show monitor statistics",
				},
			},
		},
	}
}
