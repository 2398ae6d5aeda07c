package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/chiyoko-haruka/chiyoko/monitor"
	"github.com/chiyoko-haruka/chiyoko/store"
)

// commandTimeout bounds the store write behind one slash command.
const commandTimeout = 10 * time.Second

// Router turns /twitch interactions into registry calls.
type Router struct {
	Registry *monitor.Registry
}

// NewRouter returns a router over reg.
func NewRouter(reg *monitor.Registry) *Router {
	return &Router{Registry: reg}
}

// HandleInteraction is registered as a discordgo handler.
func (rt *Router) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.ApplicationCommandData().Name != "twitch" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	resp := rt.Handle(ctx, i)
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: resp,
	}); err != nil {
		slog.Error("failed to respond to interaction", slog.String("guild_id", i.GuildID), slog.Any("err", err), slog.String("component", "discord"))
	}
}

// Handle executes one /twitch interaction and returns the reply.
func (rt *Router) Handle(ctx context.Context, i *discordgo.InteractionCreate) *discordgo.InteractionResponseData {
	if i.GuildID == "" {
		return ephemeral("This command can only be used in a server.")
	}
	if i.Member != nil && i.Member.Permissions&discordgo.PermissionManageGuild == 0 {
		return ephemeral("You need the Manage Server permission to configure Twitch notifications.")
	}
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return ephemeral("Unknown subcommand.")
	}
	sub := data.Options[0]
	opts := optionMap(sub.Options)
	slog.Debug("twitch command", slog.String("sub", sub.Name), slog.String("guild_id", i.GuildID), slog.String("component", "discord"))

	switch sub.Name {
	case "add":
		channelID := opts["channel"]
		if channelID == "" {
			channelID = i.ChannelID
		}
		rec, err := rt.Registry.AddStreamer(ctx, i.GuildID, channelID, opts["username"])
		if err != nil {
			return failure(err)
		}
		return reply(fmt.Sprintf("Now monitoring **%s**. Go-live announcements will be posted in <#%s>.", rec.Username, channelID))
	case "remove":
		if err := rt.Registry.RemoveStreamer(ctx, i.GuildID, opts["username"]); err != nil {
			return failure(err)
		}
		return reply(fmt.Sprintf("Stopped monitoring **%s**.", strings.TrimSpace(opts["username"])))
	case "list":
		list, err := rt.Registry.ListStreamers(i.GuildID)
		if err != nil {
			return failure(err)
		}
		channelID, _ := rt.Registry.NotificationChannel(i.GuildID)
		return &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{listEmbed(list, channelID)}}
	case "channel":
		channelID := opts["channel"]
		if err := rt.Registry.SetChannel(ctx, i.GuildID, channelID); err != nil {
			return failure(err)
		}
		return reply(fmt.Sprintf("Go-live announcements will be posted in <#%s>.", channelID))
	case "stats":
		return &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{statsEmbed(rt.Registry.Stats())}}
	default:
		return ephemeral("Unknown subcommand.")
	}
}

// optionMap flattens string and channel options to their raw values.
func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]string {
	out := make(map[string]string, len(options))
	for _, o := range options {
		if v, ok := o.Value.(string); ok {
			out[o.Name] = v
		}
	}
	return out
}

func reply(content string) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{Content: content}
}

func ephemeral(content string) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral}
}

func failure(err error) *discordgo.InteractionResponseData {
	res := monitor.NewResult(nil, err)
	if !monitor.IsValidation(err) {
		slog.Error("twitch command failed", slog.Any("err", err), slog.String("component", "discord"))
	}
	return ephemeral(res.Message)
}

func listEmbed(list []store.StreamerRecord, channelID string) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Title: "Monitored Twitch streamers", Color: TwitchPurple}
	if len(list) == 0 {
		embed.Description = "No streamers are monitored yet. Use `/twitch add` to start."
		return embed
	}
	var b strings.Builder
	for _, s := range list {
		status := "offline"
		if s.IsLive {
			status = "🔴 live"
		}
		fmt.Fprintf(&b, "• [%s](%s) - %s", s.Username, StreamURL(s.Username), status)
		if s.IsLive && s.LastStreamTitle != nil {
			fmt.Fprintf(&b, ": %s", *s.LastStreamTitle)
		}
		b.WriteString("\n")
	}
	embed.Description = b.String()
	embed.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("%d streamer(s)", len(list))}
	if channelID != "" {
		embed.Fields = []*discordgo.MessageEmbedField{{Name: "Channel", Value: "<#" + channelID + ">"}}
	}
	return embed
}

func statsEmbed(st monitor.Stats) *discordgo.MessageEmbed {
	running := "stopped"
	if st.IsMonitoring {
		running = "running"
	}
	return &discordgo.MessageEmbed{
		Title: "Twitch monitor",
		Color: TwitchPurple,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Servers", Value: fmt.Sprint(st.TotalGuilds), Inline: true},
			{Name: "Streamers", Value: fmt.Sprint(st.TotalStreamers), Inline: true},
			{Name: "Live now", Value: fmt.Sprint(st.LiveStreamers), Inline: true},
			{Name: "Monitor", Value: running, Inline: true},
		},
	}
}
