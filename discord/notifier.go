// Package discord connects the Twitch monitor to Discord: go-live embeds and the /twitch command.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/chiyoko-haruka/chiyoko/store"
	"github.com/chiyoko-haruka/chiyoko/twitchapi"
)

// TwitchPurple is the embed accent color.
const TwitchPurple = 0x9146FF

// sendTimeout bounds one announcement request.
const sendTimeout = 10 * time.Second

// MessageSender is the subset of *discordgo.Session used to post announcements.
type MessageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts go-live embeds. With a nil Sender (Discord disabled) it only logs.
type Notifier struct {
	Sender MessageSender
	now    func() time.Time
}

// NewNotifier returns a notifier over sender.
func NewNotifier(sender MessageSender) *Notifier {
	return &Notifier{Sender: sender, now: time.Now}
}

// Notify sends one announcement for streamer to channelID.
func (n *Notifier) Notify(ctx context.Context, channelID string, streamer store.StreamerRecord, snap twitchapi.Snapshot) error {
	now := time.Now
	if n.now != nil {
		now = n.now
	}
	embed := LiveEmbed(streamer, snap, now())
	if n.Sender == nil {
		slog.Info("discord disabled, go-live not delivered", slog.String("channel_id", channelID), slog.String("streamer", streamer.Username), slog.String("title", snap.Title), slog.String("component", "discord"))
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	_, err := n.Sender.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: fmt.Sprintf("**%s** is live on Twitch!", displayName(streamer, snap)),
		Embeds:  []*discordgo.MessageEmbed{embed},
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send go-live message to %s: %w", channelID, err)
	}
	return nil
}

func displayName(streamer store.StreamerRecord, snap twitchapi.Snapshot) string {
	if snap.DisplayName != "" {
		return snap.DisplayName
	}
	return streamer.Username
}

// StreamURL is the public channel URL for login.
func StreamURL(login string) string {
	return "https://www.twitch.tv/" + strings.ToLower(login)
}

// previewURL is Twitch's live thumbnail; the query busts Discord's image cache between streams.
func previewURL(login string, at time.Time) string {
	return fmt.Sprintf("https://static-cdn.jtvnw.net/previews-ttv/live_user_%s-640x360.jpg?t=%d", strings.ToLower(login), at.Unix())
}

// LiveEmbed builds the announcement embed.
func LiveEmbed(streamer store.StreamerRecord, snap twitchapi.Snapshot, now time.Time) *discordgo.MessageEmbed {
	name := displayName(streamer, snap)
	embed := &discordgo.MessageEmbed{
		Title:       strings.TrimSpace(snap.Title),
		URL:         StreamURL(streamer.Username),
		Description: fmt.Sprintf("%s is now streaming. [Watch on Twitch](%s)", name, StreamURL(streamer.Username)),
		Color:       TwitchPurple,
		Author: &discordgo.MessageEmbedAuthor{
			Name: name,
			URL:  StreamURL(streamer.Username),
		},
		Image:     &discordgo.MessageEmbedImage{URL: previewURL(streamer.Username, now)},
		Timestamp: now.UTC().Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: "Twitch"},
	}
	if snap.ProfileImageURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: snap.ProfileImageURL}
		embed.Author.IconURL = snap.ProfileImageURL
	}
	if snap.Game != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Game", Value: snap.Game, Inline: true})
	}
	if snap.Viewers != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Viewers", Value: strconv.Itoa(*snap.Viewers), Inline: true})
	}
	if snap.UptimeMinutes != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Uptime", Value: FormatUptime(*snap.UptimeMinutes), Inline: true})
	}
	return embed
}

// FormatUptime renders minutes as "45m" or "2h 05m".
func FormatUptime(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh %02dm", minutes/60, minutes%60)
}
