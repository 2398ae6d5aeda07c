package discord

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Bot owns the gateway session and the registered commands.
type Bot struct {
	session *discordgo.Session
	guildID string
	router  *Router
}

// NewBot creates a session for token. guildID scopes command registration to one guild
// (faster propagation while developing); empty registers globally.
func NewBot(token, guildID string, router *Router) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds
	b := &Bot{session: session, guildID: guildID, router: router}
	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("discord ready", slog.String("user", r.User.Username), slog.Int("guilds", len(r.Guilds)), slog.String("component", "discord"))
	})
	session.AddHandler(router.HandleInteraction)
	return b, nil
}

// Session exposes the underlying session as the notifier's MessageSender.
func (b *Bot) Session() *discordgo.Session { return b.session }

// Open connects to the gateway and overwrites the application's commands.
func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	cmds, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.guildID, Commands())
	if err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}
	slog.Info("slash commands registered", slog.Int("count", len(cmds)), slog.String("guild_id", b.guildID), slog.String("component", "discord"))
	return nil
}

// HeartbeatLatency is the gateway round trip, reported on /status.
func (b *Bot) HeartbeatLatency() time.Duration {
	return b.session.HeartbeatLatency()
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	return b.session.Close()
}
