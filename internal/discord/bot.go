// Package discord is the Discord front end of Earshot. It owns the
// discordgo.Session lifecycle, routes slash commands and buttons to
// registered handlers, and answers voice and membership lookups from the
// gateway state.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/earshot/pkg/audio"
	discordaudio "github.com/MrWong99/earshot/pkg/audio/discord"
)

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// GuildID restricts command registration to one guild. Empty registers
	// global commands.
	GuildID string
}

// Bot owns the Discord gateway connection and routes interactions to
// registered command handlers.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	platform  *discordaudio.Platform
	router    *CommandRouter
	guildID   string
	commands  []*discordgo.ApplicationCommand
	closeOnce sync.Once
}

// New connects to Discord and installs the interaction handler.
func New(_ context.Context, cfg Config) (*Bot, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord: empty token")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates

	b := &Bot{
		session:  session,
		platform: discordaudio.New(session),
		router:   NewCommandRouter(),
		guildID:  cfg.GuildID,
	}
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}
	return b, nil
}

// Platform returns the voice platform backed by this session.
func (b *Bot) Platform() audio.Platform {
	return b.platform
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// UserVoiceChannel returns the voice channel userID is in, from the gateway
// state cache.
func (b *Bot) UserVoiceChannel(guildID, userID string) (string, bool) {
	vs, err := b.session.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}

// IsMember reports whether userID belongs to guildID. The state cache is
// consulted first and the REST API second.
func (b *Bot) IsMember(guildID, userID string) bool {
	if m, err := b.session.State.Member(guildID, userID); err == nil && m != nil {
		return true
	}
	m, err := b.session.GuildMember(guildID, userID)
	return err == nil && m != nil
}

// Run registers the router's slash commands and blocks until ctx is
// cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.RLock()
	appID := b.session.State.User.ID
	b.mu.RUnlock()

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord: commands registered", "count", len(registered), "guild", b.guildID)
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close unregisters the commands and disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if len(b.commands) > 0 {
			appID := b.session.State.User.ID
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}
		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		slog.Info("discord: bot closed")
	})
	return closeErr
}
