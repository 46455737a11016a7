package discord

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc handles one interaction.
type HandlerFunc func(r Responder, i *discordgo.InteractionCreate)

type commandEntry struct {
	command *discordgo.ApplicationCommand
	handler HandlerFunc
}

// CommandRouter dispatches Discord interactions to registered handlers.
type CommandRouter struct {
	mu              sync.RWMutex
	commands        map[string]commandEntry // "command" or "command/subcommand"
	autocomplete    map[string]HandlerFunc
	components      map[string]HandlerFunc // custom_id
	componentPrefix map[string]HandlerFunc // custom_id prefix
}

// NewCommandRouter creates an empty router.
func NewCommandRouter() *CommandRouter {
	return &CommandRouter{
		commands:        make(map[string]commandEntry),
		autocomplete:    make(map[string]HandlerFunc),
		components:      make(map[string]HandlerFunc),
		componentPrefix: make(map[string]HandlerFunc),
	}
}

// RegisterCommand registers a handler for a slash command. The key is
// "command" or "command/subcommand" (e.g. "sound/play"). Only cmd's
// top-level definition is sent to Discord; register it once per command.
func (r *CommandRouter) RegisterCommand(key string, cmd *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[key] = commandEntry{command: cmd, handler: handler}
}

// RegisterHandler registers a handler for a key whose parent command is
// already registered.
func (r *CommandRouter) RegisterHandler(key string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[key] = commandEntry{handler: handler}
}

// RegisterAutocomplete registers an autocomplete handler.
func (r *CommandRouter) RegisterAutocomplete(key string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autocomplete[key] = handler
}

// RegisterComponent registers a handler for a button with this custom_id.
func (r *CommandRouter) RegisterComponent(customID string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[customID] = handler
}

// RegisterComponentPrefix registers a handler for every button whose
// custom_id starts with prefix, e.g. "sound:" matches "sound:<id>".
func (r *CommandRouter) RegisterComponentPrefix(prefix string, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.componentPrefix[prefix] = handler
}

// ApplicationCommands returns the deduplicated top-level command
// definitions for registration with the Discord API.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var cmds []*discordgo.ApplicationCommand
	for _, entry := range r.commands {
		if entry.command != nil && !seen[entry.command.Name] {
			seen[entry.command.Name] = true
			cmds = append(cmds, entry.command)
		}
	}
	return cmds
}

// Handle dispatches an interaction to the matching handler.
func (r *CommandRouter) Handle(resp Responder, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		r.handleApplicationCommand(resp, i)
	case discordgo.InteractionApplicationCommandAutocomplete:
		r.handleAutocomplete(resp, i)
	case discordgo.InteractionMessageComponent:
		r.handleComponent(resp, i)
	default:
		slog.Warn("discord: unhandled interaction type", "type", i.Type)
	}
}

// interactionKey builds a router key from an ApplicationCommand interaction.
func interactionKey(data discordgo.ApplicationCommandInteractionData) string {
	key := data.Name
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		key += "/" + data.Options[0].Name
	}
	return key
}

func (r *CommandRouter) handleApplicationCommand(resp Responder, i *discordgo.InteractionCreate) {
	key := interactionKey(i.ApplicationCommandData())

	r.mu.RLock()
	entry, ok := r.commands[key]
	r.mu.RUnlock()

	if !ok {
		slog.Warn("discord: unknown command", "key", key)
		RespondEphemeral(resp, i, "Unknown command.")
		return
	}
	entry.handler(resp, i)
}

func (r *CommandRouter) handleAutocomplete(resp Responder, i *discordgo.InteractionCreate) {
	key := interactionKey(i.ApplicationCommandData())

	r.mu.RLock()
	handler, ok := r.autocomplete[key]
	r.mu.RUnlock()

	if !ok {
		slog.Debug("discord: no autocomplete handler", "key", key)
		RespondChoices(resp, i, nil)
		return
	}
	handler(resp, i)
}

func (r *CommandRouter) handleComponent(resp Responder, i *discordgo.InteractionCreate) {
	customID := i.MessageComponentData().CustomID

	r.mu.RLock()
	handler, ok := r.components[customID]
	if !ok {
		for prefix, h := range r.componentPrefix {
			if strings.HasPrefix(customID, prefix) {
				handler, ok = h, true
				break
			}
		}
	}
	r.mu.RUnlock()

	if !ok {
		slog.Warn("discord: unknown component", "custom_id", customID)
		RespondEphemeral(resp, i, "Unknown component.")
		return
	}
	handler(resp, i)
}
