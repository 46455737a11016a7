package discord

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Responder answers interactions. [*discordgo.Session] implements it; tests
// use [mock.InteractionResponder].
type Responder interface {
	InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(i *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ Responder = (*discordgo.Session)(nil)

func respond(r Responder, i *discordgo.InteractionCreate, data *discordgo.InteractionResponseData) {
	err := r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		slog.Warn("discord: failed to respond", "err", err)
	}
}

// Respond sends a text message visible to the whole channel.
func Respond(r Responder, i *discordgo.InteractionCreate, content string) {
	respond(r, i, &discordgo.InteractionResponseData{Content: content})
}

// RespondEphemeral sends a text message only the invoking user sees.
func RespondEphemeral(r Responder, i *discordgo.InteractionCreate, content string) {
	respond(r, i, &discordgo.InteractionResponseData{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
}

// RespondError sends err as an ephemeral message.
func RespondError(r Responder, i *discordgo.InteractionCreate, err error) {
	RespondEphemeral(r, i, fmt.Sprintf("Error: %v", err))
}

// RespondEmbed sends an ephemeral embed.
func RespondEmbed(r Responder, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	respond(r, i, &discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{embed},
		Flags:  discordgo.MessageFlagsEphemeral,
	})
}

// RespondComponents sends a public message carrying message components.
func RespondComponents(r Responder, i *discordgo.InteractionCreate, content string, rows []discordgo.MessageComponent) {
	respond(r, i, &discordgo.InteractionResponseData{
		Content:    content,
		Components: rows,
	})
}

// RespondChoices answers an autocomplete interaction.
func RespondChoices(r Responder, i *discordgo.InteractionCreate, choices []*discordgo.ApplicationCommandOptionChoice) {
	err := r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	})
	if err != nil {
		slog.Warn("discord: failed to send autocomplete choices", "err", err)
	}
}

// Acknowledge answers a component interaction without changing its message.
func Acknowledge(r Responder, i *discordgo.InteractionCreate) {
	err := r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	if err != nil {
		slog.Warn("discord: failed to acknowledge component", "err", err)
	}
}

// DeferReply acknowledges a slow command. The answer follows with
// [FollowUp] or [FollowUpFiles].
func DeferReply(r Responder, i *discordgo.InteractionCreate, ephemeral bool) {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	err := r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		slog.Warn("discord: failed to defer reply", "err", err)
	}
}

// FollowUp sends a text message after [DeferReply].
func FollowUp(r Responder, i *discordgo.InteractionCreate, content string) {
	if _, err := r.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{Content: content}); err != nil {
		slog.Warn("discord: failed to send follow-up", "err", err)
	}
}

// FollowUpFiles sends attachments after [DeferReply].
func FollowUpFiles(r Responder, i *discordgo.InteractionCreate, content string, files []*discordgo.File) {
	_, err := r.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Files:   files,
	})
	if err != nil {
		slog.Warn("discord: failed to send files", "count", len(files), "err", err)
	}
}
