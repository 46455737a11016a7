// Package commands implements the Discord slash commands of Earshot.
package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/earshot/internal/discord"
	"github.com/MrWong99/earshot/internal/recorder"
	"github.com/MrWong99/earshot/internal/voice"
	"github.com/MrWong99/earshot/pkg/audio/wav"
)

const (
	// maxChunks caps the voiced chunks /download attaches.
	maxChunks = 10

	// defaultMinChunk is the shortest voiced chunk /download keeps when
	// min_duration is not given.
	defaultMinChunk = time.Second
)

// Whitelist is the consent registry. [*consent.Registry] implements it.
type Whitelist interface {
	Add(user string) (bool, error)
	Remove(user string) (bool, error)
	List() []string
}

// Recordings exports buffered voice. [*recorder.BufferStore] implements it.
type Recordings interface {
	Export(session, speaker string) (recorder.Snapshot, error)
}

// Follower joins a user's voice channel. [*voice.Manager] implements it.
type Follower interface {
	Follow(ctx context.Context, guildID, userID string) (string, error)
}

// Members checks guild membership. [*discord.Bot] implements it.
type Members interface {
	IsMember(guildID, userID string) bool
}

// RecorderConfig holds the dependencies of [RecorderCommands].
type RecorderConfig struct {
	Whitelist  Whitelist
	Recordings Recordings
	Voice      Follower

	// Members filters /list to the current guild. Nil lists everyone.
	Members Members

	// AttachmentSpan is the longest audio a single /download file holds.
	// Zero sends one file.
	AttachmentSpan time.Duration
}

// RecorderCommands implements the consent and recording commands.
type RecorderCommands struct {
	cfg RecorderConfig
}

// NewRecorderCommands creates the recorder commands.
func NewRecorderCommands(cfg RecorderConfig) *RecorderCommands {
	return &RecorderCommands{cfg: cfg}
}

// Register adds the recorder commands to router.
func (rc *RecorderCommands) Register(router *discord.CommandRouter) {
	for _, def := range rc.Definitions() {
		router.RegisterCommand(def.Name, def, rc.handler(def.Name))
	}
}

func (rc *RecorderCommands) handler(name string) discord.HandlerFunc {
	switch name {
	case "list":
		return rc.handleList
	case "join":
		return rc.handleJoin
	case "leave":
		return rc.handleLeave
	case "listen":
		return rc.handleListen
	case "download":
		return rc.handleDownload
	default:
		return rc.handleHelp
	}
}

// Definitions returns the top-level command definitions.
func (rc *RecorderCommands) Definitions() []*discordgo.ApplicationCommand {
	minChunks := 1.0
	return []*discordgo.ApplicationCommand{
		{Name: "list", Description: "List recordable users"},
		{Name: "join", Description: "Join recordable users list"},
		{Name: "leave", Description: "Leave recordable users list"},
		{Name: "listen", Description: "Join your voice channel"},
		{
			Name:        "download",
			Description: "Download a user's voice data",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "User to download data for",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "chunks",
					Description: "Only send the most recent voiced chunks",
					MinValue:    &minChunks,
					MaxValue:    maxChunks,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "min_duration",
					Description: "Shortest chunk to keep, e.g. 2s",
				},
			},
		},
		{Name: "help", Description: "Display help"},
	}
}

func (rc *RecorderCommands) handleList(r discord.Responder, i *discordgo.InteractionCreate) {
	var lines []string
	for _, user := range rc.cfg.Whitelist.List() {
		if rc.cfg.Members != nil && !rc.cfg.Members.IsMember(i.GuildID, user) {
			continue
		}
		lines = append(lines, "- <@"+user+">")
	}
	if len(lines) == 0 {
		discord.Respond(r, i, "*Nobody.*")
		return
	}
	discord.Respond(r, i, strings.Join(lines, "\n"))
}

func (rc *RecorderCommands) handleJoin(r discord.Responder, i *discordgo.InteractionCreate) {
	if _, err := rc.cfg.Whitelist.Add(discord.UserID(i)); err != nil {
		discord.RespondError(r, i, err)
		return
	}
	discord.Respond(r, i, "You are now in the whitelist.")
}

func (rc *RecorderCommands) handleLeave(r discord.Responder, i *discordgo.InteractionCreate) {
	if _, err := rc.cfg.Whitelist.Remove(discord.UserID(i)); err != nil {
		discord.RespondError(r, i, err)
		return
	}
	discord.Respond(r, i, "You have been removed from the whitelist.")
}

func (rc *RecorderCommands) handleListen(r discord.Responder, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := rc.cfg.Voice.Follow(ctx, i.GuildID, discord.UserID(i))
	switch {
	case errors.Is(err, voice.ErrUserNotInVoice):
		discord.Respond(r, i, "You aren't in a voice channel.")
	case err != nil:
		slog.Warn("commands: listen failed", "guild", i.GuildID, "err", err)
		discord.RespondError(r, i, err)
	default:
		discord.Respond(r, i, "Listening...")
	}
}

func (rc *RecorderCommands) handleDownload(r discord.Responder, i *discordgo.InteractionCreate) {
	userID := userOption(i, "user")
	if userID == "" {
		discord.RespondEphemeral(r, i, "Pick a user to download.")
		return
	}
	minDuration, ok := durationOption(i, "min_duration", defaultMinChunk)
	if !ok {
		discord.RespondEphemeral(r, i, "min_duration must look like 1s or 1m30s.")
		return
	}
	chunks, voiced := intOption(i, "chunks")

	user := resolvedUser(i, userID)
	name := user.Username
	if name == "" {
		name = userID
	}
	noData := fmt.Sprintf("No voice data found for <@%s>.", userID)

	snap, err := rc.cfg.Recordings.Export(i.GuildID, userID)
	if errors.Is(err, recorder.ErrNotFound) || err == nil && snap.Empty() {
		discord.Respond(r, i, noData)
		return
	}
	if err != nil {
		discord.RespondError(r, i, err)
		return
	}

	discord.DeferReply(r, i, false)

	var parts [][]int16
	if voiced {
		parts = recorder.VoicedChunks(snap, int(min(chunks, maxChunks)), minDuration)
	} else {
		for _, c := range snap.Chunks(rc.cfg.AttachmentSpan) {
			parts = append(parts, c.Samples())
		}
	}
	if len(parts) == 0 {
		discord.FollowUp(r, i, noData)
		return
	}

	files, err := wavFiles(name, parts)
	if err != nil {
		slog.Error("commands: encode recording", "guild", i.GuildID, "user", userID, "err", err)
		discord.FollowUp(r, i, "Encoding the recording failed.")
		return
	}
	discord.FollowUpFiles(r, i, "", files)
}

// wavFiles encodes parts as name.wav, or name-1.wav, name-2.wav, ... when
// there is more than one.
func wavFiles(name string, parts [][]int16) ([]*discordgo.File, error) {
	files := make([]*discordgo.File, 0, len(parts))
	for n, samples := range parts {
		var buf bytes.Buffer
		if err := wav.Encode(&buf, samples, recorder.SampleRate, 1); err != nil {
			return nil, err
		}
		filename := name + ".wav"
		if len(parts) > 1 {
			filename = fmt.Sprintf("%s-%d.wav", name, n+1)
		}
		files = append(files, &discordgo.File{
			Name:        filename,
			ContentType: "audio/wav",
			Reader:      &buf,
		})
	}
	return files, nil
}

func (rc *RecorderCommands) handleHelp(r discord.Responder, i *discordgo.InteractionCreate) {
	discord.Respond(r, i, "Use Audacity to load and cut parts of the recordings.")
}
