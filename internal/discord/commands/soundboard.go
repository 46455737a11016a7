package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/earshot/internal/discord"
	"github.com/MrWong99/earshot/internal/soundboard"
	"github.com/MrWong99/earshot/internal/transcode"
	"github.com/MrWong99/earshot/internal/voice"
	"github.com/MrWong99/earshot/pkg/clock"
)

// soundButtonPrefix prefixes the custom_id of board buttons.
const soundButtonPrefix = "sound:"

const (
	// maxChoices is Discord's autocomplete limit.
	maxChoices = 25

	// Board layout limits of a single message.
	buttonsPerRow = 5
	maxRows       = 5

	// playTimeout bounds streaming one sound into the voice channel.
	playTimeout = 2 * time.Minute
)

// Player resolves and fetches sounds. [*soundboard.Dispatcher] implements
// it.
type Player interface {
	Play(ctx context.Context, session string, expr soundboard.Expr, format transcode.Format) (soundboard.Playback, error)
}

// Speaker is the voice side of playback. [*voice.Manager] implements it.
type Speaker interface {
	Connected(guildID string) (voice.Info, bool)
	Play(ctx context.Context, guildID string, pcm []byte) error
}

// Library manages the sound catalog. [*soundboard.Library] implements it.
type Library interface {
	Upload(ctx context.Context, req soundboard.UploadRequest) (*soundboard.Sound, error)
	Delete(ctx context.Context, session, name string) error
	FindByName(ctx context.Context, session, name string) (*soundboard.Sound, error)
	Groups(ctx context.Context, session string) ([]soundboard.Group, error)
	Search(ctx context.Context, session, query string, limit int) ([]string, error)
	GroupNames(ctx context.Context, session, query string, limit int) ([]string, error)
}

var (
	_ Player  = (*soundboard.Dispatcher)(nil)
	_ Speaker = (*voice.Manager)(nil)
	_ Library = (*soundboard.Library)(nil)
)

// SoundboardConfig holds the dependencies of [SoundboardCommands].
type SoundboardConfig struct {
	Player  Player
	Voice   Speaker
	Library Library
	Stats   *soundboard.Stats
	Perms   *discord.PermissionChecker

	// Downloader fetches uploads. Defaults to a [Downloader] with the
	// default client.
	Downloader *Downloader

	// Clock stamps stats entries. Defaults to [clock.Real].
	Clock clock.Clock
}

// SoundboardCommands implements /sound and the board buttons.
type SoundboardCommands struct {
	cfg SoundboardConfig

	// plays tracks sounds still streaming into a voice channel.
	plays sync.WaitGroup
}

// NewSoundboardCommands creates the soundboard commands.
func NewSoundboardCommands(cfg SoundboardConfig) *SoundboardCommands {
	if cfg.Downloader == nil {
		cfg.Downloader = &Downloader{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Stats == nil {
		cfg.Stats = soundboard.NewStats()
	}
	if cfg.Perms == nil {
		cfg.Perms = discord.NewPermissionChecker("")
	}
	return &SoundboardCommands{cfg: cfg}
}

// Register adds /sound, its autocompletes and the board buttons to router.
func (sc *SoundboardCommands) Register(router *discord.CommandRouter) {
	def := sc.Definition()
	router.RegisterCommand("sound", def, func(r discord.Responder, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(r, i, "Please use a subcommand, e.g. `/sound play`.")
	})
	router.RegisterHandler("sound/play", sc.handlePlay)
	router.RegisterHandler("sound/random", sc.handleRandom)
	router.RegisterHandler("sound/latest", sc.handleLatest)
	router.RegisterHandler("sound/last", sc.handleLast)
	router.RegisterHandler("sound/list", sc.handleList)
	router.RegisterHandler("sound/board", sc.handleBoard)
	router.RegisterHandler("sound/upload", sc.handleUpload)
	router.RegisterHandler("sound/delete", sc.handleDelete)
	router.RegisterHandler("sound/stats", sc.handleStats)

	router.RegisterAutocomplete("sound/play", sc.handleAutocomplete)
	router.RegisterAutocomplete("sound/delete", sc.handleAutocomplete)
	router.RegisterAutocomplete("sound/board", sc.handleAutocomplete)
	router.RegisterAutocomplete("sound/upload", sc.handleAutocomplete)

	router.RegisterComponentPrefix(soundButtonPrefix, sc.handleButton)
}

// Wait blocks until every sound started so far has been streamed.
func (sc *SoundboardCommands) Wait() {
	sc.plays.Wait()
}

// Definition returns the /sound command definition.
func (sc *SoundboardCommands) Definition() *discordgo.ApplicationCommand {
	zero := 0.0
	colors := make([]*discordgo.ApplicationCommandOptionChoice, len(soundboard.Colors))
	for n, c := range soundboard.Colors {
		colors[n] = &discordgo.ApplicationCommandOptionChoice{Name: string(c), Value: string(c)}
	}
	nameOption := func(desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:         discordgo.ApplicationCommandOptionString,
			Name:         "name",
			Description:  desc,
			Required:     true,
			Autocomplete: true,
		}
	}

	return &discordgo.ApplicationCommand{
		Name:        "sound",
		Description: "Play and manage sounds",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "play",
				Description: "Play a sound",
				Options:     []*discordgo.ApplicationCommandOption{nameOption("Sound to play")},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "random",
				Description: "Play a random sound",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "latest",
				Description: "Play the most recently added sound",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "last",
				Description: "Replay a recently played sound",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "offset",
						Description: "0 is the last sound, 1 the one before",
						MinValue:    &zero,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "list",
				Description: "List every sound",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "board",
				Description: "Post sound buttons",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:         discordgo.ApplicationCommandOptionString,
						Name:         "group",
						Description:  "Only show this group",
						Autocomplete: true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "upload",
				Description: "Add a sound",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionAttachment,
						Name:        "file",
						Description: "Audio file",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "name",
						Description: "Sound name",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "emoji",
						Description: "Button emoji",
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "color",
						Description: "Button color",
						Choices:     colors,
					},
					{
						Type:         discordgo.ApplicationCommandOptionString,
						Name:         "group",
						Description:  "Board group",
						Autocomplete: true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "index",
						Description: "Position in the group",
						MinValue:    &zero,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "delete",
				Description: "Remove a sound",
				Options:     []*discordgo.ApplicationCommandOption{nameOption("Sound to remove")},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "stats",
				Description: "Show who plays the most",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "window",
						Description: "Recent window between 30s and 5m",
					},
				},
			},
		},
	}
}

// ─── Playback ────────────────────────────────────────────────────────────────

func (sc *SoundboardCommands) handlePlay(r discord.Responder, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name := stringOption(i, "name", "")
	snd, err := sc.cfg.Library.FindByName(ctx, i.GuildID, name)
	if err != nil {
		discord.RespondEphemeral(r, i, playError(err))
		return
	}
	sc.play(r, i, soundboard.ExplicitID(snd.ID), false)
}

func (sc *SoundboardCommands) handleRandom(r discord.Responder, i *discordgo.InteractionCreate) {
	sc.play(r, i, soundboard.Random{}, false)
}

func (sc *SoundboardCommands) handleLatest(r discord.Responder, i *discordgo.InteractionCreate) {
	sc.play(r, i, soundboard.LatestAdded{}, false)
}

func (sc *SoundboardCommands) handleLast(r discord.Responder, i *discordgo.InteractionCreate) {
	offset, _ := intOption(i, "offset")
	sc.play(r, i, soundboard.LastPlayed{Offset: int(max(offset, 0))}, false)
}

func (sc *SoundboardCommands) handleButton(r discord.Responder, i *discordgo.InteractionCreate) {
	id := strings.TrimPrefix(i.MessageComponentData().CustomID, soundButtonPrefix)
	sc.play(r, i, soundboard.ExplicitID(id), true)
}

// play answers the interaction, resolves expr and streams the sound in the
// background. Button presses are acknowledged silently.
func (sc *SoundboardCommands) play(r discord.Responder, i *discordgo.InteractionCreate, expr soundboard.Expr, button bool) {
	if _, ok := sc.cfg.Voice.Connected(i.GuildID); !ok {
		discord.RespondEphemeral(r, i, "I'm not in a voice channel. Use `/listen` first.")
		return
	}
	if button {
		discord.Acknowledge(r, i)
	} else {
		discord.DeferReply(r, i, false)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	p, err := sc.cfg.Player.Play(ctx, i.GuildID, expr, transcode.FormatPCM)
	cancel()
	if err != nil {
		if button {
			slog.Warn("commands: board play failed", "guild", i.GuildID, "expr", expr.String(), "err", err)
			return
		}
		discord.FollowUp(r, i, playError(err))
		return
	}

	user := discord.UserID(i)
	sc.cfg.Stats.Register(i.GuildID, user, sc.cfg.Clock.Now())
	if !button {
		discord.FollowUp(r, i, fmt.Sprintf("Playing **%s**.", p.Name))
	}

	sc.plays.Add(1)
	go func() {
		defer sc.plays.Done()
		ctx, cancel := context.WithTimeout(context.Background(), playTimeout)
		defer cancel()
		if err := sc.cfg.Voice.Play(ctx, i.GuildID, p.Data); err != nil {
			slog.Warn("commands: voice playback failed", "guild", i.GuildID, "sound_id", p.SoundID, "err", err)
		}
	}()
}

func playError(err error) string {
	switch {
	case errors.Is(err, soundboard.ErrBadExpr):
		return "That is not a valid sound."
	case errors.Is(err, soundboard.ErrEmpty):
		return "There are no sounds to choose from."
	case errors.Is(err, soundboard.ErrNotFound):
		return "No such sound."
	case errors.Is(err, soundboard.ErrTranscodingFailed), errors.Is(err, transcode.ErrConversionFailed):
		return "That sound could not be converted."
	case errors.Is(err, voice.ErrNotConnected):
		return "I'm not in a voice channel. Use `/listen` first."
	}
	slog.Error("commands: play failed", "err", err)
	return "Playing failed."
}

// ─── Catalog ─────────────────────────────────────────────────────────────────

// embedFieldLimit is Discord's limit for an embed field value.
const embedFieldLimit = 1024

func (sc *SoundboardCommands) handleList(r discord.Responder, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	groups, err := sc.cfg.Library.Groups(ctx, i.GuildID)
	if err != nil {
		discord.RespondError(r, i, err)
		return
	}
	if len(groups) == 0 {
		discord.RespondEphemeral(r, i, "There are no sounds yet. Add one with `/sound upload`.")
		return
	}

	embed := &discordgo.MessageEmbed{Title: "Sounds"}
	for _, g := range groups {
		names := make([]string, len(g.Sounds))
		for n, s := range g.Sounds {
			names[n] = strings.TrimSpace(s.Emoji + " " + s.Name)
		}
		value := strings.Join(names, ", ")
		if len(value) > embedFieldLimit {
			value = value[:embedFieldLimit-3] + "..."
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  groupLabel(g.Name),
			Value: value,
		})
	}
	discord.RespondEmbed(r, i, embed)
}

func groupLabel(name string) string {
	if name == "" {
		return "Ungrouped"
	}
	return name
}

func (sc *SoundboardCommands) handleBoard(r discord.Responder, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	groups, err := sc.cfg.Library.Groups(ctx, i.GuildID)
	if err != nil {
		discord.RespondError(r, i, err)
		return
	}
	only := stringOption(i, "group", "")

	var sounds []soundboard.Sound
	for _, g := range groups {
		if only == "" || strings.EqualFold(g.Name, only) {
			sounds = append(sounds, g.Sounds...)
		}
	}
	if len(sounds) == 0 {
		discord.RespondEphemeral(r, i, "No sounds to show.")
		return
	}

	rows, shown := boardRows(sounds)
	content := ""
	if shown < len(sounds) {
		content = fmt.Sprintf("Showing %d of %d sounds. Pick a group to see the rest.", shown, len(sounds))
	}
	discord.RespondComponents(r, i, content, rows)
}

// boardRows lays sounds out as button rows and reports how many fit.
func boardRows(sounds []soundboard.Sound) ([]discordgo.MessageComponent, int) {
	shown := min(len(sounds), buttonsPerRow*maxRows)
	var rows []discordgo.MessageComponent
	for start := 0; start < shown; start += buttonsPerRow {
		var buttons []discordgo.MessageComponent
		for _, s := range sounds[start:min(start+buttonsPerRow, shown)] {
			buttons = append(buttons, discordgo.Button{
				Label:    s.Name,
				Style:    s.Color.ButtonStyle(),
				CustomID: soundButtonPrefix + s.ID,
				Emoji:    componentEmoji(s.Emoji),
			})
		}
		rows = append(rows, discordgo.ActionsRow{Components: buttons})
	}
	return rows, shown
}

func (sc *SoundboardCommands) handleUpload(r discord.Responder, i *discordgo.InteractionCreate) {
	if !sc.cfg.Perms.IsAdmin(i) {
		discord.RespondEphemeral(r, i, "You are not allowed to manage sounds.")
		return
	}
	att := AttachmentOption(i, "file")
	if att == nil {
		discord.RespondEphemeral(r, i, "Attach an audio file.")
		return
	}

	discord.DeferReply(r, i, true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	data, err := sc.cfg.Downloader.Download(ctx, att)
	if err != nil {
		discord.FollowUp(r, i, uploadError(err))
		return
	}

	req := soundboard.UploadRequest{
		Session:  i.GuildID,
		Name:     stringOption(i, "name", ""),
		Emoji:    emojiOption(i, "emoji"),
		Color:    soundboard.ParseColor(stringOption(i, "color", "")),
		Group:    stringOption(i, "group", ""),
		Filename: att.Filename,
		Data:     data,
	}
	if idx, ok := intOption(i, "index"); ok {
		n := int(idx)
		req.Index = &n
	}

	snd, err := sc.cfg.Library.Upload(ctx, req)
	if err != nil {
		discord.FollowUp(r, i, uploadError(err))
		return
	}
	discord.FollowUp(r, i, fmt.Sprintf("Added **%s** to %s at position %d.", snd.Name, groupLabel(snd.Group), snd.Index))
}

func uploadError(err error) string {
	switch {
	case errors.Is(err, ErrAttachmentTooLarge):
		return "That file is too large."
	case errors.Is(err, soundboard.ErrNameTaken):
		return "A sound with that name already exists."
	case errors.Is(err, soundboard.ErrTooLong):
		return "That sound is too long."
	case errors.Is(err, soundboard.ErrInvalidSound), errors.Is(err, soundboard.ErrTranscodingFailed):
		return "That file is not a usable sound."
	}
	slog.Error("commands: upload failed", "err", err)
	return "Upload failed."
}

func (sc *SoundboardCommands) handleDelete(r discord.Responder, i *discordgo.InteractionCreate) {
	if !sc.cfg.Perms.IsAdmin(i) {
		discord.RespondEphemeral(r, i, "You are not allowed to manage sounds.")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name := stringOption(i, "name", "")
	err := sc.cfg.Library.Delete(ctx, i.GuildID, name)
	switch {
	case errors.Is(err, soundboard.ErrNotFound):
		discord.RespondEphemeral(r, i, fmt.Sprintf("No sound called %q.", name))
	case err != nil:
		discord.RespondError(r, i, err)
	default:
		discord.RespondEphemeral(r, i, fmt.Sprintf("Deleted **%s**.", name))
	}
}

func (sc *SoundboardCommands) handleStats(r discord.Responder, i *discordgo.InteractionCreate) {
	window, ok := durationOption(i, "window", soundboard.MaxStatsWindow)
	if !ok {
		discord.RespondEphemeral(r, i, "window must look like 30s or 5m.")
		return
	}
	window, recent := sc.cfg.Stats.Window(i.GuildID, window, sc.cfg.Clock.Now())
	top := sc.cfg.Stats.Top(i.GuildID, soundboard.DefaultTopUsers)

	discord.RespondEmbed(r, i, &discordgo.MessageEmbed{
		Title: "Soundboard stats",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Last " + window.String(), Value: countLines(recent), Inline: true},
			{Name: "All time", Value: countLines(top), Inline: true},
		},
	})
}

func countLines(counts []soundboard.UserCount) string {
	if len(counts) == 0 {
		return "*Nobody.*"
	}
	lines := make([]string, len(counts))
	for n, c := range counts {
		lines[n] = fmt.Sprintf("<@%s>: %d", c.User, c.Count)
	}
	return strings.Join(lines, "\n")
}

// ─── Autocomplete ────────────────────────────────────────────────────────────

func (sc *SoundboardCommands) handleAutocomplete(r discord.Responder, i *discordgo.InteractionCreate) {
	var focused *discordgo.ApplicationCommandInteractionDataOption
	for _, o := range options(i) {
		if o.Focused {
			focused = o
			break
		}
	}
	if focused == nil {
		discord.RespondChoices(r, i, nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var (
		names []string
		err   error
	)
	query := focused.StringValue()
	switch focused.Name {
	case "group":
		names, err = sc.cfg.Library.GroupNames(ctx, i.GuildID, query, maxChoices)
	default:
		names, err = sc.cfg.Library.Search(ctx, i.GuildID, query, maxChoices)
	}
	if err != nil {
		slog.Warn("commands: autocomplete failed", "guild", i.GuildID, "option", focused.Name, "err", err)
	}

	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(names))
	for _, n := range names {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: n, Value: n})
	}
	discord.RespondChoices(r, i, choices)
}
