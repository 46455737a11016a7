package commands

import (
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// options returns the options of the invoked command, or of its subcommand
// when one was used.
func options(i *discordgo.InteractionCreate) []*discordgo.ApplicationCommandInteractionDataOption {
	opts := i.ApplicationCommandData().Options
	if len(opts) > 0 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return opts[0].Options
	}
	return opts
}

func findOption(i *discordgo.InteractionCreate, name string) *discordgo.ApplicationCommandInteractionDataOption {
	for _, o := range options(i) {
		if o.Name == name {
			return o
		}
	}
	return nil
}

func stringOption(i *discordgo.InteractionCreate, name, def string) string {
	o := findOption(i, name)
	if o == nil || o.Type != discordgo.ApplicationCommandOptionString {
		return def
	}
	return o.StringValue()
}

// intOption returns the option's value and whether it was given.
func intOption(i *discordgo.InteractionCreate, name string) (int64, bool) {
	o := findOption(i, name)
	if o == nil || o.Type != discordgo.ApplicationCommandOptionInteger {
		return 0, false
	}
	return o.IntValue(), true
}

// userOption returns the user ID given for name, or "".
func userOption(i *discordgo.InteractionCreate, name string) string {
	o := findOption(i, name)
	if o == nil || o.Type != discordgo.ApplicationCommandOptionUser {
		return ""
	}
	id, _ := o.Value.(string)
	return id
}

// resolvedUser returns the resolved user for id, or a bare user with that
// ID.
func resolvedUser(i *discordgo.InteractionCreate, id string) *discordgo.User {
	if r := i.ApplicationCommandData().Resolved; r != nil {
		if u, ok := r.Users[id]; ok && u != nil {
			return u
		}
	}
	return &discordgo.User{ID: id}
}

// durationOption parses a duration option such as "1m30s". A missing option
// yields def; an unparsable one yields ok == false.
func durationOption(i *discordgo.InteractionCreate, name string, def time.Duration) (d time.Duration, ok bool) {
	s := stringOption(i, name, "")
	if s == "" {
		return def, true
	}
	d, err := time.ParseDuration(strings.ReplaceAll(s, " ", ""))
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}

// customEmoji matches Discord's <:name:id> and <a:name:id> forms.
var customEmoji = regexp.MustCompile(`<a?:\w+:\d+>`)

// emojiOption extracts the first emoji from an option. Custom server emoji
// are kept in their tag form. Otherwise the first non-ASCII grapheme run is
// used, so "🔥 fire" gives "🔥".
func emojiOption(i *discordgo.InteractionCreate, name string) string {
	return parseEmoji(stringOption(i, name, ""))
}

func parseEmoji(s string) string {
	s = strings.TrimSpace(s)
	if m := customEmoji.FindString(s); m != "" {
		return m
	}
	start := strings.IndexFunc(s, func(r rune) bool { return r > 0x7f })
	if start < 0 {
		return ""
	}
	rest := s[start:]
	if end := strings.IndexFunc(rest, func(r rune) bool { return r < 0x80 }); end > 0 {
		return rest[:end]
	}
	return rest
}

// componentEmoji converts a stored emoji to a button emoji.
func componentEmoji(s string) *discordgo.ComponentEmoji {
	if s == "" {
		return nil
	}
	if customEmoji.MatchString(s) {
		// <a:name:id>
		parts := strings.Split(strings.Trim(s, "<>"), ":")
		return &discordgo.ComponentEmoji{
			Name:     parts[1],
			ID:       parts[2],
			Animated: parts[0] == "a",
		}
	}
	return &discordgo.ComponentEmoji{Name: s}
}
