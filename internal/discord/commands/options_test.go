package commands

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

func TestParseEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"🔥", "🔥"},
		{"  🔥 fire", "🔥"},
		{"fire 🔥", "🔥"},
		{"<:party:1234>", "<:party:1234>"},
		{"use <a:dance:99> now", "<a:dance:99>"},
		{"👍🏽", "👍🏽"},
		{"plain", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := parseEmoji(tt.in); got != tt.want {
			t.Errorf("parseEmoji(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestComponentEmoji(t *testing.T) {
	t.Parallel()

	if got := componentEmoji(""); got != nil {
		t.Errorf("componentEmoji(\"\") = %+v, want nil", got)
	}
	if got := componentEmoji("🔥"); got.Name != "🔥" || got.ID != "" {
		t.Errorf("unicode = %+v", got)
	}
	got := componentEmoji("<a:dance:99>")
	want := discordgo.ComponentEmoji{Name: "dance", ID: "99", Animated: true}
	if *got != want {
		t.Errorf("custom = %+v, want %+v", *got, want)
	}
}

func TestDurationOption(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		opts   []*option
		want   time.Duration
		wantOK bool
	}{
		{"missing uses default", nil, 5 * time.Second, true},
		{"parsed", []*option{strOpt("d", "1m30s")}, 90 * time.Second, true},
		{"spaces ignored", []*option{strOpt("d", "1m 30s")}, 90 * time.Second, true},
		{"garbage", []*option{strOpt("d", "soon")}, 0, false},
		{"negative", []*option{strOpt("d", "-1s")}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := durationOption(subcommand("x", "y", tt.opts...), "d", 5*time.Second)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("durationOption = %v, %v; want %v, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestOptions_TopLevelAndSubcommand(t *testing.T) {
	t.Parallel()

	top := command("download", userOpt("user", "u9"), intOpt("chunks", 3))
	if got := userOption(top, "user"); got != "u9" {
		t.Errorf("userOption = %q, want u9", got)
	}
	if n, ok := intOption(top, "chunks"); !ok || n != 3 {
		t.Errorf("intOption = %d, %v", n, ok)
	}
	if _, ok := intOption(top, "missing"); ok {
		t.Error("intOption reported a missing option")
	}

	sub := subcommand("sound", "play", strOpt("name", "bell"))
	if got := stringOption(sub, "name", ""); got != "bell" {
		t.Errorf("stringOption = %q, want bell", got)
	}
	if got := stringOption(sub, "group", "def"); got != "def" {
		t.Errorf("stringOption default = %q", got)
	}
}
