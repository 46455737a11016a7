// Package soundboard holds the sound catalog and turns play requests into
// audio.
//
// A request names its target with an [Expr]. The [Resolver] picks a sound ID
// from the session's catalog and the [History], the transcode cache produces
// the bytes, and the [Dispatcher] records the play once it succeeded.
// [Library] manages uploads and the files behind catalog entries.
package soundboard

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

var (
	// ErrNotFound is returned when a sound, or a history entry, does not
	// exist.
	ErrNotFound = errors.New("soundboard: not found")

	// ErrEmpty is returned when a request has nothing to choose from.
	ErrEmpty = errors.New("soundboard: nothing to choose from")
)

// Sound is a catalog entry.
type Sound struct {
	// ID is a UUIDv7 assigned on upload.
	ID string `json:"id"`

	// Session scopes the sound, usually a guild ID.
	Session string `json:"-"`

	Name  string `json:"name"`
	Emoji string `json:"emoji,omitempty"`
	Group string `json:"group,omitempty"`
	Color Color  `json:"color"`

	// Index orders sounds within their group.
	Index int `json:"index"`

	// SourcePath is the stored upload, relative to the sounds directory.
	SourcePath string `json:"-"`

	// SourceFormat is the upload's container as an extension, e.g. "mp3".
	SourceFormat string `json:"format"`

	CreatedAt time.Time `json:"created_at"`

	// Seq is the insertion order assigned by the store.
	Seq int64 `json:"-"`
}

// Color is the button colour of a sound on the board.
type Color string

const (
	ColorBlue  Color = "blue"
	ColorGreen Color = "green"
	ColorRed   Color = "red"
	ColorGrey  Color = "grey"
)

// Colors lists the valid colours.
var Colors = []Color{ColorBlue, ColorGreen, ColorRed, ColorGrey}

// ParseColor maps a name to a colour. Unknown names become [ColorBlue].
func ParseColor(s string) Color {
	switch c := Color(strings.ToLower(strings.TrimSpace(s))); c {
	case ColorBlue, ColorGreen, ColorRed, ColorGrey:
		return c
	case "gray":
		return ColorGrey
	}
	return ColorBlue
}

// ButtonStyle returns the Discord button style for c.
func (c Color) ButtonStyle() discordgo.ButtonStyle {
	switch c {
	case ColorGreen:
		return discordgo.SuccessButton
	case ColorRed:
		return discordgo.DangerButton
	case ColorGrey:
		return discordgo.SecondaryButton
	default:
		return discordgo.PrimaryButton
	}
}

// Catalog is the read side of the sound store used for resolution.
type Catalog interface {
	// Lookup returns the sound with id in session, or [ErrNotFound].
	Lookup(ctx context.Context, session, id string) (*Sound, error)

	// List returns every sound of session ordered by (CreatedAt, Seq).
	List(ctx context.Context, session string) ([]Sound, error)
}

// Store is a persistent [Catalog].
type Store interface {
	Catalog

	// Get returns the sound with id in any session, or [ErrNotFound].
	Get(ctx context.Context, id string) (*Sound, error)

	// Add inserts s and sets s.Seq.
	Add(ctx context.Context, s *Sound) error

	// Update replaces the stored sound with the same ID, or returns
	// [ErrNotFound].
	Update(ctx context.Context, s *Sound) error

	// Delete removes the sound, or returns [ErrNotFound].
	Delete(ctx context.Context, session, id string) error

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}
