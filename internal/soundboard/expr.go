package soundboard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadExpr is returned when a request cannot be turned into an [Expr].
var ErrBadExpr = errors.New("soundboard: invalid sound expression")

// Expr selects the sound a play request refers to. The variants are
// [ExplicitID], [AlternationOf], [Random], [LatestAdded] and [LastPlayed].
type Expr interface {
	isExpr()
	String() string
}

// ExplicitID names one sound.
type ExplicitID string

// AlternationOf picks uniformly among the listed sounds that still exist.
type AlternationOf []string

// Random picks uniformly over the session's catalog.
type Random struct{}

// LatestAdded picks the most recently created sound.
type LatestAdded struct{}

// LastPlayed replays an earlier sound. Offset 0 is the most recent play.
type LastPlayed struct {
	Offset int
}

func (ExplicitID) isExpr()    {}
func (AlternationOf) isExpr() {}
func (Random) isExpr()        {}
func (LatestAdded) isExpr()   {}
func (LastPlayed) isExpr()    {}

func (e ExplicitID) String() string    { return string(e) }
func (e AlternationOf) String() string { return strings.Join(e, "|") }
func (Random) String() string          { return "random" }
func (LatestAdded) String() string     { return "latest" }
func (e LastPlayed) String() string    { return fmt.Sprintf("last-played/%d", e.Offset) }

// Kind names the variant for metrics and logs.
func Kind(e Expr) string {
	switch e.(type) {
	case ExplicitID:
		return "id"
	case AlternationOf:
		return "alternation"
	case Random:
		return "random"
	case LatestAdded:
		return "latest"
	case LastPlayed:
		return "last_played"
	default:
		return "unknown"
	}
}

// ParseIDs turns a "|"-separated list into an expression. A single ID yields
// [ExplicitID]; several yield [AlternationOf]. Empty entries are dropped.
func ParseIDs(s string) (Expr, error) {
	var ids []string
	for part := range strings.SplitSeq(s, "|") {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	switch len(ids) {
	case 0:
		return nil, fmt.Errorf("%w: no sound ids in %q", ErrBadExpr, s)
	case 1:
		return ExplicitID(ids[0]), nil
	default:
		return AlternationOf(ids), nil
	}
}

// ParseOffset parses a non-negative [LastPlayed] offset. An empty string is
// offset 0.
func ParseOffset(s string) (LastPlayed, error) {
	if s == "" {
		return LastPlayed{}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return LastPlayed{}, fmt.Errorf("%w: offset %q", ErrBadExpr, s)
	}
	return LastPlayed{Offset: n}, nil
}
