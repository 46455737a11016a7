package soundboard

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/google/uuid"

	"github.com/MrWong99/earshot/internal/transcode"
	"github.com/MrWong99/earshot/pkg/clock"
)

var (
	ErrNameTaken         = errors.New("soundboard: a sound with that name already exists")
	ErrTooLong           = errors.New("soundboard: sound is too long")
	ErrInvalidSound      = errors.New("soundboard: invalid sound")
	ErrTranscodingFailed = errors.New("soundboard: transcoding failed")
)

// fuzzyThreshold is the Jaro-Winkler similarity at which a name matches a
// search without containing it.
const fuzzyThreshold = 0.85

// Invalidator drops cached conversions of a sound.
type Invalidator interface {
	Invalidate(soundID string)
}

// UploadRequest describes a new sound.
type UploadRequest struct {
	Session string
	Name    string
	Emoji   string
	Color   Color
	Group   string

	// Index is the requested position in the group. Nil appends.
	Index *int

	// Filename is the uploaded file's name. Its extension names the
	// container.
	Filename string
	Data     []byte
}

// Group is a named set of sounds in board order.
type Group struct {
	Name   string  `json:"name"`
	Sounds []Sound `json:"sounds"`
}

// LibraryConfig configures a [Library].
type LibraryConfig struct {
	// Dir holds the uploaded files.
	Dir string

	// MaxDuration rejects longer uploads. Zero allows any length.
	MaxDuration time.Duration

	// Clock stamps CreatedAt. Defaults to [clock.Real].
	Clock clock.Clock
}

// Library manages the sounds of every session: their catalog entries and the
// files behind them. Uploads are kept in their original container and
// converted on demand.
type Library struct {
	store Store
	conv  transcode.Converter
	cache Invalidator
	cfg   LibraryConfig

	// mu serialises writes so name checks and index shifts are consistent.
	mu sync.Mutex
}

// NewLibrary creates a library. cache may be nil.
func NewLibrary(store Store, conv transcode.Converter, cache Invalidator, cfg LibraryConfig) *Library {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Library{store: store, conv: conv, cache: cache, cfg: cfg}
}

// SetCache sets the invalidation target. It exists because the transcode
// cache needs [Library.Source] and so is built after the library.
func (l *Library) SetCache(cache Invalidator) { l.cache = cache }

// Source resolves a sound ID to its stored file. It satisfies
// [transcode.SourceFunc].
func (l *Library) Source(ctx context.Context, soundID string) (transcode.Source, error) {
	snd, err := l.store.Get(ctx, soundID)
	if err != nil {
		return transcode.Source{}, err
	}
	return l.source(snd), nil
}

func (l *Library) source(snd *Sound) transcode.Source {
	return transcode.Source{
		ID:   snd.ID,
		Path: filepath.Join(l.cfg.Dir, snd.SourcePath),
		Ext:  snd.SourceFormat,
	}
}

// Upload stores a new sound after checking that it converts and is short
// enough.
func (l *Library) Upload(ctx context.Context, req UploadRequest) (*Sound, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrInvalidSound)
	}
	ext := transcode.ExtOf(req.Filename)
	if ext == "" {
		return nil, fmt.Errorf("%w: %q has no extension", ErrInvalidSound, req.Filename)
	}
	if req.Index != nil && *req.Index < 0 {
		return nil, fmt.Errorf("%w: negative index %d", ErrInvalidSound, *req.Index)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	sounds, err := l.store.List(ctx, req.Session)
	if err != nil {
		return nil, err
	}
	if slices.ContainsFunc(sounds, func(s Sound) bool { return strings.EqualFold(s.Name, name) }) {
		return nil, ErrNameTaken
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("soundboard: new id: %w", err)
	}
	snd := &Sound{
		ID:           id.String(),
		Session:      req.Session,
		Name:         name,
		Emoji:        strings.TrimSpace(req.Emoji),
		Group:        strings.TrimSpace(req.Group),
		Color:        ParseColor(string(req.Color)),
		SourcePath:   id.String() + "." + ext,
		SourceFormat: ext,
		CreatedAt:    l.cfg.Clock.Now(),
	}

	path := filepath.Join(l.cfg.Dir, snd.SourcePath)
	if err := l.writeValidated(ctx, snd.ID, path, ext, req.Data); err != nil {
		return nil, err
	}

	index, shifted := placeIndex(groupMembers(sounds, snd.Group), req.Index)
	snd.Index = index
	for i := range shifted {
		if err := l.store.Update(ctx, &shifted[i]); err != nil {
			l.removeFile(path)
			return nil, fmt.Errorf("soundboard: shift %q: %w", shifted[i].Name, err)
		}
	}
	if err := l.store.Add(ctx, snd); err != nil {
		l.removeFile(path)
		return nil, err
	}
	slog.Info("soundboard: sound uploaded",
		"session", snd.Session,
		"id", snd.ID,
		"name", snd.Name,
		"group", snd.Group,
		"index", snd.Index,
		"format", ext,
	)
	return snd, nil
}

// writeValidated writes data to path and converts it once. The file is
// removed again if it does not convert or is too long.
func (l *Library) writeValidated(ctx context.Context, id, path, ext string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty file", ErrInvalidSound)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("soundboard: create sounds dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("soundboard: write sound: %w", err)
	}

	pcm, err := l.conv.Convert(ctx, transcode.Source{ID: id, Path: path, Ext: ext}, transcode.FormatPCM)
	if err != nil {
		l.removeFile(path)
		return fmt.Errorf("%w: %w", ErrTranscodingFailed, err)
	}
	if l.cfg.MaxDuration > 0 {
		if d := time.Duration(transcode.PCMDuration(pcm) * float64(time.Second)); d > l.cfg.MaxDuration {
			l.removeFile(path)
			return fmt.Errorf("%w: %s exceeds %s", ErrTooLong, d.Round(time.Millisecond), l.cfg.MaxDuration)
		}
	}
	return nil
}

func (l *Library) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("soundboard: remove sound file", "path", path, "error", err)
	}
}

func groupMembers(sounds []Sound, group string) []Sound {
	var out []Sound
	for _, s := range sounds {
		if s.Group == group {
			out = append(out, s)
		}
	}
	return out
}

// placeIndex picks the index for a new member of a group and returns the
// existing members whose index moves up to make room.
func placeIndex(members []Sound, requested *int) (int, []Sound) {
	if len(members) == 0 {
		return 0, nil
	}
	last := slices.MaxFunc(members, func(a, b Sound) int { return cmp.Compare(a.Index, b.Index) }).Index
	switch {
	case requested == nil, *requested > last:
		return last + 1, nil
	case !slices.ContainsFunc(members, func(s Sound) bool { return s.Index == *requested }):
		return *requested, nil
	}
	var shifted []Sound
	for _, s := range members {
		if s.Index >= *requested {
			s.Index++
			shifted = append(shifted, s)
		}
	}
	return *requested, shifted
}

// Replace swaps the audio of the sound called name, keeping its ID and board
// position.
func (l *Library) Replace(ctx context.Context, session, name, filename string, data []byte) (*Sound, error) {
	ext := transcode.ExtOf(filename)
	if ext == "" {
		return nil, fmt.Errorf("%w: %q has no extension", ErrInvalidSound, filename)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	snd, err := l.exact(ctx, session, name)
	if err != nil {
		return nil, err
	}
	staging := filepath.Join(l.cfg.Dir, snd.ID+".upload."+ext)
	if err := l.writeValidated(ctx, snd.ID, staging, ext, data); err != nil {
		return nil, err
	}

	oldPath := filepath.Join(l.cfg.Dir, snd.SourcePath)
	updated := *snd
	updated.SourcePath = snd.ID + "." + ext
	updated.SourceFormat = ext
	newPath := filepath.Join(l.cfg.Dir, updated.SourcePath)
	if err := os.Rename(staging, newPath); err != nil {
		l.removeFile(staging)
		return nil, fmt.Errorf("soundboard: replace %q: %w", name, err)
	}
	if err := l.store.Update(ctx, &updated); err != nil {
		if oldPath == newPath {
			// The live file already holds the new audio.
			l.invalidate(snd.ID)
		} else {
			l.removeFile(newPath)
		}
		return nil, err
	}
	if oldPath != newPath {
		l.removeFile(oldPath)
	}
	l.invalidate(snd.ID)
	slog.Info("soundboard: sound replaced", "session", session, "id", snd.ID, "name", snd.Name, "format", ext)
	return &updated, nil
}

// Delete removes the sound called name and its file.
func (l *Library) Delete(ctx context.Context, session, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	snd, err := l.exact(ctx, session, name)
	if err != nil {
		return err
	}
	if err := l.store.Delete(ctx, session, snd.ID); err != nil {
		return err
	}
	l.removeFile(filepath.Join(l.cfg.Dir, snd.SourcePath))
	l.invalidate(snd.ID)
	slog.Info("soundboard: sound deleted", "session", session, "id", snd.ID, "name", snd.Name)
	return nil
}

func (l *Library) invalidate(id string) {
	if l.cache != nil {
		l.cache.Invalidate(id)
	}
}

// exact finds a sound by case-insensitive name equality.
func (l *Library) exact(ctx context.Context, session, name string) (*Sound, error) {
	sounds, err := l.store.List(ctx, session)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	for i := range sounds {
		if strings.EqualFold(sounds[i].Name, name) {
			return &sounds[i], nil
		}
	}
	return nil, ErrNotFound
}

// FindByName returns the sound whose name equals name ignoring case, or else
// the first one containing it.
func (l *Library) FindByName(ctx context.Context, session, name string) (*Sound, error) {
	snd, err := l.exact(ctx, session, name)
	if !errors.Is(err, ErrNotFound) {
		return snd, err
	}
	sounds, err := l.store.List(ctx, session)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil, ErrNotFound
	}
	for i := range sounds {
		if strings.Contains(strings.ToLower(sounds[i].Name), needle) {
			return &sounds[i], nil
		}
	}
	return nil, ErrNotFound
}

// Groups returns the session's sounds grouped for the board. Groups are
// sorted by name, sounds by index and then name.
func (l *Library) Groups(ctx context.Context, session string) ([]Group, error) {
	sounds, err := l.store.List(ctx, session)
	if err != nil {
		return nil, err
	}
	byName := make(map[string][]Sound)
	for _, s := range sounds {
		byName[s.Group] = append(byName[s.Group], s)
	}
	out := make([]Group, 0, len(byName))
	for name, members := range byName {
		slices.SortFunc(members, func(a, b Sound) int {
			if c := cmp.Compare(a.Index, b.Index); c != 0 {
				return c
			}
			return cmp.Compare(a.Name, b.Name)
		})
		out = append(out, Group{Name: name, Sounds: members})
	}
	slices.SortFunc(out, func(a, b Group) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

// Search returns up to limit sound names matching query. Names containing the
// query come first, then names similar enough to it. Each part is ranked by
// similarity. An empty query lists names in creation order.
func (l *Library) Search(ctx context.Context, session, query string, limit int) ([]string, error) {
	sounds, err := l.store.List(ctx, session)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(sounds))
	for i, s := range sounds {
		names[i] = s.Name
	}
	return rank(names, query, limit), nil
}

// GroupNames returns up to limit distinct group names matching query, ranked
// like [Library.Search].
func (l *Library) GroupNames(ctx context.Context, session, query string, limit int) ([]string, error) {
	sounds, err := l.store.List(ctx, session)
	if err != nil {
		return nil, err
	}
	var groups []string
	seen := make(map[string]bool)
	for _, s := range sounds {
		if s.Group != "" && !seen[s.Group] {
			seen[s.Group] = true
			groups = append(groups, s.Group)
		}
	}
	return rank(groups, query, limit), nil
}

type scored struct {
	name      string
	substring bool
	score     float64
}

func rank(candidates []string, query string, limit int) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	if limit <= 0 {
		limit = len(candidates)
	}
	if q == "" {
		return candidates[:min(limit, len(candidates))]
	}

	var hits []scored
	for _, c := range candidates {
		lc := strings.ToLower(c)
		score := similarity(q, lc)
		sub := strings.Contains(lc, q)
		if sub || score >= fuzzyThreshold {
			hits = append(hits, scored{name: c, substring: sub, score: score})
		}
	}
	slices.SortStableFunc(hits, func(a, b scored) int {
		if a.substring != b.substring {
			if a.substring {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.name, b.name)
	})

	out := make([]string, 0, min(limit, len(hits)))
	for _, h := range hits[:min(limit, len(hits))] {
		out = append(out, h.name)
	}
	return out
}

// similarity is the best Jaro-Winkler score between the whole strings or any
// pair of their words.
func similarity(query, name string) float64 {
	score := matchr.JaroWinkler(query, name, false)
	for _, qt := range strings.Fields(query) {
		for _, nt := range strings.Fields(name) {
			if s := matchr.JaroWinkler(qt, nt, false); s > score {
				score = s
			}
		}
	}
	return score
}
