package soundboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSchema creates the sounds table.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS sounds (
	seq                INTEGER PRIMARY KEY AUTOINCREMENT,
	id                 TEXT NOT NULL UNIQUE,
	session            TEXT NOT NULL,
	name               TEXT NOT NULL,
	emoji              TEXT NOT NULL DEFAULT '',
	sound_group        TEXT NOT NULL DEFAULT '',
	color              TEXT NOT NULL DEFAULT 'blue',
	position           INTEGER NOT NULL DEFAULT 0,
	source_path        TEXT NOT NULL,
	source_format      TEXT NOT NULL,
	created_at_unix_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sounds_session ON sounds(session, created_at_unix_ns, seq);
`

const sqliteColumns = `id, session, name, emoji, sound_group, color, position,
	source_path, source_format, created_at_unix_ns, seq`

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a [Store] in a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("soundboard: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("soundboard: create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("soundboard: open sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("soundboard: sqlite store opened", "path", path)
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Migrate applies [SQLiteSchema].
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, SQLiteSchema); err != nil {
		return fmt.Errorf("soundboard: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Lookup(ctx context.Context, session, id string) (*Sound, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM sounds WHERE id = ? AND session = ?`, id, session)
	return s.one(row, id)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Sound, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM sounds WHERE id = ?`, id)
	return s.one(row, id)
}

func (s *SQLiteStore) List(ctx context.Context, session string) ([]Sound, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM sounds WHERE session = ? ORDER BY created_at_unix_ns, seq`, session)
	if err != nil {
		return nil, fmt.Errorf("soundboard: list: %w", err)
	}
	defer rows.Close()

	var out []Sound
	for rows.Next() {
		snd, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("soundboard: list scan: %w", err)
		}
		out = append(out, snd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("soundboard: list: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Add(ctx context.Context, snd *Sound) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sounds (id, session, name, emoji, sound_group, color, position,
		                    source_path, source_format, created_at_unix_ns)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		snd.ID, snd.Session, snd.Name, snd.Emoji, snd.Group, string(snd.Color), snd.Index,
		snd.SourcePath, snd.SourceFormat, snd.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("soundboard: add %q: %w", snd.ID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("soundboard: add %q: %w", snd.ID, err)
	}
	snd.Seq = seq
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, snd *Sound) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sounds SET
			name = ?, emoji = ?, sound_group = ?, color = ?, position = ?,
			source_path = ?, source_format = ?
		WHERE id = ?`,
		snd.Name, snd.Emoji, snd.Group, string(snd.Color), snd.Index,
		snd.SourcePath, snd.SourceFormat, snd.ID,
	)
	if err != nil {
		return fmt.Errorf("soundboard: update %q: %w", snd.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, session, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sounds WHERE id = ? AND session = ?`, id, session)
	if err != nil {
		return fmt.Errorf("soundboard: delete %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) one(row *sql.Row, id string) (*Sound, error) {
	snd, err := scanSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("soundboard: get %q: %w", id, err)
	}
	return &snd, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (Sound, error) {
	var (
		snd   Sound
		color string
		ns    int64
	)
	err := row.Scan(&snd.ID, &snd.Session, &snd.Name, &snd.Emoji, &snd.Group, &color, &snd.Index,
		&snd.SourcePath, &snd.SourceFormat, &ns, &snd.Seq)
	if err != nil {
		return Sound{}, err
	}
	snd.Color = ParseColor(color)
	snd.CreatedAt = time.Unix(0, ns).UTC()
	return snd, nil
}
