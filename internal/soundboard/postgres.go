package soundboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema creates the sounds table. Run it through
// [PostgresStore.Migrate] or apply it during deployment.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS sounds (
    seq           BIGSERIAL UNIQUE,
    id            TEXT PRIMARY KEY,
    session       TEXT NOT NULL,
    name          TEXT NOT NULL,
    emoji         TEXT NOT NULL DEFAULT '',
    sound_group   TEXT NOT NULL DEFAULT '',
    color         TEXT NOT NULL DEFAULT 'blue',
    position      INTEGER NOT NULL DEFAULT 0,
    source_path   TEXT NOT NULL,
    source_format TEXT NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_sounds_session ON sounds(session, created_at, seq);
`

const soundColumns = `id, session, name, emoji, sound_group, color, position,
	source_path, source_format, created_at, seq`

// DB is the subset of pgx used by [PostgresStore]. *pgxpool.Pool and
// *pgx.Conn both satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ Store = (*PostgresStore)(nil)

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db   DB
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection or pool. Call
// [PostgresStore.Migrate] before use.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects a pool to dsn and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("soundboard: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("soundboard: ping postgres: %w", err)
	}
	s := &PostgresStore{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool opened by [OpenPostgres]. It is a no-op for stores
// built with [NewPostgresStore].
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Migrate applies [PostgresSchema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("soundboard: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("soundboard: ping: %w", err)
	}
	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context, session, id string) (*Sound, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+soundColumns+` FROM sounds WHERE id = $1 AND session = $2`, id, session)
	return scanSound(row, id)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Sound, error) {
	row := s.db.QueryRow(ctx, `SELECT `+soundColumns+` FROM sounds WHERE id = $1`, id)
	return scanSound(row, id)
}

func (s *PostgresStore) List(ctx context.Context, session string) ([]Sound, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+soundColumns+` FROM sounds WHERE session = $1 ORDER BY created_at, seq`, session)
	if err != nil {
		return nil, fmt.Errorf("soundboard: list: %w", err)
	}
	defer rows.Close()

	var out []Sound
	for rows.Next() {
		snd, err := scanRow(rows)
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

func (s *PostgresStore) Add(ctx context.Context, snd *Sound) error {
	const query = `
		INSERT INTO sounds (id, session, name, emoji, sound_group, color, position,
		                    source_path, source_format, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING seq`
	err := s.db.QueryRow(ctx, query,
		snd.ID, snd.Session, snd.Name, snd.Emoji, snd.Group, string(snd.Color), snd.Index,
		snd.SourcePath, snd.SourceFormat, snd.CreatedAt,
	).Scan(&snd.Seq)
	if err != nil {
		return fmt.Errorf("soundboard: add %q: %w", snd.ID, err)
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, snd *Sound) error {
	const query = `
		UPDATE sounds SET
			name = $2, emoji = $3, sound_group = $4, color = $5, position = $6,
			source_path = $7, source_format = $8
		WHERE id = $1
		RETURNING seq`
	err := s.db.QueryRow(ctx, query,
		snd.ID, snd.Name, snd.Emoji, snd.Group, string(snd.Color), snd.Index,
		snd.SourcePath, snd.SourceFormat,
	).Scan(&snd.Seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("soundboard: update %q: %w", snd.ID, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, session, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM sounds WHERE id = $1 AND session = $2`, id, session)
	if err != nil {
		return fmt.Errorf("soundboard: delete %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSound(row pgx.Row, id string) (*Sound, error) {
	snd, err := scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("soundboard: get %q: %w", id, err)
	}
	return &snd, nil
}

func scanRow(row pgx.Row) (Sound, error) {
	var (
		snd   Sound
		color string
		index int32
		at    time.Time
	)
	err := row.Scan(&snd.ID, &snd.Session, &snd.Name, &snd.Emoji, &snd.Group, &color, &index,
		&snd.SourcePath, &snd.SourceFormat, &at, &snd.Seq)
	if err != nil {
		return Sound{}, err
	}
	snd.Color = ParseColor(color)
	snd.Index = int(index)
	snd.CreatedAt = at
	return snd, nil
}
