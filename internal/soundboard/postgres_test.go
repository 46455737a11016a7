package soundboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ─── mock DB ────────────────────────────────────────────────────────────────

type mockRow struct {
	values []any
	err    error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

type mockRows struct {
	data [][]any
	idx  int
	err  error
}

func (r *mockRows) Close()                                       {}
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error { return assign(r.data[r.idx-1], dest) }

func assign(row []any, dest []any) error {
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int32:
			*d = v.(int32)
		case *int64:
			*d = v.(int64)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{err: pgx.ErrNoRows}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func soundRow(id, session, name string, at time.Time, seq int64) []any {
	return []any{id, session, name, "", "", "green", int32(3), id + ".wav", "wav", at, seq}
}

// ─── tests ──────────────────────────────────────────────────────────────────

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()
	var executed string
	s := NewPostgresStore(&mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		executed = sql
		return pgconn.CommandTag{}, nil
	}})
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(executed, "CREATE TABLE IF NOT EXISTS sounds") {
		t.Errorf("Migrate ran %q", executed)
	}

	fail := NewPostgresStore(&mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, errors.New("permission denied")
	}})
	if err := fail.Migrate(context.Background()); err == nil || !strings.Contains(err.Error(), "soundboard: migrate") {
		t.Errorf("Migrate error = %v", err)
	}
	if err := fail.Ping(context.Background()); err == nil {
		t.Error("Ping: expected error")
	}
}

func TestPostgresStore_Lookup(t *testing.T) {
	t.Parallel()
	var gotArgs []any
	s := NewPostgresStore(&mockDB{queryRowFunc: func(_ context.Context, _ string, args ...any) pgx.Row {
		gotArgs = args
		return &mockRow{values: soundRow("a", "g", "Airhorn", t0, 4)}
	}})

	snd, err := s.Lookup(context.Background(), "g", "a")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if snd.Name != "Airhorn" || snd.Color != ColorGreen || snd.Index != 3 || snd.Seq != 4 || !snd.CreatedAt.Equal(t0) {
		t.Errorf("Lookup = %+v", snd)
	}
	if len(gotArgs) != 2 || gotArgs[0] != "a" || gotArgs[1] != "g" {
		t.Errorf("query args = %v", gotArgs)
	}

	missing := NewPostgresStore(&mockDB{})
	if _, err := missing.Lookup(context.Background(), "g", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := missing.Get(context.Background(), "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_List(t *testing.T) {
	t.Parallel()
	var query string
	s := NewPostgresStore(&mockDB{queryFunc: func(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
		query = sql
		return &mockRows{data: [][]any{
			soundRow("a", "g", "A", t0, 1),
			soundRow("b", "g", "B", t0.Add(time.Second), 2),
		}}, nil
	}})

	list, err := s.List(context.Background(), "g")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Errorf("List = %+v", list)
	}
	if !strings.Contains(query, "ORDER BY created_at, seq") {
		t.Errorf("List query lacks ordering: %q", query)
	}

	broken := NewPostgresStore(&mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
		return &mockRows{err: errors.New("connection reset")}, nil
	}})
	if _, err := broken.List(context.Background(), "g"); err == nil {
		t.Error("List with row error: expected error")
	}
}

func TestPostgresStore_AddUpdateDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewPostgresStore(&mockDB{
		queryRowFunc: func(_ context.Context, sql string, args ...any) pgx.Row {
			if strings.Contains(sql, "UPDATE") && args[0] == "missing" {
				return &mockRow{err: pgx.ErrNoRows}
			}
			return &mockRow{values: []any{int64(42)}}
		},
		execFunc: func(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
			if args[0] == "missing" {
				return pgconn.NewCommandTag("DELETE 0"), nil
			}
			return pgconn.NewCommandTag("DELETE 1"), nil
		},
	})

	snd := &Sound{ID: "a", Session: "g", Name: "A", Color: ColorBlue, CreatedAt: t0}
	if err := s.Add(ctx, snd); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if snd.Seq != 42 {
		t.Errorf("Seq = %d, want 42", snd.Seq)
	}
	if err := s.Update(ctx, snd); err != nil {
		t.Errorf("Update: %v", err)
	}
	if err := s.Update(ctx, &Sound{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "g", "a"); err != nil {
		t.Errorf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "g", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrNotFound", err)
	}
}
