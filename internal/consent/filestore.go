package consent

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// recordSize is the width of one stored user ID.
const recordSize = 8

// Compile-time interface assertion.
var _ Store = (*FileStore)(nil)

// FileStore keeps the whitelist as a flat file of big-endian uint64 user IDs,
// one 8-byte record per user with no header. IDs must therefore be numeric
// Discord snowflakes.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path. The file is created on the
// first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load implements [Store]. A missing file is an empty whitelist; a file whose
// length is not a multiple of eight is corrupt.
func (s *FileStore) Load() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consent: read %s: %w", s.path, err)
	}
	if len(data)%recordSize != 0 {
		return nil, fmt.Errorf("consent: %s: truncated record (%d trailing bytes)", s.path, len(data)%recordSize)
	}
	users := make([]string, 0, len(data)/recordSize)
	for off := 0; off < len(data); off += recordSize {
		users = append(users, strconv.FormatUint(binary.BigEndian.Uint64(data[off:]), 10))
	}
	return users, nil
}

// Append implements [Store].
func (s *FileStore) Append(user string) error {
	rec, err := encodeUser(user)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("consent: open %s: %w", s.path, err)
	}
	if _, err := f.Write(rec); err != nil {
		_ = f.Close()
		return fmt.Errorf("consent: append to %s: %w", s.path, err)
	}
	return f.Close()
}

// Save implements [Store]. The file is replaced atomically through a rename.
func (s *FileStore) Save(users []string) error {
	data := make([]byte, 0, len(users)*recordSize)
	for _, u := range users {
		rec, err := encodeUser(u)
		if err != nil {
			return err
		}
		data = append(data, rec...)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("consent: save %s: %w", s.path, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("consent: save %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("consent: save %s: %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("consent: save %s: %w", s.path, err)
	}
	return nil
}

func encodeUser(user string) ([]byte, error) {
	id, err := strconv.ParseUint(user, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUser, user)
	}
	return binary.BigEndian.AppendUint64(nil, id), nil
}
