package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var _ Store = (*FileStore)(nil)

// FileStore keeps each snapshot in <dir>/<environment>.json, suitable for
// committing next to the definitions.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created on first Save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(environment string) string {
	return filepath.Join(s.dir, environment+".json")
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context, environment string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(environment))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state of %q: %w", environment, err)
	}
	return Decode(data)
}

// Save implements Store. The file is replaced atomically through a rename so
// a crash never leaves a half-written snapshot behind.
func (s *FileStore) Save(ctx context.Context, environment string, snapshot *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := Encode(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+environment+"-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state of %q: %w", environment, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state of %q: %w", environment, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state of %q: %w", environment, err)
	}
	if err := os.Rename(tmp.Name(), s.path(environment)); err != nil {
		return fmt.Errorf("failed to replace state of %q: %w", environment, err)
	}
	return nil
}
