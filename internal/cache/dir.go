package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rafaeljc/bifrost/internal/datafile"
)

// DirSource serves datafiles from a build output directory when Redis is not used.
type DirSource struct {
	dir string
}

// NewDirSource reads from dir, laid out by datafile.Write.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// Fetch implements Source.
func (s *DirSource) Fetch(ctx context.Context, environment, tag string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(datafile.Path(s.dir, environment, tag))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", environment, tag, ErrMiss)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read datafile %s/%s: %w", environment, tag, err)
	}
	return data, nil
}
