package definitions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rafaeljc/bifrost/internal/validation"
)

// Directory names under the project root.
const (
	FeaturesDir = "features"
	GroupsDir   = "groups"
	SegmentsDir = "segments"
)

// ErrDuplicateKey is returned when two files resolve to the same key
// (for example dark-mode.yml and dark-mode.yaml).
var ErrDuplicateKey = errors.New("duplicate definition key")

// Loader reads a project from disk.
type Loader struct {
	root   string
	logger *slog.Logger
}

// NewLoader returns a Loader for the project rooted at root.
func NewLoader(root string, logger *slog.Logger) *Loader {
	validation.AssertNotNil(logger, "logger")
	return &Loader{root: root, logger: logger}
}

// Root returns the project directory.
func (l *Loader) Root() string {
	return l.root
}

// Load decodes every definition file. Missing groups/ or segments/ directories
// are treated as empty; a missing features/ directory is an error.
func (l *Loader) Load(ctx context.Context) (*Project, error) {
	features, err := loadDir(ctx, l.root, FeaturesDir, true, decodeFeature)
	if err != nil {
		return nil, err
	}
	groups, err := loadDir(ctx, l.root, GroupsDir, false, decodeGroup)
	if err != nil {
		return nil, err
	}
	segments, err := loadDir(ctx, l.root, SegmentsDir, false, decodeSegment)
	if err != nil {
		return nil, err
	}

	l.logger.Debug("definitions loaded",
		slog.String("root", l.root),
		slog.Int("features", len(features)),
		slog.Int("groups", len(groups)),
		slog.Int("segments", len(segments)),
	)

	return &Project{Features: features, Groups: groups, Segments: segments}, nil
}

// decodeFunc decodes one file body into an entity with the given key.
type decodeFunc[T any] func(key string, data []byte) (T, error)

func loadDir[T any](ctx context.Context, root, dir string, required bool, decode decodeFunc[T]) ([]T, error) {
	files, err := definitionFiles(root, dir)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	items := make([]T, 0, len(files))
	seen := make(map[string]string, len(files))
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		key := strings.TrimSuffix(name, filepath.Ext(name))
		if other, dup := seen[key]; dup {
			return nil, fmt.Errorf("%s/%s and %s/%s: %w", dir, other, dir, name, ErrDuplicateKey)
		}
		seen[key] = name

		data, err := os.ReadFile(filepath.Join(root, dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s/%s: %w", dir, name, err)
		}
		item, err := decode(key, data)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", dir, name, err)
		}
		items = append(items, item)
	}

	return items, nil
}

// definitionFiles lists the YAML files of root/dir sorted by name.
func definitionFiles(root, dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(root, dir))
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yml", ".yaml":
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// decodeStrict rejects unknown fields so typos such as `percentge:` fail loudly.
func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func decodeFeature(key string, data []byte) (Feature, error) {
	var f Feature
	if err := decodeStrict(data, &f); err != nil {
		return Feature{}, err
	}
	f.Key = key
	if f.BucketBy == "" {
		f.BucketBy = DefaultBucketBy
	}
	return f, nil
}

func decodeGroup(key string, data []byte) (Group, error) {
	var g Group
	if err := decodeStrict(data, &g); err != nil {
		return Group{}, err
	}
	g.Key = key
	return g, nil
}

func decodeSegment(key string, data []byte) (Segment, error) {
	// Segment bodies carry conditions for SDKs; only the description is read.
	var s Segment
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Segment{}, err
	}
	s.Key = key
	return s, nil
}
