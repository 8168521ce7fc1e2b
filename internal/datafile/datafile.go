// Package datafile defines the document SDKs download: the compiled traffic of
// every feature of one tag in one environment.
package datafile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rafaeljc/bifrost/internal/bucketing"
	"github.com/rafaeljc/bifrost/internal/traffic"
)

// SchemaVersion is bumped whenever the JSON layout changes incompatibly.
const SchemaVersion = "2"

// Datafile is the compiled output for one (environment, tag) pair.
type Datafile struct {
	SchemaVersion string    `json:"schemaVersion"`
	Revision      int       `json:"revision"`
	Environment   string    `json:"environment"`
	Tag           string    `json:"tag"`
	Features      []Feature `json:"features"`
}

// Feature is one compiled feature. Features are sorted by key.
type Feature struct {
	Key        string              `json:"key"`
	BucketBy   string              `json:"bucketBy"`
	Variations []traffic.Variation `json:"variations,omitempty"`
	Traffic    []traffic.Traffic   `json:"traffic"`
	Ranges     bucketing.Ranges    `json:"ranges,omitempty"`
}

// Feature returns the feature with the given key.
func (d *Datafile) Feature(key string) (*Feature, bool) {
	for i := range d.Features {
		if d.Features[i].Key == key {
			return &d.Features[i], true
		}
	}
	return nil, false
}

// Name identifies the datafile as "<environment>/<tag>".
func (d *Datafile) Name() string {
	return d.Environment + "/" + d.Tag
}

// Encode renders the compact JSON form served to SDKs.
func Encode(d *Datafile) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode datafile %s: %w", d.Name(), err)
	}
	return data, nil
}

// Decode parses a datafile and checks its schema version.
func Decode(data []byte) (*Datafile, error) {
	var d Datafile
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to decode datafile: %w", err)
	}
	if d.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported datafile schema version %q, expected %q", d.SchemaVersion, SchemaVersion)
	}
	return &d, nil
}

// Path returns where Write stores the datafile of environment and tag under dir.
func Path(dir, environment, tag string) string {
	return filepath.Join(dir, environment, tag+".json")
}

// Write stores d at Path(dir, ...) through a temp file and rename.
func Write(dir string, d *Datafile) (string, error) {
	data, err := Encode(d)
	if err != nil {
		return "", err
	}

	path := Path(dir, d.Environment, d.Tag)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write datafile %s: %w", d.Name(), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to replace datafile %s: %w", d.Name(), err)
	}
	return path, nil
}

// Read loads the datafile of environment and tag from dir.
func Read(dir, environment, tag string) (*Datafile, error) {
	data, err := os.ReadFile(Path(dir, environment, tag))
	if err != nil {
		return nil, fmt.Errorf("failed to read datafile %s/%s: %w", environment, tag, err)
	}
	return Decode(data)
}
