// Package state persists the build snapshot that keeps allocations stable
// between builds: one snapshot per environment, holding every feature's
// variations, rule percentages and allocated ranges.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"github.com/rafaeljc/bifrost/internal/traffic"
)

// ErrNotFound is returned when a feature is absent from a snapshot.
var ErrNotFound = errors.New("not found")

// Snapshot is the persisted result of the last build of one environment.
type Snapshot struct {
	Revision int `json:"revision"`

	// Source is the fingerprint of the definitions the snapshot was built from.
	// Tag or description edits change it without changing any allocation.
	Source string `json:"source,omitempty"`

	Features map[string]traffic.FeatureSnapshot `json:"features"`
}

// New returns an empty snapshot at revision 0.
func New() *Snapshot {
	return &Snapshot{Features: make(map[string]traffic.FeatureSnapshot)}
}

// Feature returns the snapshot of key, or nil when the snapshot itself is nil.
// A nil result means "no history" to the compiler.
func (s *Snapshot) Feature(key string) *traffic.FeatureSnapshot {
	if s == nil {
		return nil
	}
	f, ok := s.Features[key]
	if !ok {
		return nil
	}
	return &f
}

// Lookup is Feature with an error for callers that report absence.
func (s *Snapshot) Lookup(key string) (traffic.FeatureSnapshot, error) {
	f := s.Feature(key)
	if f == nil {
		return traffic.FeatureSnapshot{}, fmt.Errorf("feature %q: %w", key, ErrNotFound)
	}
	return *f, nil
}

// SameContent reports whether both snapshots hold the same source and
// features, ignoring the revision.
func (s *Snapshot) SameContent(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.Source != other.Source {
		return false
	}
	a, errA := json.Marshal(s.Features)
	b, errB := json.Marshal(other.Features)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// Clone returns a snapshot that shares no maps with s.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	return &Snapshot{Revision: s.Revision, Source: s.Source, Features: maps.Clone(s.Features)}
}

// Decode parses a stored snapshot. Legacy shapes are accepted: object ranges,
// non-string variation values and a missing revision.
func Decode(data []byte) (*Snapshot, error) {
	snap := New()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("failed to decode state snapshot: %w", err)
	}
	if snap.Features == nil {
		snap.Features = make(map[string]traffic.FeatureSnapshot)
	}
	return snap, nil
}

// Encode renders the canonical, indented form.
func Encode(s *Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode state snapshot: %w", err)
	}
	return data, nil
}

// Store persists snapshots per environment.
type Store interface {
	// Load returns nil, nil when the environment has never been built.
	Load(ctx context.Context, environment string) (*Snapshot, error)

	// Save replaces the stored snapshot of environment.
	Save(ctx context.Context, environment string, snapshot *Snapshot) error
}
