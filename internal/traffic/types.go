// Package traffic compiles a feature's rollout rules into bucket allocations.
//
// Allocations are sticky: when a rule's percentage only grows and nothing else
// about the feature changed, every previously allocated range is kept as-is and
// only the newly exposed capacity is filled. Any other change recomputes the
// rule from scratch. The previous build's FeatureSnapshot is what makes this
// decision possible, and CompileTraffic returns the snapshot for the next build.
package traffic

import (
	"encoding/json"
	"fmt"

	"github.com/rafaeljc/bifrost/internal/bucketing"
)

// Variation is one possible value of a feature together with its weight.
type Variation struct {
	// Value is the canonical string form of the variation value.
	Value string `json:"value"`

	// Weight is the share of a rule's traffic this variation receives.
	Weight bucketing.Percent `json:"weight"`
}

// UnmarshalJSON accepts string, number and boolean values, which all appear in
// historical state files, and normalises them to their string form.
func (v *Variation) UnmarshalJSON(data []byte) error {
	var raw struct {
		Value  json.RawMessage   `json:"value"`
		Weight bucketing.Percent `json:"weight"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	value, err := decodeValue(raw.Value)
	if err != nil {
		return fmt.Errorf("variation value: %w", err)
	}

	v.Value = value
	v.Weight = raw.Weight
	return nil
}

// Rule is one rollout rule of a feature in one environment.
// Rules are evaluated in order, so their order is significant.
type Rule struct {
	// Key identifies the rule inside the feature and environment.
	Key string

	// Segments are opaque references to the audience the rule targets ("*" for everyone).
	Segments []string

	// Percentage is the share of the feature's available space the rule exposes.
	Percentage bucketing.Percent

	// Variation optionally forces a single variation for the rule's audience.
	Variation string

	// Variables optionally overrides variable values for the rule's audience.
	Variables map[string]any
}

// Allocation grants one range of the bucketing space to a variation.
type Allocation struct {
	Variation string          `json:"variation"`
	Range     bucketing.Range `json:"range"`
}

// UnmarshalJSON normalises non-string variation values like Variation does.
func (a *Allocation) UnmarshalJSON(data []byte) error {
	var raw struct {
		Variation json.RawMessage `json:"variation"`
		Range     bucketing.Range `json:"range"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	value, err := decodeValue(raw.Variation)
	if err != nil {
		return fmt.Errorf("allocation variation: %w", err)
	}

	a.Variation = value
	a.Range = raw.Range
	return nil
}

// Traffic is the compiled form of a Rule, embedded verbatim in datafiles.
type Traffic struct {
	Key        string         `json:"key"`
	Segments   []string       `json:"segments"`
	Percentage int            `json:"percentage"`
	Allocation []Allocation   `json:"allocation"`
	Variation  string         `json:"variation,omitempty"`
	Variables  map[string]any `json:"variables,omitempty"`
}

// TrafficSnapshot is the persisted history of one rule.
type TrafficSnapshot struct {
	Key        string       `json:"key"`
	Percentage int          `json:"percentage"`
	Allocation []Allocation `json:"allocation"`
}

// FeatureSnapshot is what a build remembers about a feature for the next build.
type FeatureSnapshot struct {
	Variations []Variation       `json:"variations,omitempty"`
	Traffic    []TrafficSnapshot `json:"traffic"`

	// Ranges holds the group-carved space the feature was compiled against.
	// It is empty for features that do not belong to a group.
	Ranges bucketing.Ranges `json:"ranges,omitempty"`
}

// rule looks up a rule's history by key. It is safe to call on a nil snapshot.
func (s *FeatureSnapshot) rule(key string) (TrafficSnapshot, bool) {
	if s == nil {
		return TrafficSnapshot{}, false
	}
	for _, t := range s.Traffic {
		if t.Key == key {
			return t, true
		}
	}
	return TrafficSnapshot{}, false
}
