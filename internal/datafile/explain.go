package datafile

import (
	"errors"
	"fmt"

	"github.com/rafaeljc/bifrost/internal/bucketing"
)

// ErrUnknownFeature is returned by Explain for a key absent from the datafile.
var ErrUnknownFeature = errors.New("unknown feature")

// Explanation describes where a bucket key lands for one feature.
// Segments are not evaluated, so every rule is reported.
type Explanation struct {
	Feature   string            `json:"feature"`
	BucketBy  string            `json:"bucketBy"`
	BucketKey string            `json:"bucketKey"`
	Position  int               `json:"position"`
	InGroup   bool              `json:"inGroup"`
	InRanges  bool              `json:"inRanges"`
	Rules     []RuleExplanation `json:"rules"`
}

// RuleExplanation is the outcome of one rule at the hashed position.
type RuleExplanation struct {
	Rule     string   `json:"rule"`
	Segments []string `json:"segments"`

	// Percentage of the rule in bucket units.
	Percentage int `json:"percentage"`

	// Bucketed is true when an allocation of the rule covers the position.
	Bucketed bool `json:"bucketed"`

	// Allocated is the variation owning the position, empty when not bucketed.
	Allocated string `json:"allocated,omitempty"`

	// Variation is what a user matching the rule's segments would receive:
	// the forced variation if the rule has one, otherwise Allocated.
	Variation string `json:"variation,omitempty"`
}

// Explain hashes bucketKey with bucketing.Position and reports, for every
// rule of the feature, whether that position is allocated and to which variation.
func (d *Datafile) Explain(featureKey, bucketKey string) (*Explanation, error) {
	f, ok := d.Feature(featureKey)
	if !ok {
		return nil, fmt.Errorf("feature %q in %s: %w", featureKey, d.Name(), ErrUnknownFeature)
	}

	pos := bucketing.Position(bucketKey)
	out := &Explanation{
		Feature:   f.Key,
		BucketBy:  f.BucketBy,
		BucketKey: bucketKey,
		Position:  pos,
		InGroup:   len(f.Ranges) > 0,
		InRanges:  len(f.Ranges) == 0 || f.Ranges.Contains(pos),
		Rules:     make([]RuleExplanation, 0, len(f.Traffic)),
	}

	for _, t := range f.Traffic {
		rule := RuleExplanation{Rule: t.Key, Segments: t.Segments, Percentage: t.Percentage}
		for _, a := range t.Allocation {
			if a.Range.Contains(pos) {
				rule.Bucketed = true
				rule.Allocated = a.Variation
				break
			}
		}
		if rule.Bucketed {
			rule.Variation = rule.Allocated
			if t.Variation != "" {
				rule.Variation = t.Variation
			}
		}
		out.Rules = append(out.Rules, rule)
	}

	return out, nil
}
