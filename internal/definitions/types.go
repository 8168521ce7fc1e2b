// Package definitions reads the YAML project that describes features, groups
// and segments, and checks it before anything is compiled.
//
// Layout of a project root:
//
//	features/<key>.yml
//	groups/<key>.yml
//	segments/<key>.yml
//
// The file name (without extension) is the key of the entity it defines.
package definitions

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/rafaeljc/bifrost/internal/bucketing"
)

// DefaultBucketBy is the attribute hashed by SDKs when a feature does not name one.
const DefaultBucketBy = "userId"

// TagAll is the implicit tag carried by every feature.
const TagAll = "all"

// Project is a fully decoded definitions directory. Every slice is sorted by key.
type Project struct {
	Features []Feature
	Groups   []Group
	Segments []Segment
}

// Feature returns the feature with the given key.
func (p *Project) Feature(key string) (Feature, bool) {
	for _, f := range p.Features {
		if f.Key == key {
			return f, true
		}
	}
	return Feature{}, false
}

// Feature is one features/<key>.yml file.
type Feature struct {
	Key          string                 `yaml:"-" validate:"required,slug"`
	Description  string                 `yaml:"description"`
	Tags         []string               `yaml:"tags" validate:"dive,slug"`
	BucketBy     string                 `yaml:"bucketBy" validate:"required"`
	Archived     bool                   `yaml:"archived"`
	Variations   []Variation            `yaml:"variations" validate:"dive"`
	Environments map[string]Environment `yaml:"environments" validate:"dive"`
}

// HasTag reports whether the feature belongs in the datafile of tag.
func (f Feature) HasTag(tag string) bool {
	if tag == TagAll {
		return true
	}
	for _, t := range f.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Variation is one possible value of a feature with its share of traffic.
type Variation struct {
	Value       string            `yaml:"value" validate:"required"`
	Weight      bucketing.Percent `yaml:"weight"`
	Description string            `yaml:"description"`
}

// UnmarshalYAML keeps the literal text of scalar values, so `value: on` and
// `value: 1.50` reach the datafile exactly as written.
func (v *Variation) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Value       yaml.Node         `yaml:"value"`
		Weight      bucketing.Percent `yaml:"weight"`
		Description string            `yaml:"description"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Value.Kind != 0 && raw.Value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: variation value must be a scalar", raw.Value.Line)
	}

	v.Value = raw.Value.Value
	v.Weight = raw.Weight
	v.Description = raw.Description
	return nil
}

// Environment holds the ordered rules of a feature in one environment.
type Environment struct {
	Rules []Rule `yaml:"rules" validate:"dive"`
}

// Rule targets a set of segments with a percentage of traffic. When Variation
// is set, every bucketed user of the rule gets that variation.
type Rule struct {
	Key        string            `yaml:"key" validate:"required,slug"`
	Segments   []string          `yaml:"segments"`
	Percentage bucketing.Percent `yaml:"percentage"`
	Variation  string            `yaml:"variation"`
	Variables  map[string]any    `yaml:"variables"`
}

// Group is one groups/<key>.yml file: features sharing a mutually exclusive
// slice of the bucket space.
type Group struct {
	Key         string `yaml:"-" validate:"required,slug"`
	Description string `yaml:"description"`
	Slots       []Slot `yaml:"slots" validate:"min=1,dive"`
}

// Slot reserves a percentage of the group for a feature, or leaves it empty.
type Slot struct {
	Feature    string            `yaml:"feature"`
	Percentage bucketing.Percent `yaml:"percentage"`
}

// Segment is one segments/<key>.yml file. Conditions are opaque to Bifrost and
// are not decoded; only the key is referenced by rules.
type Segment struct {
	Key         string `yaml:"-" validate:"required,slug"`
	Description string `yaml:"description"`
}
