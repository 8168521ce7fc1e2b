package definitions

import (
	"github.com/samber/lo"

	"github.com/rafaeljc/bifrost/internal/groups"
	"github.com/rafaeljc/bifrost/internal/traffic"
)

// TrafficVariations returns the variations in compiler form, in file order.
func (f Feature) TrafficVariations() []traffic.Variation {
	return lo.Map(f.Variations, func(v Variation, _ int) traffic.Variation {
		return traffic.Variation{Value: v.Value, Weight: v.Weight}
	})
}

// TrafficRules returns the rules of environment in compiler form. A feature
// with no entry for the environment has no rules there.
func (f Feature) TrafficRules(environment string) []traffic.Rule {
	env, ok := f.Environments[environment]
	if !ok {
		return nil
	}
	return lo.Map(env.Rules, func(r Rule, _ int) traffic.Rule {
		return traffic.Rule{
			Key:        r.Key,
			Segments:   r.Segments,
			Percentage: r.Percentage,
			Variation:  r.Variation,
			Variables:  r.Variables,
		}
	})
}

// CarverGroups returns the groups in carver form, in key order.
func (p *Project) CarverGroups() []groups.Group {
	return lo.Map(p.Groups, func(g Group, _ int) groups.Group { return g.carverGroup() })
}

func (g Group) carverGroup() groups.Group {
	return groups.Group{
		Key: g.Key,
		Slots: lo.Map(g.Slots, func(s Slot, _ int) groups.Slot {
			return groups.Slot{Feature: s.Feature, Percentage: s.Percentage}
		}),
	}
}
