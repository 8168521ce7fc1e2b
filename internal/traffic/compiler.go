package traffic

import (
	"maps"
	"slices"

	"github.com/samber/lo"

	"github.com/rafaeljc/bifrost/internal/bucketing"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// Outcome describes how a rule's allocation was produced.
type Outcome string

const (
	// OutcomeStableGrowth means the previous allocation was kept byte-for-byte
	// and only the percentage delta was newly allocated.
	OutcomeStableGrowth Outcome = "stable_growth"

	// OutcomeRebucketed means the allocation was recomputed from scratch.
	OutcomeRebucketed Outcome = "rebucketed"
)

// Reason explains why a rule was rebucketed.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonNoPriorHistory         Reason = "no_prior_history"
	ReasonVariationsChanged      Reason = "variations_changed"
	ReasonPercentageNotIncreased Reason = "percentage_not_increased"
	ReasonRangesChanged          Reason = "ranges_changed"
)

// Decision records what happened to a single rule.
type Decision struct {
	RuleKey string  `json:"rule"`
	Outcome Outcome `json:"outcome"`
	Reason  Reason  `json:"reason,omitempty"`

	// Truncated is set when the available space could not hold the requested
	// percentage (a group slot narrower than the rule). It is not an error.
	Truncated bool `json:"truncated,omitempty"`
}

// Input is everything needed to compile one feature in one environment.
type Input struct {
	Feature    string
	Variations []Variation
	Rules      []Rule

	// Previous is the snapshot written by the last build. Nil means no history.
	Previous *FeatureSnapshot

	// Ranges is the group-carved space of the feature. Empty means the full space.
	Ranges bucketing.Ranges
}

// Output is the compiled traffic plus the snapshot to persist for the next build.
type Output struct {
	Traffic   []Traffic
	Snapshot  FeatureSnapshot
	Decisions []Decision
}

// CompileTraffic produces the allocation of every rule in order.
//
// It is a pure function of its input: it performs no I/O, keeps no state and
// never modifies in.Previous or in.Ranges. Inputs that violate the linter's
// guarantees (weights not summing to 100, duplicate keys) cause a panic, since
// silently repairing them would break allocation stability.
func CompileTraffic(in Input) Output {
	checkPreconditions(in)

	available := bucketing.Full()
	if len(in.Ranges) > 0 {
		available = in.Ranges.Clone()
	}

	variationsChanged := in.Previous != nil && !sameVariations(in.Previous.Variations, in.Variations)
	rangesChanged := in.Previous != nil && !in.Previous.Ranges.Equal(in.Ranges)

	out := Output{
		Traffic:   make([]Traffic, 0, len(in.Rules)),
		Decisions: make([]Decision, 0, len(in.Rules)),
		Snapshot: FeatureSnapshot{
			Variations: slices.Clone(in.Variations),
			Traffic:    make([]TrafficSnapshot, 0, len(in.Rules)),
		},
	}
	if len(in.Ranges) > 0 {
		out.Snapshot.Ranges = in.Ranges.Clone()
	}

	for _, rule := range in.Rules {
		percentage := rule.Percentage.Units()
		existing, found := in.Previous.rule(rule.Key)

		decision := Decision{RuleKey: rule.Key, Outcome: OutcomeRebucketed}
		switch {
		case !found:
			decision.Reason = ReasonNoPriorHistory
		case variationsChanged:
			decision.Reason = ReasonVariationsChanged
		case percentage-existing.Percentage <= 0:
			decision.Reason = ReasonPercentageNotIncreased
		case rangesChanged:
			decision.Reason = ReasonRangesChanged
		default:
			decision.Outcome = OutcomeStableGrowth
		}

		var allocation []Allocation
		if decision.Outcome == OutcomeStableGrowth {
			// Keep every existing range untouched and fill only the newly exposed space.
			allocation = slices.Clone(existing.Allocation)
			used := lo.SumBy(existing.Allocation, func(a Allocation) int { return a.Range.Len() })

			var grown []Allocation
			grown, decision.Truncated = fill(in.Variations, percentage-existing.Percentage, bucketing.Consume(available, used))
			allocation = append(allocation, grown...)
		} else {
			allocation, decision.Truncated = fill(in.Variations, percentage, available)
		}

		allocation = dropDegenerate(allocation)

		out.Traffic = append(out.Traffic, Traffic{
			Key:        rule.Key,
			Segments:   slices.Clone(rule.Segments),
			Percentage: percentage,
			Allocation: allocation,
			Variation:  rule.Variation,
			Variables:  maps.Clone(rule.Variables),
		})
		out.Snapshot.Traffic = append(out.Snapshot.Traffic, TrafficSnapshot{
			Key:        rule.Key,
			Percentage: percentage,
			Allocation: slices.Clone(allocation),
		})
		out.Decisions = append(out.Decisions, decision)
	}

	return out
}

// fill splits amount between the variations by weight and allocates each share
// from available in order, so later variations only see what earlier ones left.
// It reports whether any share could not be fully granted.
func fill(variations []Variation, amount int, available bucketing.Ranges) ([]Allocation, bool) {
	allocation := make([]Allocation, 0, len(variations))
	truncated := false

	for i, share := range splitByWeight(variations, amount) {
		granted := bucketing.Allocate(available, share)
		available = bucketing.Consume(available, share)

		if granted.Length() < share {
			truncated = true
		}
		for _, r := range granted {
			allocation = append(allocation, Allocation{Variation: variations[i].Value, Range: r})
		}
	}

	return allocation, truncated
}

// splitByWeight divides amount between variations proportionally to their
// weights using cumulative boundaries: share_i = floor(cum_i*amount/Total) -
// floor(cum_(i-1)*amount/Total). The shares always add up to exactly amount
// when the weights sum to 100%, so repeated growth never loses or gains units.
func splitByWeight(variations []Variation, amount int) []int {
	shares := make([]int, len(variations))
	if amount <= 0 {
		return shares
	}

	var cumulative, previous int64
	for i, v := range variations {
		cumulative += int64(v.Weight.Units())
		boundary := cumulative * int64(amount) / bucketing.Total
		shares[i] = int(boundary - previous)
		previous = boundary
	}

	return shares
}

// dropDegenerate removes zero-width entries (weight-0 variations, legacy data).
func dropDegenerate(allocation []Allocation) []Allocation {
	return lo.Filter(allocation, func(a Allocation, _ int) bool {
		return !a.Range.IsEmpty()
	})
}

// sameVariations compares two variation lists as ordered (value, weight) pairs.
func sameVariations(a, b []Variation) bool {
	return slices.Equal(a, b)
}

// checkPreconditions enforces the guarantees the definitions linter provides.
func checkPreconditions(in Input) {
	if len(in.Variations) > 0 {
		total := lo.SumBy(in.Variations, func(v Variation) int { return v.Weight.Units() })
		validation.Assert(total == bucketing.Total,
			"variation weights of feature %q sum to %s%%, expected 100%%", in.Feature, bucketing.Percent(total))

		values := lo.Map(in.Variations, func(v Variation, _ int) string { return v.Value })
		validation.Assert(len(lo.Uniq(values)) == len(values),
			"feature %q has duplicate variation values", in.Feature)
	}

	keys := lo.Map(in.Rules, func(r Rule, _ int) string { return r.Key })
	validation.Assert(len(lo.Uniq(keys)) == len(keys),
		"feature %q has duplicate rule keys", in.Feature)
}
