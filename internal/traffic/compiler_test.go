package traffic

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/bifrost/internal/bucketing"
)

func pct(s string) bucketing.Percent {
	return bucketing.MustParsePercent(s)
}

func onOff() []Variation {
	return []Variation{
		{Value: "on", Weight: pct("50")},
		{Value: "off", Weight: pct("50")},
	}
}

func rule(key, percentage string) Rule {
	return Rule{Key: key, Segments: []string{"*"}, Percentage: pct(percentage)}
}

func alloc(variation string, start, end int) Allocation {
	return Allocation{Variation: variation, Range: bucketing.Range{Start: start, End: end}}
}

func TestCompileTraffic_FirstBuild(t *testing.T) {
	t.Parallel()

	// Arrange
	in := Input{
		Feature:    "checkout",
		Variations: onOff(),
		Rules:      []Rule{rule("everyone", "80")},
	}

	// Act
	out := CompileTraffic(in)

	// Assert
	require.Len(t, out.Traffic, 1)
	assert.Equal(t, 80_000, out.Traffic[0].Percentage)
	assert.Equal(t, []Allocation{alloc("on", 0, 40_000), alloc("off", 40_000, 80_000)}, out.Traffic[0].Allocation)
	assert.Equal(t, []Decision{{RuleKey: "everyone", Outcome: OutcomeRebucketed, Reason: ReasonNoPriorHistory}}, out.Decisions)
}

func TestCompileTraffic_Growth(t *testing.T) {
	t.Parallel()

	// Arrange: build N at 80%
	first := CompileTraffic(Input{Feature: "checkout", Variations: onOff(), Rules: []Rule{rule("everyone", "80")}})

	// Act: build N+1 at 90%
	second := CompileTraffic(Input{
		Feature:    "checkout",
		Variations: onOff(),
		Rules:      []Rule{rule("everyone", "90")},
		Previous:   &first.Snapshot,
	})

	// Assert
	want := []Allocation{
		alloc("on", 0, 40_000),
		alloc("off", 40_000, 80_000),
		alloc("on", 80_000, 85_000),
		alloc("off", 85_000, 90_000),
	}
	if diff := cmp.Diff(want, second.Traffic[0].Allocation); diff != "" {
		t.Errorf("allocation mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, OutcomeStableGrowth, second.Decisions[0].Outcome)
	assert.Equal(t, ReasonNone, second.Decisions[0].Reason)
}

func TestCompileTraffic_Shrink(t *testing.T) {
	t.Parallel()

	first := CompileTraffic(Input{Feature: "checkout", Variations: onOff(), Rules: []Rule{rule("everyone", "80")}})

	second := CompileTraffic(Input{
		Feature:    "checkout",
		Variations: onOff(),
		Rules:      []Rule{rule("everyone", "70")},
		Previous:   &first.Snapshot,
	})

	assert.Equal(t, []Allocation{alloc("on", 0, 35_000), alloc("off", 35_000, 70_000)}, second.Traffic[0].Allocation)
	assert.Equal(t, Decision{RuleKey: "everyone", Outcome: OutcomeRebucketed, Reason: ReasonPercentageNotIncreased}, second.Decisions[0])
}

// An unchanged percentage is recomputed from scratch. Right after a first
// build that reproduces the same allocation, but once a rule has grown the
// recomputation collapses the grown ranges and moves units between variations.
func TestCompileTraffic_SamePercentageAfterGrowth(t *testing.T) {
	t.Parallel()

	// Arrange: 80% then stable growth to 90%
	first := CompileTraffic(Input{Feature: "checkout", Variations: onOff(), Rules: []Rule{rule("everyone", "80")}})
	grown := CompileTraffic(Input{
		Feature:    "checkout",
		Variations: onOff(),
		Rules:      []Rule{rule("everyone", "90")},
		Previous:   &first.Snapshot,
	})
	require.Equal(t, OutcomeStableGrowth, grown.Decisions[0].Outcome)

	// Act: rebuild at 90%
	again := CompileTraffic(Input{
		Feature:    "checkout",
		Variations: onOff(),
		Rules:      []Rule{rule("everyone", "90")},
		Previous:   &grown.Snapshot,
	})

	// Assert
	assert.Equal(t, Decision{RuleKey: "everyone", Outcome: OutcomeRebucketed, Reason: ReasonPercentageNotIncreased}, again.Decisions[0])
	want := []Allocation{alloc("on", 0, 45_000), alloc("off", 45_000, 90_000)}
	if diff := cmp.Diff(want, again.Traffic[0].Allocation); diff != "" {
		t.Errorf("allocation mismatch (-want +got):\n%s", diff)
	}

	// [40000, 45000) was "off" after the growth and is "on" now.
	for _, pos := range []int{40_000, 42_000, 44_999} {
		assert.Equal(t, "off", variationAt(grown.Traffic[0].Allocation, pos), "position %d after growth", pos)
		assert.Equal(t, "on", variationAt(again.Traffic[0].Allocation, pos), "position %d after rebuild", pos)
	}

	// A second identical rebuild is stable from then on.
	third := CompileTraffic(Input{
		Feature:    "checkout",
		Variations: onOff(),
		Rules:      []Rule{rule("everyone", "90")},
		Previous:   &again.Snapshot,
	})
	assert.Equal(t, again.Traffic[0].Allocation, third.Traffic[0].Allocation)
}

func variationAt(allocation []Allocation, pos int) string {
	for _, a := range allocation {
		if a.Range.Contains(pos) {
			return a.Variation
		}
	}
	return ""
}

func TestCompileTraffic_RebucketReasons(t *testing.T) {
	t.Parallel()

	previous := CompileTraffic(Input{
		Feature:    "checkout",
		Variations: onOff(),
		Rules:      []Rule{rule("everyone", "50")},
	}).Snapshot

	tests := []struct {
		name       string
		variations []Variation
		rules      []Rule
		ranges     bucketing.Ranges
		want       Reason
		wantAlloc  []Allocation
	}{
		{
			name:       "same percentage",
			variations: onOff(),
			rules:      []Rule{rule("everyone", "50")},
			want:       ReasonPercentageNotIncreased,
			wantAlloc:  []Allocation{alloc("on", 0, 25_000), alloc("off", 25_000, 50_000)},
		},
		{
			name: "weights changed",
			variations: []Variation{
				{Value: "on", Weight: pct("20")},
				{Value: "off", Weight: pct("80")},
			},
			rules:     []Rule{rule("everyone", "60")},
			want:      ReasonVariationsChanged,
			wantAlloc: []Allocation{alloc("on", 0, 12_000), alloc("off", 12_000, 60_000)},
		},
		{
			name: "variation order changed",
			variations: []Variation{
				{Value: "off", Weight: pct("50")},
				{Value: "on", Weight: pct("50")},
			},
			rules:     []Rule{rule("everyone", "60")},
			want:      ReasonVariationsChanged,
			wantAlloc: []Allocation{alloc("off", 0, 30_000), alloc("on", 30_000, 60_000)},
		},
		{
			name:       "feature joined a group",
			variations: onOff(),
			rules:      []Rule{rule("everyone", "60")},
			ranges:     bucketing.Ranges{{Start: 0, End: 60_000}},
			want:       ReasonRangesChanged,
			wantAlloc:  []Allocation{alloc("on", 0, 30_000), alloc("off", 30_000, 60_000)},
		},
		{
			name:       "new rule key",
			variations: onOff(),
			rules:      []Rule{rule("beta", "60")},
			want:       ReasonNoPriorHistory,
			wantAlloc:  []Allocation{alloc("on", 0, 30_000), alloc("off", 30_000, 60_000)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Act
			out := CompileTraffic(Input{
				Feature:    "checkout",
				Variations: tt.variations,
				Rules:      tt.rules,
				Previous:   &previous,
				Ranges:     tt.ranges,
			})

			// Assert
			require.Len(t, out.Decisions, 1)
			assert.Equal(t, OutcomeRebucketed, out.Decisions[0].Outcome)
			assert.Equal(t, tt.want, out.Decisions[0].Reason)
			assert.Equal(t, tt.wantAlloc, out.Traffic[0].Allocation)
		})
	}
}

func TestCompileTraffic_Idempotent(t *testing.T) {
	t.Parallel()

	in := Input{
		Feature: "pricing",
		Variations: []Variation{
			{Value: "a", Weight: pct("33.333")},
			{Value: "b", Weight: pct("33.333")},
			{Value: "c", Weight: pct("33.334")},
		},
		Rules: []Rule{rule("nl", "12.5"), rule("everyone", "100")},
	}

	first := CompileTraffic(in)
	second := CompileTraffic(in)

	assert.Equal(t, first, second)
}

func TestCompileTraffic_DoesNotMutateInputs(t *testing.T) {
	t.Parallel()

	// Arrange
	previous := CompileTraffic(Input{Feature: "f", Variations: onOff(), Rules: []Rule{rule("r", "10")}}).Snapshot
	previousJSON, err := json.Marshal(previous)
	require.NoError(t, err)
	ranges := bucketing.Ranges{{Start: 0, End: 50_000}}

	// Act
	out := CompileTraffic(Input{Feature: "f", Variations: onOff(), Rules: []Rule{rule("r", "20")}, Previous: &previous})
	out.Traffic[0].Allocation[0].Range.Start = 12345
	_ = CompileTraffic(Input{Feature: "f", Variations: onOff(), Rules: []Rule{rule("r", "20")}, Ranges: ranges})

	// Assert
	afterJSON, err := json.Marshal(previous)
	require.NoError(t, err)
	assert.JSONEq(t, string(previousJSON), string(afterJSON), "previous snapshot must not change")
	assert.Equal(t, bucketing.Ranges{{Start: 0, End: 50_000}}, ranges)
}

func TestCompileTraffic_GroupedFeature(t *testing.T) {
	t.Parallel()

	t.Run("Should allocate inside the slot", func(t *testing.T) {
		t.Parallel()

		out := CompileTraffic(Input{
			Feature:    "b",
			Variations: onOff(),
			Rules:      []Rule{rule("everyone", "20")},
			Ranges:     bucketing.Ranges{{Start: 60_001, End: 100_000}},
		})

		assert.Equal(t, []Allocation{alloc("on", 60_001, 70_001), alloc("off", 70_001, 80_001)}, out.Traffic[0].Allocation)
		assert.False(t, out.Decisions[0].Truncated)
		assert.Equal(t, bucketing.Ranges{{Start: 60_001, End: 100_000}}, out.Snapshot.Ranges)
	})

	t.Run("Should truncate silently when the slot is narrower than the rule", func(t *testing.T) {
		t.Parallel()

		out := CompileTraffic(Input{
			Feature:    "b",
			Variations: onOff(),
			Rules:      []Rule{rule("everyone", "100")},
			Ranges:     bucketing.Ranges{{Start: 60_001, End: 100_000}},
		})

		// "on" asks for 50_000 units but the slot only holds 39_999; "off" gets nothing.
		assert.Equal(t, []Allocation{alloc("on", 60_001, 100_000)}, out.Traffic[0].Allocation)
		assert.True(t, out.Decisions[0].Truncated)
	})

	t.Run("Should spread across several slots", func(t *testing.T) {
		t.Parallel()

		out := CompileTraffic(Input{
			Feature:    "a",
			Variations: onOff(),
			Rules:      []Rule{rule("everyone", "15")},
			Ranges:     bucketing.Ranges{{Start: 0, End: 10_000}, {Start: 90_001, End: 100_000}},
		})

		assert.Equal(t, []Allocation{
			alloc("on", 0, 7_500),
			alloc("off", 7_500, 10_000),
			alloc("off", 90_001, 95_001),
		}, out.Traffic[0].Allocation)
	})

	t.Run("Should keep history when growing inside an unchanged slot", func(t *testing.T) {
		t.Parallel()

		slot := bucketing.Ranges{{Start: 60_001, End: 100_000}}
		first := CompileTraffic(Input{Feature: "b", Variations: onOff(), Rules: []Rule{rule("r", "10")}, Ranges: slot})

		second := CompileTraffic(Input{Feature: "b", Variations: onOff(), Rules: []Rule{rule("r", "20")}, Ranges: slot, Previous: &first.Snapshot})

		assert.Equal(t, OutcomeStableGrowth, second.Decisions[0].Outcome)
		assert.Equal(t, []Allocation{
			alloc("on", 60_001, 65_001),
			alloc("off", 65_001, 70_001),
			alloc("on", 70_001, 75_001),
			alloc("off", 75_001, 80_001),
		}, second.Traffic[0].Allocation)
	})
}

func TestCompileTraffic_ZeroWeightVariation(t *testing.T) {
	t.Parallel()

	out := CompileTraffic(Input{
		Feature: "f",
		Variations: []Variation{
			{Value: "control", Weight: pct("100")},
			{Value: "treatment", Weight: pct("0")},
		},
		Rules: []Rule{rule("everyone", "100")},
	})

	assert.Equal(t, []Allocation{alloc("control", 0, 100_000)}, out.Traffic[0].Allocation)
}

func TestCompileTraffic_NoVariations(t *testing.T) {
	t.Parallel()

	out := CompileTraffic(Input{Feature: "kill-switch", Rules: []Rule{rule("everyone", "100")}})

	assert.Empty(t, out.Traffic[0].Allocation)
	assert.Equal(t, 100_000, out.Traffic[0].Percentage)
	assert.Empty(t, out.Snapshot.Variations)
}

func TestCompileTraffic_CarriesRuleMetadata(t *testing.T) {
	t.Parallel()

	out := CompileTraffic(Input{
		Feature:    "f",
		Variations: onOff(),
		Rules: []Rule{{
			Key:        "qa",
			Segments:   []string{"qa-team", "netherlands"},
			Percentage: pct("100"),
			Variation:  "on",
			Variables:  map[string]any{"color": "red"},
		}},
	})

	tr := out.Traffic[0]
	assert.Equal(t, "qa", tr.Key)
	assert.Equal(t, []string{"qa-team", "netherlands"}, tr.Segments)
	assert.Equal(t, "on", tr.Variation)
	assert.Equal(t, map[string]any{"color": "red"}, tr.Variables)
}

// TestCompileTraffic_RepeatedGrowth grows a rule in small uneven steps and checks
// that old ranges are always kept and that the total never drifts from the target.
func TestCompileTraffic_RepeatedGrowth(t *testing.T) {
	t.Parallel()

	variations := []Variation{
		{Value: "a", Weight: pct("33.333")},
		{Value: "b", Weight: pct("33.333")},
		{Value: "c", Weight: pct("33.334")},
	}
	steps := []string{"0.001", "0.007", "1", "1.333", "7.777", "12.5", "33.001", "50", "66.667", "99.999", "100"}

	var previous *FeatureSnapshot
	var previousAlloc []Allocation

	for i, step := range steps {
		out := CompileTraffic(Input{
			Feature:    "pricing",
			Variations: variations,
			Rules:      []Rule{rule("everyone", step)},
			Previous:   previous,
		})

		got := out.Traffic[0].Allocation
		total := 0
		perVariation := map[string]int{}
		for _, a := range got {
			total += a.Range.Len()
			perVariation[a.Variation] += a.Range.Len()
		}

		assert.Equal(t, pct(step).Units(), total, "step %d (%s%%): total must match exactly", i, step)
		require.GreaterOrEqual(t, len(got), len(previousAlloc))
		assert.Equal(t, previousAlloc, got[:len(previousAlloc)], "step %d: previous ranges must be kept", i)
		if i > 0 {
			assert.Equal(t, OutcomeStableGrowth, out.Decisions[0].Outcome, "step %d", i)
		}

		// Each growth can shift at most one unit between variations.
		for _, v := range variations {
			exact := v.Weight.Units() * pct(step).Units() / bucketing.Total
			assert.InDelta(t, exact, perVariation[v.Value], float64(i+1), fmt.Sprintf("step %d variation %s", i, v.Value))
		}

		snapshot := out.Snapshot
		previous = &snapshot
		previousAlloc = got
	}
}

func TestCompileTraffic_Preconditions(t *testing.T) {
	t.Parallel()

	t.Run("Should panic when weights do not sum to 100", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() {
			CompileTraffic(Input{
				Feature:    "f",
				Variations: []Variation{{Value: "a", Weight: pct("60")}, {Value: "b", Weight: pct("30")}},
				Rules:      []Rule{rule("r", "100")},
			})
		})
	})

	t.Run("Should panic on duplicate rule keys", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() {
			CompileTraffic(Input{Feature: "f", Variations: onOff(), Rules: []Rule{rule("r", "10"), rule("r", "20")}})
		})
	})

	t.Run("Should panic on duplicate variation values", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() {
			CompileTraffic(Input{
				Feature:    "f",
				Variations: []Variation{{Value: "a", Weight: pct("50")}, {Value: "a", Weight: pct("50")}},
			})
		})
	})
}

func TestSplitByWeight(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		weights []string
		amount  int
		want    []int
	}{
		{name: "even split", weights: []string{"50", "50"}, amount: 80_000, want: []int{40_000, 40_000}},
		{name: "thirds keep the total", weights: []string{"33.333", "33.333", "33.334"}, amount: 50_000, want: []int{16_666, 16_667, 16_667}},
		{name: "zero amount", weights: []string{"50", "50"}, amount: 0, want: []int{0, 0}},
		{name: "zero weight", weights: []string{"0", "100"}, amount: 10, want: []int{0, 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			variations := make([]Variation, len(tt.weights))
			for i, w := range tt.weights {
				variations[i] = Variation{Value: fmt.Sprint(i), Weight: pct(w)}
			}

			assert.Equal(t, tt.want, splitByWeight(variations, tt.amount))
		})
	}
}
