// Package groups partitions the bucketing space between mutually exclusive
// features. Each group is a list of slots; every slot receives one contiguous
// sub-range and the feature assigned to it may only bucket users inside it.
package groups

import (
	"github.com/rafaeljc/bifrost/internal/bucketing"
)

// Slot is one share of a group. An empty Feature leaves the share unassigned,
// which still occupies space so that later slots keep their positions.
type Slot struct {
	Feature    string
	Percentage bucketing.Percent
}

// Group is an ordered list of slots whose percentages sum to 100.
type Group struct {
	Key   string
	Slots []Slot
}

// Carving is the result of partitioning one or more groups.
// It maps each grouped feature to the ranges of all slots it occupies.
type Carving struct {
	ranges map[string]bucketing.Ranges
}

// InGroup reports whether the feature occupies at least one slot in any group.
func (c Carving) InGroup(feature string) bool {
	_, ok := c.ranges[feature]
	return ok
}

// RangesFor returns a copy of the ranges owned by the feature, or nil when the
// feature is not grouped.
func (c Carving) RangesFor(feature string) bucketing.Ranges {
	rs, ok := c.ranges[feature]
	if !ok {
		return nil
	}
	return rs.Clone()
}

// Features returns the number of grouped features.
func (c Carving) Features() int {
	return len(c.ranges)
}

// carveState is threaded through the fold over a group's slots.
type carveState struct {
	offset int
	first  bool
}

// Carve partitions every group independently over the full bucketing space.
//
// Within a group, slots are laid out in declaration order. The first slot starts
// at the running offset; every later slot starts one unit after it. Each slot
// ends at offset+width and the offset then advances by width, so the boundary
// unit is taken out of the later slot's own width rather than added as extra
// space. A 60/40 group therefore yields [0, 60000) and [60001, 100000).
func Carve(groups []Group) Carving {
	owned := make(map[string]bucketing.Ranges)

	for _, g := range groups {
		state := carveState{offset: 0, first: true}

		for _, slot := range g.Slots {
			var r bucketing.Range
			r, state = carveSlot(state, slot)

			if slot.Feature == "" || r.IsEmpty() {
				continue
			}
			owned[slot.Feature] = append(owned[slot.Feature], r)
		}
	}

	// A feature with slots in several groups collects its ranges in group
	// order; the allocator needs them sorted and disjoint.
	for feature, rs := range owned {
		owned[feature] = rs.Normalize()
	}

	return Carving{ranges: owned}
}

// carveSlot computes one slot's range and the state for the next slot.
func carveSlot(state carveState, slot Slot) (bucketing.Range, carveState) {
	width := slot.Percentage.Units()

	start := state.offset
	if !state.first {
		start++
	}

	next := carveState{offset: state.offset + width, first: false}
	return bucketing.Range{Start: start, End: next.offset}, next
}
