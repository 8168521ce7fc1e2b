// Package bucketing defines the integer bucketing space that feature traffic is
// allocated from, and the greedy range allocator that carves it up.
//
// Every percentage is converted into bucket units before any arithmetic happens.
// One unit is 0.001% of the space, so the whole space is [0, Total).
package bucketing

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
)

const (
	// Total is the size of the bucketing space (100% = 100_000 units).
	Total = 100_000

	// UnitsPerPercent converts a whole percentage point into bucket units.
	UnitsPerPercent = Total / 100
)

// Range is a half-open interval [Start, End) of bucket positions.
type Range struct {
	Start int
	End   int
}

// Len returns the number of bucket units covered by the range.
func (r Range) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// IsEmpty reports whether the range covers no units at all.
func (r Range) IsEmpty() bool {
	return r.End <= r.Start
}

// Contains reports whether pos falls inside [Start, End).
func (r Range) Contains(pos int) bool {
	return pos >= r.Start && pos < r.End
}

// String renders the range in interval notation.
func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// MarshalJSON writes the canonical two-element form: [start, end].
func (r Range) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{r.Start, r.End})
}

// UnmarshalJSON accepts both the canonical [start, end] pair and the legacy
// {"start": s, "end": e} object found in older state files.
func (r *Range) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("range: empty input")
	}

	var start, end int

	switch trimmed[0] {
	case '{':
		var obj struct {
			Start *int `json:"start"`
			End   *int `json:"end"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return fmt.Errorf("range: invalid object form: %w", err)
		}
		if obj.Start == nil || obj.End == nil {
			return fmt.Errorf("range: object form requires both start and end")
		}
		start, end = *obj.Start, *obj.End
	case '[':
		var pair []int
		if err := json.Unmarshal(trimmed, &pair); err != nil {
			return fmt.Errorf("range: invalid pair form: %w", err)
		}
		if len(pair) != 2 {
			return fmt.Errorf("range: pair form requires exactly 2 elements, got %d", len(pair))
		}
		start, end = pair[0], pair[1]
	default:
		return fmt.Errorf("range: expected array or object, got %q", trimmed[0])
	}

	if start < 0 || end > Total || start > end {
		return fmt.Errorf("range: [%d, %d) is outside the bucketing space [0, %d)", start, end, Total)
	}

	r.Start, r.End = start, end
	return nil
}

// Ranges is an ordered list of non-overlapping ranges, sorted by Start.
// It describes either free capacity or capacity granted to a variation or slot.
// Operations never mutate the receiver; they return a new list.
type Ranges []Range

// Full returns the entire bucketing space as a single range.
func Full() Ranges {
	return Ranges{{Start: 0, End: Total}}
}

// Length returns the total number of units across all ranges.
func (rs Ranges) Length() int {
	total := 0
	for _, r := range rs {
		total += r.Len()
	}
	return total
}

// Contains reports whether any range in the list holds pos.
func (rs Ranges) Contains(pos int) bool {
	for _, r := range rs {
		if r.Contains(pos) {
			return true
		}
	}
	return false
}

// Equal compares two lists element by element. A nil list equals an empty one.
func (rs Ranges) Equal(other Ranges) bool {
	if len(rs) != len(other) {
		return false
	}
	for i := range rs {
		if rs[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the list. The result is never nil.
func (rs Ranges) Clone() Ranges {
	out := make(Ranges, len(rs))
	copy(out, rs)
	return out
}

// Compact drops degenerate (zero-length) ranges.
func (rs Ranges) Compact() Ranges {
	out := make(Ranges, 0, len(rs))
	for _, r := range rs {
		if !r.IsEmpty() {
			out = append(out, r)
		}
	}
	return out
}

// Overlaps reports whether any unit belongs to both lists.
func (rs Ranges) Overlaps(other Ranges) bool {
	for _, a := range rs {
		for _, b := range other {
			if a.Start < b.End && b.Start < a.End && !a.IsEmpty() && !b.IsEmpty() {
				return true
			}
		}
	}
	return false
}

// Normalize sorts the non-degenerate ranges by Start and merges the ones that
// overlap. Adjacent ranges stay separate.
func (rs Ranges) Normalize() Ranges {
	sorted := rs.Compact()
	slices.SortFunc(sorted, func(a, b Range) int { return cmp.Compare(a.Start, b.Start) })

	out := make(Ranges, 0, len(sorted))
	for _, r := range sorted {
		if last := len(out) - 1; last >= 0 && r.Start < out[last].End {
			out[last].End = max(out[last].End, r.End)
			continue
		}
		out = append(out, r)
	}
	return out
}
