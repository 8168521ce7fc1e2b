package bucketing

// Allocate greedily takes amount units from available, walking the ranges in
// list order and taking from the start of each one until the amount is
// satisfied or the capacity runs out.
//
// Insufficient capacity is not an error: everything available is granted and
// the result is simply shorter than requested. Callers must supply a sorted,
// non-overlapping list; Allocate does not sort.
func Allocate(available Ranges, amount int) Ranges {
	allocated := make(Ranges, 0, len(available))
	if amount <= 0 {
		return allocated
	}

	remaining := amount
	for _, r := range available {
		if remaining == 0 {
			break
		}

		take := min(remaining, r.Len())
		if take == 0 {
			continue
		}

		allocated = append(allocated, Range{Start: r.Start, End: r.Start + take})
		remaining -= take
	}

	return allocated
}

// Consume returns the capacity left in available after Allocate(available, amount).
//
// Fully consumed ranges are dropped and a partially consumed range keeps only its
// unconsumed tail. Allocate and Consume with the same arguments always partition
// available: every unit lands in exactly one of the two results.
func Consume(available Ranges, amount int) Ranges {
	if amount <= 0 {
		return available.Clone()
	}

	left := make(Ranges, 0, len(available))
	remaining := amount

	for _, r := range available {
		take := min(remaining, r.Len())
		remaining -= take

		tail := Range{Start: r.Start + take, End: r.End}
		if !tail.IsEmpty() {
			left = append(left, tail)
		}
	}

	return left
}
