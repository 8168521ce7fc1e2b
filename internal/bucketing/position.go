package bucketing

import (
	"github.com/spaolacci/murmur3"
)

// hashSeed matches the seed used by the evaluating SDKs.
const hashSeed = 1

// Position maps a bucket key (e.g. "user-123.checkout-redesign") to a position
// in [0, Total) using Murmur3 (32-bit).
//
// The compiler never calls this; it exists so tooling can show which range a
// given identifier would land in.
func Position(bucketKey string) int {
	hash := murmur3.Sum32WithSeed([]byte(bucketKey), hashSeed)

	// Scale the 32-bit hash into the bucketing space without floating point.
	return int((uint64(hash) * Total) >> 32)
}
