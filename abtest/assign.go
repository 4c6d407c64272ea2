package abtest

import (
	"fmt"
	"hash/fnv"
	"io"
)

// Assignment is the result of resolving a subject to a variant.
type Assignment struct {
	TestID    string `json:"test_id"`
	VariantID string `json:"variant_id"`
}

// Holdout reserves a leading share of traffic for one variant, regardless of
// that variant's own allocation. The share is a hard floor, not a target.
type Holdout struct {
	VariantID   string
	MinSharePct float64 // 0–50
}

// allocationTolerance absorbs rounding in caller-supplied percentages
// (three variants at 33.33 sum to 99.99).
const allocationTolerance = 1.0

// Resolve maps (testID, subjectKey) to a stable variant id. The same pair
// always yields the same variant for the experiment's lifetime, across
// processes, with no shared state: testID|subjectKey is hashed into [0, 1)
// and matched against contiguous sub-intervals sized by allocation, in
// declared variant order.
//
// With a holdout, the leading interval [0, MinSharePct/100) belongs
// exclusively to the holdout variant and the remaining variants' allocations
// are renormalized over the remaining space.
//
// Resolve never mutates state and never touches storage.
func Resolve(testID, subjectKey string, variants []Variant, holdout *Holdout) (Assignment, error) {
	if len(variants) < 2 {
		return Assignment{}, fmt.Errorf("%w: need at least 2 variants, got %d", ErrInvalidInput, len(variants))
	}
	if err := checkAllocations(variants); err != nil {
		return Assignment{}, err
	}

	x := bucket(testID, subjectKey)

	if holdout == nil {
		return Assignment{TestID: testID, VariantID: pick(variants, x, 0, 1)}, nil
	}

	if holdout.MinSharePct < 0 || holdout.MinSharePct > 50 {
		return Assignment{}, fmt.Errorf("%w: holdout share must be between 0 and 50, got %g", ErrInvalidInput, holdout.MinSharePct)
	}
	var rest []Variant
	found := false
	for _, v := range variants {
		if v.ID == holdout.VariantID {
			found = true
			continue
		}
		rest = append(rest, v)
	}
	if !found {
		return Assignment{}, fmt.Errorf("%w: holdout variant %q not in variant list", ErrInvalidInput, holdout.VariantID)
	}

	// A zero share reserves nothing: the holdout variant competes with its
	// own allocation like any other.
	if holdout.MinSharePct == 0 {
		return Assignment{TestID: testID, VariantID: pick(variants, x, 0, 1)}, nil
	}

	floor := holdout.MinSharePct / 100
	if x < floor {
		return Assignment{TestID: testID, VariantID: holdout.VariantID}, nil
	}
	return Assignment{TestID: testID, VariantID: pick(rest, x, floor, 1)}, nil
}

// VerifyClaim resolves the assignment and checks it against a variant id the
// caller replays from an earlier visit. A mismatch is a *ConflictError; the
// computed assignment is returned alongside so callers can reconcile.
func VerifyClaim(testID, subjectKey string, variants []Variant, holdout *Holdout, claimed string) (Assignment, error) {
	a, err := Resolve(testID, subjectKey, variants, holdout)
	if err != nil {
		return Assignment{}, err
	}
	if claimed != "" && claimed != a.VariantID {
		return a, &ConflictError{Expected: a.VariantID, Received: claimed, Assignment: a}
	}
	return a, nil
}

// bucket hashes testID|subjectKey into the real interval [0, 1).
// The raw FNV-1a sum is biased over short sequential keys, so it goes
// through a 64-bit finalizer before normalizing. Changing either stage
// would reshuffle every live assignment.
func bucket(testID, subjectKey string) float64 {
	h := fnv.New64a()
	io.WriteString(h, testID)
	io.WriteString(h, "|")
	io.WriteString(h, subjectKey)
	return float64(mix64(h.Sum64())) / (1 << 64)
}

// mix64 is the murmur3 fmix64 finalizer.
func mix64(x uint64) uint64 {
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

// pick scans contiguous sub-intervals of [lo, hi) in declared order and
// returns the id of the variant whose interval contains x. Floating-point
// drift at the upper edge falls through to the last variant.
func pick(variants []Variant, x, lo, hi float64) string {
	var total float64
	for i := range variants {
		total += weightOf(&variants[i])
	}
	if total <= 0 {
		// all explicit allocations are zero: treat as uniform
		total = float64(len(variants))
		pos := lo
		width := (hi - lo) / total
		for i := range variants {
			if x < pos+width {
				return variants[i].ID
			}
			pos += width
		}
		return variants[len(variants)-1].ID
	}

	pos := lo
	for i := range variants {
		width := weightOf(&variants[i]) / total * (hi - lo)
		if x < pos+width {
			return variants[i].ID
		}
		pos += width
	}
	return variants[len(variants)-1].ID
}

// weightOf returns the variant's allocation weight; unset means uniform.
func weightOf(v *Variant) float64 {
	if v.AllocationPct != nil {
		return *v.AllocationPct
	}
	return 1
}

// checkAllocations enforces the all-or-none allocation rule: if any variant
// defines allocation_pct, all must, each within [0, 100], summing to ~100.
func checkAllocations(variants []Variant) error {
	var set int
	var sum float64
	for i := range variants {
		if variants[i].AllocationPct == nil {
			continue
		}
		pct := *variants[i].AllocationPct
		if pct < 0 || pct > 100 {
			return fmt.Errorf("%w: allocation_pct %g out of range for variant %s", ErrInvalidInput, pct, variants[i].ID)
		}
		set++
		sum += pct
	}
	if set == 0 {
		return nil
	}
	if set != len(variants) {
		return fmt.Errorf("%w: allocation_pct must be set on all variants or none", ErrInvalidInput)
	}
	if sum < 100-allocationTolerance || sum > 100+allocationTolerance {
		return fmt.Errorf("%w: allocation_pct must sum to 100, got %g", ErrInvalidInput, sum)
	}
	return nil
}
