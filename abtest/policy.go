package abtest

import (
	"fmt"
	"math/rand/v2"
)

const (
	// coldStartImpressions is the traffic floor below which the serving
	// policy explores uniformly; CTR estimates are noise before it.
	coldStartImpressions = 50

	// epsilon is the exploration probability once past cold start.
	epsilon = 0.10
)

// SelectVariant picks the variant a server-rendered context should show when
// no stable subject key is available. Pure traffic shaping, no I/O: below
// coldStartImpressions total traffic it selects uniformly at random, then
// epsilon-greedy: explore with probability epsilon, otherwise exploit the
// highest observed CTR (strict comparison, earliest incumbent wins ties).
func SelectVariant(variants []Variant) (*Variant, error) {
	return SelectVariantRand(variants, nil)
}

// SelectVariantRand is SelectVariant with an explicit randomness source for
// deterministic tests. A nil rng uses the shared source.
func SelectVariantRand(variants []Variant, rng *rand.Rand) (*Variant, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("%w: empty variant list", ErrInvalidInput)
	}

	var total int64
	for i := range variants {
		total += variants[i].Impressions
	}
	if total < coldStartImpressions || randFloat(rng) < epsilon {
		return &variants[randIntN(rng, len(variants))], nil
	}

	best := 0
	for i := 1; i < len(variants); i++ {
		if variants[i].CTR() > variants[best].CTR() {
			best = i
		}
	}
	return &variants[best], nil
}

func randFloat(rng *rand.Rand) float64 {
	if rng != nil {
		return rng.Float64()
	}
	return rand.Float64()
}

func randIntN(rng *rand.Rand, n int) int {
	if rng != nil {
		return rng.IntN(n)
	}
	return rand.IntN(n)
}
