package abtest

import (
	"fmt"
	"math"
)

// MinEvalImpressions is the fixed traffic floor below which evaluation
// reports non-significance unconditionally, whatever the distribution.
const MinEvalImpressions = 100

// Evaluation is the outcome of a significance check.
type Evaluation struct {
	Significant bool    `json:"significant"`
	Confidence  float64 `json:"confidence"`
	ChiSquared  float64 `json:"chi_squared"`
	WinnerID    string  `json:"winner_id,omitempty"`
	WinnerValue string  `json:"winner_value,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// EvaluateCounters runs a chi-squared test over the accumulated counters.
// For each variant with traffic, two cells (clicked / not clicked) are
// compared against the pooled click rate; cells with an expected count of 0
// contribute nothing rather than dividing by zero.
//
// Confidence is min(99, chi/critical*95): a linear rescaling of the
// statistic, not a calibrated p-value. Operator dashboards are calibrated
// against this exact scale; do not replace it with a real p-value.
func EvaluateCounters(variants []Variant) Evaluation {
	if len(variants) < 2 {
		return Evaluation{Message: "not evaluable: fewer than 2 variants"}
	}

	var imps, clicks int64
	for i := range variants {
		imps += variants[i].Impressions
		clicks += variants[i].Clicks
	}
	if imps < MinEvalImpressions {
		return Evaluation{Message: fmt.Sprintf("insufficient data: %d of %d impressions", imps, MinEvalImpressions)}
	}

	rate := float64(clicks) / float64(imps)
	var chi float64
	for i := range variants {
		v := &variants[i]
		if v.Impressions == 0 {
			continue
		}
		expClicked := rate * float64(v.Impressions)
		expNot := (1 - rate) * float64(v.Impressions)
		if expClicked > 0 {
			d := float64(v.Clicks) - expClicked
			chi += d * d / expClicked
		}
		if expNot > 0 {
			d := float64(v.Impressions-v.Clicks) - expNot
			chi += d * d / expNot
		}
	}

	crit := criticalValue(len(variants) - 1)
	ev := Evaluation{
		ChiSquared: chi,
		Confidence: math.Min(99, chi/crit*95),
	}
	if chi > crit {
		ev.Significant = true
		w := bestCTR(variants)
		ev.WinnerID = w.ID
		ev.WinnerValue = w.Value
	}
	return ev
}

// criticalValue returns the 95% one-tailed chi-squared critical value.
func criticalValue(df int) float64 {
	switch {
	case df <= 1:
		return 3.84
	case df == 2:
		return 5.99
	default:
		return 7.81
	}
}

// bestCTR returns the variant with the strictly highest observed CTR,
// earliest declared on ties. Zero impressions count as CTR 0.
func bestCTR(variants []Variant) *Variant {
	best := 0
	for i := 1; i < len(variants); i++ {
		if variants[i].CTR() > variants[best].CTR() {
			best = i
		}
	}
	return &variants[best]
}
