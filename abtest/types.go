// Package abtest implements the experiment decision engine for essai:
// deterministic variant assignment, concurrency-safe traffic counters,
// chi-squared significance evaluation and an epsilon-greedy serving policy.
//
// The package is self-contained in the feedback-widget style: it owns its
// schema, store and HTTP surface, and exposes both a chi-compatible
// [Service.Handler] and a standard [Service.RegisterMux].
package abtest

// Status is the lifecycle state of an experiment. The only transition is
// active → completed, performed exactly once by significance evaluation.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// EventKind is a traffic event recorded against one variant.
type EventKind string

const (
	EventImpression EventKind = "impression"
	EventClick      EventKind = "click"
	EventConversion EventKind = "conversion"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventImpression, EventClick, EventConversion:
		return true
	}
	return false
}

// Variant is one arm of an experiment. IDs are assigned at creation and stay
// stable for the experiment's lifetime; counters only grow while the
// experiment is active.
type Variant struct {
	ID            string   `json:"id"`
	Value         string   `json:"value"`
	Impressions   int64    `json:"impressions"`
	Clicks        int64    `json:"clicks"`
	Conversions   int64    `json:"conversions"`
	AllocationPct *float64 `json:"allocation_pct,omitempty"`
}

// CTR returns the observed click-through rate. Zero impressions count as 0.
func (v *Variant) CTR() float64 {
	if v.Impressions == 0 {
		return 0
	}
	return float64(v.Clicks) / float64(v.Impressions)
}

// Experiment is the aggregate root. The variant list is persisted as a single
// JSON array inside the experiment's row; mutations address variants by their
// stable id, never by position.
type Experiment struct {
	ID              string    `json:"id"`
	SubjectRef      string    `json:"subject_ref"`
	TestKind        string    `json:"test_kind"`
	Variants        []Variant `json:"variants"`
	Status          Status    `json:"status"`
	WinnerID        string    `json:"winner_id,omitempty"`
	ConfidenceScore float64   `json:"confidence_score,omitempty"`
	CompletedAt     int64     `json:"completed_at,omitempty"` // unix ms, 0 = not completed
	CreatedAt       int64     `json:"created_at"`             // unix ms
}

// Variant returns the variant with the given id, or nil.
func (e *Experiment) Variant(id string) *Variant {
	for i := range e.Variants {
		if e.Variants[i].ID == id {
			return &e.Variants[i]
		}
	}
	return nil
}

// TotalImpressions sums impressions across all variants.
func (e *Experiment) TotalImpressions() int64 {
	var n int64
	for i := range e.Variants {
		n += e.Variants[i].Impressions
	}
	return n
}

// TotalClicks sums clicks across all variants.
func (e *Experiment) TotalClicks() int64 {
	var n int64
	for i := range e.Variants {
		n += e.Variants[i].Clicks
	}
	return n
}
