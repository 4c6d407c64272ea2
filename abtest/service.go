package abtest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hazyhaar/essai/audit"
	"github.com/hazyhaar/essai/idgen"
)

// Service wires the assignment resolver, event recorder and significance
// evaluator over one Store. It is the surface the HTTP handlers, MCP tools
// and the scheduler all share.
type Service struct {
	store    *Store
	logger   *slog.Logger
	audit    *audit.Logger
	kinds    map[string]bool
	newExpID idgen.Generator
	newVarID idgen.Generator
}

// Option configures a Service.
type Option func(*Service)

// WithKinds overrides the allowed test_kind set.
func WithKinds(kinds map[string]bool) Option {
	return func(s *Service) {
		if kinds != nil {
			s.kinds = kinds
		}
	}
}

// WithAudit attaches an audit logger for lifecycle events.
func WithAudit(a *audit.Logger) Option {
	return func(s *Service) { s.audit = a }
}

// WithIDGenerators sets custom id generators for experiments and variants.
func WithIDGenerators(experiment, variant idgen.Generator) Option {
	return func(s *Service) {
		s.newExpID = experiment
		s.newVarID = variant
	}
}

// New creates a Service and applies the experiments schema.
func New(db *sql.DB, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:    NewStore(db),
		logger:   logger,
		kinds:    DefaultKinds,
		newExpID: idgen.Prefixed("exp_", idgen.UUIDv7()),
		newVarID: idgen.Prefixed("var_", idgen.Short(8)),
	}
	for _, o := range opts {
		o(s)
	}
	if err := Init(db); err != nil {
		return nil, fmt.Errorf("abtest: schema: %w", err)
	}
	return s, nil
}

// DB exposes the underlying database handle, for callers that co-locate
// their own tables (audit, migrations) on the same file.
func (s *Service) DB() *sql.DB {
	return s.store.DB
}

// CreateInput is the experiment creation payload.
type CreateInput struct {
	SubjectRef    string    `json:"subject_ref"`
	TestKind      string    `json:"test_kind"`
	VariantValues []string  `json:"variant_values"`
	Allocations   []float64 `json:"allocations,omitempty"`
}

// Create validates the input and persists a new active experiment with zero
// counters. Variant ids are assigned here and never change afterwards.
func (s *Service) Create(ctx context.Context, in *CreateInput) (*Experiment, error) {
	if err := validateCreateInput(in, s.kinds); err != nil {
		return nil, err
	}

	e := &Experiment{
		ID:         s.newExpID(),
		SubjectRef: in.SubjectRef,
		TestKind:   in.TestKind,
		Status:     StatusActive,
		CreatedAt:  time.Now().UnixMilli(),
	}
	for i, val := range in.VariantValues {
		v := Variant{ID: s.newVarID(), Value: val}
		if len(in.Allocations) > 0 {
			pct := in.Allocations[i]
			v.AllocationPct = &pct
		}
		e.Variants = append(e.Variants, v)
	}

	if err := s.store.Insert(ctx, e); err != nil {
		return nil, err
	}
	s.auditEvent(ctx, "experiment_created", e.ID, "")
	s.logger.Info("experiment created", "id", e.ID, "test_kind", e.TestKind, "variants", len(e.Variants))
	return e, nil
}

// Get retrieves an experiment. Unknown ids surface ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Experiment, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// List returns experiments, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status) ([]*Experiment, error) {
	if status != "" && status != StatusActive && status != StatusCompleted {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.store.List(ctx, status)
}

// TrackInput is one tracking call from public traffic.
type TrackInput struct {
	TestID             string
	VariantID          string // optional: a replay of an earlier assignment
	Event              EventKind
	SubjectKey         string // optional: without it no assignment is computed
	HoldoutVariantID   string
	MinHoldoutSharePct float64
}

// TrackResult is the tracking outcome.
type TrackResult struct {
	Tracked    bool        `json:"tracked"`
	VariantID  string      `json:"variant_id,omitempty"`
	Assignment *Assignment `json:"assignment,omitempty"`
}

// Track resolves the assignment (when a subject key is present), verifies a
// replayed variant id against it and records the event. Unknown experiments
// and stale variant ids yield Tracked=false with no error.
func (s *Service) Track(ctx context.Context, in *TrackInput) (*TrackResult, error) {
	if in.TestID == "" {
		return nil, fmt.Errorf("%w: test_id is required", ErrInvalidInput)
	}
	if !in.Event.Valid() {
		return nil, fmt.Errorf("%w: unknown event %q", ErrInvalidInput, in.Event)
	}

	e, err := s.store.Get(ctx, in.TestID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return &TrackResult{Tracked: false, VariantID: in.VariantID}, nil
	}

	variantID := in.VariantID
	var assignment *Assignment
	if in.SubjectKey != "" {
		var holdout *Holdout
		if in.HoldoutVariantID != "" {
			holdout = &Holdout{VariantID: in.HoldoutVariantID, MinSharePct: in.MinHoldoutSharePct}
		}
		a, err := VerifyClaim(e.ID, in.SubjectKey, e.Variants, holdout, in.VariantID)
		if err != nil {
			var conflict *ConflictError
			if errors.As(err, &conflict) {
				s.auditEvent(ctx, "assignment_conflict", e.ID,
					fmt.Sprintf(`{"expected":%q,"received":%q}`, conflict.Expected, conflict.Received))
			}
			return nil, err
		}
		assignment = &a
		variantID = a.VariantID
	}
	if variantID == "" {
		return nil, fmt.Errorf("%w: variant_id or subject_key is required", ErrInvalidInput)
	}

	v, err := s.store.RecordEvent(ctx, e.ID, variantID, in.Event)
	if err != nil {
		return nil, err
	}
	return &TrackResult{Tracked: v != nil, VariantID: variantID, Assignment: assignment}, nil
}

// Evaluate runs the significance check and, when a winner emerges, completes
// the experiment with a conditional write guarded by the active status. If a
// concurrent evaluator wins the transition instead, the result computed here
// is still returned: it was correct at the time it was computed.
func (s *Service) Evaluate(ctx context.Context, id string) (*Evaluation, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if e.Status == StatusCompleted {
		ev := &Evaluation{
			Significant: true,
			Confidence:  e.ConfidenceScore,
			WinnerID:    e.WinnerID,
			Message:     "experiment already completed",
		}
		if w := e.Variant(e.WinnerID); w != nil {
			ev.WinnerValue = w.Value
		}
		return ev, nil
	}

	ev := EvaluateCounters(e.Variants)
	if !ev.Significant {
		return &ev, nil
	}

	won, err := s.store.CompleteIfActive(ctx, e.ID, ev.WinnerID, math.Round(ev.Confidence))
	if err != nil {
		return nil, err
	}
	if won {
		s.auditEvent(ctx, "experiment_completed", e.ID,
			fmt.Sprintf(`{"winner":%q,"confidence":%g}`, ev.WinnerID, ev.Confidence))
		s.logger.Info("experiment completed", "id", e.ID, "winner", ev.WinnerID, "confidence", ev.Confidence)
	}
	return &ev, nil
}

// Select applies the serving policy to an experiment's current counters:
// the self-contained selection strategy for contexts without a stable
// subject key.
func (s *Service) Select(ctx context.Context, id string) (*Variant, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return SelectVariant(e.Variants)
}

func (s *Service) auditEvent(ctx context.Context, kind, entityID, details string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, audit.Event{Kind: kind, EntityID: entityID, Details: details})
}
