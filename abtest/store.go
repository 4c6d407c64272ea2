package abtest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hazyhaar/essai/dbopen"
)

// Store is the data access layer for experiment aggregates. Counter
// mutations are serialized per experiment: an exclusive in-process lease
// wraps a busy-retried read-modify-write transaction, so concurrent
// increments against the same row are never lost. The lease is scoped to the
// single aggregate, never global.
type Store struct {
	DB *sql.DB

	mu     sync.Mutex
	leases map[string]*sync.Mutex
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, leases: make(map[string]*sync.Mutex)}
}

// lease returns the mutation lock for one experiment row. Entries are never
// evicted; the map is bounded by the experiments this process touches.
func (s *Store) lease(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.leases[id]
	if !ok {
		m = &sync.Mutex{}
		s.leases[id] = m
	}
	return m
}

// Insert persists a new experiment row.
func (s *Store) Insert(ctx context.Context, e *Experiment) error {
	raw, err := json.Marshal(e.Variants)
	if err != nil {
		return fmt.Errorf("abtest: encode variants: %w", err)
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO experiments (id, subject_ref, test_kind, variants, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.SubjectRef, e.TestKind, string(raw), string(e.Status), e.CreatedAt,
	)
	return err
}

// Get retrieves an experiment by id. Returns nil, nil when not found.
func (s *Store) Get(ctx context.Context, id string) (*Experiment, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, subject_ref, test_kind, variants, status,
		        winner_id, confidence_score, completed_at, created_at
		 FROM experiments WHERE id = ?`, id)
	e, err := scanExperiment(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// List returns experiments, newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status Status) ([]*Experiment, error) {
	query := `SELECT id, subject_ref, test_kind, variants, status,
	                 winner_id, confidence_score, completed_at, created_at
	          FROM experiments`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Experiment
	for rows.Next() {
		e, err := scanExperiment(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordEvent increments exactly one counter of one variant by 1 and writes
// the whole variant array back, all under the experiment's mutation lease.
// Unknown experiment, non-active status and unknown variant are silent
// no-ops (nil, nil): this path is reachable by arbitrary public traffic and
// must neither probe experiment existence nor crash on stale client state.
func (s *Store) RecordEvent(ctx context.Context, testID, variantID string, kind EventKind) (*Variant, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown event kind %q", ErrInvalidInput, kind)
	}

	lease := s.lease(testID)
	lease.Lock()
	defer lease.Unlock()

	var snapshot *Variant
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		snapshot = nil

		var raw, status string
		err := tx.QueryRowContext(ctx,
			`SELECT variants, status FROM experiments WHERE id = ?`, testID,
		).Scan(&raw, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if Status(status) != StatusActive {
			return nil
		}

		var variants []Variant
		if err := json.Unmarshal([]byte(raw), &variants); err != nil {
			return fmt.Errorf("abtest: decode variants: %w", err)
		}
		var target *Variant
		for i := range variants {
			if variants[i].ID == variantID {
				target = &variants[i]
				break
			}
		}
		if target == nil {
			return nil
		}

		switch kind {
		case EventImpression:
			target.Impressions++
		case EventClick:
			target.Clicks++
		case EventConversion:
			target.Conversions++
		}

		out, err := json.Marshal(variants)
		if err != nil {
			return fmt.Errorf("abtest: encode variants: %w", err)
		}
		// The status guard keeps a completion that races in between from
		// having its frozen counters overwritten.
		if _, err := tx.ExecContext(ctx,
			`UPDATE experiments SET variants = ? WHERE id = ? AND status = ?`,
			string(out), testID, string(StatusActive),
		); err != nil {
			return err
		}

		v := *target
		snapshot = &v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// CompleteIfActive transitions the experiment to completed with the given
// winner, but only if it is still active. Reports whether this call won the
// transition; a false return with nil error means another evaluator got
// there first, which callers treat as a no-op rather than an error.
func (s *Store) CompleteIfActive(ctx context.Context, id, winnerID string, confidence float64) (bool, error) {
	lease := s.lease(id)
	lease.Lock()
	defer lease.Unlock()

	res, err := s.DB.ExecContext(ctx,
		`UPDATE experiments
		 SET status = ?, winner_id = ?, confidence_score = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(StatusCompleted), winnerID, confidence, time.Now().UnixMilli(),
		id, string(StatusActive),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanExperiment(scan func(...any) error) (*Experiment, error) {
	var e Experiment
	var raw, status string
	var winner sql.NullString
	var confidence sql.NullFloat64
	var completedAt sql.NullInt64

	if err := scan(&e.ID, &e.SubjectRef, &e.TestKind, &raw, &status,
		&winner, &confidence, &completedAt, &e.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &e.Variants); err != nil {
		return nil, fmt.Errorf("abtest: decode variants: %w", err)
	}
	e.Status = Status(status)
	e.WinnerID = winner.String
	e.ConfidenceScore = confidence.Float64
	e.CompletedAt = completedAt.Int64
	return &e, nil
}
