package abtest

import "database/sql"

// Schema creates the experiments table. One row holds the whole aggregate;
// the variant list is a JSON array column, always read and written whole
// under the row's mutation lease and addressed by stable variant id.
const Schema = `
CREATE TABLE IF NOT EXISTS experiments (
    id               TEXT PRIMARY KEY,
    subject_ref      TEXT NOT NULL,
    test_kind        TEXT NOT NULL,
    variants         TEXT NOT NULL,
    status           TEXT NOT NULL DEFAULT 'active',
    winner_id        TEXT,
    confidence_score REAL,
    completed_at     INTEGER,
    created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status);
CREATE INDEX IF NOT EXISTS idx_experiments_subject ON experiments(subject_ref);
`

// Init applies the schema. Idempotent.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
