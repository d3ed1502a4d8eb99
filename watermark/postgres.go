package watermark

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opengovsl/landetl/types"
)

// PostgresStore persists watermarks in the etl_watermarks table.
//
// Schema (migrations are managed externally):
//
//	CREATE TABLE etl_watermarks (
//	    pipeline               TEXT PRIMARY KEY,
//	    last_successful_run_at TIMESTAMPTZ NOT NULL,
//	    last_extracted_at      JSONB NOT NULL DEFAULT '{}',
//	    updated_at             TIMESTAMPTZ NOT NULL
//	)
type PostgresStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresStore creates a Store backed by the given database handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Load reads the watermark row, or returns (nil, nil) when the pipeline has
// never completed a run.
func (s *PostgresStore) Load(ctx context.Context, pipeline string) (*Watermark, error) {
	var row struct {
		LastSuccessfulRunAt time.Time `db:"last_successful_run_at"`
		LastExtractedAt     []byte    `db:"last_extracted_at"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT last_successful_run_at, last_extracted_at FROM etl_watermarks WHERE pipeline = $1`,
		pipeline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load watermark %q: %w", pipeline, err)
	}

	w := &Watermark{LastSuccessfulRunAt: row.LastSuccessfulRunAt}
	if len(row.LastExtractedAt) > 0 {
		extracted := make(map[types.SourceSystem]time.Time)
		if err := json.Unmarshal(row.LastExtractedAt, &extracted); err != nil {
			return nil, fmt.Errorf("decode watermark %q: %w", pipeline, err)
		}
		w.LastExtractedAt = extracted
	}
	return w, nil
}

// Save upserts the watermark row. The orchestrator is the single writer per
// pipeline, so last-write-wins on conflict is safe.
func (s *PostgresStore) Save(ctx context.Context, pipeline string, w *Watermark) error {
	extracted := w.LastExtractedAt
	if extracted == nil {
		extracted = map[types.SourceSystem]time.Time{}
	}
	body, err := json.Marshal(extracted)
	if err != nil {
		return fmt.Errorf("encode watermark %q: %w", pipeline, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO etl_watermarks (pipeline, last_successful_run_at, last_extracted_at, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (pipeline) DO UPDATE SET
		     last_successful_run_at = EXCLUDED.last_successful_run_at,
		     last_extracted_at      = EXCLUDED.last_extracted_at,
		     updated_at             = EXCLUDED.updated_at`,
		pipeline, w.LastSuccessfulRunAt, body, s.now().UTC())
	if err != nil {
		return fmt.Errorf("save watermark %q: %w", pipeline, err)
	}
	return nil
}

// Verify PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
