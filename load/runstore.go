package load

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/opengovsl/landetl/types"
)

// RunStore persists completed pipeline runs to the etl_pipeline_runs audit
// table.
//
// Schema (migrations are managed externally):
//
//	CREATE TABLE etl_pipeline_runs (
//	    run_id     TEXT PRIMARY KEY,
//	    mode       TEXT NOT NULL,
//	    status     TEXT NOT NULL,
//	    start_time TIMESTAMPTZ NOT NULL,
//	    end_time   TIMESTAMPTZ,
//	    metrics    JSONB NOT NULL,
//	    errors     JSONB
//	)
type RunStore struct {
	db *sqlx.DB
}

// NewRunStore creates a store over the given database handle.
func NewRunStore(db *sqlx.DB) *RunStore {
	return &RunStore{db: db}
}

// Save writes one terminal run. Retrying a crashed save is safe: the run id
// conflicts and the row is rewritten.
func (s *RunStore) Save(ctx context.Context, run *types.PipelineRun) error {
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("encode run metrics: %w", err)
	}
	var errList []byte
	if len(run.Errors) > 0 {
		if errList, err = json.Marshal(run.Errors); err != nil {
			return fmt.Errorf("encode run errors: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO etl_pipeline_runs (run_id, mode, status, start_time, end_time, metrics, errors)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (run_id) DO UPDATE SET
		     status   = EXCLUDED.status,
		     end_time = EXCLUDED.end_time,
		     metrics  = EXCLUDED.metrics,
		     errors   = EXCLUDED.errors`,
		run.RunID, string(run.Mode), string(run.Status), run.StartTime, run.EndTime, metrics, errList)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.RunID, err)
	}
	return nil
}
