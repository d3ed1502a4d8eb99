package load

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/opengovsl/landetl/types"
)

func TestRunStore_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := NewRunStore(sqlx.NewDb(db, "pgx"))

	start := time.Date(2026, 8, 26, 6, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)
	run := &types.PipelineRun{
		RunID:     "run-001",
		Mode:      types.ModeIncremental,
		Status:    types.StatusCompleted,
		StartTime: start,
		EndTime:   &end,
		Metrics:   types.RunMetrics{RecordsExtracted: 100, RecordsLoaded: 95},
	}

	mock.ExpectExec(`INSERT INTO etl_pipeline_runs`).
		WithArgs("run-001", "INCREMENTAL", "COMPLETED", start, &end, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Save(t.Context(), run); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
