package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

var runColumns = []string{"id", "job_id", "dataset", "instance", "scale", "batch_size", "k", "k_expand",
	"status", "error", "avg_mean_rank", "started_at", "duration_ms"}

var resultColumns = []string{"idx", "n", "clusters", "file", "mean_rank", "false_negative_edges", "density",
	"tour_source", "fingerprint", "artifact_uri", "cached", "duration_ms"}

func newQueries(t *testing.T) (*RunQueries, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRunQueries(db, nil), mock
}

func TestRunQueries_GetRun(t *testing.T) {
	q, mock := newQueries(t)
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(selectRunSQL).WithArgs("run-1").WillReturnRows(
		sqlmock.NewRows(runColumns).AddRow("run-1", "job-1", "tsp500", "test", 500, 16, 50, 99,
			appHeatmap.StatusSucceeded, "", 1.75, started, int64(2500)))
	mock.ExpectQuery(selectResultsSQL).WithArgs("run-1").WillReturnRows(
		sqlmock.NewRows(resultColumns).
			AddRow(0, 500, 4, "heatmap/tsp500/test/0.txt", 1.5, int64(2), 9.8, appHeatmap.TourFromInstance, "fp0", "", false, int64(1200)).
			AddRow(1, 500, 4, "heatmap/tsp500/test/1.txt", nil, nil, nil, appHeatmap.TourNone, "fp1", "minio://b/k", true, int64(3)))

	report, err := q.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "job-1", report.Request.JobID)
	assert.Equal(t, 500, report.Request.Scale)
	assert.Equal(t, 99, report.Request.KExpand)
	assert.Equal(t, 1.75, report.AvgMeanRank)
	assert.Equal(t, 2500*time.Millisecond, report.Duration)
	assert.True(t, report.StartedAt.Equal(started))

	require.Len(t, report.Results, 2)
	require.NotNil(t, report.Results[0].Stats)
	assert.Equal(t, 2, report.Results[0].Stats.FalseNegativeEdges)
	assert.Equal(t, 1200*time.Millisecond, report.Results[0].Duration)
	assert.Nil(t, report.Results[1].Stats)
	assert.True(t, report.Results[1].Cached)
	assert.Equal(t, "minio://b/k", report.Results[1].ArtifactURI)
}

func TestRunQueries_GetRun_NotFound(t *testing.T) {
	q, mock := newQueries(t)
	mock.ExpectQuery(selectRunSQL).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := q.GetRun(context.Background(), "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestRunQueries_GetRun_ResultsError(t *testing.T) {
	q, mock := newQueries(t)
	mock.ExpectQuery(selectRunSQL).WithArgs("run-1").WillReturnRows(
		sqlmock.NewRows(runColumns).AddRow("run-1", "", "d", "i", 0, 1, 2, 1,
			appHeatmap.StatusFailed, "boom", nil, time.Now(), nil))
	mock.ExpectQuery(selectResultsSQL).WithArgs("run-1").WillReturnError(fmt.Errorf("connection reset"))

	_, err := q.GetRun(context.Background(), "run-1")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeDatabase))
}

func TestRunQueries_RecentRuns(t *testing.T) {
	q, mock := newQueries(t)
	now := time.Now().UTC()
	mock.ExpectQuery(selectRecentSQL).WithArgs("tsp500", "test", 20).WillReturnRows(
		sqlmock.NewRows(runColumns).
			AddRow("run-2", "", "tsp500", "test", 500, 16, 50, 99, appHeatmap.StatusRunning, "", nil, now, nil).
			AddRow("run-1", "", "tsp500", "test", 500, 16, 50, 99, appHeatmap.StatusSucceeded, "", 1.2, now.Add(-time.Hour), int64(10)))

	runs, err := q.RecentRuns(context.Background(), "tsp500", "test", 0)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Zero(t, runs[0].AvgMeanRank)
	assert.Equal(t, 1.2, runs[1].AvgMeanRank)
}
