// Package repositories holds the PostgreSQL implementations of the builder's
// persistence ports.
package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// DBTX is the subset of *pgxpool.Pool and pgx.Tx the repository needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// RunRepository records build runs in build_runs and instance_results.
type RunRepository struct {
	db     DBTX
	logger logging.Logger
}

// NewRunRepository builds a repository on db.
func NewRunRepository(db DBTX, log logging.Logger) *RunRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &RunRepository{db: db, logger: log.Named("run_repo")}
}

var _ appHeatmap.RunRepository = (*RunRepository)(nil)

const insertRunSQL = `
INSERT INTO build_runs (id, job_id, dataset, instance, scale, batch_size, k, k_expand, instances, status, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// CreateRun inserts a running build.
func (r *RunRepository) CreateRun(ctx context.Context, run *appHeatmap.BuildRun) error {
	req := run.Request
	_, err := r.db.Exec(ctx, insertRunSQL,
		run.ID, req.JobID, req.Dataset, req.Instance, req.Scale, req.BatchSize, req.K, req.KExpand,
		run.Instances, appHeatmap.StatusRunning, run.StartedAt.UTC(),
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "insert build run").WithDetail(run.ID)
	}
	return nil
}

const upsertResultSQL = `
INSERT INTO instance_results (run_id, idx, n, clusters, file, mean_rank, false_negative_edges, density,
                              tour_source, fingerprint, artifact_uri, cached, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (run_id, idx) DO UPDATE SET
    n = EXCLUDED.n,
    clusters = EXCLUDED.clusters,
    file = EXCLUDED.file,
    mean_rank = EXCLUDED.mean_rank,
    false_negative_edges = EXCLUDED.false_negative_edges,
    density = EXCLUDED.density,
    tour_source = EXCLUDED.tour_source,
    fingerprint = EXCLUDED.fingerprint,
    artifact_uri = EXCLUDED.artifact_uri,
    cached = EXCLUDED.cached,
    duration_ms = EXCLUDED.duration_ms`

// SaveResult stores one instance result, replacing an earlier one with the
// same index.
func (r *RunRepository) SaveResult(ctx context.Context, runID string, res *appHeatmap.InstanceResult) error {
	var (
		meanRank, density *float64
		falseNeg          *int
	)
	if st := res.Stats; st != nil {
		meanRank, density, falseNeg = &st.MeanRank, &st.Density, &st.FalseNegativeEdges
	}
	_, err := r.db.Exec(ctx, upsertResultSQL,
		runID, res.Index, res.N, res.Clusters, res.File, meanRank, falseNeg, density,
		res.TourSource, res.Fingerprint, res.ArtifactURI, res.Cached, res.Duration.Milliseconds(),
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "save instance result").WithDetailf("run %s index %d", runID, res.Index)
	}
	return nil
}

const completeRunSQL = `
UPDATE build_runs
SET status = $2, error = $3, avg_mean_rank = $4, finished_at = $5, duration_ms = $6
WHERE id = $1`

// CompleteRun stores the final status of a run.
func (r *RunRepository) CompleteRun(ctx context.Context, report *appHeatmap.BuildReport) error {
	finished := report.StartedAt.Add(report.Duration)
	if report.StartedAt.IsZero() {
		finished = time.Now()
	}
	tag, err := r.db.Exec(ctx, completeRunSQL,
		report.RunID, report.Status, report.Error, report.AvgMeanRank, finished.UTC(), report.Duration.Milliseconds(),
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "complete build run").WithDetail(report.RunID)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("build run not found").WithDetail(report.RunID)
	}
	r.logger.Debug("build run completed",
		logging.String("run_id", report.RunID),
		logging.String("status", report.Status),
	)
	return nil
}
