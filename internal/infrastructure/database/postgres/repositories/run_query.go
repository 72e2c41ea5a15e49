package repositories

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	domainHeatmap "github.com/turtacn/GCN-Heatmap/internal/domain/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// RunQueries reads build runs back through database/sql.
type RunQueries struct {
	db     queryExecutor
	logger logging.Logger
}

// NewRunQueries builds the read side on db, usually Connection.DB().
func NewRunQueries(db *sql.DB, log logging.Logger) *RunQueries {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &RunQueries{db: db, logger: log.Named("run_queries")}
}

const selectRunSQL = `
SELECT id, job_id, dataset, instance, scale, batch_size, k, k_expand, status, error,
       avg_mean_rank, started_at, duration_ms
FROM build_runs WHERE id = $1`

const selectResultsSQL = `
SELECT idx, n, clusters, file, mean_rank, false_negative_edges, density, tour_source,
       fingerprint, artifact_uri, cached, duration_ms
FROM instance_results WHERE run_id = $1 ORDER BY idx`

const selectRecentSQL = `
SELECT id, job_id, dataset, instance, scale, batch_size, k, k_expand, status, error,
       avg_mean_rank, started_at, duration_ms
FROM build_runs WHERE dataset = $1 AND instance = $2
ORDER BY started_at DESC LIMIT $3`

// GetRun loads a run with its instance results.
func (q *RunQueries) GetRun(ctx context.Context, id string) (*appHeatmap.BuildReport, error) {
	report, err := scanRun(q.db.QueryRowContext(ctx, selectRunSQL, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("build run not found").WithDetail(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "load build run").WithDetail(id)
	}

	rows, err := q.db.QueryContext(ctx, selectResultsSQL, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "load instance results").WithDetail(id)
	}
	defer rows.Close()
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabase, "scan instance result").WithDetail(id)
		}
		report.Results = append(report.Results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "iterate instance results").WithDetail(id)
	}
	return report, nil
}

// RecentRuns lists the latest runs for an instance file, newest first,
// without their results.
func (q *RunQueries) RecentRuns(ctx context.Context, dataset, instance string, limit int) ([]*appHeatmap.BuildReport, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := q.db.QueryContext(ctx, selectRecentSQL, dataset, instance, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "list build runs")
	}
	defer rows.Close()

	var out []*appHeatmap.BuildReport
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabase, "scan build run")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "iterate build runs")
	}
	q.logger.Debug("listed build runs", logging.String("dataset", dataset), logging.Int("count", len(out)))
	return out, nil
}

func scanRun(s scanner) (*appHeatmap.BuildReport, error) {
	var (
		r        appHeatmap.BuildReport
		avg      sql.NullFloat64
		duration sql.NullInt64
	)
	err := s.Scan(&r.RunID, &r.Request.JobID, &r.Request.Dataset, &r.Request.Instance, &r.Request.Scale,
		&r.Request.BatchSize, &r.Request.K, &r.Request.KExpand, &r.Status, &r.Error,
		&avg, &r.StartedAt, &duration)
	if err != nil {
		return nil, err
	}
	r.AvgMeanRank = avg.Float64
	r.Duration = time.Duration(duration.Int64) * time.Millisecond
	return &r, nil
}

func scanResult(s scanner) (*appHeatmap.InstanceResult, error) {
	var (
		res               appHeatmap.InstanceResult
		meanRank, density sql.NullFloat64
		falseNeg          sql.NullInt64
		durationMs        int64
	)
	err := s.Scan(&res.Index, &res.N, &res.Clusters, &res.File, &meanRank, &falseNeg, &density,
		&res.TourSource, &res.Fingerprint, &res.ArtifactURI, &res.Cached, &durationMs)
	if err != nil {
		return nil, err
	}
	if meanRank.Valid {
		res.Stats = &domainHeatmap.Statistics{
			MeanRank:           meanRank.Float64,
			FalseNegativeEdges: int(falseNeg.Int64),
			Density:            density.Float64,
		}
	}
	res.Duration = time.Duration(durationMs) * time.Millisecond
	return &res, nil
}
