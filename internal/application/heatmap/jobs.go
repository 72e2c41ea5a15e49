package heatmap

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// Job outcomes reported to JobRecorder.
const (
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
	JobInvalid   = "invalid"
)

// JobRecorder counts worker job outcomes.
type JobRecorder interface {
	RecordJob(outcome string)
}

// JobRunnerOptions throttles job intake. A zero RateLimit disables
// throttling.
type JobRunnerOptions struct {
	RateLimit float64
	Burst     int
}

// JobRunner executes queued BuildJobs against a Service.
type JobRunner struct {
	svc      Service
	limiter  *rate.Limiter
	recorder JobRecorder
	logger   logging.Logger
}

// NewJobRunner builds a runner. recorder and log may be nil.
func NewJobRunner(svc Service, opts JobRunnerOptions, recorder JobRecorder, log logging.Logger) *JobRunner {
	if log == nil {
		log = logging.NewNopLogger()
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &JobRunner{
		svc:      svc,
		limiter:  rate.NewLimiter(limit, burst),
		recorder: recorder,
		logger:   log.Named("jobs"),
	}
}

// Run waits for a rate limiter token and builds job.
func (r *JobRunner) Run(ctx context.Context, job *BuildJob) (*BuildReport, error) {
	req := job.Request()
	if err := req.Validate(); err != nil {
		r.record(JobInvalid)
		return nil, err
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CodeTimeout, "waiting for job slot")
	}

	log := r.logger.With(logging.String("job_id", job.JobID))
	log.Info("build job started",
		logging.String("dataset", job.Dataset),
		logging.String("instance", job.Instance),
	)
	report, err := r.svc.BuildDataset(ctx, req)
	switch {
	case err == nil:
		r.record(JobSucceeded)
	case IsRetryable(err):
		r.record(JobFailed)
		log.Warn("build job failed", logging.Err(err))
	default:
		r.record(JobInvalid)
		log.Error("build job rejected", logging.Err(err))
	}
	return report, err
}

func (r *JobRunner) record(outcome string) {
	if r.recorder != nil {
		r.recorder.RecordJob(outcome)
	}
}

// IsRetryable reports whether running a job again could succeed. Bad input
// fails the same way every time.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch errors.GetCode(err) {
	case errors.CodeInvalidParam, errors.CodeValidation, errors.CodeMessageDecode,
		errors.CodeInstanceMalformed, errors.CodeInstanceEmpty, errors.CodeInstanceFileNotFound,
		errors.CodeTourInvalid, errors.CodeScaleMismatch, errors.CodeSamplingParams,
		errors.CodeModelConfigInvalid, errors.CodeWeightsMismatch:
		return false
	}
	return true
}
