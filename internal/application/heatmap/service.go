// Package heatmap is the application service that turns instance files into
// GCN heatmap files and fans the results out to the configured sinks.
package heatmap

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	domainHeatmap "github.com/turtacn/GCN-Heatmap/internal/domain/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/domain/instance"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/internal/intelligence/sampling"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// Service builds heatmaps.
type Service interface {
	// BuildDataset reads {data_dir}/{dataset}/{instance}.txt and builds one
	// heatmap per line. The report is returned even when the build fails.
	BuildDataset(ctx context.Context, req BuildRequest) (*BuildReport, error)

	// BuildInstances builds heatmaps for instances supplied by the caller.
	// Files are named as if they had been read from req.Instance.
	BuildInstances(ctx context.Context, req BuildRequest, instances []*instance.Instance) (*BuildReport, error)
}

// Dependencies are the collaborators of the service. Only Predictor is
// required; every sink may be nil.
type Dependencies struct {
	Predictor Predictor
	ModelName string

	Artifacts ArtifactStore
	Cache     HeatmapCache
	Locker    BuildLocker
	Runs      RunRepository
	Events    EventPublisher
	Graph     CandidateGraphStore
	Index     SummaryIndex

	Metrics Metrics
	Logger  logging.Logger
}

type serviceImpl struct {
	opts   Options
	deps   Dependencies
	logger logging.Logger
}

// NewService creates the heatmap build service.
func NewService(opts Options, deps Dependencies) (Service, error) {
	if deps.Predictor == nil {
		return nil, errors.InvalidParam("predictor is required")
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.IndexedDataset == "" {
		opts.IndexedDataset = domainHeatmap.IndexedDataset
	}
	if deps.Metrics == nil {
		deps.Metrics = NewNoopMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	return &serviceImpl{opts: opts, deps: deps, logger: deps.Logger.Named("builder")}, nil
}

func (s *serviceImpl) BuildDataset(ctx context.Context, req BuildRequest) (*BuildReport, error) {
	req, err := req.resolve(s.opts)
	if err != nil {
		return nil, err
	}
	file := filepath.Join(s.opts.DataDir, req.Dataset, req.Instance+".txt")
	instances, err := instance.ReadFile(file, req.Scale)
	if err != nil {
		return nil, err
	}
	return s.build(ctx, req, instances)
}

func (s *serviceImpl) BuildInstances(ctx context.Context, req BuildRequest, instances []*instance.Instance) (*BuildReport, error) {
	req, err := req.resolve(s.opts)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, errors.New(errors.CodeInstanceEmpty, "no instances to build")
	}
	for _, inst := range instances {
		if err := inst.Validate(req.Scale); err != nil {
			return nil, err
		}
	}
	return s.build(ctx, req, instances)
}

func (s *serviceImpl) build(ctx context.Context, req BuildRequest, instances []*instance.Instance) (*BuildReport, error) {
	start := time.Now()
	report := &BuildReport{
		RunID:     uuid.NewString(),
		Request:   req,
		Status:    StatusRunning,
		StartedAt: start,
	}
	log := s.logger.With(
		logging.String("run_id", report.RunID),
		logging.String("dataset", req.Dataset),
		logging.String("instance", req.Instance),
	)

	if s.deps.Runs != nil {
		run := &BuildRun{ID: report.RunID, Request: req, Instances: len(instances), StartedAt: start}
		if err := s.sink(log, "run_repository", s.deps.Runs.CreateRun(ctx, run)); err != nil {
			return nil, err
		}
	}

	results := make([]*InstanceResult, len(instances))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, inst := range instances {
		i, inst := i, inst
		g.Go(func() error {
			res, err := s.buildInstance(gctx, log, report.RunID, req, inst)
			if err != nil {
				return errors.Wrap(err, errors.CodeUnknown, "build instance").WithDetailf("index=%d", inst.Index)
			}
			results[i] = res
			return nil
		})
	}
	buildErr := g.Wait()

	report.Duration = time.Since(start)
	for _, res := range results {
		if res != nil {
			report.Results = append(report.Results, res)
		}
	}
	report.AvgMeanRank = avgMeanRank(report.Results)
	if buildErr != nil {
		report.Status = StatusFailed
		report.Error = buildErr.Error()
		log.Error("heatmap build failed", logging.Err(buildErr), logging.Int("built", len(report.Results)))
	} else {
		report.Status = StatusSucceeded
		if n := len(report.Results); n > 1 {
			secs := report.Duration.Seconds()
			log.Info(fmt.Sprintf("build %d heatmaps in %.2fs, avg_time: %.2fs", n, secs, secs/float64(n)),
				logging.Float64("avg_mean_rank", report.AvgMeanRank))
		}
	}
	s.deps.Metrics.ObserveBuild(req.Dataset, report.Status, report.Duration)

	sinkErr := s.finish(context.WithoutCancel(ctx), log, report)
	if buildErr != nil {
		return report, buildErr
	}
	return report, sinkErr
}

func (s *serviceImpl) buildInstance(ctx context.Context, log logging.Logger, runID string, req BuildRequest, inst *instance.Instance) (*InstanceResult, error) {
	start := time.Now()
	if s.opts.InstanceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.InstanceTimeout)
		defer cancel()
	}

	ref := InstanceRef{
		RunID:       runID,
		Dataset:     req.Dataset,
		Instance:    req.Instance,
		Index:       inst.Index,
		Fingerprint: inst.Fingerprint(),
	}
	file := filepath.Join(s.opts.HeatmapDir, req.Dataset,
		domainHeatmap.FileNameFor(req.Dataset, s.opts.IndexedDataset, req.Scale, req.Instance, inst.Index))
	key := s.cacheKey(req, inst, ref.Fingerprint)
	ilog := log.With(logging.Int("index", inst.Index), logging.Int("n", inst.N()))

	if s.deps.Locker != nil {
		release, err := s.deps.Locker.Acquire(ctx, key, s.opts.LockTTL)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				ilog.Warn("release build lock failed", logging.Err(err))
			}
		}()
	}

	res, err := s.fromCache(ctx, ilog, key, file)
	if err != nil {
		return nil, err
	}
	if res == nil {
		if res, err = s.compute(ctx, ilog, req, ref, inst, file, key); err != nil {
			return nil, err
		}
	}
	res.Index = inst.Index
	res.Fingerprint = ref.Fingerprint
	res.File = file
	res.Duration = time.Since(start)

	ilog.Info(fmt.Sprintf("build 1 heatmap for %s instance in %.2fs", req.Instance, res.Duration.Seconds()),
		logging.Int("clusters", res.Clusters),
		logging.Bool("cached", res.Cached))
	s.deps.Metrics.ObserveInstance(req.Dataset, res)

	if s.deps.Runs != nil {
		if err := s.sink(ilog, "run_repository", s.deps.Runs.SaveResult(ctx, runID, res)); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// compute runs sampling, inference, aggregation and statistics, writes the
// heatmap file and feeds the per-instance sinks.
func (s *serviceImpl) compute(ctx context.Context, log logging.Logger, req BuildRequest, ref InstanceRef, inst *instance.Instance, file, key string) (*InstanceResult, error) {
	rng := rand.New(rand.NewSource(s.opts.Seed + int64(inst.Index)))
	plan, err := sampling.NewSampler(sampling.ConfigFromK(req.K, req.KExpand), rng).Sample(ctx, inst)
	if err != nil {
		return nil, err
	}

	probs, err := s.deps.Predictor.Predict(ctx, plan.Clusters, req.BatchSize)
	if err != nil {
		return nil, err
	}
	if len(probs) != len(plan.Clusters) {
		return nil, errors.Newf(errors.CodeInferenceFailed, "predictor returned %d results for %d clusters", len(probs), len(plan.Clusters))
	}
	nodes := make([][]int, len(plan.Clusters))
	edges := make([]domainHeatmap.EdgeProbabilities, len(plan.Clusters))
	for i, c := range plan.Clusters {
		nodes[i] = c.Nodes
		edges[i] = probs[i]
	}
	h, err := domainHeatmap.Aggregate(plan.N, plan.Omega, nodes, edges)
	if err != nil {
		return nil, err
	}

	res := &InstanceResult{N: plan.N, Clusters: len(plan.Clusters), TourSource: TourNone}
	if !s.opts.SkipStatistics {
		tour := inst.Tour
		res.TourSource = TourFromInstance
		if !inst.HasTour() {
			tour = instance.ReferenceTour(ctx, inst.Coords, s.opts.Tour)
			res.TourSource = TourFromReference
		}
		st, err := domainHeatmap.ComputeStatistics(h, tour)
		if err != nil {
			return nil, err
		}
		res.Stats = &st
		res.TourLength = instance.TourLength(inst.Coords, tour)
	}

	if err := domainHeatmap.WriteFile(file, h, res.Stats); err != nil {
		return nil, err
	}

	useCache := s.opts.CacheEnabled && s.deps.Cache != nil
	if useCache || s.deps.Artifacts != nil {
		var buf bytes.Buffer
		if err := domainHeatmap.Write(&buf, h, res.Stats); err != nil {
			return nil, err
		}
		if useCache {
			entry := &CachedHeatmap{N: res.N, Clusters: res.Clusters, Stats: res.Stats, Tour: res.TourSource, TourLen: res.TourLength, Data: buf.Bytes()}
			if err := s.sink(log, "cache", s.deps.Cache.Set(ctx, key, entry)); err != nil {
				return nil, err
			}
		}
		if s.deps.Artifacts != nil {
			objKey := path.Join(req.Dataset, req.Instance, domainHeatmap.ConsumerFileName(res.N, inst.Index))
			uri, err := s.deps.Artifacts.PutHeatmap(ctx, objKey, buf.Bytes())
			if err := s.sink(log, "artifacts", err); err != nil {
				return nil, err
			}
			res.ArtifactURI = uri
		}
	}

	if s.deps.Graph != nil && s.opts.GraphTopK > 0 {
		top := domainHeatmap.TopEdges(h, s.opts.GraphTopK)
		if err := s.sink(log, "candidate_graph", s.deps.Graph.SaveCandidates(ctx, ref, top)); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// fromCache restores a cached heatmap into file. It returns nil without an
// error when the cache is disabled, misses or holds an unreadable entry.
func (s *serviceImpl) fromCache(ctx context.Context, log logging.Logger, key, file string) (*InstanceResult, error) {
	if !s.opts.CacheEnabled || s.deps.Cache == nil {
		return nil, nil
	}
	entry, err := s.deps.Cache.Get(ctx, key)
	if err != nil {
		if !errors.IsCode(err, errors.CodeCacheMiss) {
			log.Warn("heatmap cache lookup failed", logging.Err(err))
		}
		s.deps.Metrics.CacheResult(false)
		return nil, nil
	}
	h, _, err := domainHeatmap.Read(bytes.NewReader(entry.Data))
	if err != nil {
		log.Warn("discarding unreadable cache entry", logging.Err(err))
		s.deps.Metrics.CacheResult(false)
		return nil, nil
	}
	if err := domainHeatmap.WriteFile(file, h, entry.Stats); err != nil {
		return nil, err
	}
	s.deps.Metrics.CacheResult(true)
	return &InstanceResult{N: h.N, Clusters: entry.Clusters, Stats: entry.Stats, TourSource: entry.Tour, TourLength: entry.TourLen, Cached: true}, nil
}

// finish records the outcome with the run-level sinks.
func (s *serviceImpl) finish(ctx context.Context, log logging.Logger, report *BuildReport) error {
	var first error
	keep := func(name string, err error) {
		if e := s.sink(log, name, err); e != nil && first == nil {
			first = e
		}
	}
	if s.deps.Runs != nil {
		keep("run_repository", s.deps.Runs.CompleteRun(ctx, report))
	}
	if s.deps.Index != nil {
		keep("summary_index", s.deps.Index.IndexRun(ctx, report))
	}
	if s.deps.Events != nil {
		keep("events", s.deps.Events.PublishBuildCompleted(ctx, report.CompletedEvent()))
	}
	return first
}

// sink logs a failed side effect and turns it into an error only when sinks
// are strict.
func (s *serviceImpl) sink(log logging.Logger, name string, err error) error {
	if err == nil {
		return nil
	}
	log.Warn("sink failed", logging.String("sink", name), logging.Err(err))
	if !s.opts.StrictSinks {
		return nil
	}
	return errors.Wrap(err, errors.CodeUnknown, name+" sink failed")
}

// cacheKey covers every input that changes the heatmap file. Batch size is
// part of it because batch normalisation uses per-batch statistics; the index
// is because it offsets the sampling seed. The tour only changes the
// statistics footer, so it is folded into the stats segment.
func (s *serviceImpl) cacheKey(req BuildRequest, inst *instance.Instance, fingerprint string) string {
	var stats string
	switch {
	case s.opts.SkipStatistics:
		stats = "nostats"
	case inst.HasTour():
		stats = "tour-" + inst.TourDigest()
	default:
		stats = "ref"
	}
	return fmt.Sprintf("%s:k%d:e%d:b%d:s%d:i%d:%s:%s",
		s.deps.ModelName, req.K, req.KExpand, req.BatchSize, s.opts.Seed, inst.Index, stats, fingerprint)
}

func avgMeanRank(results []*InstanceResult) float64 {
	var sum float64
	var n int
	for _, r := range results {
		if r.Stats != nil {
			sum += r.Stats.MeanRank
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
