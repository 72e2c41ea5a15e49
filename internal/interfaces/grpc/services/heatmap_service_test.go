package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/domain/instance"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

type fakeService struct {
	got    appHeatmap.BuildRequest
	report *appHeatmap.BuildReport
	err    error
}

func (f *fakeService) BuildDataset(_ context.Context, req appHeatmap.BuildRequest) (*appHeatmap.BuildReport, error) {
	f.got = req
	return f.report, f.err
}

func (f *fakeService) BuildInstances(_ context.Context, req appHeatmap.BuildRequest, _ []*instance.Instance) (*appHeatmap.BuildReport, error) {
	f.got = req
	return f.report, f.err
}

type fakeSubmitter struct {
	jobs []*appHeatmap.BuildJob
	err  error
}

func (f *fakeSubmitter) Submit(_ context.Context, job *appHeatmap.BuildJob) error {
	f.jobs = append(f.jobs, job)
	return f.err
}

func mustStruct(t *testing.T, m map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestHeatmapService_Build(t *testing.T) {
	svc := &fakeService{report: &appHeatmap.BuildReport{
		RunID:       "run-1",
		Status:      appHeatmap.StatusSucceeded,
		AvgMeanRank: 1.5,
		StartedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Results:     []*appHeatmap.InstanceResult{{Index: 0, N: 500, File: "heatmap/tsp500/test/0.txt"}},
	}}
	s := NewHeatmapService(svc, nil, nil)

	out, err := s.Build(context.Background(), mustStruct(t, map[string]interface{}{
		"dataset": "tsp500", "instance": "test", "scale": 500, "k": 10,
	}))
	require.NoError(t, err)

	assert.Equal(t, appHeatmap.BuildRequest{Dataset: "tsp500", Instance: "test", Scale: 500, K: 10}, svc.got)
	m := out.AsMap()
	assert.Equal(t, "run-1", m["run_id"])
	assert.Equal(t, appHeatmap.StatusSucceeded, m["status"])
	assert.Equal(t, 1.5, m["avg_mean_rank"])
	results := m["results"].([]interface{})
	require.Len(t, results, 1)
	assert.Equal(t, "heatmap/tsp500/test/0.txt", results[0].(map[string]interface{})["file"])
}

func TestHeatmapService_Build_InvalidRequest(t *testing.T) {
	s := NewHeatmapService(&fakeService{}, nil, nil)

	_, err := s.Build(context.Background(), mustStruct(t, map[string]interface{}{"instance": "test"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.Build(context.Background(), nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.Build(context.Background(), mustStruct(t, map[string]interface{}{"dataset": "d", "instance": "i", "scale": "big"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestHeatmapService_Build_ServiceError(t *testing.T) {
	svc := &fakeService{err: errors.New(errors.CodeInstanceFileNotFound, "instance file not found")}
	s := NewHeatmapService(svc, nil, nil)

	_, err := s.Build(context.Background(), mustStruct(t, map[string]interface{}{"dataset": "d", "instance": "i"}))
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "instance file not found")
}

func TestHeatmapService_Submit(t *testing.T) {
	sub := &fakeSubmitter{}
	s := NewHeatmapService(&fakeService{}, sub, nil)

	out, err := s.Submit(context.Background(), mustStruct(t, map[string]interface{}{
		"dataset": "tsp500", "instance": "test", "scale": 500,
	}))
	require.NoError(t, err)
	require.Len(t, sub.jobs, 1)
	assert.Equal(t, sub.jobs[0].JobID, out.AsMap()["job_id"])
	assert.Equal(t, "tsp500", sub.jobs[0].Dataset)
	assert.Equal(t, 500, sub.jobs[0].Scale)
}

func TestHeatmapService_Submit_Errors(t *testing.T) {
	req := map[string]interface{}{"dataset": "d", "instance": "i"}

	_, err := NewHeatmapService(&fakeService{}, nil, nil).Submit(context.Background(), mustStruct(t, req))
	assert.Equal(t, codes.Unavailable, status.Code(err))

	sub := &fakeSubmitter{err: errors.New(errors.CodeMessaging, "broker down")}
	_, err = NewHeatmapService(&fakeService{}, sub, nil).Submit(context.Background(), mustStruct(t, req))
	require.Error(t, err)
	assert.NotEqual(t, codes.OK, status.Code(err))
}
