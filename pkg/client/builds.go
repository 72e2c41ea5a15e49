package client

import (
	"context"

	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// BuildsClient starts heatmap builds.
type BuildsClient struct {
	client *Client
}

func validateBuildRequest(req BuildRequest) error {
	if req.Dataset == "" || req.Instance == "" {
		return errors.InvalidParam("dataset and instance are required")
	}
	if req.Scale < 0 || req.BatchSize < 0 || req.K < 0 || req.KExpand < 0 {
		return errors.InvalidParam("scale, batch_size, k and k_expand must not be negative")
	}
	return nil
}

// Run builds synchronously and returns the report once every heatmap is
// written. Requests are never retried.
func (b *BuildsClient) Run(ctx context.Context, req BuildRequest) (*BuildReport, error) {
	if err := validateBuildRequest(req); err != nil {
		return nil, err
	}
	var report BuildReport
	if err := b.client.post(ctx, "/api/v1/builds", req, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Submit queues the build for the workers and returns its job id.
func (b *BuildsClient) Submit(ctx context.Context, req BuildRequest) (*Job, error) {
	if err := validateBuildRequest(req); err != nil {
		return nil, err
	}
	var job Job
	if err := b.client.post(ctx, "/api/v1/jobs", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
