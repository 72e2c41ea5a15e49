package client

import (
	"context"
	"net/url"
	"strconv"

	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// RunsClient reads stored and indexed runs.
type RunsClient struct {
	client *Client
}

// Get loads a run and its instance results.
func (r *RunsClient) Get(ctx context.Context, runID string) (*BuildReport, error) {
	if runID == "" {
		return nil, errors.InvalidParam("run id is required")
	}
	var report BuildReport
	if err := r.client.get(ctx, "/api/v1/runs/"+url.PathEscape(runID), &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Search lists indexed run summaries matching f.
func (r *RunsClient) Search(ctx context.Context, f RunFilter) (*RunPage, error) {
	q := url.Values{}
	if f.Dataset != "" {
		q.Set("dataset", f.Dataset)
	}
	if f.Instance != "" {
		q.Set("instance", f.Instance)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.MaxMeanRank > 0 {
		q.Set("max_mean_rank", strconv.FormatFloat(f.MaxMeanRank, 'f', -1, 64))
	}
	if f.Size > 0 {
		q.Set("size", strconv.Itoa(f.Size))
	}
	path := "/api/v1/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var page RunPage
	if err := r.client.get(ctx, path, &page); err != nil {
		return nil, err
	}
	return &page, nil
}
