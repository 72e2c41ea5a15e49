package opensearch

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/opensearch-project/opensearch-go/v3/opensearchapi"

	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

const (
	defaultSearchSize = 20
	maxSearchSize     = 500
)

// RunQuery filters run summaries. Empty fields match everything.
type RunQuery struct {
	Dataset     string
	Instance    string
	Status      string
	MaxMeanRank float64
	Size        int
}

// RunPage is one page of matching runs, newest first.
type RunPage struct {
	Total int          `json:"total"`
	Runs  []RunSummary `json:"runs"`
}

func (q RunQuery) body() map[string]any {
	var filters []any
	terms := [][2]string{{"dataset", q.Dataset}, {"instance", q.Instance}, {"status", q.Status}}
	for _, t := range terms {
		if t[1] != "" {
			filters = append(filters, map[string]any{"term": map[string]any{t[0]: t[1]}})
		}
	}
	if q.MaxMeanRank > 0 {
		filters = append(filters, map[string]any{"range": map[string]any{"avg_mean_rank": map[string]any{"lte": q.MaxMeanRank}}})
	}
	size := q.Size
	switch {
	case size <= 0:
		size = defaultSearchSize
	case size > maxSearchSize:
		size = maxSearchSize
	}
	query := map[string]any{"match_all": map[string]any{}}
	if len(filters) > 0 {
		query = map[string]any{"bool": map[string]any{"filter": filters}}
	}
	return map[string]any{
		"size":  size,
		"query": query,
		"sort":  []any{map[string]any{"started_at": map[string]any{"order": "desc"}}},
	}
}

// Search returns the runs matching q.
func (x *RunIndex) Search(ctx context.Context, q RunQuery) (*RunPage, error) {
	body, err := json.Marshal(q.body())
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "encode run query")
	}
	resp, err := x.client.api.Search(ctx, &opensearchapi.SearchReq{
		Indices: []string{x.index},
		Body:    bytes.NewReader(body),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeSearchIndex, "search runs").WithDetail(x.index)
	}

	page := &RunPage{Total: resp.Hits.Total.Value, Runs: make([]RunSummary, 0, len(resp.Hits.Hits))}
	for _, hit := range resp.Hits.Hits {
		var s RunSummary
		if err := json.Unmarshal(hit.Source, &s); err != nil {
			return nil, errors.Wrap(err, errors.CodeSerialization, "decode run summary").WithDetail(hit.ID)
		}
		page.Runs = append(page.Runs, s)
	}
	return page, nil
}
