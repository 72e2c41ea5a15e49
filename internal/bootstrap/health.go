package bootstrap

import (
	"context"

	"github.com/turtacn/GCN-Heatmap/internal/interfaces/http/handlers"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// HealthCheckers returns one probe per connected backend. Each probe also
// updates the component_up gauge.
func (a *App) HealthCheckers() []handlers.HealthChecker {
	var checks []handlers.HealthChecker
	add := func(name string, fn func(context.Context) error) {
		checks = append(checks, handlers.NewChecker(name, a.observed(name, fn)))
	}
	if a.Postgres != nil {
		add("postgres", a.Postgres.HealthCheck)
	}
	if a.Redis != nil {
		add("redis", a.Redis.Ping)
	}
	if a.Neo4j != nil {
		add("neo4j", a.Neo4j.HealthCheck)
	}
	if a.OpenSearch != nil {
		add("opensearch", a.OpenSearch.Ping)
	}
	if a.MinIO != nil {
		client := a.MinIO
		add("minio", func(ctx context.Context) error {
			status, err := client.HealthCheck(ctx)
			if err != nil {
				return err
			}
			if !status.BucketExists {
				return errors.New(errors.CodeStorage, "bucket missing")
			}
			return nil
		})
	}
	return checks
}

func (a *App) observed(name string, fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		err := fn(ctx)
		if a.Metrics != nil {
			a.Metrics.SetComponentUp(name, err == nil)
		}
		return err
	}
}
