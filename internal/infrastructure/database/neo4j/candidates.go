package neo4j

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	appHeatmap "github.com/turtacn/GCN-Heatmap/internal/application/heatmap"
	domainHeatmap "github.com/turtacn/GCN-Heatmap/internal/domain/heatmap"
	"github.com/turtacn/GCN-Heatmap/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

const defaultCandidateBatch = 2000

var schemaStatements = []string{
	`CREATE CONSTRAINT heatmap_run_id IF NOT EXISTS FOR (r:HeatmapRun) REQUIRE r.run_id IS UNIQUE`,
	`CREATE INDEX heatmap_instance_key IF NOT EXISTS FOR (i:HeatmapInstance) ON (i.run_id, i.index)`,
	`CREATE INDEX city_key IF NOT EXISTS FOR (c:City) ON (c.run_id, c.index, c.node)`,
}

const mergeInstanceCypher = `
MERGE (r:HeatmapRun {run_id: $run_id})
MERGE (i:HeatmapInstance {run_id: $run_id, index: $index})
SET i.dataset = $dataset, i.instance = $instance, i.fingerprint = $fingerprint
MERGE (r)-[:HAS_INSTANCE]->(i)`

const mergeCandidatesCypher = `
MATCH (i:HeatmapInstance {run_id: $run_id, index: $index})
UNWIND $edges AS e
MERGE (a:City {run_id: $run_id, index: $index, node: e.from})
MERGE (b:City {run_id: $run_id, index: $index, node: e.to})
MERGE (i)-[:HAS_CITY]->(a)
MERGE (a)-[c:CANDIDATE]->(b)
SET c.weight = e.weight, c.rank = e.rank`

const candidatesOfCypher = `
MATCH (:City {run_id: $run_id, index: $index, node: $node})-[c:CANDIDATE]->(b:City)
RETURN b.node AS to, c.weight AS weight
ORDER BY c.rank`

// CandidateStore writes each instance's top-k edges as
// (:City)-[:CANDIDATE {weight, rank}]->(:City) under its run.
type CandidateStore struct {
	driver    *Driver
	logger    logging.Logger
	batchSize int
}

// NewCandidateStore builds a store on driver. batchSize bounds the edges
// sent per statement; zero uses 2000.
func NewCandidateStore(driver *Driver, batchSize int, log logging.Logger) *CandidateStore {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if batchSize <= 0 {
		batchSize = defaultCandidateBatch
	}
	return &CandidateStore{driver: driver, logger: log.Named("candidate_graph"), batchSize: batchSize}
}

var _ appHeatmap.CandidateGraphStore = (*CandidateStore)(nil)

// EnsureSchema creates the constraint and lookup indexes.
func (s *CandidateStore) EnsureSchema(ctx context.Context) error {
	_, err := s.driver.ExecuteWrite(ctx, func(tx Transaction) (any, error) {
		for _, stmt := range schemaStatements {
			res, err := tx.Run(ctx, stmt, nil)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// SaveCandidates stores edges, one slice per source node, in one write
// transaction. Re-saving the same instance overwrites weights and ranks.
func (s *CandidateStore) SaveCandidates(ctx context.Context, ref appHeatmap.InstanceRef, edges [][]domainHeatmap.Edge) error {
	if ref.RunID == "" {
		return errors.InvalidParam("candidate graph: run id required")
	}
	rows := flattenEdges(edges)
	base := map[string]any{
		"run_id": ref.RunID,
		"index":  int64(ref.Index),
	}

	_, err := s.driver.ExecuteWrite(ctx, func(tx Transaction) (any, error) {
		params := map[string]any{
			"dataset":     ref.Dataset,
			"instance":    ref.Instance,
			"fingerprint": ref.Fingerprint,
		}
		for k, v := range base {
			params[k] = v
		}
		if _, err := tx.Run(ctx, mergeInstanceCypher, params); err != nil {
			return nil, err
		}
		for start := 0; start < len(rows); start += s.batchSize {
			end := min(start+s.batchSize, len(rows))
			if _, err := tx.Run(ctx, mergeCandidatesCypher, map[string]any{
				"run_id": base["run_id"],
				"index":  base["index"],
				"edges":  rows[start:end],
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("candidate graph saved",
		logging.String("run_id", ref.RunID),
		logging.Int("index", ref.Index),
		logging.Int("edges", len(rows)))
	return nil
}

func flattenEdges(edges [][]domainHeatmap.Edge) []map[string]any {
	var rows []map[string]any
	for _, row := range edges {
		for rank, e := range row {
			rows = append(rows, map[string]any{
				"from":   int64(e.From),
				"to":     int64(e.To),
				"weight": e.Weight,
				"rank":   int64(rank),
			})
		}
	}
	return rows
}

// CandidatesOf returns the stored candidates of node in rank order.
func (s *CandidateStore) CandidatesOf(ctx context.Context, runID string, index, node int) ([]domainHeatmap.Edge, error) {
	out, err := s.driver.ExecuteRead(ctx, func(tx Transaction) (any, error) {
		res, err := tx.Run(ctx, candidatesOfCypher, map[string]any{
			"run_id": runID,
			"index":  int64(index),
			"node":   int64(node),
		})
		if err != nil {
			return nil, err
		}
		return CollectRecords(ctx, res, func(r *neo4j.Record) (domainHeatmap.Edge, error) {
			to, _, err := neo4j.GetRecordValue[int64](r, "to")
			if err != nil {
				return domainHeatmap.Edge{}, err
			}
			w, _, err := neo4j.GetRecordValue[float64](r, "weight")
			if err != nil {
				return domainHeatmap.Edge{}, err
			}
			return domainHeatmap.Edge{From: node, To: int(to), Weight: w}, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out.([]domainHeatmap.Edge), nil
}
