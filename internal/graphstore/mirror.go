// Package graphstore mirrors the relational dependency graph into Neo4j
// so overlap questions ("what transitively imports this file") can be
// asked with Cypher instead of recursive SQL.
package graphstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codepulse/codepulse-go/internal/logging"
	"github.com/codepulse/codepulse-go/internal/models"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const edgeBatchSize = 500

// EdgeSource provides the edges to mirror; satisfied by storage.Store.
type EdgeSource interface {
	ListDependencyEdges(ctx context.Context, repoID string) ([]models.DependencyEdge, error)
}

// Mirror pushes dependency edges into Neo4j with MERGE so repeated syncs
// are idempotent.
type Mirror struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// NewMirror connects to Neo4j and verifies the connection.
func NewMirror(ctx context.Context, uri, user, password string) (*Mirror, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return &Mirror{
		driver:   driver,
		database: "neo4j",
		logger:   logging.Component("graphstore"),
	}, nil
}

func (m *Mirror) Close(ctx context.Context) error {
	return m.driver.Close(ctx)
}

// Sync mirrors all of a repository's dependency edges. Nodes and
// relationships are MERGEd in batches via UNWIND.
func (m *Mirror) Sync(ctx context.Context, source EdgeSource, repoID string) (int, error) {
	edges, err := source.ListDependencyEdges(ctx, repoID)
	if err != nil {
		return 0, fmt.Errorf("list dependency edges: %w", err)
	}
	if len(edges) == 0 {
		return 0, nil
	}

	query := `
		UNWIND $edges AS edge
		MERGE (src:File {repo_id: $repo_id, path: edge.source})
		MERGE (dst:File {repo_id: $repo_id, path: edge.target})
		MERGE (src)-[r:IMPORTS]->(dst)
		SET r.edge_type = edge.edge_type, r.strength = edge.strength
	`

	synced := 0
	for start := 0; start < len(edges); start += edgeBatchSize {
		end := start + edgeBatchSize
		if end > len(edges) {
			end = len(edges)
		}

		batch := make([]map[string]any, 0, end-start)
		for _, edge := range edges[start:end] {
			batch = append(batch, map[string]any{
				"source":    edge.SourcePath,
				"target":    edge.TargetPath,
				"edge_type": edge.EdgeType,
				"strength":  edge.Strength,
			})
		}

		_, err := neo4j.ExecuteQuery(ctx, m.driver, query,
			map[string]any{"repo_id": repoID, "edges": batch},
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(m.database))
		if err != nil {
			return synced, fmt.Errorf("merge edge batch: %w", err)
		}
		synced += len(batch)
	}

	m.logger.Info("mirrored dependency edges", "repo", repoID, "edges", synced)
	return synced, nil
}

// Dependents returns the paths that import the given file, up to the
// given traversal depth.
func (m *Mirror) Dependents(ctx context.Context, repoID, path string, depth int) ([]string, error) {
	if depth <= 0 {
		depth = 1
	}
	query := fmt.Sprintf(`
		MATCH (dep:File)-[:IMPORTS*1..%d]->(target:File {repo_id: $repo_id, path: $path})
		RETURN DISTINCT dep.path AS path
	`, depth)

	result, err := neo4j.ExecuteQuery(ctx, m.driver, query,
		map[string]any{"repo_id": repoID, "path": path},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(m.database))
	if err != nil {
		return nil, fmt.Errorf("query dependents: %w", err)
	}

	paths := make([]string, 0, len(result.Records))
	for _, record := range result.Records {
		if p, ok := record.Get("path"); ok {
			if s, ok := p.(string); ok {
				paths = append(paths, s)
			}
		}
	}
	return paths, nil
}
