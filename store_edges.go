package layercake

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const queryListEdgesForGraph = `
	SELECT id, graph_data_id, external_id, source, target, label, layer,
	       weight, comment, source_dataset_id, attributes, created_at
	FROM graph_data_edges
	WHERE graph_data_id = $1
	ORDER BY external_id`

const queryDeleteEdgesForGraph = `DELETE FROM graph_data_edges WHERE graph_data_id = $1`

const queryInsertEdge = `
	INSERT INTO graph_data_edges (
		graph_data_id, external_id, source, target, label, layer, weight,
		comment, source_dataset_id, attributes
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	RETURNING id, created_at`

const queryUpdateEdgeCount = `
	UPDATE graph_data SET edge_count = $2, updated_at = NOW() WHERE id = $1`

// ReplaceEdgesOptions controls ReplaceEdges's reference-integrity check.
type ReplaceEdgesOptions struct {
	// AllowDangling skips the "edge references unknown node" check. Set by
	// ArchiveCodec.Import and by the edit replayer when it writes back
	// post-replay content.
	AllowDangling bool
}

// ReplaceEdges atomically replaces every graph_data_edges row for id with
// edges, recomputing edge_count in the same serializable transaction.
// Duplicate external_id within the batch, or an edge referencing a source
// or target external_id absent from the graph's current node set, fails
// the whole call before any row is touched (unless AllowDangling is set).
func (s *Store) ReplaceEdges(ctx context.Context, id uuid.UUID, edges []*GraphDataEdge, opts ReplaceEdgesOptions) error {
	if err := checkDuplicateEdgeIDs(edges); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin replace edges tx: %w", err)
	}
	defer tx.Rollback()

	if !opts.AllowDangling {
		nodes, err := s.loadNodes(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkEdgeReferences(edges, nodes); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, queryDeleteEdgesForGraph, id); err != nil {
		return fmt.Errorf("delete existing edges: %w", err)
	}

	for _, e := range edges {
		row := tx.QueryRowContext(ctx, queryInsertEdge,
			id, e.ExternalID, e.Source, e.Target, e.Label, e.Layer, e.Weight,
			e.Comment, e.SourceDatasetID, e.Attributes)
		if err := row.Scan(&e.ID, &e.CreatedAt); err != nil {
			return fmt.Errorf("insert edge %s: %w", e.ExternalID, err)
		}
		e.GraphDataID = id
	}

	if _, err := tx.ExecContext(ctx, queryUpdateEdgeCount, id, len(edges)); err != nil {
		return fmt.Errorf("update edge_count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace edges: %w", err)
	}
	return nil
}

func checkDuplicateEdgeIDs(edges []*GraphDataEdge) error {
	seen := make(map[string]struct{}, len(edges))
	for _, e := range edges {
		if _, dup := seen[e.ExternalID]; dup {
			return newValidationError("duplicate_external_id", e.ExternalID)
		}
		seen[e.ExternalID] = struct{}{}
	}
	return nil
}

func checkEdgeReferences(edges []*GraphDataEdge, nodes []*GraphDataNode) error {
	known := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		known[n.ExternalID] = struct{}{}
	}
	for _, e := range edges {
		if _, ok := known[e.Source]; !ok {
			return newValidationError("edge_references_unknown_node", e.Source)
		}
		if _, ok := known[e.Target]; !ok {
			return newValidationError("edge_references_unknown_node", e.Target)
		}
	}
	return nil
}

// loadEdges loads every edge row for a graph.
func (s *Store) loadEdges(ctx context.Context, q querier, id uuid.UUID) ([]*GraphDataEdge, error) {
	rows, err := q.QueryContext(ctx, queryListEdgesForGraph, id)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	defer rows.Close()

	var edges []*GraphDataEdge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func scanEdge(scanner interface{ Scan(dest ...any) error }) (*GraphDataEdge, error) {
	var e GraphDataEdge
	var label, layer, comment sql.NullString
	var weight sql.NullFloat64
	var sourceDatasetID uuid.NullUUID

	err := scanner.Scan(
		&e.ID, &e.GraphDataID, &e.ExternalID, &e.Source, &e.Target, &label,
		&layer, &weight, &comment, &sourceDatasetID, &e.Attributes, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if label.Valid {
		e.Label = &label.String
	}
	if layer.Valid {
		e.Layer = &layer.String
	}
	if weight.Valid {
		e.Weight = &weight.Float64
	}
	if comment.Valid {
		e.Comment = &comment.String
	}
	if sourceDatasetID.Valid {
		id := sourceDatasetID.UUID
		e.SourceDatasetID = &id
	}
	return &e, nil
}
