package layercake

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const queryListNodesForGraph = `
	SELECT id, graph_data_id, external_id, label, layer, weight, is_partition,
	       belongs_to, comment, source_dataset_id, attributes, created_at
	FROM graph_data_nodes
	WHERE graph_data_id = $1
	ORDER BY external_id`

const queryDeleteNodesForGraph = `DELETE FROM graph_data_nodes WHERE graph_data_id = $1`

const queryInsertNode = `
	INSERT INTO graph_data_nodes (
		graph_data_id, external_id, label, layer, weight, is_partition,
		belongs_to, comment, source_dataset_id, attributes
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	RETURNING id, created_at`

const queryUpdateNodeCount = `
	UPDATE graph_data SET node_count = $2, updated_at = NOW() WHERE id = $1`

// ReplaceNodes atomically replaces every graph_data_nodes row for id with
// nodes, recomputing node_count in the same serializable transaction
// (§4.A "Bulk replace semantics"). Duplicate external_id within the batch
// fails with Validation(duplicate_external_id) before any row is touched.
func (s *Store) ReplaceNodes(ctx context.Context, id uuid.UUID, nodes []*GraphDataNode) error {
	if err := checkDuplicateNodeIDs(nodes); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin replace nodes tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, queryDeleteNodesForGraph, id); err != nil {
		return fmt.Errorf("delete existing nodes: %w", err)
	}

	for _, n := range nodes {
		row := tx.QueryRowContext(ctx, queryInsertNode,
			id, n.ExternalID, n.Label, n.Layer, n.Weight, n.IsPartition,
			n.BelongsTo, n.Comment, n.SourceDatasetID, n.Attributes)
		if err := row.Scan(&n.ID, &n.CreatedAt); err != nil {
			return fmt.Errorf("insert node %s: %w", n.ExternalID, err)
		}
		n.GraphDataID = id
	}

	if _, err := tx.ExecContext(ctx, queryUpdateNodeCount, id, len(nodes)); err != nil {
		return fmt.Errorf("update node_count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace nodes: %w", err)
	}
	return nil
}

func checkDuplicateNodeIDs(nodes []*GraphDataNode) error {
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if _, dup := seen[n.ExternalID]; dup {
			return newValidationError("duplicate_external_id", n.ExternalID)
		}
		seen[n.ExternalID] = struct{}{}
	}
	return nil
}

// loadNodes loads every node row for a graph, using q so it can run inside
// the caller's transaction or standalone against the pooled *sql.DB.
func (s *Store) loadNodes(ctx context.Context, q querier, id uuid.UUID) ([]*GraphDataNode, error) {
	rows, err := q.QueryContext(ctx, queryListNodesForGraph, id)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*GraphDataNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func scanNode(scanner interface{ Scan(dest ...any) error }) (*GraphDataNode, error) {
	var n GraphDataNode
	var label, layer, belongsTo, comment sql.NullString
	var weight sql.NullFloat64
	var sourceDatasetID uuid.NullUUID

	err := scanner.Scan(
		&n.ID, &n.GraphDataID, &n.ExternalID, &label, &layer, &weight,
		&n.IsPartition, &belongsTo, &comment, &sourceDatasetID, &n.Attributes,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if label.Valid {
		n.Label = &label.String
	}
	if layer.Valid {
		n.Layer = &layer.String
	}
	if weight.Valid {
		n.Weight = &weight.Float64
	}
	if belongsTo.Valid {
		n.BelongsTo = &belongsTo.String
	}
	if comment.Valid {
		n.Comment = &comment.String
	}
	if sourceDatasetID.Valid {
		id := sourceDatasetID.UUID
		n.SourceDatasetID = &id
	}
	return &n, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx, mirroring the teacher's
// WithTx helper so store functions can run standalone or inside a caller's
// transaction without duplicating query logic.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
