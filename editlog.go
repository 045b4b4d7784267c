package layercake

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// EditLog is the append-only Edit Log (§4.C): per-graph, monotonically
// sequenced mutations awaiting replay into a computed graph's materialized
// rows.
type EditLog struct {
	db *sql.DB
}

func NewEditLog(db *sql.DB) *EditLog {
	return &EditLog{db: db}
}

const queryAdvisoryLockGraph = `SELECT pg_advisory_xact_lock(hashtext($1))`

const queryNextSequence = `
	SELECT last_edit_sequence FROM graph_data WHERE id = $1 FOR UPDATE`

const queryBumpSequence = `
	UPDATE graph_data SET last_edit_sequence = $2, has_pending_edits = true WHERE id = $1`

const queryInsertEdit = `
	INSERT INTO graph_edits (
		graph_data_id, sequence_number, target_type, target_id, operation,
		field, old_value, new_value, applied
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false)
	RETURNING id, created_at, updated_at`

const queryListEditsBase = `
	SELECT id, graph_data_id, sequence_number, target_type, target_id,
	       operation, field, old_value, new_value, applied, created_at, updated_at
	FROM graph_edits
	WHERE graph_data_id = $1`

const queryListEdits = queryListEditsBase + ` ORDER BY sequence_number`

const queryListUnappliedEdits = queryListEditsBase + ` AND applied = false ORDER BY sequence_number`

const queryMarkApplied = `UPDATE graph_edits SET applied = true, updated_at = NOW() WHERE id = $1`

const queryClearEdits = `DELETE FROM graph_edits WHERE graph_data_id = $1`

const queryCountEdits = `SELECT count(*) FROM graph_edits WHERE graph_data_id = $1 AND applied = false`

// EditSpec is the input to Append.
type EditSpec struct {
	TargetType EditTargetType
	TargetID   string
	Operation  EditOperation
	Field      *string
	OldValue   []byte
	NewValue   []byte
}

// Append allocates the next sequence number for graphID and inserts one
// GraphEdit row, all within a transaction serialized by a per-graph
// Postgres advisory lock (hashtext(graph id) as the lock key) so concurrent
// editors never race on sequence_number (§4.C "Sequence allocation is
// strictly per-graph and monotonic").
func (e *EditLog) Append(ctx context.Context, graphID uuid.UUID, spec EditSpec) (*GraphEdit, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append edit tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, queryAdvisoryLockGraph, graphID.String()); err != nil {
		return nil, fmt.Errorf("acquire graph edit lock: %w", err)
	}

	var current int64
	if err := tx.QueryRowContext(ctx, queryNextSequence, graphID).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return nil, newNotFoundError("graph_data", graphID.String())
		}
		return nil, fmt.Errorf("read current sequence: %w", err)
	}
	next := current + 1

	edit := &GraphEdit{
		GraphDataID:    graphID,
		SequenceNumber: next,
		TargetType:     spec.TargetType,
		TargetID:       spec.TargetID,
		Operation:      spec.Operation,
		Field:          spec.Field,
		OldValue:       spec.OldValue,
		NewValue:       spec.NewValue,
	}
	row := tx.QueryRowContext(ctx, queryInsertEdit,
		graphID, next, spec.TargetType, spec.TargetID, spec.Operation,
		spec.Field, spec.OldValue, spec.NewValue)
	if err := row.Scan(&edit.ID, &edit.CreatedAt, &edit.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert edit: %w", err)
	}

	if _, err := tx.ExecContext(ctx, queryBumpSequence, graphID, next); err != nil {
		return nil, fmt.Errorf("bump sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append edit: %w", err)
	}
	return edit, nil
}

// List returns a graph's edit log in sequence order. When unappliedOnly is
// true only edits awaiting replay are returned.
func (e *EditLog) List(ctx context.Context, graphID uuid.UUID, unappliedOnly bool) ([]*GraphEdit, error) {
	query := queryListEdits
	if unappliedOnly {
		query = queryListUnappliedEdits
	}
	rows, err := e.db.QueryContext(ctx, query, graphID)
	if err != nil {
		return nil, fmt.Errorf("list edits: %w", err)
	}
	defer rows.Close()

	var edits []*GraphEdit
	for rows.Next() {
		ed, err := scanEdit(rows)
		if err != nil {
			return nil, err
		}
		edits = append(edits, ed)
	}
	return edits, rows.Err()
}

// MarkApplied flags a single edit as replayed. The replayer calls this once
// per edit it successfully applies or explicitly skips (§4.F).
func (e *EditLog) MarkApplied(ctx context.Context, editID uuid.UUID) error {
	res, err := e.db.ExecContext(ctx, queryMarkApplied, editID)
	if err != nil {
		return fmt.Errorf("mark applied: %w", err)
	}
	return requireRowsAffected(res, "graph_edit", editID.String())
}

// Clear removes every edit for a graph, used when the graph's header is
// deleted and when a user explicitly discards pending edits.
func (e *EditLog) Clear(ctx context.Context, graphID uuid.UUID) error {
	if _, err := e.db.ExecContext(ctx, queryClearEdits, graphID); err != nil {
		return fmt.Errorf("clear edits: %w", err)
	}
	return nil
}

// Count returns the number of unapplied edits pending for a graph.
func (e *EditLog) Count(ctx context.Context, graphID uuid.UUID) (int, error) {
	var n int
	if err := e.db.QueryRowContext(ctx, queryCountEdits, graphID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count edits: %w", err)
	}
	return n, nil
}

func scanEdit(scanner interface{ Scan(dest ...any) error }) (*GraphEdit, error) {
	var ed GraphEdit
	var field sql.NullString
	err := scanner.Scan(
		&ed.ID, &ed.GraphDataID, &ed.SequenceNumber, &ed.TargetType, &ed.TargetID,
		&ed.Operation, &field, &ed.OldValue, &ed.NewValue, &ed.Applied,
		&ed.CreatedAt, &ed.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if field.Valid {
		ed.Field = &field.String
	}
	return &ed, nil
}
