package layercake

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store is the Graph Data Store (§4.A): a persistent mapping of a
// graph_data_id to (header row, node rows, edge rows), plus the bulk
// replace operations that keep node_count/edge_count in sync.
//
// Expected schema (documented here rather than as migration DDL, which is
// an explicit external collaborator per spec §1):
//
//	graph_data(id, project_id, name, source_type, dag_node_id, status,
//	  source_hash, computed_date, node_count, edge_count,
//	  last_edit_sequence, has_pending_edits, last_replay_at, file_format,
//	  origin, filename, file_size, blob, metadata, annotations,
//	  error_message, created_at, updated_at)
//	graph_data_nodes(id, graph_data_id, external_id, label, layer, weight,
//	  is_partition, belongs_to, comment, source_dataset_id, attributes,
//	  created_at) — unique (graph_data_id, external_id)
//	graph_data_edges(id, graph_data_id, external_id, source, target, label,
//	  layer, weight, comment, source_dataset_id, attributes, created_at)
type Store struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewStore wraps an already-connected *sql.DB. A nil logger falls back to
// logrus's standard logger, matching the facade's nil-safe construction.
func NewStore(db *sql.DB, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{db: db, log: log}
}

const queryInsertHeader = `
	INSERT INTO graph_data (
		project_id, name, source_type, dag_node_id, status, file_format,
		origin, filename, file_size, blob, metadata
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	RETURNING id, created_at, updated_at`

const queryGetHeader = `
	SELECT id, project_id, name, source_type, dag_node_id, status,
	       source_hash, computed_date, node_count, edge_count,
	       last_edit_sequence, has_pending_edits, last_replay_at,
	       file_format, origin, filename, file_size, blob, metadata,
	       annotations, error_message, created_at, updated_at
	FROM graph_data WHERE id = $1`

const queryGetHeaderByDagNodeSQL = `
	SELECT id, project_id, name, source_type, dag_node_id, status,
	       source_hash, computed_date, node_count, edge_count,
	       last_edit_sequence, has_pending_edits, last_replay_at,
	       file_format, origin, filename, file_size, blob, metadata,
	       annotations, error_message, created_at, updated_at
	FROM graph_data WHERE project_id = $1 AND dag_node_id = $2`

const queryUpdateStatus = `
	UPDATE graph_data SET status = $2, error_message = $3, updated_at = NOW()
	WHERE id = $1`

const querySetSourceHash = `
	UPDATE graph_data
	SET source_hash = $2, computed_date = $3, status = 'active', error_message = NULL, updated_at = NOW()
	WHERE id = $1`

const queryDeleteHeader = `DELETE FROM graph_data WHERE id = $1`

const querySetLastReplayAt = `
	UPDATE graph_data SET last_replay_at = $2, updated_at = NOW() WHERE id = $1`

const queryListHeadersForProject = `
	SELECT id, project_id, name, source_type, dag_node_id, status,
	       source_hash, computed_date, node_count, edge_count,
	       last_edit_sequence, has_pending_edits, last_replay_at,
	       file_format, origin, filename, file_size, blob, metadata,
	       annotations, error_message, created_at, updated_at
	FROM graph_data WHERE project_id = $1 AND source_type = $2 ORDER BY created_at DESC`

const queryUpdateDatasetMeta = `
	UPDATE graph_data SET name = $2, metadata = $3, updated_at = NOW() WHERE id = $1`

const queryReplaceDatasetBlob = `
	UPDATE graph_data SET filename = $2, file_size = $3, blob = $4, updated_at = NOW() WHERE id = $1`

const queryClearPendingEdits = `
	UPDATE graph_data SET has_pending_edits = false WHERE id = $1`

// HeaderSpec is the input for CreateHeader.
type HeaderSpec struct {
	ProjectID  uuid.UUID
	Name       string
	SourceType SourceType
	DagNodeID  *string
	Status     GraphDataStatus
	FileFormat *string
	Origin     *string
	Filename   *string
	FileSize   *int64
	Blob       []byte
	Metadata   []byte
}

// CreateHeader inserts a new GraphData header. Dataset rows must have
// DagNodeID == nil; computed rows must have it set — enforced by the
// facade/executor, not here, since the store itself has no project-scoped
// uniqueness context beyond the DB unique index on (project_id, dag_node_id).
func (s *Store) CreateHeader(ctx context.Context, spec HeaderSpec) (*GraphData, error) {
	if spec.Status == "" {
		spec.Status = StatusPending
	}
	row := s.db.QueryRowContext(ctx, queryInsertHeader,
		spec.ProjectID, spec.Name, spec.SourceType, spec.DagNodeID, spec.Status,
		spec.FileFormat, spec.Origin, spec.Filename, spec.FileSize, spec.Blob, spec.Metadata)

	var g GraphData
	g.ProjectID = spec.ProjectID
	g.Name = spec.Name
	g.SourceType = spec.SourceType
	g.DagNodeID = spec.DagNodeID
	g.Status = spec.Status
	g.FileFormat = spec.FileFormat
	g.Origin = spec.Origin
	g.Filename = spec.Filename
	g.FileSize = spec.FileSize
	g.Blob = spec.Blob
	g.Metadata = spec.Metadata
	if err := row.Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create header: %w", err)
	}
	return &g, nil
}

// GetHeader loads a GraphData header by id.
func (s *Store) GetHeader(ctx context.Context, id uuid.UUID) (*GraphData, error) {
	row := s.db.QueryRowContext(ctx, queryGetHeader, id)
	g, err := scanHeader(row)
	if err == sql.ErrNoRows {
		return nil, newNotFoundError("graph_data", id.String())
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GetHeaderByDagNode loads a computed GraphData header by its owning Plan
// DAG node, unique per (project_id, dag_node_id).
func (s *Store) GetHeaderByDagNode(ctx context.Context, projectID uuid.UUID, dagNodeID string) (*GraphData, error) {
	row := s.db.QueryRowContext(ctx, queryGetHeaderByDagNodeSQL, projectID, dagNodeID)
	g, err := scanHeader(row)
	if err == sql.ErrNoRows {
		return nil, newNotFoundError("graph_data", dagNodeID)
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// UpdateStatus sets the header's status (and optional error message).
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status GraphDataStatus, errMsg *string) error {
	res, err := s.db.ExecContext(ctx, queryUpdateStatus, id, status, errMsg)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return requireRowsAffected(res, "graph_data", id.String())
}

// SetSourceHash records a successful computation's content hash and marks
// the header active (§3.1: source_hash present iff source_type=computed AND
// a successful execution completed).
func (s *Store) SetSourceHash(ctx context.Context, id uuid.UUID, hash string, computedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, querySetSourceHash, id, hash, computedAt)
	if err != nil {
		return fmt.Errorf("set source hash: %w", err)
	}
	return requireRowsAffected(res, "graph_data", id.String())
}

// SetLastReplayAt records when the edit replayer last ran against this graph.
func (s *Store) SetLastReplayAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, querySetLastReplayAt, id, at)
	if err != nil {
		return fmt.Errorf("set last replay at: %w", err)
	}
	return requireRowsAffected(res, "graph_data", id.String())
}

// Delete removes a header and cascades its node/edge/edit-log children
// (enforced by FK ON DELETE CASCADE per the schema documented above).
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, queryDeleteHeader, id)
	if err != nil {
		return fmt.Errorf("delete header: %w", err)
	}
	return requireRowsAffected(res, "graph_data", id.String())
}

// LoadFull returns the header plus all of its node and edge children.
func (s *Store) LoadFull(ctx context.Context, id uuid.UUID) (*GraphData, []*GraphDataNode, []*GraphDataEdge, error) {
	header, err := s.GetHeader(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	nodes, err := s.loadNodes(ctx, s.db, id)
	if err != nil {
		return nil, nil, nil, err
	}
	edges, err := s.loadEdges(ctx, s.db, id)
	if err != nil {
		return nil, nil, nil, err
	}
	return header, nodes, edges, nil
}

// ListHeaders returns a project's headers of a given source type, newest
// first — used by the Dataset and Graph(computed) list facade operations.
func (s *Store) ListHeaders(ctx context.Context, projectID uuid.UUID, sourceType SourceType) ([]*GraphData, error) {
	rows, err := s.db.QueryContext(ctx, queryListHeadersForProject, projectID, sourceType)
	if err != nil {
		return nil, fmt.Errorf("list headers: %w", err)
	}
	defer rows.Close()
	var headers []*GraphData
	for rows.Next() {
		h, err := scanHeader(rows)
		if err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	return headers, rows.Err()
}

// UpdateDatasetMeta renames a dataset header and/or replaces its metadata,
// without touching its rows.
func (s *Store) UpdateDatasetMeta(ctx context.Context, id uuid.UUID, name string, metadata []byte) error {
	res, err := s.db.ExecContext(ctx, queryUpdateDatasetMeta, id, name, metadata)
	if err != nil {
		return fmt.Errorf("update dataset meta: %w", err)
	}
	return requireRowsAffected(res, "graph_data", id.String())
}

// ReplaceDatasetBlob swaps a dataset header's stored source file, used by
// ImportDatasetSpreadsheet to keep the imported spreadsheet as the source.
func (s *Store) ReplaceDatasetBlob(ctx context.Context, id uuid.UUID, filename string, data []byte) error {
	res, err := s.db.ExecContext(ctx, queryReplaceDatasetBlob, id, filename, int64(len(data)), data)
	if err != nil {
		return fmt.Errorf("replace dataset blob: %w", err)
	}
	return requireRowsAffected(res, "graph_data", id.String())
}

// ClearPendingEdits resets has_pending_edits to false, either because a
// replay caught the log fully up or because a caller explicitly discarded
// pending edits (§4.C).
func (s *Store) ClearPendingEdits(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, queryClearPendingEdits, id)
	if err != nil {
		return fmt.Errorf("clear pending edits: %w", err)
	}
	return requireRowsAffected(res, "graph_data", id.String())
}

func requireRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return newNotFoundError(entity, id)
	}
	return nil
}

func scanHeader(scanner interface{ Scan(dest ...any) error }) (*GraphData, error) {
	var g GraphData
	var dagNodeID, sourceHash, fileFormat, origin, filename, errMsg sql.NullString
	var computedDate, lastReplayAt sql.NullTime
	var fileSize sql.NullInt64

	err := scanner.Scan(
		&g.ID, &g.ProjectID, &g.Name, &g.SourceType, &dagNodeID, &g.Status,
		&sourceHash, &computedDate, &g.NodeCount, &g.EdgeCount,
		&g.LastEditSequence, &g.HasPendingEdits, &lastReplayAt,
		&fileFormat, &origin, &filename, &fileSize, &g.Blob, &g.Metadata,
		&g.Annotations, &errMsg, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if dagNodeID.Valid {
		g.DagNodeID = &dagNodeID.String
	}
	if sourceHash.Valid {
		g.SourceHash = &sourceHash.String
	}
	if computedDate.Valid {
		g.ComputedDate = &computedDate.Time
	}
	if lastReplayAt.Valid {
		g.LastReplayAt = &lastReplayAt.Time
	}
	if fileFormat.Valid {
		g.FileFormat = &fileFormat.String
	}
	if origin.Valid {
		g.Origin = &origin.String
	}
	if filename.Valid {
		g.Filename = &filename.String
	}
	if fileSize.Valid {
		g.FileSize = &fileSize.Int64
	}
	if errMsg.Valid {
		g.ErrorMessage = &errMsg.String
	}
	return &g, nil
}
