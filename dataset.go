package layercake

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// --- Dataset operations (§6 "Dataset (GraphData with source_type=dataset)") ---

// ListDatasets returns every dataset header belonging to a project.
func (s *Service) ListDatasets(ctx context.Context, actor Actor, projectID uuid.UUID) ([]*GraphData, error) {
	if err := s.authorize(actor, projectID, actionProjectRead); err != nil {
		return nil, err
	}
	return s.Graphs.ListHeaders(ctx, projectID, SourceTypeDataset)
}

// GetDataset loads one dataset header plus its rows.
func (s *Service) GetDataset(ctx context.Context, actor Actor, projectID, datasetID uuid.UUID) (*GraphData, []*GraphDataNode, []*GraphDataEdge, error) {
	if err := s.authorize(actor, projectID, actionProjectRead); err != nil {
		return nil, nil, nil, err
	}
	header, nodes, edges, err := s.Graphs.LoadFull(ctx, datasetID)
	if err != nil {
		return nil, nil, nil, err
	}
	if header.ProjectID != projectID || header.SourceType != SourceTypeDataset {
		return nil, nil, nil, newNotFoundError("graph_data", datasetID.String())
	}
	return header, nodes, edges, nil
}

// CreateDatasetFromFile parses an uploaded file through the configured
// DatasetParser and persists the resulting rows under a brand new header.
func (s *Service) CreateDatasetFromFile(ctx context.Context, actor Actor, projectID uuid.UUID, name, format string, data []byte) (*GraphData, error) {
	if err := s.authorize(actor, projectID, actionDatasetWrite); err != nil {
		return nil, err
	}
	parser, err := s.requireParser()
	if err != nil {
		return nil, err
	}
	nodes, edges, err := parser.Parse(ctx, format, data)
	if err != nil {
		return nil, newValidationError("dataset_file", err.Error())
	}
	header, err := s.Graphs.CreateHeader(ctx, HeaderSpec{
		ProjectID:  projectID,
		Name:       name,
		SourceType: SourceTypeDataset,
		Status:     StatusActive,
		FileFormat: &format,
		Blob:       data,
	})
	if err != nil {
		return nil, err
	}
	if err := s.Graphs.ReplaceNodes(ctx, header.ID, nodes); err != nil {
		return nil, err
	}
	if err := s.Graphs.ReplaceEdges(ctx, header.ID, edges, ReplaceEdgesOptions{}); err != nil {
		return nil, err
	}
	return s.Graphs.GetHeader(ctx, header.ID)
}

// CreateEmptyDataset creates a dataset header with zero rows, for a caller
// that will populate it node-by-node via graph edits.
func (s *Service) CreateEmptyDataset(ctx context.Context, actor Actor, projectID uuid.UUID, name string) (*GraphData, error) {
	if err := s.authorize(actor, projectID, actionDatasetWrite); err != nil {
		return nil, err
	}
	return s.Graphs.CreateHeader(ctx, HeaderSpec{ProjectID: projectID, Name: name, SourceType: SourceTypeDataset, Status: StatusActive})
}

// DatasetFileUpload is one file in a BulkUploadDatasets call.
type DatasetFileUpload struct {
	Name   string
	Format string
	Data   []byte
}

// BulkUploadDatasets parses and creates one dataset per upload, stopping at
// the first failure. Datasets created before the failure are not rolled
// back; they are returned together with the error.
func (s *Service) BulkUploadDatasets(ctx context.Context, actor Actor, projectID uuid.UUID, uploads []DatasetFileUpload) ([]*GraphData, error) {
	if err := s.authorize(actor, projectID, actionDatasetWrite); err != nil {
		return nil, err
	}
	headers := make([]*GraphData, 0, len(uploads))
	for _, u := range uploads {
		h, err := s.CreateDatasetFromFile(ctx, actor, projectID, u.Name, u.Format, u.Data)
		if err != nil {
			return headers, err
		}
		headers = append(headers, h)
	}
	return headers, nil
}

// UpdateDataset renames a dataset header and replaces its metadata. The
// header's id, rows and stored source file are left unchanged; this call
// does not accept a new file.
func (s *Service) UpdateDataset(ctx context.Context, actor Actor, projectID, datasetID uuid.UUID, name string, metadata []byte) error {
	header, _, _, err := s.GetDataset(ctx, actor, projectID, datasetID)
	if err != nil {
		return err
	}
	if err := s.authorize(actor, projectID, actionDatasetWrite); err != nil {
		return err
	}
	return s.Graphs.UpdateDatasetMeta(ctx, header.ID, name, metadata)
}

// UpdateDatasetGraphJSON replaces a dataset's rows directly from a caller-
// supplied node/edge payload, bypassing the DatasetParser (§6
// `update_graph_json`) — used when the client already has structured graph
// content rather than a raw file.
func (s *Service) UpdateDatasetGraphJSON(ctx context.Context, actor Actor, projectID, datasetID uuid.UUID, nodes []*GraphDataNode, edges []*GraphDataEdge) error {
	header, _, _, err := s.GetDataset(ctx, actor, projectID, datasetID)
	if err != nil {
		return err
	}
	if err := s.authorize(actor, projectID, actionDatasetWrite); err != nil {
		return err
	}
	if err := s.Graphs.ReplaceNodes(ctx, header.ID, nodes); err != nil {
		return err
	}
	return s.Graphs.ReplaceEdges(ctx, header.ID, edges, ReplaceEdgesOptions{})
}

// deleteGraphData clears a header's edit log and deletes it, the first of
// the two cases §4.C reserves clear() for: forgetting edits when the
// header they target is destroyed.
func (s *Service) deleteGraphData(ctx context.Context, id uuid.UUID) error {
	if err := s.Edits.Clear(ctx, id); err != nil {
		return err
	}
	return s.Graphs.Delete(ctx, id)
}

// DeleteDataset removes a dataset header, its rows, and its edit log.
func (s *Service) DeleteDataset(ctx context.Context, actor Actor, projectID, datasetID uuid.UUID) error {
	header, _, _, err := s.GetDataset(ctx, actor, projectID, datasetID)
	if err != nil {
		return err
	}
	if err := s.authorize(actor, projectID, actionDatasetWrite); err != nil {
		return err
	}
	return s.deleteGraphData(ctx, header.ID)
}

// ReprocessDataset re-parses a dataset's stored source file. Per §7's local
// recovery rule, a parse failure marks the dataset error and keeps its
// prior rows untouched rather than clearing them.
func (s *Service) ReprocessDataset(ctx context.Context, actor Actor, projectID, datasetID uuid.UUID) (*GraphData, error) {
	header, _, _, err := s.GetDataset(ctx, actor, projectID, datasetID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, projectID, actionDatasetWrite); err != nil {
		return nil, err
	}
	if header.FileFormat == nil || len(header.Blob) == 0 {
		return nil, newValidationError("dataset", "no source file to reprocess")
	}
	parser, err := s.requireParser()
	if err != nil {
		return nil, err
	}
	nodes, edges, err := parser.Parse(ctx, *header.FileFormat, header.Blob)
	if err != nil {
		msg := err.Error()
		if statusErr := s.Graphs.UpdateStatus(ctx, header.ID, StatusError, &msg); statusErr != nil {
			return nil, statusErr
		}
		return nil, newValidationError("dataset_file", msg)
	}
	if err := s.Graphs.ReplaceNodes(ctx, header.ID, nodes); err != nil {
		return nil, err
	}
	if err := s.Graphs.ReplaceEdges(ctx, header.ID, edges, ReplaceEdgesOptions{}); err != nil {
		return nil, err
	}
	if err := s.Graphs.UpdateStatus(ctx, header.ID, StatusActive, nil); err != nil {
		return nil, err
	}
	return s.Graphs.GetHeader(ctx, header.ID)
}

// DatasetValidationReport summarizes structural integrity problems a
// dataset's current rows would hit if replayed through ReplaceNodes/
// ReplaceEdges: duplicate external ids and edges referencing unknown nodes.
type DatasetValidationReport struct {
	DuplicateNodeIDs []string
	DanglingEdgeIDs  []string
	Valid            bool
}

// ValidateDataset checks a dataset's rows for the invariants §4.A enforces
// at write time, without mutating anything.
func (s *Service) ValidateDataset(ctx context.Context, actor Actor, projectID, datasetID uuid.UUID) (*DatasetValidationReport, error) {
	_, nodes, edges, err := s.GetDataset(ctx, actor, projectID, datasetID)
	if err != nil {
		return nil, err
	}
	report := &DatasetValidationReport{}
	seen := make(map[string]bool, len(nodes))
	nodeIDs := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n.ExternalID] {
			report.DuplicateNodeIDs = append(report.DuplicateNodeIDs, n.ExternalID)
		}
		seen[n.ExternalID] = true
		nodeIDs[n.ExternalID] = true
	}
	for _, e := range edges {
		if !nodeIDs[e.Source] || !nodeIDs[e.Target] {
			report.DanglingEdgeIDs = append(report.DanglingEdgeIDs, e.ExternalID)
		}
	}
	report.Valid = len(report.DuplicateNodeIDs) == 0 && len(report.DanglingEdgeIDs) == 0
	return report, nil
}

// MergeDatasets combines two or more datasets into a brand new dataset
// header, reusing the Merge node builder directly rather than duplicating
// its union/intersection/difference/conflict-resolution logic.
func (s *Service) MergeDatasets(ctx context.Context, actor Actor, projectID uuid.UUID, name string, datasetIDs []uuid.UUID, strategy MergeStrategy, conflict ConflictResolution) (*GraphData, error) {
	if err := s.authorize(actor, projectID, actionDatasetWrite); err != nil {
		return nil, err
	}
	if len(datasetIDs) < 2 {
		return nil, newValidationError("dataset_ids", "merge requires at least two datasets")
	}
	upstreams := make([]*LoadedGraph, 0, len(datasetIDs))
	for _, id := range datasetIDs {
		header, nodes, edges, err := s.GetDataset(ctx, actor, projectID, id)
		if err != nil {
			return nil, err
		}
		upstreams = append(upstreams, &LoadedGraph{Header: header, Nodes: nodes, Edges: edges})
	}

	cfg, err := marshalMergeConfig(strategy, conflict)
	if err != nil {
		return nil, err
	}
	out, err := (mergeBuilder{}).Build(ctx, BuildInput{
		Node:      &PlanDagNode{ID: "merge:" + name, NodeType: NodeTypeMerge, Config: cfg},
		Upstreams: upstreams,
		Palette:   s.Palette,
		ProjectID: projectID,
	})
	if err != nil {
		return nil, err
	}

	header, err := s.Graphs.CreateHeader(ctx, HeaderSpec{ProjectID: projectID, Name: name, SourceType: SourceTypeDataset, Status: StatusActive})
	if err != nil {
		return nil, err
	}
	if err := s.Graphs.ReplaceNodes(ctx, header.ID, out.Nodes); err != nil {
		return nil, err
	}
	if err := s.Graphs.ReplaceEdges(ctx, header.ID, out.Edges, ReplaceEdgesOptions{}); err != nil {
		return nil, err
	}
	return s.Graphs.GetHeader(ctx, header.ID)
}

// ExportDatasetsSpreadsheet encodes a dataset's current rows as a
// spreadsheet via the configured SpreadsheetCodec.
func (s *Service) ExportDatasetsSpreadsheet(ctx context.Context, actor Actor, projectID, datasetID uuid.UUID) ([]byte, error) {
	_, nodes, edges, err := s.GetDataset(ctx, actor, projectID, datasetID)
	if err != nil {
		return nil, err
	}
	codec, err := s.requireSpreadsheetCodec()
	if err != nil {
		return nil, err
	}
	return codec.Encode(ctx, nodes, edges)
}

// ImportDatasetSpreadsheet decodes a spreadsheet via the configured
// SpreadsheetCodec and replaces a dataset's rows with the result.
func (s *Service) ImportDatasetSpreadsheet(ctx context.Context, actor Actor, projectID, datasetID uuid.UUID, data []byte) error {
	header, _, _, err := s.GetDataset(ctx, actor, projectID, datasetID)
	if err != nil {
		return err
	}
	if err := s.authorize(actor, projectID, actionDatasetWrite); err != nil {
		return err
	}
	codec, err := s.requireSpreadsheetCodec()
	if err != nil {
		return err
	}
	nodes, edges, err := codec.Decode(ctx, data)
	if err != nil {
		return newValidationError("spreadsheet", err.Error())
	}
	if err := s.Graphs.ReplaceNodes(ctx, header.ID, nodes); err != nil {
		return err
	}
	if err := s.Graphs.ReplaceEdges(ctx, header.ID, edges, ReplaceEdgesOptions{}); err != nil {
		return err
	}
	if err := s.Graphs.ReplaceDatasetBlob(ctx, header.ID, header.Name+".xlsx", data); err != nil {
		return err
	}
	return nil
}

func marshalMergeConfig(strategy MergeStrategy, conflict ConflictResolution) ([]byte, error) {
	return json.Marshal(mergeConfig{Strategy: strategy, ConflictResolution: conflict})
}
