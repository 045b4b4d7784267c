package layercake

import (
	"context"

	"github.com/google/uuid"
)

// --- Graph (computed) operations (§6 "Graph (computed)") ---

// ListComputedGraphs returns every computed GraphData header for a project
// (§6 `list_by_project`).
func (s *Service) ListComputedGraphs(ctx context.Context, actor Actor, projectID uuid.UUID) ([]*GraphData, error) {
	if err := s.authorize(actor, projectID, actionProjectRead); err != nil {
		return nil, err
	}
	return s.Graphs.ListHeaders(ctx, projectID, SourceTypeComputed)
}

// UpdateGraphNodeMetadata records a node.update(field="attributes") edit
// against a computed graph rather than writing graph_data_nodes directly —
// every mutation to a computed graph's content flows through the edit log
// so a later recompute can 3-way merge it (§4.C, §6 `update_node`).
func (s *Service) UpdateGraphNodeMetadata(ctx context.Context, actor Actor, projectID, graphID uuid.UUID, externalID string, oldMetadata, newMetadata []byte) (*GraphEdit, error) {
	field := "attributes"
	return s.AppendEdit(ctx, actor, projectID, graphID, EditSpec{
		TargetType: EditTargetNode,
		TargetID:   externalID,
		Operation:  EditOpUpdate,
		Field:      &field,
		OldValue:   oldMetadata,
		NewValue:   newMetadata,
	})
}

// NodeMetadataUpdate is one entry of a BulkUpdateGraph nodes[] batch.
type NodeMetadataUpdate struct {
	ExternalID  string
	OldMetadata []byte
	NewMetadata []byte
}

// BulkUpdateGraph appends one edit per node update and upserts each palette
// layer, in the order given (§6 `bulk_update(nodes[], layers[])`). A
// failure partway through leaves the earlier edits/layers committed,
// matching the edit log's append-only, no-rollback semantics.
func (s *Service) BulkUpdateGraph(ctx context.Context, actor Actor, projectID, graphID uuid.UUID, nodes []NodeMetadataUpdate, layers []*ProjectLayer) ([]*GraphEdit, error) {
	edits := make([]*GraphEdit, 0, len(nodes))
	for _, n := range nodes {
		edit, err := s.UpdateGraphNodeMetadata(ctx, actor, projectID, graphID, n.ExternalID, n.OldMetadata, n.NewMetadata)
		if err != nil {
			return edits, err
		}
		edits = append(edits, edit)
	}
	for _, l := range layers {
		if err := s.UpsertPaletteLayer(ctx, actor, projectID, l); err != nil {
			return edits, err
		}
	}
	return edits, nil
}

// PreviewExportGraph renders a computed graph's current content through the
// configured GraphRenderer without persisting anything (§6 `preview_export`).
// maxRows truncates the node/edge lists before rendering when positive.
func (s *Service) PreviewExportGraph(ctx context.Context, actor Actor, projectID, graphID uuid.UUID, format string, renderConfig []byte, maxRows int) ([]byte, error) {
	header, nodes, edges, err := s.Graphs.LoadFull(ctx, graphID)
	if err != nil {
		return nil, err
	}
	if header.ProjectID != projectID || header.SourceType != SourceTypeComputed {
		return nil, newNotFoundError("graph_data", graphID.String())
	}
	if err := s.authorize(actor, projectID, actionProjectRead); err != nil {
		return nil, err
	}
	renderer, err := s.requireRenderer()
	if err != nil {
		return nil, err
	}
	if maxRows > 0 {
		if len(nodes) > maxRows {
			nodes = nodes[:maxRows]
		}
		if len(edges) > maxRows {
			edges = edges[:maxRows]
		}
	}
	return renderer.Render(ctx, format, nodes, edges, renderConfig)
}
