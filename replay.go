package layercake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ReplayOutcome is the per-edit result of a replay pass.
type ReplayOutcome string

const (
	OutcomeApplied ReplayOutcome = "applied"
	OutcomeSkipped ReplayOutcome = "skipped"
	OutcomeFailed  ReplayOutcome = "failed"
)

// ReplayDetail reports what happened to one edit.
type ReplayDetail struct {
	EditID  uuid.UUID
	Outcome ReplayOutcome
	Reason  string
}

// ReplaySummary is the Edit Replayer's report (§4.F).
type ReplaySummary struct {
	Total   int
	Applied int
	Skipped int
	Failed  int
	Details []ReplayDetail
}

// Replayer is the Edit Replayer (§4.F): it reapplies a graph's pending edit
// log against freshly computed content, using a 3-way merge per target so
// edits made against stale content are neither silently lost nor silently
// reapplied when they're already reflected.
type Replayer struct {
	store   *Store
	editLog *EditLog
}

func NewReplayer(store *Store, editLog *EditLog) *Replayer {
	return &Replayer{store: store, editLog: editLog}
}

// Replay loads every unapplied edit for graphID in ascending sequence
// order and applies the algorithm from §4.F. Replaying twice in a row on
// an unchanged graph yields an all-skipped summary (idempotence).
func (r *Replayer) Replay(ctx context.Context, graphID uuid.UUID) (*ReplaySummary, error) {
	edits, err := r.editLog.List(ctx, graphID, true)
	if err != nil {
		return nil, err
	}

	_, nodes, edges, err := r.store.LoadFull(ctx, graphID)
	if err != nil {
		return nil, err
	}
	nodeByID := make(map[string]*GraphDataNode, len(nodes))
	for _, n := range nodes {
		nodeByID[n.ExternalID] = n
	}
	edgeByID := make(map[string]*GraphDataEdge, len(edges))
	for _, e := range edges {
		edgeByID[e.ExternalID] = e
	}

	summary := &ReplaySummary{Total: len(edits)}
	// failedTargets tracks (target_type, target_id) pairs with a conflict
	// so further edits to the same target stop being applied, per §4.F.
	failedTargets := make(map[string]bool)

	for _, ed := range edits {
		key := string(ed.TargetType) + ":" + ed.TargetID
		if failedTargets[key] {
			summary.Failed++
			summary.Details = append(summary.Details, ReplayDetail{EditID: ed.ID, Outcome: OutcomeFailed, Reason: "blocked_by_prior_conflict"})
			continue
		}

		outcome, reason, err := r.applyEdit(ctx, graphID, ed, nodeByID, edgeByID)
		if err != nil {
			return nil, err
		}
		switch outcome {
		case OutcomeApplied:
			summary.Applied++
		case OutcomeSkipped:
			summary.Skipped++
		case OutcomeFailed:
			summary.Failed++
			failedTargets[key] = true
		}
		summary.Details = append(summary.Details, ReplayDetail{EditID: ed.ID, Outcome: outcome, Reason: reason})

		if outcome != OutcomeFailed {
			if err := r.editLog.MarkApplied(ctx, ed.ID); err != nil {
				return nil, err
			}
		}
	}

	if summary.Applied+summary.Skipped == summary.Total && summary.Failed == 0 {
		if err := r.store.UpdateStatus(ctx, graphID, StatusActive, nil); err != nil {
			return nil, err
		}
		if err := r.store.ClearPendingEdits(ctx, graphID); err != nil {
			return nil, err
		}
	}

	if err := r.persistMutations(ctx, graphID, nodeByID, edgeByID); err != nil {
		return nil, err
	}

	return summary, nil
}

func (r *Replayer) applyEdit(ctx context.Context, graphID uuid.UUID, ed *GraphEdit, nodeByID map[string]*GraphDataNode, edgeByID map[string]*GraphDataEdge) (ReplayOutcome, string, error) {
	switch ed.TargetType {
	case EditTargetNode:
		return applyNodeEdit(ed, nodeByID, edgeByID)
	case EditTargetEdge:
		return applyEdgeEdit(ed, edgeByID)
	case EditTargetLayer:
		return applyLayerEdit(ed, nodeByID, edgeByID)
	default:
		return OutcomeFailed, "unknown_target_type", nil
	}
}

func applyNodeEdit(ed *GraphEdit, nodeByID map[string]*GraphDataNode, edgeByID map[string]*GraphDataEdge) (ReplayOutcome, string, error) {
	switch ed.Operation {
	case EditOpInsert:
		if _, exists := nodeByID[ed.TargetID]; exists {
			return OutcomeSkipped, "already_exists", nil
		}
		var n GraphDataNode
		if err := json.Unmarshal(ed.NewValue, &n); err != nil {
			return OutcomeFailed, "invalid_new_value", nil
		}
		n.ExternalID = ed.TargetID
		nodeByID[ed.TargetID] = &n
		return OutcomeApplied, "", nil

	case EditOpUpdate:
		n, exists := nodeByID[ed.TargetID]
		if !exists {
			return OutcomeFailed, "target_missing", nil
		}
		if ed.Field == nil {
			return OutcomeFailed, "missing_field", nil
		}
		return threeWayMergeField(n, *ed.Field, ed.OldValue, ed.NewValue)

	case EditOpDelete:
		if _, exists := nodeByID[ed.TargetID]; !exists {
			return OutcomeSkipped, "already_absent", nil
		}
		delete(nodeByID, ed.TargetID)
		for id, e := range edgeByID {
			if e.Source == ed.TargetID || e.Target == ed.TargetID {
				delete(edgeByID, id)
			}
		}
		return OutcomeApplied, "", nil

	default:
		return OutcomeFailed, "unknown_operation", nil
	}
}

func applyEdgeEdit(ed *GraphEdit, edgeByID map[string]*GraphDataEdge) (ReplayOutcome, string, error) {
	switch ed.Operation {
	case EditOpInsert:
		if _, exists := edgeByID[ed.TargetID]; exists {
			return OutcomeSkipped, "already_exists", nil
		}
		var e GraphDataEdge
		if err := json.Unmarshal(ed.NewValue, &e); err != nil {
			return OutcomeFailed, "invalid_new_value", nil
		}
		e.ExternalID = ed.TargetID
		edgeByID[ed.TargetID] = &e
		return OutcomeApplied, "", nil

	case EditOpUpdate:
		e, exists := edgeByID[ed.TargetID]
		if !exists {
			return OutcomeFailed, "target_missing", nil
		}
		if ed.Field == nil {
			return OutcomeFailed, "missing_field", nil
		}
		return threeWayMergeEdgeField(e, *ed.Field, ed.OldValue, ed.NewValue)

	case EditOpDelete:
		if _, exists := edgeByID[ed.TargetID]; !exists {
			return OutcomeSkipped, "already_absent", nil
		}
		delete(edgeByID, ed.TargetID)
		return OutcomeApplied, "", nil

	default:
		return OutcomeFailed, "unknown_operation", nil
	}
}

// applyLayerEdit handles layer re-assignment edits, which mutate a node's
// or edge's layer field addressed by the same target_id namespace as a
// node/edge update. TargetID is looked up as a node external id first and
// as an edge external id second; no prefix is parsed, so a node and an edge
// sharing an external id resolve to the node.
func applyLayerEdit(ed *GraphEdit, nodeByID map[string]*GraphDataNode, edgeByID map[string]*GraphDataEdge) (ReplayOutcome, string, error) {
	if n, ok := nodeByID[ed.TargetID]; ok {
		return threeWayMergeField(n, "layer", ed.OldValue, ed.NewValue)
	}
	if e, ok := edgeByID[ed.TargetID]; ok {
		return threeWayMergeEdgeField(e, "layer", ed.OldValue, ed.NewValue)
	}
	return OutcomeFailed, "target_missing", nil
}

// threeWayMergeField implements §4.F's update rule for a single node
// field: current==new -> skipped, current==old -> applied, else conflict.
func threeWayMergeField(n *GraphDataNode, field string, oldValue, newValue json.RawMessage) (ReplayOutcome, string, error) {
	current, err := getNodeField(n, field)
	if err != nil {
		return OutcomeFailed, err.Error(), nil
	}
	if jsonEqual(current, newValue) {
		return OutcomeSkipped, "already_applied", nil
	}
	if jsonEqual(current, oldValue) {
		if err := setNodeField(n, field, newValue); err != nil {
			return OutcomeFailed, err.Error(), nil
		}
		return OutcomeApplied, "", nil
	}
	return OutcomeFailed, "conflict", nil
}

func threeWayMergeEdgeField(e *GraphDataEdge, field string, oldValue, newValue json.RawMessage) (ReplayOutcome, string, error) {
	current, err := getEdgeField(e, field)
	if err != nil {
		return OutcomeFailed, err.Error(), nil
	}
	if jsonEqual(current, newValue) {
		return OutcomeSkipped, "already_applied", nil
	}
	if jsonEqual(current, oldValue) {
		if err := setEdgeField(e, field, newValue); err != nil {
			return OutcomeFailed, err.Error(), nil
		}
		return OutcomeApplied, "", nil
	}
	return OutcomeFailed, "conflict", nil
}

func jsonEqual(a, b json.RawMessage) bool {
	var av, bv any
	if len(a) == 0 {
		av = nil
	} else if err := json.Unmarshal(a, &av); err != nil {
		return bytes.Equal(a, b)
	}
	if len(b) == 0 {
		bv = nil
	} else if err := json.Unmarshal(b, &bv); err != nil {
		return bytes.Equal(a, b)
	}
	ca, _ := json.Marshal(av)
	cb, _ := json.Marshal(bv)
	return bytes.Equal(ca, cb)
}

func getNodeField(n *GraphDataNode, field string) (json.RawMessage, error) {
	switch field {
	case "label":
		return json.Marshal(n.Label)
	case "layer":
		return json.Marshal(n.Layer)
	case "weight":
		return json.Marshal(n.Weight)
	case "comment":
		return json.Marshal(n.Comment)
	case "belongs_to":
		return json.Marshal(n.BelongsTo)
	case "attributes":
		return n.Attributes, nil
	default:
		return nil, fmt.Errorf("unknown_node_field:%s", field)
	}
}

func setNodeField(n *GraphDataNode, field string, value json.RawMessage) error {
	switch field {
	case "label":
		return json.Unmarshal(value, &n.Label)
	case "layer":
		return json.Unmarshal(value, &n.Layer)
	case "weight":
		return json.Unmarshal(value, &n.Weight)
	case "comment":
		return json.Unmarshal(value, &n.Comment)
	case "belongs_to":
		return json.Unmarshal(value, &n.BelongsTo)
	case "attributes":
		n.Attributes = value
		return nil
	default:
		return fmt.Errorf("unknown_node_field:%s", field)
	}
}

func getEdgeField(e *GraphDataEdge, field string) (json.RawMessage, error) {
	switch field {
	case "label":
		return json.Marshal(e.Label)
	case "layer":
		return json.Marshal(e.Layer)
	case "weight":
		return json.Marshal(e.Weight)
	case "comment":
		return json.Marshal(e.Comment)
	case "attributes":
		return e.Attributes, nil
	default:
		return nil, fmt.Errorf("unknown_edge_field:%s", field)
	}
}

func setEdgeField(e *GraphDataEdge, field string, value json.RawMessage) error {
	switch field {
	case "label":
		return json.Unmarshal(value, &e.Label)
	case "layer":
		return json.Unmarshal(value, &e.Layer)
	case "weight":
		return json.Unmarshal(value, &e.Weight)
	case "comment":
		return json.Unmarshal(value, &e.Comment)
	case "attributes":
		e.Attributes = value
		return nil
	default:
		return fmt.Errorf("unknown_edge_field:%s", field)
	}
}

// persistMutations writes the in-memory post-replay node/edge maps back
// through the Graph Data Store's bulk replace, so a single Replay call
// leaves storage consistent with the merge decisions made above.
func (r *Replayer) persistMutations(ctx context.Context, graphID uuid.UUID, nodeByID map[string]*GraphDataNode, edgeByID map[string]*GraphDataEdge) error {
	nodes := make([]*GraphDataNode, 0, len(nodeByID))
	for _, n := range nodeByID {
		nodes = append(nodes, n)
	}
	edges := make([]*GraphDataEdge, 0, len(edgeByID))
	for _, e := range edgeByID {
		edges = append(edges, e)
	}
	if err := r.store.ReplaceNodes(ctx, graphID, nodes); err != nil {
		return err
	}
	return r.store.ReplaceEdges(ctx, graphID, edges, ReplaceEdgesOptions{AllowDangling: true})
}
