package layercake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ExecutionMode selects which subset of a Plan DAG a call to Executor.Run
// processes (§4.E).
type ExecutionMode int

const (
	// ExecuteFull runs every node in topological order.
	ExecuteFull ExecutionMode = iota
	// ExecuteWithDependencies runs only the target node and its transitive
	// upstream ancestors.
	ExecuteWithDependencies
	// ExecuteAffectedNodes runs the changed node plus every descendant.
	ExecuteAffectedNodes
)

// NodeBuilder is the interface every Plan DAG node type implements to turn
// upstream graph content plus its own config into new graph content. A
// builder is a pure function of its inputs: it never touches storage
// (§4.E step 5).
type NodeBuilder interface {
	Build(ctx context.Context, in BuildInput) (*BuildOutput, error)
}

// BuildInput is what the executor hands a NodeBuilder.
type BuildInput struct {
	Node      *PlanDagNode
	Upstreams []*LoadedGraph
	Palette   *PaletteStore
	ProjectID uuid.UUID
}

// LoadedGraph is one upstream's fully materialized content, as produced by
// Store.LoadFull.
type LoadedGraph struct {
	Header *GraphData
	Nodes  []*GraphDataNode
	Edges  []*GraphDataEdge
}

// BuildOutput is a builder's pure result: new graph content plus whatever
// side metadata the node type records (e.g. a Projection row to upsert).
type BuildOutput struct {
	Nodes    []*GraphDataNode
	Edges    []*GraphDataEdge
	Metadata map[string]any
}

// builderRegistry maps a NodeType to the builder that implements it,
// mirroring the teacher's RegisterExecutor/GetExecutor name-keyed registry.
var builderRegistry = map[NodeType]NodeBuilder{
	NodeTypeDataSet:          dataSetBuilder{},
	NodeTypeGraph:            graphBuilder{},
	NodeTypeMerge:            mergeBuilder{},
	NodeTypeTransform:        transformBuilder{},
	NodeTypeFilter:           filterBuilder{},
	NodeTypeGraphArtefact:    graphArtefactBuilder{},
	NodeTypeTreeArtefact:     treeArtefactBuilder{},
	NodeTypeProjection:       projectionBuilder{},
	NodeTypeStory:            noopBuilder{},
	NodeTypeSequenceArtefact: noopBuilder{},
}

// Executor is the DAG Executor (§4.E): it schedules Plan DAG nodes,
// invokes the registered builder for each, and persists results through
// the Graph Data Store, replaying any pending edits before moving on.
type Executor struct {
	store     *Store
	editLog   *EditLog
	palette   *PaletteStore
	replayer  *Replayer
	events    *Broadcaster
	log       *logrus.Logger
	timeout   time.Duration
}

// NewExecutor wires the executor's dependencies. A nil logger falls back
// to logrus's standard logger; a zero timeout falls back to 5 minutes,
// matching Config.NodeExecutionTimeout's documented default.
func NewExecutor(store *Store, editLog *EditLog, palette *PaletteStore, replayer *Replayer, events *Broadcaster, log *logrus.Logger, timeout time.Duration) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Executor{store: store, editLog: editLog, palette: palette, replayer: replayer, events: events, log: log, timeout: timeout}
}

// Run executes a Plan DAG under the given mode, returning the ids run in
// the order they were executed and the first error encountered (if any).
// Per §4.E's partial-failure policy, a failing node's descendants are
// never executed within this call; the caller inspects the returned error
// and decides whether to retry.
func (x *Executor) Run(ctx context.Context, projectID uuid.UUID, dag *DAG, mode ExecutionMode, target string) ([]string, error) {
	order, err := dag.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	var scope map[string]bool
	switch mode {
	case ExecuteFull:
		scope = nil // nil scope == everything
	case ExecuteWithDependencies:
		if _, ok := dag.Nodes[target]; !ok {
			return nil, newNotFoundError("plan_dag_node", target)
		}
		scope = toSet(append(dag.Ancestors(target), target))
	case ExecuteAffectedNodes:
		if _, ok := dag.Nodes[target]; !ok {
			return nil, newNotFoundError("plan_dag_node", target)
		}
		scope = toSet(append(dag.Descendants(target), target))
	default:
		return nil, fmt.Errorf("unknown execution mode %d", mode)
	}

	var ran []string
	for _, nodeID := range order {
		if scope != nil && !scope[nodeID] {
			continue
		}
		if err := x.runNode(ctx, projectID, dag, nodeID); err != nil {
			return ran, fmt.Errorf("node %s: %w", nodeID, err)
		}
		ran = append(ran, nodeID)
	}
	return ran, nil
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// runNode implements the seven-step per-node pipeline from §4.E.
func (x *Executor) runNode(ctx context.Context, projectID uuid.UUID, dag *DAG, nodeID string) error {
	node := dag.Nodes[nodeID]
	nctx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	builder, ok := builderRegistry[node.NodeType]
	if !ok {
		return newExecutionFailedError(nodeID, fmt.Sprintf("no builder registered for node type %s", node.NodeType))
	}

	// Non-computational node types have no upstream-loading or persistence
	// step; their builder runs purely for validation side effects.
	if node.NodeType == NodeTypeStory || node.NodeType == NodeTypeSequenceArtefact {
		_, err := builder.Build(nctx, BuildInput{Node: node, Palette: x.palette, ProjectID: projectID})
		return err
	}

	upstreams, inputHashes, err := x.loadUpstreams(nctx, projectID, dag, node)
	if err != nil {
		return err
	}

	hash, err := ComputeSourceHash(node.NodeType, node.Config, inputHashes)
	if err != nil {
		return err
	}

	existing, err := x.store.GetHeaderByDagNode(nctx, projectID, nodeID)
	if err != nil && !IsKind(err, KindNotFound) {
		return err
	}
	if existing != nil && existing.Status == StatusActive && existing.SourceHash != nil && *existing.SourceHash == hash {
		x.publish(projectID, node.PlanID, NodeSkipped, nodeID)
		return nil
	}

	var header *GraphData
	if existing == nil {
		header, err = x.store.CreateHeader(nctx, HeaderSpec{
			ProjectID:  projectID,
			Name:       string(node.NodeType) + ":" + nodeID,
			SourceType: SourceTypeComputed,
			DagNodeID:  &nodeID,
			Status:     StatusProcessing,
		})
		if err != nil {
			return err
		}
	} else {
		header = existing
		if err := x.store.UpdateStatus(nctx, header.ID, StatusProcessing, nil); err != nil {
			return err
		}
	}
	x.publish(projectID, node.PlanID, NodeStarted, nodeID)

	out, buildErr := builder.Build(nctx, BuildInput{Node: node, Upstreams: upstreams, Palette: x.palette, ProjectID: projectID})
	if buildErr != nil {
		msg := buildErr.Error()
		x.store.UpdateStatus(nctx, header.ID, StatusError, &msg)
		x.publish(projectID, node.PlanID, NodeFailed, nodeID)
		return buildErr
	}

	if err := x.store.ReplaceNodes(nctx, header.ID, out.Nodes); err != nil {
		msg := err.Error()
		x.store.UpdateStatus(nctx, header.ID, StatusError, &msg)
		x.publish(projectID, node.PlanID, NodeFailed, nodeID)
		return err
	}
	if err := x.store.ReplaceEdges(nctx, header.ID, out.Edges, ReplaceEdgesOptions{}); err != nil {
		msg := err.Error()
		x.store.UpdateStatus(nctx, header.ID, StatusError, &msg)
		x.publish(projectID, node.PlanID, NodeFailed, nodeID)
		return err
	}
	if err := x.store.SetSourceHash(nctx, header.ID, hash, time.Now()); err != nil {
		return err
	}
	x.publish(projectID, node.PlanID, NodeCompleted, nodeID)

	pending, err := x.editLog.Count(nctx, header.ID)
	if err != nil {
		return err
	}
	if pending > 0 {
		if _, err := x.replayer.Replay(nctx, header.ID); err != nil {
			return err
		}
		if err := x.store.SetLastReplayAt(nctx, header.ID, time.Now()); err != nil {
			return err
		}
	}

	return nil
}

// loadUpstreams resolves a node's upstream content. DataSet and Graph nodes
// are Plan DAG sources (§4.E's topology has them with zero parents): they
// name their inputs in their own config (config.dataSetId, config.graphDataIds)
// rather than through incoming Plan DAG edges, so they are resolved by
// header id directly. Every other node type takes its upstreams from the
// Plan DAG edges pointing at it, as before.
func (x *Executor) loadUpstreams(ctx context.Context, projectID uuid.UUID, dag *DAG, node *PlanDagNode) ([]*LoadedGraph, []string, error) {
	switch node.NodeType {
	case NodeTypeDataSet, NodeTypeGraph:
		headerIDs, err := configuredDatasetHeaderIDs(node)
		if err != nil {
			return nil, nil, err
		}
		if len(headerIDs) == 0 {
			return nil, nil, newValidationError("node_config", fmt.Sprintf("%s node references no dataset", node.NodeType))
		}
		return x.loadUpstreamsByHeaderID(ctx, projectID, node.ID, headerIDs)
	default:
		return x.loadUpstreamsByDagParents(ctx, projectID, dag, node.ID)
	}
}

// configuredDatasetHeaderIDs extracts the GraphData header ids a DataSet or
// Graph node's config points at.
func configuredDatasetHeaderIDs(node *PlanDagNode) ([]uuid.UUID, error) {
	switch node.NodeType {
	case NodeTypeDataSet:
		var cfg dataSetConfig
		if err := json.Unmarshal(node.Config, &cfg); err != nil {
			return nil, newValidationError("node_config", "invalid DataSet config: "+err.Error())
		}
		if cfg.DataSetID == "" {
			return nil, nil
		}
		id, err := uuid.Parse(cfg.DataSetID)
		if err != nil {
			return nil, newValidationError("node_config.dataSetId", "not a valid id: "+err.Error())
		}
		return []uuid.UUID{id}, nil
	case NodeTypeGraph:
		var cfg graphConfig
		if err := json.Unmarshal(node.Config, &cfg); err != nil {
			return nil, newValidationError("node_config", "invalid Graph config: "+err.Error())
		}
		ids := make([]uuid.UUID, 0, len(cfg.GraphDataIDs))
		for _, raw := range cfg.GraphDataIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, newValidationError("node_config.graphDataIds", "not a valid id: "+err.Error())
			}
			ids = append(ids, id)
		}
		return ids, nil
	default:
		return nil, nil
	}
}

func (x *Executor) loadUpstreamsByHeaderID(ctx context.Context, projectID uuid.UUID, nodeID string, headerIDs []uuid.UUID) ([]*LoadedGraph, []string, error) {
	upstreams := make([]*LoadedGraph, 0, len(headerIDs))
	inputHashes := make([]string, 0, len(headerIDs))
	for _, id := range headerIDs {
		header, nodes, edges, err := x.store.LoadFull(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if header.ProjectID != projectID {
			return nil, nil, newNotFoundError("graph_data", id.String())
		}
		loaded, hash, err := buildLoadedGraph(nodeID, header, nodes, edges)
		if err != nil {
			return nil, nil, err
		}
		upstreams = append(upstreams, loaded)
		if hash != "" {
			inputHashes = append(inputHashes, hash)
		}
	}
	return upstreams, inputHashes, nil
}

func (x *Executor) loadUpstreamsByDagParents(ctx context.Context, projectID uuid.UUID, dag *DAG, nodeID string) ([]*LoadedGraph, []string, error) {
	upstreamIDs := dag.Parents(nodeID)
	upstreams := make([]*LoadedGraph, 0, len(upstreamIDs))
	inputHashes := make([]string, 0, len(upstreamIDs))
	for _, upID := range upstreamIDs {
		header, err := x.store.GetHeaderByDagNode(ctx, projectID, upID)
		if err != nil {
			return nil, nil, err
		}
		_, nodes, edges, err := x.store.LoadFull(ctx, header.ID)
		if err != nil {
			return nil, nil, err
		}
		loaded, hash, err := buildLoadedGraph(nodeID, header, nodes, edges)
		if err != nil {
			return nil, nil, err
		}
		upstreams = append(upstreams, loaded)
		if hash != "" {
			inputHashes = append(inputHashes, hash)
		}
	}
	return upstreams, inputHashes, nil
}

// buildLoadedGraph wraps an upstream's content and derives its input hash.
// Dataset headers never persist a source_hash (§3.1 reserves that for
// computed rows), so their content is hashed fresh on every resolution via
// ComputeDatasetContentHash; computed headers reuse their persisted hash.
func buildLoadedGraph(nodeID string, header *GraphData, nodes []*GraphDataNode, edges []*GraphDataEdge) (*LoadedGraph, string, error) {
	if header.Status == StatusError || header.Status == StatusProcessing {
		return nil, "", newExecutionFailedError(nodeID, "upstream_not_ready")
	}
	loaded := &LoadedGraph{Header: header, Nodes: nodes, Edges: edges}
	if header.SourceType == SourceTypeDataset {
		hash, err := ComputeDatasetContentHash(nodes, edges)
		if err != nil {
			return nil, "", err
		}
		return loaded, hash, nil
	}
	if header.SourceHash != nil {
		return loaded, *header.SourceHash, nil
	}
	return loaded, "", nil
}

func (x *Executor) publish(projectID uuid.UUID, planID uuid.UUID, kind EventKind, nodeID string) {
	if x.events == nil {
		return
	}
	x.events.Publish(DAGTopic(projectID, planID), Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   map[string]any{"node_id": nodeID},
	})
}
