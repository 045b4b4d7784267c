package layercake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Service is the Core Service Facade (§4.J): the single entry point that
// wraps every component (A-I) and enforces Actor-based authorization
// before any mutation reaches storage. Nothing outside this file should
// construct ProjectStore/Store/Executor/etc. directly in a transport
// handler — callers hold a *Service.
type Service struct {
	Projects *ProjectStore
	Graphs   *Store
	Palette  *PaletteStore
	Plans    *PlanStore
	Stories  *StoryStore
	Edits    *EditLog
	Archive  *ArchiveCodec
	Sweeper  *Sweeper

	executor *Executor
	replayer *Replayer
	verifier *Verifier
	events   *Broadcaster
	log      *logrus.Logger

	parser       DatasetParser
	spreadsheets SpreadsheetCodec
	renderer     GraphRenderer
}

// NewService wires every store and engine component together. events may
// be nil, in which case execution still runs but nothing is published.
func NewService(projects *ProjectStore, graphs *Store, palette *PaletteStore, plans *PlanStore, stories *StoryStore, edits *EditLog, events *Broadcaster, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	replayer := NewReplayer(graphs, edits)
	return &Service{
		Projects: projects,
		Graphs:   graphs,
		Palette:  palette,
		Plans:    plans,
		Stories:  stories,
		Edits:    edits,
		Archive:  NewArchiveCodec(projects, graphs, palette, plans, stories),
		Sweeper:  NewSweeper(graphs, log),
		executor: NewExecutor(graphs, edits, palette, replayer, events, log, 5*time.Minute),
		replayer: replayer,
		verifier: NewVerifier(graphs, projects),
		events:   events,
		log:      log,
	}
}

// action names used by authorize; kept as constants so a role table can be
// audited without grepping string literals scattered across methods.
const (
	actionProjectRead   = "project:read"
	actionProjectWrite  = "project:write"
	actionProjectDelete = "project:delete"
	actionPlanWrite     = "plan:write"
	actionExecute       = "plan:execute"
	actionGraphEdit     = "graph:edit"
	actionStoryWrite    = "story:write"
	actionDatasetWrite  = "dataset:write"
	actionPaletteWrite  = "palette:write"
)

// roleCanPerform encodes the role -> action table. "viewer" may only read;
// "editor" may write and execute but not delete the project; "owner" may
// do everything including delete.
func roleCanPerform(role, action string) bool {
	switch role {
	case "owner":
		return true
	case "editor":
		return action != actionProjectDelete
	case "viewer":
		return action == actionProjectRead
	default:
		return false
	}
}

// authorize enforces Actor-based access (§4.J): a system actor bypasses
// the check entirely; any other actor must hold a role on the project that
// permits the requested action.
func (s *Service) authorize(actor Actor, projectID uuid.UUID, action string) error {
	if actor.IsSystem() {
		return nil
	}
	role, ok := actor.Roles[projectID]
	if !ok || !roleCanPerform(role, action) {
		return newAuthorizationError(action)
	}
	return nil
}

// --- Project operations ---

// CreateProject has no existing project to scope a role check against;
// any authenticated actor may create one.
func (s *Service) CreateProject(ctx context.Context, actor Actor, proj *Project) error {
	return s.Projects.Create(ctx, proj)
}

// ListProjects returns every project a non-system actor holds any role on;
// a system actor sees all of them.
func (s *Service) ListProjects(ctx context.Context, actor Actor) ([]*Project, error) {
	all, err := s.Projects.List(ctx)
	if err != nil {
		return nil, err
	}
	if actor.IsSystem() {
		return all, nil
	}
	visible := make([]*Project, 0, len(all))
	for _, p := range all {
		if role, ok := actor.Roles[p.ID]; ok && roleCanPerform(role, actionProjectRead) {
			visible = append(visible, p)
		}
	}
	return visible, nil
}

func (s *Service) GetProject(ctx context.Context, actor Actor, id uuid.UUID) (*Project, error) {
	if err := s.authorize(actor, id, actionProjectRead); err != nil {
		return nil, err
	}
	return s.Projects.Get(ctx, id)
}

func (s *Service) UpdateProject(ctx context.Context, actor Actor, proj *Project) error {
	if err := s.authorize(actor, proj.ID, actionProjectWrite); err != nil {
		return err
	}
	return s.Projects.Update(ctx, proj)
}

func (s *Service) DeleteProject(ctx context.Context, actor Actor, id uuid.UUID) error {
	if err := s.authorize(actor, id, actionProjectDelete); err != nil {
		return err
	}
	return s.Projects.Delete(ctx, id)
}

// ExportProject serializes a project to archive bytes (§4.I).
func (s *Service) ExportProject(ctx context.Context, actor Actor, id uuid.UUID) ([]byte, error) {
	if err := s.authorize(actor, id, actionProjectRead); err != nil {
		return nil, err
	}
	return s.Archive.Export(ctx, id)
}

// ImportProject creates a brand new project from archive bytes. There is
// no existing project to authorize against, so it takes no Actor and runs
// no authorization check — the new project's ownership is assigned by the
// caller afterward via its own role table, which this facade does not own.
func (s *Service) ImportProject(ctx context.Context, data []byte) (uuid.UUID, error) {
	return s.Archive.Import(ctx, data)
}

// --- Plan DAG operations ---

// LoadPlanDAG returns a plan's nodes, edges and topological DAG.
func (s *Service) LoadPlanDAG(ctx context.Context, actor Actor, projectID, planID uuid.UUID) (*DAG, []*PlanDagNode, []*PlanDagEdge, error) {
	if err := s.authorize(actor, projectID, actionProjectRead); err != nil {
		return nil, nil, nil, err
	}
	return s.Plans.LoadDAG(ctx, planID)
}

// CreatePlan inserts a plan, parsing any seed YAML content into DAG nodes
// and edges (§4.J external interface "load" accepts either form).
func (s *Service) CreatePlan(ctx context.Context, actor Actor, plan *Plan) error {
	if err := s.authorize(actor, plan.ProjectID, actionPlanWrite); err != nil {
		return err
	}
	if err := s.Plans.CreatePlan(ctx, plan); err != nil {
		return err
	}
	nodes, edges, err := ParsePlanYAML(plan.YAMLContent)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		n.PlanID = plan.ID
		if err := s.Plans.UpsertNode(ctx, n); err != nil {
			return err
		}
	}
	for _, e := range edges {
		e.PlanID = plan.ID
		if err := s.Plans.UpsertEdge(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// CreateDagNode validates acyclicity is untouched (a bare node addition
// never introduces a cycle), upserts it, then resyncs the plan's YAML
// mirror.
func (s *Service) CreateDagNode(ctx context.Context, actor Actor, projectID uuid.UUID, n *PlanDagNode) error {
	if err := s.authorize(actor, projectID, actionPlanWrite); err != nil {
		return err
	}
	if err := s.Plans.UpsertNode(ctx, n); err != nil {
		return err
	}
	return s.resyncPlanYAML(ctx, n.PlanID)
}

// UpdateDagNode overwrites a node's config/position and, if its source
// hash dependency surface changed, the caller should follow up with
// ExecuteAffectedNodes to invalidate downstream nodes (§4.E invalidation
// cascade) — this method only persists the row.
func (s *Service) UpdateDagNode(ctx context.Context, actor Actor, projectID uuid.UUID, n *PlanDagNode) error {
	if err := s.authorize(actor, projectID, actionPlanWrite); err != nil {
		return err
	}
	if err := s.Plans.UpsertNode(ctx, n); err != nil {
		return err
	}
	return s.resyncPlanYAML(ctx, n.PlanID)
}

// MoveNode repositions a single node without touching its config or hash.
func (s *Service) MoveNode(ctx context.Context, actor Actor, projectID uuid.UUID, n *PlanDagNode) error {
	return s.UpdateDagNode(ctx, actor, projectID, n)
}

// BatchMoveNodes repositions many nodes in one call; position changes
// never affect source hashes, so no invalidation follows.
func (s *Service) BatchMoveNodes(ctx context.Context, actor Actor, projectID uuid.UUID, nodes []*PlanDagNode) error {
	if err := s.authorize(actor, projectID, actionPlanWrite); err != nil {
		return err
	}
	var planID uuid.UUID
	for _, n := range nodes {
		if err := s.Plans.UpsertNode(ctx, n); err != nil {
			return err
		}
		planID = n.PlanID
	}
	if len(nodes) == 0 {
		return nil
	}
	return s.resyncPlanYAML(ctx, planID)
}

// DeleteNode removes a node and its incident edges, then resyncs YAML.
func (s *Service) DeleteNode(ctx context.Context, actor Actor, projectID, planID uuid.UUID, nodeID string) error {
	if err := s.authorize(actor, projectID, actionPlanWrite); err != nil {
		return err
	}
	if err := s.Plans.DeleteNode(ctx, planID, nodeID); err != nil {
		return err
	}
	return s.resyncPlanYAML(ctx, planID)
}

// CreateEdge validates the edge would not introduce a cycle before
// persisting it — the store itself does not enforce acyclicity.
func (s *Service) CreateEdge(ctx context.Context, actor Actor, projectID uuid.UUID, e *PlanDagEdge) error {
	if err := s.authorize(actor, projectID, actionPlanWrite); err != nil {
		return err
	}
	_, nodes, edges, err := s.Plans.LoadDAG(ctx, e.PlanID)
	if err != nil {
		return err
	}
	for _, existing := range edges {
		if existing.ID == e.ID {
			continue
		}
		if existing.SourceNodeID == e.SourceNodeID && existing.TargetNodeID == e.TargetNodeID {
			return newValidationError("plan_dag_edge", fmt.Sprintf("multi-edge forbidden between %s and %s", e.SourceNodeID, e.TargetNodeID))
		}
	}
	candidate := BuildDAG(nodes, append(append([]*PlanDagEdge{}, edges...), e))
	if cyc := candidate.DetectCycle(); cyc != nil {
		return newValidationError("plan_dag_edge", fmt.Sprintf("would introduce cycle through %v", cyc))
	}
	if err := s.Plans.UpsertEdge(ctx, e); err != nil {
		return err
	}
	return s.resyncPlanYAML(ctx, e.PlanID)
}

func (s *Service) UpdateEdge(ctx context.Context, actor Actor, projectID uuid.UUID, e *PlanDagEdge) error {
	return s.CreateEdge(ctx, actor, projectID, e)
}

func (s *Service) DeleteEdge(ctx context.Context, actor Actor, projectID, planID uuid.UUID, edgeID string) error {
	if err := s.authorize(actor, projectID, actionPlanWrite); err != nil {
		return err
	}
	if err := s.Plans.DeleteEdge(ctx, planID, edgeID); err != nil {
		return err
	}
	return s.resyncPlanYAML(ctx, planID)
}

func (s *Service) resyncPlanYAML(ctx context.Context, planID uuid.UUID) error {
	plan, err := s.Plans.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	_, nodes, edges, err := s.Plans.LoadDAG(ctx, planID)
	if err != nil {
		return err
	}
	yamlContent, err := SerializePlanYAML(nodes, edges)
	if err != nil {
		return err
	}
	plan.YAMLContent = yamlContent
	return s.Plans.UpdatePlan(ctx, plan)
}

// ListPlans returns every Plan belonging to a project.
func (s *Service) ListPlans(ctx context.Context, actor Actor, projectID uuid.UUID) ([]*Plan, error) {
	if err := s.authorize(actor, projectID, actionProjectRead); err != nil {
		return nil, err
	}
	return s.Plans.ListPlans(ctx, projectID)
}

// UpdatePlan overwrites a Plan's name/status, independent of its DAG content.
func (s *Service) UpdatePlan(ctx context.Context, actor Actor, projectID uuid.UUID, plan *Plan) error {
	if err := s.authorize(actor, projectID, actionPlanWrite); err != nil {
		return err
	}
	return s.Plans.UpdatePlan(ctx, plan)
}

// DeletePlan removes a Plan and, via FK cascade, its DAG nodes and edges.
func (s *Service) DeletePlan(ctx context.Context, actor Actor, projectID, planID uuid.UUID) error {
	if err := s.authorize(actor, projectID, actionPlanWrite); err != nil {
		return err
	}
	return s.Plans.DeletePlan(ctx, planID)
}

// DuplicatePlan clones a plan's DAG under a new name. plan_dag_nodes.id and
// plan_dag_edges.id are global primary keys (not scoped per-plan), so the
// clone allocates fresh ids for every node and edge rather than reusing the
// source plan's.
func (s *Service) DuplicatePlan(ctx context.Context, actor Actor, projectID, planID uuid.UUID, newName string) (*Plan, error) {
	if err := s.authorize(actor, projectID, actionPlanWrite); err != nil {
		return nil, err
	}
	src, err := s.Plans.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if src.ProjectID != projectID {
		return nil, newNotFoundError("plan", planID.String())
	}
	_, nodes, edges, err := s.Plans.LoadDAG(ctx, planID)
	if err != nil {
		return nil, err
	}

	idMap := make(map[string]string, len(nodes))
	for _, n := range nodes {
		idMap[n.ID] = uuid.New().String()
	}

	dup := &Plan{ProjectID: projectID, Name: newName, Status: src.Status}
	if err := s.Plans.CreatePlan(ctx, dup); err != nil {
		return nil, err
	}
	for _, n := range nodes {
		clone := &PlanDagNode{ID: idMap[n.ID], PlanID: dup.ID, NodeType: n.NodeType, Position: n.Position, Metadata: n.Metadata, Config: n.Config}
		if err := s.Plans.UpsertNode(ctx, clone); err != nil {
			return nil, err
		}
	}
	for _, e := range edges {
		clone := &PlanDagEdge{ID: uuid.New().String(), PlanID: dup.ID, SourceNodeID: idMap[e.SourceNodeID], TargetNodeID: idMap[e.TargetNodeID], Metadata: e.Metadata}
		if err := s.Plans.UpsertEdge(ctx, clone); err != nil {
			return nil, err
		}
	}
	if err := s.resyncPlanYAML(ctx, dup.ID); err != nil {
		return nil, err
	}
	return s.Plans.GetPlan(ctx, dup.ID)
}

// ResolveDefaultPlan returns a project's default plan. Plan carries no
// is_default flag, so the earliest-created plan stands in for it —
// ListPlans already orders oldest first.
func (s *Service) ResolveDefaultPlan(ctx context.Context, actor Actor, projectID uuid.UUID) (*Plan, error) {
	plans, err := s.ListPlans(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, newNotFoundError("plan", projectID.String())
	}
	return plans[0], nil
}

// --- Execution operations ---

// ExecutePlan runs every node in topological order (§4.E full execution).
func (s *Service) ExecutePlan(ctx context.Context, actor Actor, projectID, planID uuid.UUID) ([]string, error) {
	if err := s.authorize(actor, projectID, actionExecute); err != nil {
		return nil, err
	}
	dag, _, _, err := s.Plans.LoadDAG(ctx, planID)
	if err != nil {
		return nil, err
	}
	return s.executor.Run(ctx, projectID, dag, ExecuteFull, "")
}

// ExecuteWithDependencies runs target and every transitive ancestor it
// depends on, in topological order.
func (s *Service) ExecuteWithDependencies(ctx context.Context, actor Actor, projectID, planID uuid.UUID, target string) ([]string, error) {
	if err := s.authorize(actor, projectID, actionExecute); err != nil {
		return nil, err
	}
	dag, _, _, err := s.Plans.LoadDAG(ctx, planID)
	if err != nil {
		return nil, err
	}
	return s.executor.Run(ctx, projectID, dag, ExecuteWithDependencies, target)
}

// ExecuteAffectedNodes runs target and every transitive descendant,
// invalidating and recomputing the downstream subgraph after a DAG edit
// (§4.E invalidation cascade).
func (s *Service) ExecuteAffectedNodes(ctx context.Context, actor Actor, projectID, planID uuid.UUID, target string) ([]string, error) {
	if err := s.authorize(actor, projectID, actionExecute); err != nil {
		return nil, err
	}
	dag, _, _, err := s.Plans.LoadDAG(ctx, planID)
	if err != nil {
		return nil, err
	}
	return s.executor.Run(ctx, projectID, dag, ExecuteAffectedNodes, target)
}

// --- Graph / palette operations ---

func (s *Service) LoadGraph(ctx context.Context, actor Actor, projectID, graphID uuid.UUID) (*GraphData, []*GraphDataNode, []*GraphDataEdge, error) {
	if err := s.authorize(actor, projectID, actionProjectRead); err != nil {
		return nil, nil, nil, err
	}
	return s.Graphs.LoadFull(ctx, graphID)
}

// AppendEdit records a node/edge/layer edit and leaves it pending. Replay
// is a distinct operation (ReplayEdits), driven explicitly by a caller or
// by the next execution that touches this graph (§4.E step 7) — appending
// an edit never replays it inline.
func (s *Service) AppendEdit(ctx context.Context, actor Actor, projectID, graphID uuid.UUID, spec EditSpec) (*GraphEdit, error) {
	if err := s.authorize(actor, projectID, actionGraphEdit); err != nil {
		return nil, err
	}
	edit, err := s.Edits.Append(ctx, graphID, spec)
	if err != nil {
		return nil, err
	}
	s.publishEdit(graphID, EditAppended, edit.ID)
	return edit, nil
}

// ReplayEdits drives every unapplied edit for a graph through the 3-way
// merge replayer (§4.F) and records when replay last ran.
func (s *Service) ReplayEdits(ctx context.Context, actor Actor, projectID, graphID uuid.UUID) (*ReplaySummary, error) {
	if err := s.authorize(actor, projectID, actionGraphEdit); err != nil {
		return nil, err
	}
	summary, err := s.replayer.Replay(ctx, graphID)
	if err != nil {
		return nil, err
	}
	if err := s.Graphs.SetLastReplayAt(ctx, graphID, time.Now()); err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.Publish(EditTopic(graphID), Event{Kind: ReplayFinished, Timestamp: time.Now(), Payload: map[string]any{"graph_id": graphID.String()}})
	}
	return summary, nil
}

// DiscardPendingEdits clears a graph's edit log without replaying it,
// the second of the two cases §4.C reserves clear() for: a user explicitly
// discarding pending edits before recomputation (the first case, clearing
// on header destruction, is handled by DeleteDataset/deleteGraphData).
func (s *Service) DiscardPendingEdits(ctx context.Context, actor Actor, projectID, graphID uuid.UUID) error {
	if err := s.authorize(actor, projectID, actionGraphEdit); err != nil {
		return err
	}
	if err := s.Edits.Clear(ctx, graphID); err != nil {
		return err
	}
	return s.Graphs.ClearPendingEdits(ctx, graphID)
}

// AnalyzeGraphConnectivity runs a BFS reachability analysis over a computed
// graph's currently materialized content (§4.K `analyze_connectivity`).
func (s *Service) AnalyzeGraphConnectivity(ctx context.Context, actor Actor, projectID, graphID uuid.UUID, start string, maxDepth int) (*ConnectivityReport, error) {
	if err := s.authorize(actor, projectID, actionProjectRead); err != nil {
		return nil, err
	}
	header, nodes, edges, err := s.Graphs.LoadFull(ctx, graphID)
	if err != nil {
		return nil, err
	}
	if header.ProjectID != projectID {
		return nil, newNotFoundError("graph_data", graphID.String())
	}
	return AnalyzeConnectivity(nodes, edges, start, maxDepth), nil
}

// FindGraphPaths enumerates up to maxPaths simple paths between two nodes
// in a computed graph (§4.K `find_paths`, default max_length 10).
func (s *Service) FindGraphPaths(ctx context.Context, actor Actor, projectID, graphID uuid.UUID, start, end string, maxPaths, maxDepth int) ([][]string, error) {
	if err := s.authorize(actor, projectID, actionProjectRead); err != nil {
		return nil, err
	}
	header, nodes, edges, err := s.Graphs.LoadFull(ctx, graphID)
	if err != nil {
		return nil, err
	}
	if header.ProjectID != projectID {
		return nil, newNotFoundError("graph_data", graphID.String())
	}
	if maxDepth <= 0 {
		maxDepth = 10
	}
	return FindPaths(nodes, edges, start, end, maxPaths, maxDepth), nil
}

func (s *Service) ResolveLayers(ctx context.Context, actor Actor, projectID uuid.UUID, layerIDs []string) (map[string]LayerDisplay, error) {
	if err := s.authorize(actor, projectID, actionProjectRead); err != nil {
		return nil, err
	}
	return s.Palette.ResolveLayers(ctx, projectID, layerIDs)
}

// ListPalette returns every palette entry for a project.
func (s *Service) ListPalette(ctx context.Context, actor Actor, projectID uuid.UUID) ([]*ProjectLayer, error) {
	if err := s.authorize(actor, projectID, actionProjectRead); err != nil {
		return nil, err
	}
	return s.Palette.ListPalette(ctx, projectID)
}

// UpsertPaletteLayer creates or replaces one palette entry.
func (s *Service) UpsertPaletteLayer(ctx context.Context, actor Actor, projectID uuid.UUID, layer *ProjectLayer) error {
	if err := s.authorize(actor, projectID, actionPaletteWrite); err != nil {
		return err
	}
	layer.ProjectID = projectID
	return s.Palette.UpsertLayer(ctx, layer)
}

// DeletePaletteLayer removes one palette entry.
func (s *Service) DeletePaletteLayer(ctx context.Context, actor Actor, projectID uuid.UUID, layerID string) error {
	if err := s.authorize(actor, projectID, actionPaletteWrite); err != nil {
		return err
	}
	return s.Palette.DeleteLayer(ctx, projectID, layerID)
}

// AddLayerAlias redirects a data-side layer id onto an existing palette entry.
func (s *Service) AddLayerAlias(ctx context.Context, actor Actor, projectID uuid.UUID, aliasLayerID string, targetLayerID uuid.UUID) (*LayerAlias, error) {
	if err := s.authorize(actor, projectID, actionPaletteWrite); err != nil {
		return nil, err
	}
	return s.Palette.AddAlias(ctx, projectID, aliasLayerID, targetLayerID)
}

// RemoveLayerAlias deletes an alias.
func (s *Service) RemoveLayerAlias(ctx context.Context, actor Actor, projectID uuid.UUID, aliasLayerID string) error {
	if err := s.authorize(actor, projectID, actionPaletteWrite); err != nil {
		return err
	}
	return s.Palette.RemoveAlias(ctx, projectID, aliasLayerID)
}

// --- Story / sequence operations ---

func (s *Service) CreateStory(ctx context.Context, actor Actor, story *Story) error {
	if err := s.authorize(actor, story.ProjectID, actionStoryWrite); err != nil {
		return err
	}
	return s.Stories.CreateStory(ctx, story)
}

// ListStories returns every Story belonging to a project.
func (s *Service) ListStories(ctx context.Context, actor Actor, projectID uuid.UUID) ([]*Story, error) {
	if err := s.authorize(actor, projectID, actionProjectRead); err != nil {
		return nil, err
	}
	return s.Stories.ListStories(ctx, projectID)
}

// GetStory loads a Story, checking it belongs to the authorized project.
func (s *Service) GetStory(ctx context.Context, actor Actor, projectID, storyID uuid.UUID) (*Story, error) {
	if err := s.authorize(actor, projectID, actionProjectRead); err != nil {
		return nil, err
	}
	story, err := s.Stories.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.ProjectID != projectID {
		return nil, newNotFoundError("story", storyID.String())
	}
	return story, nil
}

// DeleteStory removes a Story and, via FK cascade, its Sequences.
func (s *Service) DeleteStory(ctx context.Context, actor Actor, projectID, storyID uuid.UUID) error {
	if _, err := s.GetStory(ctx, actor, projectID, storyID); err != nil {
		return err
	}
	if err := s.authorize(actor, projectID, actionStoryWrite); err != nil {
		return err
	}
	return s.Stories.DeleteStory(ctx, storyID)
}

// CreateSequence inserts a new Sequence under a Story already verified to
// belong to the authorized project.
func (s *Service) CreateSequence(ctx context.Context, actor Actor, projectID uuid.UUID, seq *Sequence) error {
	if _, err := s.GetStory(ctx, actor, projectID, seq.StoryID); err != nil {
		return err
	}
	if err := s.authorize(actor, projectID, actionStoryWrite); err != nil {
		return err
	}
	return s.Stories.CreateSequence(ctx, seq)
}

// ListSequences returns every Sequence belonging to a Story.
func (s *Service) ListSequences(ctx context.Context, actor Actor, projectID, storyID uuid.UUID) ([]*Sequence, error) {
	if _, err := s.GetStory(ctx, actor, projectID, storyID); err != nil {
		return nil, err
	}
	return s.Stories.ListSequences(ctx, storyID)
}

// UpdateSequence overwrites a Sequence's mutable fields. storyID scopes the
// authorization check; the store itself keys purely by sequence id.
func (s *Service) UpdateSequence(ctx context.Context, actor Actor, projectID, storyID uuid.UUID, seq *Sequence) error {
	if _, err := s.GetStory(ctx, actor, projectID, storyID); err != nil {
		return err
	}
	if err := s.authorize(actor, projectID, actionStoryWrite); err != nil {
		return err
	}
	return s.Stories.UpdateSequence(ctx, seq)
}

// DeleteSequence removes a single Sequence.
func (s *Service) DeleteSequence(ctx context.Context, actor Actor, projectID, storyID, sequenceID uuid.UUID) error {
	if _, err := s.GetStory(ctx, actor, projectID, storyID); err != nil {
		return err
	}
	if err := s.authorize(actor, projectID, actionStoryWrite); err != nil {
		return err
	}
	return s.Stories.DeleteSequence(ctx, sequenceID)
}

// VerifyProjection checks a projection's enabled sequences for edge
// references that no longer exist in the projection's computed graph
// (§4.G).
func (s *Service) VerifyProjection(ctx context.Context, actor Actor, projectID uuid.UUID, projection *Projection, stories []*Story, sequencesByStory map[uuid.UUID][]*Sequence, selections []SequenceSelection) (*VerifyResult, error) {
	if err := s.authorize(actor, projectID, actionProjectRead); err != nil {
		return nil, err
	}
	return s.verifier.Verify(ctx, projection, stories, sequencesByStory, selections)
}

// --- Events ---

// SubscribeDAGEvents returns a live feed of node lifecycle events for a
// plan's executions (§4.H). The returned Subscription must be closed by
// the caller when done.
func (s *Service) SubscribeDAGEvents(projectID, planID uuid.UUID) *Subscription {
	if s.events == nil {
		return nil
	}
	return s.events.Subscribe(DAGTopic(projectID, planID))
}

// SubscribeEditEvents returns a live feed of edit-append/replay events for
// a single graph.
func (s *Service) SubscribeEditEvents(graphID uuid.UUID) *Subscription {
	if s.events == nil {
		return nil
	}
	return s.events.Subscribe(EditTopic(graphID))
}

func (s *Service) publishEdit(graphID uuid.UUID, kind EventKind, editID uuid.UUID) {
	if s.events == nil {
		return
	}
	s.events.Publish(EditTopic(graphID), Event{Kind: kind, Timestamp: time.Now(), Payload: map[string]any{"edit_id": editID.String()}})
}
