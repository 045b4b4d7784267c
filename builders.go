package layercake

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// noopBuilder backs Story and SequenceArtefact nodes, which are
// non-computational: the executor invokes their builder only to run
// validation hooks (§4.G), never to produce graph content.
type noopBuilder struct{}

func (noopBuilder) Build(ctx context.Context, in BuildInput) (*BuildOutput, error) {
	return &BuildOutput{}, nil
}

// --- DataSet -----------------------------------------------------------

type dataSetConfig struct {
	DataSetID string `json:"dataSetId"`
}

// dataSetBuilder copies a referenced dataset's rows verbatim, stamping
// source_dataset_id on every row for downstream provenance tracking.
type dataSetBuilder struct{}

func (dataSetBuilder) Build(ctx context.Context, in BuildInput) (*BuildOutput, error) {
	var cfg dataSetConfig
	if err := json.Unmarshal(in.Node.Config, &cfg); err != nil {
		return nil, newValidationError("node_config", "invalid DataSet config: "+err.Error())
	}
	if len(in.Upstreams) == 0 {
		return nil, newExecutionFailedError(in.Node.ID, "DataSet node has no upstream dataset loaded")
	}
	src := in.Upstreams[0]
	return &BuildOutput{
		Nodes: stampNodeProvenance(copyNodes(src.Nodes), src.Header.ID),
		Edges: stampEdgeProvenance(copyEdges(src.Edges), src.Header.ID),
	}, nil
}

// --- Graph ---------------------------------------------------------------

type graphConfig struct {
	GraphDataIDs []string `json:"graphDataIds"`
}

// graphBuilder unions the referenced datasets' content, preserving each
// row's source_dataset_id.
type graphBuilder struct{}

func (graphBuilder) Build(ctx context.Context, in BuildInput) (*BuildOutput, error) {
	out := &BuildOutput{}
	for _, up := range in.Upstreams {
		out.Nodes = append(out.Nodes, stampNodeProvenance(copyNodes(up.Nodes), up.Header.ID)...)
		out.Edges = append(out.Edges, stampEdgeProvenance(copyEdges(up.Edges), up.Header.ID)...)
	}
	return out, nil
}

// --- Merge -----------------------------------------------------------------

type mergeConfig struct {
	Strategy           MergeStrategy      `json:"strategy"`
	ConflictResolution ConflictResolution `json:"conflictResolution"`
}

// mergeBuilder combines ≥1 upstream graphs per strategy × conflictResolution
// (§4.E.1). Nodes/edges are keyed by (source_dataset_id, external_id) when
// a source_dataset_id is present, else by external_id alone.
type mergeBuilder struct{}

func (mergeBuilder) Build(ctx context.Context, in BuildInput) (*BuildOutput, error) {
	var cfg mergeConfig
	if err := json.Unmarshal(in.Node.Config, &cfg); err != nil {
		return nil, newValidationError("node_config", "invalid Merge config: "+err.Error())
	}
	if len(in.Upstreams) == 0 {
		return nil, newExecutionFailedError(in.Node.ID, "Merge node has no upstream graphs")
	}

	nodeSets := make([]map[string]*GraphDataNode, len(in.Upstreams))
	edgeSets := make([]map[string]*GraphDataEdge, len(in.Upstreams))
	for i, up := range in.Upstreams {
		nodeSets[i] = keyedNodes(up.Nodes)
		edgeSets[i] = keyedEdges(up.Edges)
	}

	var keys []string
	switch cfg.Strategy {
	case MergeUnion:
		keys = unionKeys(nodeSets)
	case MergeIntersection:
		keys = intersectionKeys(nodeSets)
	case MergeDifference:
		keys = differenceKeys(nodeSets)
	default:
		return nil, newValidationError("merge_strategy", string(cfg.Strategy))
	}

	mergedNodes := make(map[string]*GraphDataNode, len(keys))
	for _, k := range keys {
		var candidates []*GraphDataNode
		for _, set := range nodeSets {
			if n, ok := set[k]; ok {
				candidates = append(candidates, n)
			}
		}
		if len(candidates) == 0 {
			continue
		}
		chosen, err := resolveNodeConflict(candidates, cfg.ConflictResolution)
		if err != nil {
			return nil, err
		}
		mergedNodes[k] = chosen
	}

	// Edge keys follow the resulting node set: an edge survives the merge
	// only if both endpoints survived, mirroring dropIncident semantics.
	survivingNodeIDs := make(map[string]bool, len(mergedNodes))
	for _, n := range mergedNodes {
		survivingNodeIDs[n.ExternalID] = true
	}

	edgeKeySet := map[string]bool{}
	switch cfg.Strategy {
	case MergeUnion:
		for _, ek := range unionKeys(edgeSets) {
			edgeKeySet[ek] = true
		}
	case MergeIntersection:
		for _, ek := range intersectionKeys(edgeSets) {
			edgeKeySet[ek] = true
		}
	case MergeDifference:
		for _, ek := range differenceKeys(edgeSets) {
			edgeKeySet[ek] = true
		}
	}

	mergedEdges := make(map[string]*GraphDataEdge, len(edgeKeySet))
	for k := range edgeKeySet {
		var candidates []*GraphDataEdge
		for _, set := range edgeSets {
			if e, ok := set[k]; ok {
				candidates = append(candidates, e)
			}
		}
		if len(candidates) == 0 {
			continue
		}
		chosen, err := resolveEdgeConflict(candidates, cfg.ConflictResolution)
		if err != nil {
			return nil, err
		}
		if !survivingNodeIDs[chosen.Source] || !survivingNodeIDs[chosen.Target] {
			continue
		}
		mergedEdges[k] = chosen
	}

	return &BuildOutput{Nodes: sortedNodeValues(mergedNodes), Edges: sortedEdgeValues(mergedEdges)}, nil
}

func resolveNodeConflict(candidates []*GraphDataNode, res ConflictResolution) (*GraphDataNode, error) {
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	switch res {
	case ConflictPreferFirst:
		return candidates[0], nil
	case ConflictPreferLast:
		return candidates[len(candidates)-1], nil
	case ConflictError:
		return nil, newConflictError("graph_data_node", candidates[0].ExternalID)
	default:
		return candidates[0], nil
	}
}

func resolveEdgeConflict(candidates []*GraphDataEdge, res ConflictResolution) (*GraphDataEdge, error) {
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	switch res {
	case ConflictPreferFirst:
		return candidates[0], nil
	case ConflictPreferLast:
		return candidates[len(candidates)-1], nil
	case ConflictError:
		return nil, newConflictError("graph_data_edge", candidates[0].ExternalID)
	default:
		return candidates[0], nil
	}
}

// --- Transform ---------------------------------------------------------

type transformConfig struct {
	Transforms []transformStep `json:"transforms"`
}

type transformStep struct {
	Type string          `json:"type"`
	Args json.RawMessage `json:"args"`
}

// transformBuilder applies an ordered list of deterministic, total
// transform steps to the single upstream graph.
type transformBuilder struct{}

func (transformBuilder) Build(ctx context.Context, in BuildInput) (*BuildOutput, error) {
	var cfg transformConfig
	if err := json.Unmarshal(in.Node.Config, &cfg); err != nil {
		return nil, newValidationError("node_config", "invalid Transform config: "+err.Error())
	}
	if len(in.Upstreams) != 1 {
		return nil, newExecutionFailedError(in.Node.ID, "Transform node requires exactly one upstream")
	}

	nodes := copyNodes(in.Upstreams[0].Nodes)
	edges := copyEdges(in.Upstreams[0].Edges)

	for _, step := range cfg.Transforms {
		var err error
		switch step.Type {
		case "AggregateEdges":
			edges = aggregateEdges(edges)
		case "RelabelLayers":
			nodes, edges, err = relabelLayers(nodes, edges, step.Args)
		case "NormalizeWeights":
			normalizeWeights(nodes, edges)
		default:
			return nil, newValidationError("transform_type", step.Type)
		}
		if err != nil {
			return nil, err
		}
	}

	return &BuildOutput{Nodes: nodes, Edges: edges}, nil
}

// aggregateEdges collapses parallel edges sharing (source, target, layer)
// into one, summing weights.
func aggregateEdges(edges []*GraphDataEdge) []*GraphDataEdge {
	type key struct{ source, target, layer string }
	groups := make(map[key]*GraphDataEdge)
	var order []key

	for _, e := range edges {
		layer := ""
		if e.Layer != nil {
			layer = *e.Layer
		}
		k := key{e.Source, e.Target, layer}
		if existing, ok := groups[k]; ok {
			w := 0.0
			if existing.Weight != nil {
				w += *existing.Weight
			}
			if e.Weight != nil {
				w += *e.Weight
			}
			existing.Weight = &w
			continue
		}
		clone := *e
		if e.Weight != nil {
			w := *e.Weight
			clone.Weight = &w
		}
		groups[k] = &clone
		order = append(order, k)
	}

	out := make([]*GraphDataEdge, 0, len(order))
	for _, k := range order {
		out = append(out, groups[k])
	}
	return out
}

type relabelArgs struct {
	Mapping map[string]string `json:"mapping"`
}

// relabelLayers rewrites node/edge layer ids per a static old->new mapping.
func relabelLayers(nodes []*GraphDataNode, edges []*GraphDataEdge, raw json.RawMessage) ([]*GraphDataNode, []*GraphDataEdge, error) {
	var args relabelArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, nil, newValidationError("transform_args", "invalid RelabelLayers args: "+err.Error())
	}
	for _, n := range nodes {
		if n.Layer != nil {
			if to, ok := args.Mapping[*n.Layer]; ok {
				n.Layer = &to
			}
		}
	}
	for _, e := range edges {
		if e.Layer != nil {
			if to, ok := args.Mapping[*e.Layer]; ok {
				e.Layer = &to
			}
		}
	}
	return nodes, edges, nil
}

// normalizeWeights rescales node and edge weights independently into [0,1].
func normalizeWeights(nodes []*GraphDataNode, edges []*GraphDataEdge) {
	nMin, nMax := minMaxNodeWeight(nodes)
	for _, n := range nodes {
		if n.Weight != nil {
			w := normalize(*n.Weight, nMin, nMax)
			n.Weight = &w
		}
	}
	eMin, eMax := minMaxEdgeWeight(edges)
	for _, e := range edges {
		if e.Weight != nil {
			w := normalize(*e.Weight, eMin, eMax)
			e.Weight = &w
		}
	}
}

func normalize(v, lo, hi float64) float64 {
	if hi <= lo {
		return 1
	}
	return (v - lo) / (hi - lo)
}

func minMaxNodeWeight(nodes []*GraphDataNode) (float64, float64) {
	min, max := 0.0, 0.0
	first := true
	for _, n := range nodes {
		if n.Weight == nil {
			continue
		}
		if first || *n.Weight < min {
			min = *n.Weight
		}
		if first || *n.Weight > max {
			max = *n.Weight
		}
		first = false
	}
	return min, max
}

func minMaxEdgeWeight(edges []*GraphDataEdge) (float64, float64) {
	min, max := 0.0, 0.0
	first := true
	for _, e := range edges {
		if e.Weight == nil {
			continue
		}
		if first || *e.Weight < min {
			min = *e.Weight
		}
		if first || *e.Weight > max {
			max = *e.Weight
		}
		first = false
	}
	return min, max
}

// --- Filter ------------------------------------------------------------

type filterConfig struct {
	Combinator      FilterCombinator `json:"combinator"`
	Mode            FilterMode       `json:"mode"`
	LinkPruningMode LinkPruningMode  `json:"linkPruningMode"`
	Rules           []filterRule     `json:"rules"`
}

type filterRule struct {
	Field    string `json:"field"`
	Operator string `json:"operator"` // eq, ne, contains
	Value    string `json:"value"`
}

// filterBuilder keeps or drops nodes (and consequently edges) matching a
// rule group, per §4.E.1's combinator/mode/linkPruningMode semantics.
type filterBuilder struct{}

func (filterBuilder) Build(ctx context.Context, in BuildInput) (*BuildOutput, error) {
	var cfg filterConfig
	if err := json.Unmarshal(in.Node.Config, &cfg); err != nil {
		return nil, newValidationError("node_config", "invalid Filter config: "+err.Error())
	}
	if len(in.Upstreams) != 1 {
		return nil, newExecutionFailedError(in.Node.ID, "Filter node requires exactly one upstream")
	}

	nodes := copyNodes(in.Upstreams[0].Nodes)
	edges := copyEdges(in.Upstreams[0].Edges)

	var kept []*GraphDataNode
	removed := make(map[string]bool)
	for _, n := range nodes {
		matched := evaluateRuleGroup(cfg.Rules, cfg.Combinator, nodeFieldValue(n))
		keep := matched
		if cfg.Mode == FilterExclude {
			keep = !matched
		}
		if keep {
			kept = append(kept, n)
		} else {
			removed[n.ExternalID] = true
		}
	}

	var keptEdges []*GraphDataEdge
	for _, e := range edges {
		srcGone, tgtGone := removed[e.Source], removed[e.Target]
		switch cfg.LinkPruningMode {
		case LinkDropIncident:
			if srcGone || tgtGone {
				continue
			}
		case LinkDropOrphans:
			if srcGone && tgtGone {
				continue
			}
		case LinkRetainEdges:
			// edges referencing removed nodes are retained as-is
		}
		keptEdges = append(keptEdges, e)
	}

	return &BuildOutput{Nodes: kept, Edges: keptEdges}, nil
}

func nodeFieldValue(n *GraphDataNode) func(field string) (string, bool) {
	return func(field string) (string, bool) {
		switch field {
		case "external_id":
			return n.ExternalID, true
		case "label":
			if n.Label != nil {
				return *n.Label, true
			}
		case "layer":
			if n.Layer != nil {
				return *n.Layer, true
			}
		case "belongs_to":
			if n.BelongsTo != nil {
				return *n.BelongsTo, true
			}
		}
		return "", false
	}
}

func evaluateRuleGroup(rules []filterRule, combinator FilterCombinator, fieldOf func(string) (string, bool)) bool {
	if len(rules) == 0 {
		return true
	}
	results := make([]bool, len(rules))
	for i, r := range rules {
		results[i] = evaluateRule(r, fieldOf)
	}
	if combinator == CombinatorOr {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

func evaluateRule(r filterRule, fieldOf func(string) (string, bool)) bool {
	v, ok := fieldOf(r.Field)
	switch r.Operator {
	case "eq":
		return ok && v == r.Value
	case "ne":
		return !ok || v != r.Value
	case "contains":
		return ok && len(r.Value) > 0 && containsSubstring(v, r.Value)
	default:
		return false
	}
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// --- GraphArtefact / TreeArtefact / Projection --------------------------

// graphArtefactBuilder passes its single upstream's content through
// unchanged; the node's purpose is to record, via metadata, that
// downstream exporters should consume the upstream graph by id.
type graphArtefactBuilder struct{}

func (graphArtefactBuilder) Build(ctx context.Context, in BuildInput) (*BuildOutput, error) {
	if len(in.Upstreams) != 1 {
		return nil, newExecutionFailedError(in.Node.ID, "GraphArtefact node requires exactly one upstream")
	}
	up := in.Upstreams[0]
	return &BuildOutput{
		Nodes:    copyNodes(up.Nodes),
		Edges:    copyEdges(up.Edges),
		Metadata: map[string]any{"artefact_source_graph_id": up.Header.ID.String()},
	}, nil
}

// treeArtefactBuilder computes a hierarchical projection via belongs_to
// and records the computed depth per node in metadata; node/edge content
// otherwise passes through unchanged.
type treeArtefactBuilder struct{}

func (treeArtefactBuilder) Build(ctx context.Context, in BuildInput) (*BuildOutput, error) {
	if len(in.Upstreams) != 1 {
		return nil, newExecutionFailedError(in.Node.ID, "TreeArtefact node requires exactly one upstream")
	}
	up := in.Upstreams[0]
	nodes := copyNodes(up.Nodes)
	depths := computeDepths(nodes)
	return &BuildOutput{
		Nodes:    nodes,
		Edges:    copyEdges(up.Edges),
		Metadata: map[string]any{"depths": depths},
	}, nil
}

func computeDepths(nodes []*GraphDataNode) map[string]int {
	byID := make(map[string]*GraphDataNode, len(nodes))
	for _, n := range nodes {
		byID[n.ExternalID] = n
	}
	depth := make(map[string]int, len(nodes))
	var resolve func(id string, seen map[string]bool) int
	resolve = func(id string, seen map[string]bool) int {
		if d, ok := depth[id]; ok {
			return d
		}
		n, ok := byID[id]
		if !ok || n.BelongsTo == nil || seen[id] {
			depth[id] = 0
			return 0
		}
		seen[id] = true
		d := 1 + resolve(*n.BelongsTo, seen)
		depth[id] = d
		return d
	}
	for _, n := range nodes {
		resolve(n.ExternalID, map[string]bool{})
	}
	return depth
}

type projectionConfig struct {
	Name           string          `json:"name"`
	ProjectionType string          `json:"projectionType"`
	SettingsJSON   json.RawMessage `json:"settingsJson"`
}

// projectionBuilder passes the upstream's content through unchanged and
// records the Projection row fields in BuildOutput.Metadata. It does not
// write a Projection row, and no other code in this package creates or
// updates one from this metadata.
type projectionBuilder struct{}

func (projectionBuilder) Build(ctx context.Context, in BuildInput) (*BuildOutput, error) {
	var cfg projectionConfig
	if err := json.Unmarshal(in.Node.Config, &cfg); err != nil {
		return nil, newValidationError("node_config", "invalid Projection config: "+err.Error())
	}
	if len(in.Upstreams) != 1 {
		return nil, newExecutionFailedError(in.Node.ID, "Projection node requires exactly one upstream")
	}
	up := in.Upstreams[0]
	return &BuildOutput{
		Nodes: copyNodes(up.Nodes),
		Edges: copyEdges(up.Edges),
		Metadata: map[string]any{
			"projection_name":      cfg.Name,
			"projection_type":      cfg.ProjectionType,
			"projection_settings":  json.RawMessage(cfg.SettingsJSON),
			"upstream_graph_id":    up.Header.ID.String(),
		},
	}, nil
}

// --- shared helpers ------------------------------------------------------

func copyNodes(src []*GraphDataNode) []*GraphDataNode {
	out := make([]*GraphDataNode, len(src))
	for i, n := range src {
		clone := *n
		out[i] = &clone
	}
	return out
}

func copyEdges(src []*GraphDataEdge) []*GraphDataEdge {
	out := make([]*GraphDataEdge, len(src))
	for i, e := range src {
		clone := *e
		out[i] = &clone
	}
	return out
}

func stampNodeProvenance(nodes []*GraphDataNode, sourceID uuid.UUID) []*GraphDataNode {
	for _, n := range nodes {
		id := sourceID
		n.SourceDatasetID = &id
	}
	return nodes
}

func stampEdgeProvenance(edges []*GraphDataEdge, sourceID uuid.UUID) []*GraphDataEdge {
	for _, e := range edges {
		id := sourceID
		e.SourceDatasetID = &id
	}
	return edges
}

func nodeKey(n *GraphDataNode) string {
	if n.SourceDatasetID != nil {
		return fmt.Sprintf("%s/%s", n.SourceDatasetID, n.ExternalID)
	}
	return n.ExternalID
}

func edgeKey(e *GraphDataEdge) string {
	if e.SourceDatasetID != nil {
		return fmt.Sprintf("%s/%s", e.SourceDatasetID, e.ExternalID)
	}
	return e.ExternalID
}

func keyedNodes(nodes []*GraphDataNode) map[string]*GraphDataNode {
	m := make(map[string]*GraphDataNode, len(nodes))
	for _, n := range nodes {
		m[nodeKey(n)] = n
	}
	return m
}

func keyedEdges(edges []*GraphDataEdge) map[string]*GraphDataEdge {
	m := make(map[string]*GraphDataEdge, len(edges))
	for _, e := range edges {
		m[edgeKey(e)] = e
	}
	return m
}

func unionKeys[V any](sets []map[string]V) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, set := range sets {
		for k := range set {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func intersectionKeys[V any](sets []map[string]V) []string {
	if len(sets) == 0 {
		return nil
	}
	var keys []string
	for k := range sets[0] {
		inAll := true
		for _, set := range sets[1:] {
			if _, ok := set[k]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func differenceKeys[V any](sets []map[string]V) []string {
	if len(sets) == 0 {
		return nil
	}
	var keys []string
	for k := range sets[0] {
		inRest := false
		for _, set := range sets[1:] {
			if _, ok := set[k]; ok {
				inRest = true
				break
			}
		}
		if !inRest {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func sortedNodeValues(m map[string]*GraphDataNode) []*GraphDataNode {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*GraphDataNode, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func sortedEdgeValues(m map[string]*GraphDataEdge) []*GraphDataEdge {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*GraphDataEdge, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}
