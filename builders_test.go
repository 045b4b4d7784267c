package layercake

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func strp(s string) *string { return &s }
func f64p(f float64) *float64 { return &f }

func node(externalID string, weight *float64) *GraphDataNode {
	return &GraphDataNode{ExternalID: externalID, Weight: weight}
}

func edge(externalID, src, tgt string, layer *string) *GraphDataEdge {
	return &GraphDataEdge{ExternalID: externalID, Source: src, Target: tgt, Layer: layer}
}

func loadedGraph(nodes []*GraphDataNode, edges []*GraphDataEdge) *LoadedGraph {
	return &LoadedGraph{Header: &GraphData{ID: uuid.New()}, Nodes: nodes, Edges: edges}
}

func TestMergeBuilderUnion(t *testing.T) {
	a := loadedGraph([]*GraphDataNode{node("n1", nil), node("n2", nil)}, []*GraphDataEdge{edge("e1", "n1", "n2", nil)})
	b := loadedGraph([]*GraphDataNode{node("n2", nil), node("n3", nil)}, nil)

	cfg, _ := json.Marshal(mergeConfig{Strategy: MergeUnion, ConflictResolution: ConflictPreferFirst})
	in := BuildInput{Node: &PlanDagNode{ID: "merge1", Config: cfg}, Upstreams: []*LoadedGraph{a, b}}

	out, err := (mergeBuilder{}).Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(out.Nodes) != 3 {
		t.Fatalf("expected 3 nodes in union, got %d", len(out.Nodes))
	}
}

func TestMergeBuilderIntersection(t *testing.T) {
	a := loadedGraph([]*GraphDataNode{node("n1", nil), node("n2", nil)}, nil)
	b := loadedGraph([]*GraphDataNode{node("n2", nil), node("n3", nil)}, nil)

	cfg, _ := json.Marshal(mergeConfig{Strategy: MergeIntersection, ConflictResolution: ConflictPreferFirst})
	in := BuildInput{Node: &PlanDagNode{ID: "merge1", Config: cfg}, Upstreams: []*LoadedGraph{a, b}}

	out, err := (mergeBuilder{}).Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(out.Nodes) != 1 || out.Nodes[0].ExternalID != "n2" {
		t.Fatalf("expected intersection {n2}, got %+v", out.Nodes)
	}
}

func TestMergeBuilderConflictError(t *testing.T) {
	a := loadedGraph([]*GraphDataNode{node("n1", nil)}, nil)
	b := loadedGraph([]*GraphDataNode{node("n1", nil)}, nil)

	cfg, _ := json.Marshal(mergeConfig{Strategy: MergeUnion, ConflictResolution: ConflictError})
	in := BuildInput{Node: &PlanDagNode{ID: "merge1", Config: cfg}, Upstreams: []*LoadedGraph{a, b}}

	_, err := (mergeBuilder{}).Build(context.Background(), in)
	if err == nil {
		t.Fatal("expected conflict error when the same key appears in two upstreams with ConflictError")
	}
	if !IsKind(err, KindConflict) {
		t.Fatalf("expected conflict kind, got %v", err)
	}
}

func TestMergeBuilderEdgeDroppedWhenEndpointMissing(t *testing.T) {
	// Difference of a and b over nodes leaves only n1 (since n2 is in both);
	// the edge n1->n2 must be dropped because n2 did not survive.
	a := loadedGraph([]*GraphDataNode{node("n1", nil), node("n2", nil)}, []*GraphDataEdge{edge("e1", "n1", "n2", nil)})
	b := loadedGraph([]*GraphDataNode{node("n2", nil)}, nil)

	cfg, _ := json.Marshal(mergeConfig{Strategy: MergeDifference, ConflictResolution: ConflictPreferFirst})
	in := BuildInput{Node: &PlanDagNode{ID: "merge1", Config: cfg}, Upstreams: []*LoadedGraph{a, b}}

	out, err := (mergeBuilder{}).Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(out.Nodes) != 1 || out.Nodes[0].ExternalID != "n1" {
		t.Fatalf("expected difference {n1}, got %+v", out.Nodes)
	}
	if len(out.Edges) != 0 {
		t.Fatalf("expected the n1->n2 edge to be dropped, got %+v", out.Edges)
	}
}

func TestFilterBuilderIncludeDropIncident(t *testing.T) {
	nodes := []*GraphDataNode{
		{ExternalID: "keep", Label: strp("keep-me")},
		{ExternalID: "drop", Label: strp("drop-me")},
	}
	edges := []*GraphDataEdge{
		{ExternalID: "e1", Source: "keep", Target: "drop"},
	}
	cfg, _ := json.Marshal(filterConfig{
		Combinator:      CombinatorAnd,
		Mode:            FilterInclude,
		LinkPruningMode: LinkDropIncident,
		Rules:           []filterRule{{Field: "label", Operator: "contains", Value: "keep"}},
	})
	in := BuildInput{Node: &PlanDagNode{ID: "f1", Config: cfg}, Upstreams: []*LoadedGraph{loadedGraph(nodes, edges)}}

	out, err := (filterBuilder{}).Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(out.Nodes) != 1 || out.Nodes[0].ExternalID != "keep" {
		t.Fatalf("expected only 'keep' node, got %+v", out.Nodes)
	}
	if len(out.Edges) != 0 {
		t.Fatalf("expected incident edge dropped, got %+v", out.Edges)
	}
}

func TestFilterBuilderRetainEdges(t *testing.T) {
	nodes := []*GraphDataNode{
		{ExternalID: "keep", Label: strp("keep-me")},
		{ExternalID: "drop", Label: strp("drop-me")},
	}
	edges := []*GraphDataEdge{{ExternalID: "e1", Source: "keep", Target: "drop"}}
	cfg, _ := json.Marshal(filterConfig{
		Combinator:      CombinatorAnd,
		Mode:            FilterInclude,
		LinkPruningMode: LinkRetainEdges,
		Rules:           []filterRule{{Field: "label", Operator: "contains", Value: "keep"}},
	})
	in := BuildInput{Node: &PlanDagNode{ID: "f1", Config: cfg}, Upstreams: []*LoadedGraph{loadedGraph(nodes, edges)}}

	out, err := (filterBuilder{}).Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(out.Edges) != 1 {
		t.Fatalf("expected retainEdges to keep the edge despite a removed endpoint, got %+v", out.Edges)
	}
}

func TestTransformBuilderAggregateEdgesAndNormalize(t *testing.T) {
	layer := "l1"
	nodes := []*GraphDataNode{node("n1", f64p(10)), node("n2", f64p(30))}
	edges := []*GraphDataEdge{
		edge("e1", "n1", "n2", &layer),
		{ExternalID: "e2", Source: "n1", Target: "n2", Layer: &layer, Weight: f64p(2)},
	}
	edges[0].Weight = f64p(1)

	cfg, _ := json.Marshal(transformConfig{Transforms: []transformStep{
		{Type: "AggregateEdges"},
		{Type: "NormalizeWeights"},
	}})
	in := BuildInput{Node: &PlanDagNode{ID: "t1", Config: cfg}, Upstreams: []*LoadedGraph{loadedGraph(nodes, edges)}}

	out, err := (transformBuilder{}).Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(out.Edges) != 1 {
		t.Fatalf("expected parallel edges aggregated into one, got %d", len(out.Edges))
	}
	if *out.Edges[0].Weight != 1.0 {
		t.Fatalf("expected a single remaining edge to normalize to 1.0, got %v", *out.Edges[0].Weight)
	}
	if *out.Nodes[0].Weight != 0.0 || *out.Nodes[1].Weight != 1.0 {
		t.Fatalf("expected node weights normalized to [0,1], got %v and %v", *out.Nodes[0].Weight, *out.Nodes[1].Weight)
	}
}

func TestTransformBuilderRelabelLayers(t *testing.T) {
	oldLayer := "old"
	nodes := []*GraphDataNode{{ExternalID: "n1", Layer: &oldLayer}}
	args, _ := json.Marshal(relabelArgs{Mapping: map[string]string{"old": "new"}})
	cfg, _ := json.Marshal(transformConfig{Transforms: []transformStep{{Type: "RelabelLayers", Args: args}}})
	in := BuildInput{Node: &PlanDagNode{ID: "t1", Config: cfg}, Upstreams: []*LoadedGraph{loadedGraph(nodes, nil)}}

	out, err := (transformBuilder{}).Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if out.Nodes[0].Layer == nil || *out.Nodes[0].Layer != "new" {
		t.Fatalf("expected layer relabeled to 'new', got %+v", out.Nodes[0].Layer)
	}
}

func TestTreeArtefactBuilderComputeDepths(t *testing.T) {
	root := "root"
	mid := "mid"
	nodes := []*GraphDataNode{
		{ExternalID: "root"},
		{ExternalID: "mid", BelongsTo: &root},
		{ExternalID: "leaf", BelongsTo: &mid},
	}
	in := BuildInput{Node: &PlanDagNode{ID: "tr1"}, Upstreams: []*LoadedGraph{loadedGraph(nodes, nil)}}

	out, err := (treeArtefactBuilder{}).Build(context.Background(), in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	depths, ok := out.Metadata["depths"].(map[string]int)
	if !ok {
		t.Fatalf("expected depths metadata map[string]int, got %T", out.Metadata["depths"])
	}
	if depths["root"] != 0 || depths["mid"] != 1 || depths["leaf"] != 2 {
		t.Fatalf("unexpected depths: %+v", depths)
	}
}
