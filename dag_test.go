package layercake

import (
	"reflect"
	"testing"
)

func planNode(id string) *PlanDagNode {
	return &PlanDagNode{ID: id, NodeType: NodeTypeDataSet}
}

func planEdge(id, src, dst string) *PlanDagEdge {
	return &PlanDagEdge{ID: id, SourceNodeID: src, TargetNodeID: dst}
}

func TestTopologicalOrderLexicographicTieBreak(t *testing.T) {
	nodes := []*PlanDagNode{planNode("c"), planNode("a"), planNode("b"), planNode("d")}
	// b and c both depend only on a; d depends on both. At the point b/c
	// become ready together, lexicographic order must pick b before c.
	edges := []*PlanDagEdge{
		planEdge("e1", "a", "b"),
		planEdge("e2", "a", "c"),
		planEdge("e3", "b", "d"),
		planEdge("e4", "c", "d"),
	}
	dag := BuildDAG(nodes, edges)
	order, err := dag.TopologicalOrder()
	if err != nil {
		t.Fatalf("TopologicalOrder: %v", err)
	}
	want := []string{"a", "b", "c", "d"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("got %v, want %v", order, want)
	}
}

func TestDetectCycle(t *testing.T) {
	nodes := []*PlanDagNode{planNode("a"), planNode("b"), planNode("c")}
	edges := []*PlanDagEdge{
		planEdge("e1", "a", "b"),
		planEdge("e2", "b", "c"),
		planEdge("e3", "c", "a"),
	}
	dag := BuildDAG(nodes, edges)
	cyc := dag.DetectCycle()
	if cyc == nil {
		t.Fatal("expected cycle to be detected")
	}

	_, err := dag.TopologicalOrder()
	if err == nil {
		t.Fatal("expected TopologicalOrder to fail on a cyclic DAG")
	}
	if !IsKind(err, KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDetectCycleAcyclic(t *testing.T) {
	nodes := []*PlanDagNode{planNode("a"), planNode("b")}
	edges := []*PlanDagEdge{planEdge("e1", "a", "b")}
	dag := BuildDAG(nodes, edges)
	if cyc := dag.DetectCycle(); cyc != nil {
		t.Fatalf("expected no cycle, got %v", cyc)
	}
}

func TestDescendantsAndAncestors(t *testing.T) {
	nodes := []*PlanDagNode{planNode("a"), planNode("b"), planNode("c"), planNode("d")}
	edges := []*PlanDagEdge{
		planEdge("e1", "a", "b"),
		planEdge("e2", "b", "c"),
		planEdge("e3", "b", "d"),
	}
	dag := BuildDAG(nodes, edges)

	desc := dag.Descendants("a")
	wantDesc := []string{"b", "c", "d"}
	if !reflect.DeepEqual(desc, wantDesc) {
		t.Fatalf("Descendants(a) = %v, want %v", desc, wantDesc)
	}

	anc := dag.Ancestors("d")
	wantAnc := []string{"a", "b"}
	if !reflect.DeepEqual(anc, wantAnc) {
		t.Fatalf("Ancestors(d) = %v, want %v", anc, wantAnc)
	}

	if got := dag.Descendants("c"); len(got) != 0 {
		t.Fatalf("expected no descendants of a leaf node, got %v", got)
	}
}
