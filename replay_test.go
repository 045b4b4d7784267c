package layercake

import (
	"encoding/json"
	"testing"
)

func rawStr(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func TestThreeWayMergeFieldAppliesWhenCurrentMatchesOld(t *testing.T) {
	n := &GraphDataNode{ExternalID: "n1", Label: strp("old")}
	outcome, _, err := threeWayMergeField(n, "label", rawStr("old"), rawStr("new"))
	if err != nil {
		t.Fatalf("threeWayMergeField: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %v", outcome)
	}
	if n.Label == nil || *n.Label != "new" {
		t.Fatalf("expected label updated to 'new', got %v", n.Label)
	}
}

func TestThreeWayMergeFieldSkipsWhenAlreadyApplied(t *testing.T) {
	n := &GraphDataNode{ExternalID: "n1", Label: strp("new")}
	outcome, reason, err := threeWayMergeField(n, "label", rawStr("old"), rawStr("new"))
	if err != nil {
		t.Fatalf("threeWayMergeField: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Fatalf("expected skipped when current already equals new, got %v (%s)", outcome, reason)
	}
}

func TestThreeWayMergeFieldConflictsWhenDiverged(t *testing.T) {
	n := &GraphDataNode{ExternalID: "n1", Label: strp("someone-else-changed-it")}
	outcome, reason, err := threeWayMergeField(n, "label", rawStr("old"), rawStr("new"))
	if err != nil {
		t.Fatalf("threeWayMergeField: %v", err)
	}
	if outcome != OutcomeFailed || reason != "conflict" {
		t.Fatalf("expected conflict, got %v (%s)", outcome, reason)
	}
	if *n.Label != "someone-else-changed-it" {
		t.Fatalf("expected node left untouched on conflict, got %v", *n.Label)
	}
}

func TestApplyNodeEditInsertSkipsIfExists(t *testing.T) {
	nodeByID := map[string]*GraphDataNode{"n1": {ExternalID: "n1"}}
	edgeByID := map[string]*GraphDataEdge{}
	ed := &GraphEdit{TargetType: EditTargetNode, TargetID: "n1", Operation: EditOpInsert, NewValue: []byte(`{}`)}

	outcome, _, err := applyNodeEdit(ed, nodeByID, edgeByID)
	if err != nil {
		t.Fatalf("applyNodeEdit: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Fatalf("expected skipped for insert of an existing node, got %v", outcome)
	}
}

func TestApplyNodeEditDeleteCascadesIncidentEdges(t *testing.T) {
	nodeByID := map[string]*GraphDataNode{"n1": {ExternalID: "n1"}, "n2": {ExternalID: "n2"}}
	edgeByID := map[string]*GraphDataEdge{"e1": {ExternalID: "e1", Source: "n1", Target: "n2"}}
	ed := &GraphEdit{TargetType: EditTargetNode, TargetID: "n1", Operation: EditOpDelete}

	outcome, _, err := applyNodeEdit(ed, nodeByID, edgeByID)
	if err != nil {
		t.Fatalf("applyNodeEdit: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %v", outcome)
	}
	if _, exists := nodeByID["n1"]; exists {
		t.Fatal("expected n1 removed")
	}
	if _, exists := edgeByID["e1"]; exists {
		t.Fatal("expected incident edge e1 removed alongside its node")
	}
}

func TestApplyEdgeEditUpdateMissingTargetFails(t *testing.T) {
	edgeByID := map[string]*GraphDataEdge{}
	field := "label"
	ed := &GraphEdit{TargetType: EditTargetEdge, TargetID: "missing", Operation: EditOpUpdate, Field: &field}

	outcome, reason, err := applyEdgeEdit(ed, edgeByID)
	if err != nil {
		t.Fatalf("applyEdgeEdit: %v", err)
	}
	if outcome != OutcomeFailed || reason != "target_missing" {
		t.Fatalf("expected failed/target_missing, got %v/%s", outcome, reason)
	}
}

func TestJSONEqualNormalizesWhitespace(t *testing.T) {
	if !jsonEqual([]byte(`{"a":1,"b":2}`), []byte(`{"b": 2, "a": 1}`)) {
		t.Fatal("expected semantically equal JSON with different key order/whitespace to compare equal")
	}
}
