package layercake

import (
	"encoding/json"
	"testing"
)

func TestComputeSourceHashDeterministic(t *testing.T) {
	config := json.RawMessage(`{"b":1,"a":2}`)
	h1, err := ComputeSourceHash(NodeTypeDataSet, config, []string{"abc", "def"})
	if err != nil {
		t.Fatalf("ComputeSourceHash: %v", err)
	}
	h2, err := ComputeSourceHash(NodeTypeDataSet, config, []string{"abc", "def"})
	if err != nil {
		t.Fatalf("ComputeSourceHash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical hashes, got %s and %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars (sha256), got %d", len(h1))
	}
}

func TestComputeSourceHashKeyOrderInvariant(t *testing.T) {
	a := json.RawMessage(`{"a":1,"b":2}`)
	b := json.RawMessage(`{"b":2,"a":1}`)
	ha, err := ComputeSourceHash(NodeTypeFilter, a, nil)
	if err != nil {
		t.Fatalf("ComputeSourceHash: %v", err)
	}
	hb, err := ComputeSourceHash(NodeTypeFilter, b, nil)
	if err != nil {
		t.Fatalf("ComputeSourceHash: %v", err)
	}
	if ha != hb {
		t.Fatalf("expected key-order-invariant hashes, got %s != %s", ha, hb)
	}
}

func TestComputeSourceHashInputOrderMatters(t *testing.T) {
	config := json.RawMessage(`{}`)
	h1, err := ComputeSourceHash(NodeTypeMerge, config, []string{"x", "y"})
	if err != nil {
		t.Fatalf("ComputeSourceHash: %v", err)
	}
	h2, err := ComputeSourceHash(NodeTypeMerge, config, []string{"y", "x"})
	if err != nil {
		t.Fatalf("ComputeSourceHash: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("expected different hashes for reordered inputs, both %s", h1)
	}
}

func TestComputeSourceHashNodeTypeMatters(t *testing.T) {
	config := json.RawMessage(`{"x":1}`)
	h1, err := ComputeSourceHash(NodeTypeDataSet, config, nil)
	if err != nil {
		t.Fatalf("ComputeSourceHash: %v", err)
	}
	h2, err := ComputeSourceHash(NodeTypeGraph, config, nil)
	if err != nil {
		t.Fatalf("ComputeSourceHash: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("expected different hashes for different node types")
	}
}

func TestCanonicalizeJSONEmpty(t *testing.T) {
	out, err := canonicalizeJSON(nil)
	if err != nil {
		t.Fatalf("canonicalizeJSON: %v", err)
	}
	if string(out) != "null" {
		t.Fatalf("expected null, got %s", out)
	}
}

func TestCanonicalizeJSONSortsNestedKeys(t *testing.T) {
	a, err := canonicalizeJSON(json.RawMessage(`{"z":{"y":1,"x":2},"a":3}`))
	if err != nil {
		t.Fatalf("canonicalizeJSON: %v", err)
	}
	b, err := canonicalizeJSON(json.RawMessage(`{"a":3,"z":{"x":2,"y":1}}`))
	if err != nil {
		t.Fatalf("canonicalizeJSON: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("expected identical canonical output, got %s vs %s", a, b)
	}
}
