package layercake

import "testing"

func TestAnalyzeConnectivityReachability(t *testing.T) {
	nodes := []*GraphDataNode{
		{ExternalID: "a"}, {ExternalID: "b"}, {ExternalID: "c"}, {ExternalID: "isolated"},
	}
	edges := []*GraphDataEdge{
		{ExternalID: "e1", Source: "a", Target: "b"},
		{ExternalID: "e2", Source: "b", Target: "c"},
	}
	report := AnalyzeConnectivity(nodes, edges, "a", 0)

	if len(report.Reachable) != 3 {
		t.Fatalf("expected 3 reachable nodes from a, got %d: %+v", len(report.Reachable), report.Reachable)
	}
	if len(report.Unreachable) != 1 || report.Unreachable[0] != "isolated" {
		t.Fatalf("expected only 'isolated' unreachable, got %v", report.Unreachable)
	}

	var cDepth int
	for _, r := range report.Reachable {
		if r.ExternalID == "c" {
			cDepth = r.Depth
		}
	}
	if cDepth != 2 {
		t.Fatalf("expected c at depth 2, got %d", cDepth)
	}
}

func TestAnalyzeConnectivityMaxDepth(t *testing.T) {
	nodes := []*GraphDataNode{{ExternalID: "a"}, {ExternalID: "b"}, {ExternalID: "c"}}
	edges := []*GraphDataEdge{
		{ExternalID: "e1", Source: "a", Target: "b"},
		{ExternalID: "e2", Source: "b", Target: "c"},
	}
	report := AnalyzeConnectivity(nodes, edges, "a", 1)
	if len(report.Reachable) != 2 {
		t.Fatalf("expected depth-limited traversal to reach only a and b, got %+v", report.Reachable)
	}
}

func TestFindPathsEnumeratesAndSortsByLength(t *testing.T) {
	nodes := []*GraphDataNode{{ExternalID: "a"}, {ExternalID: "b"}, {ExternalID: "c"}, {ExternalID: "d"}}
	edges := []*GraphDataEdge{
		{ExternalID: "e1", Source: "a", Target: "b"},
		{ExternalID: "e2", Source: "b", Target: "d"},
		{ExternalID: "e3", Source: "a", Target: "c"},
		{ExternalID: "e4", Source: "c", Target: "d"},
		{ExternalID: "e5", Source: "a", Target: "d"},
	}
	paths := FindPaths(nodes, edges, "a", "d", 0, 0)
	if len(paths) != 3 {
		t.Fatalf("expected 3 simple paths from a to d, got %d: %+v", len(paths), paths)
	}
	if len(paths[0]) != 2 {
		t.Fatalf("expected the shortest path (length 2) to sort first, got %+v", paths[0])
	}
}

func TestFindPathsNoPath(t *testing.T) {
	nodes := []*GraphDataNode{{ExternalID: "a"}, {ExternalID: "b"}}
	paths := FindPaths(nodes, nil, "a", "b", 0, 0)
	if len(paths) != 0 {
		t.Fatalf("expected no paths between disconnected nodes, got %+v", paths)
	}
}

func TestFindPathsRespectsMaxPaths(t *testing.T) {
	nodes := []*GraphDataNode{{ExternalID: "a"}, {ExternalID: "b"}, {ExternalID: "c"}, {ExternalID: "d"}}
	edges := []*GraphDataEdge{
		{ExternalID: "e1", Source: "a", Target: "b"},
		{ExternalID: "e2", Source: "b", Target: "d"},
		{ExternalID: "e3", Source: "a", Target: "c"},
		{ExternalID: "e4", Source: "c", Target: "d"},
		{ExternalID: "e5", Source: "a", Target: "d"},
	}
	paths := FindPaths(nodes, edges, "a", "d", 2, 0)
	if len(paths) != 2 {
		t.Fatalf("expected maxPaths to cap the result at 2, got %d: %+v", len(paths), paths)
	}
}
