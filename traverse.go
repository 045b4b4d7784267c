package layercake

import "sort"

// TraversalNode is one node visited during an in-memory connectivity walk,
// carrying the depth and path by which it was first reached.
type TraversalNode struct {
	ExternalID string
	Depth      int
	Path       []string
}

// ConnectivityReport is the result of AnalyzeConnectivity: the reachable
// set from a starting node, plus any nodes the loaded graph never reaches.
type ConnectivityReport struct {
	Reachable   []TraversalNode
	Unreachable []string
}

// AnalyzeConnectivity walks a loaded graph's adjacency breadth-first from
// start, up to maxDepth hops (0 means unbounded). This recomputes the
// teacher's get_dependencies/get_dependents traversal entirely in memory
// against an already-loaded GraphData rather than depending on a
// database-side recursive function, so the result is available the
// moment §4.A returns nodes/edges and is independently testable.
func AnalyzeConnectivity(nodes []*GraphDataNode, edges []*GraphDataEdge, start string, maxDepth int) *ConnectivityReport {
	adjacency := buildAdjacency(edges)
	visited := map[string]TraversalNode{start: {ExternalID: start, Depth: 0, Path: []string{start}}}

	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		curEntry := visited[cur]
		if maxDepth > 0 && curEntry.Depth >= maxDepth {
			continue
		}
		for _, next := range adjacency[cur] {
			if _, seen := visited[next]; seen {
				continue
			}
			path := append(append([]string{}, curEntry.Path...), next)
			visited[next] = TraversalNode{ExternalID: next, Depth: curEntry.Depth + 1, Path: path}
			queue = append(queue, next)
		}
	}

	report := &ConnectivityReport{}
	for _, n := range nodes {
		if tn, ok := visited[n.ExternalID]; ok {
			report.Reachable = append(report.Reachable, tn)
		} else {
			report.Unreachable = append(report.Unreachable, n.ExternalID)
		}
	}
	sort.Slice(report.Reachable, func(i, j int) bool { return report.Reachable[i].ExternalID < report.Reachable[j].ExternalID })
	sort.Strings(report.Unreachable)
	return report
}

// FindPaths returns up to maxPaths simple paths from start to end within
// maxDepth hops (0 means unbounded for either), walking the loaded graph's
// edges as an undirected adjacency (a path may traverse an edge in either
// direction, matching how the original tool treated dependency/dependent
// traversal as symmetric unless a direction filter narrowed it). maxPaths
// bounds the search itself, not just the returned slice, since a densely
// connected graph can have an exponential number of simple paths.
func FindPaths(nodes []*GraphDataNode, edges []*GraphDataEdge, start, end string, maxPaths, maxDepth int) [][]string {
	adjacency := buildUndirectedAdjacency(edges)
	var paths [][]string
	visited := map[string]bool{start: true}
	path := []string{start}

	var walk func(cur string)
	walk = func(cur string) {
		if maxPaths > 0 && len(paths) >= maxPaths {
			return
		}
		if cur == end {
			paths = append(paths, append([]string{}, path...))
			return
		}
		if maxDepth > 0 && len(path) > maxDepth {
			return
		}
		for _, next := range adjacency[cur] {
			if maxPaths > 0 && len(paths) >= maxPaths {
				return
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			path = append(path, next)
			walk(next)
			path = path[:len(path)-1]
			visited[next] = false
		}
	}
	walk(start)

	sort.Slice(paths, func(i, j int) bool {
		if len(paths[i]) != len(paths[j]) {
			return len(paths[i]) < len(paths[j])
		}
		for k := range paths[i] {
			if paths[i][k] != paths[j][k] {
				return paths[i][k] < paths[j][k]
			}
		}
		return false
	})
	return paths
}

func buildAdjacency(edges []*GraphDataEdge) map[string][]string {
	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}
	for k := range adj {
		sort.Strings(adj[k])
	}
	return adj
}

func buildUndirectedAdjacency(edges []*GraphDataEdge) map[string][]string {
	adj := make(map[string][]string)
	for _, e := range edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
		adj[e.Target] = append(adj[e.Target], e.Source)
	}
	for k := range adj {
		sort.Strings(adj[k])
	}
	return adj
}
