package resolver

import "sort"

// Similarity Graph (Union-Find)
//
// The contraction core of the resolver. Records are nodes; accepted
// matches are weighted undirected edges. Clusters are the connected
// components, contracted with weighted Union-Find:
//   - Find: O(α(n)) ≈ O(1) amortized (inverse Ackermann)
//   - Union: O(α(n)) ≈ O(1) amortized
//   - Space: O(n + m) for n records and m accepted matches
//
// Transitivity is deliberate: if A–B and B–C matched but A–C did not,
// all three still land in one component. The mean edge weight gate in
// the resolver is what keeps weakly stitched components out.

// SimilarityGraph accumulates records and accepted matches
type SimilarityGraph struct {
	parent map[string]string // parent[recordID] = parent record
	rank   map[string]int    // rank for union by rank
	size   map[string]int    // component size at root
	edges  []graphEdge
}

type graphEdge struct {
	src    string
	dst    string
	weight float64
}

// NewSimilarityGraph creates an empty similarity graph
func NewSimilarityGraph() *SimilarityGraph {
	return &SimilarityGraph{
		parent: make(map[string]string),
		rank:   make(map[string]int),
		size:   make(map[string]int),
	}
}

// AddNode registers a record so it survives as a singleton component
// even when no match touches it
func (g *SimilarityGraph) AddNode(recordID string) {
	g.Find(recordID)
}

// AddEdge records an accepted match and merges the two components
func (g *SimilarityGraph) AddEdge(src, dst string, weight float64) {
	g.edges = append(g.edges, graphEdge{src: src, dst: dst, weight: weight})
	g.Union(src, dst)
}

// Find returns the root representative of the component containing
// recordID, creating the node on first touch. Uses path compression.
func (g *SimilarityGraph) Find(recordID string) string {
	if _, exists := g.parent[recordID]; !exists {
		g.parent[recordID] = recordID
		g.rank[recordID] = 0
		g.size[recordID] = 1
	}

	// Path compression: make every node point directly to root
	if g.parent[recordID] != recordID {
		g.parent[recordID] = g.Find(g.parent[recordID])
	}
	return g.parent[recordID]
}

// Union merges the components containing a and b.
// Returns true if a merge actually occurred.
func (g *SimilarityGraph) Union(a, b string) bool {
	rootA := g.Find(a)
	rootB := g.Find(b)

	if rootA == rootB {
		return false
	}

	// Union by rank: attach smaller tree under root of larger tree
	if g.rank[rootA] < g.rank[rootB] {
		g.parent[rootA] = rootB
		g.size[rootB] += g.size[rootA]
	} else if g.rank[rootA] > g.rank[rootB] {
		g.parent[rootB] = rootA
		g.size[rootA] += g.size[rootB]
	} else {
		g.parent[rootB] = rootA
		g.size[rootA] += g.size[rootB]
		g.rank[rootA]++
	}

	return true
}

// Components returns every connected component as root -> sorted
// member record IDs
func (g *SimilarityGraph) Components() map[string][]string {
	components := make(map[string][]string)
	for recordID := range g.parent {
		root := g.Find(recordID)
		components[root] = append(components[root], recordID)
	}
	for root := range components {
		sort.Strings(components[root])
	}
	return components
}

// MeanEdgeWeight returns the average weight of the edges inside the
// component rooted at root, or 0 when the component has no edges
func (g *SimilarityGraph) MeanEdgeWeight(root string) float64 {
	total := 0.0
	count := 0
	for _, e := range g.edges {
		if g.Find(e.src) == root {
			total += e.weight
			count++
		}
	}
	if count == 0 {
		return 0.0
	}
	return total / float64(count)
}

// NodeCount returns the number of registered records
func (g *SimilarityGraph) NodeCount() int {
	return len(g.parent)
}

// EdgeCount returns the number of accepted matches
func (g *SimilarityGraph) EdgeCount() int {
	return len(g.edges)
}
