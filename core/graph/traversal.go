package graph

import (
	"github.com/siherrmann/cohortflow/model"
)

// TraversalResult contains a node reached from the source and its distance
type TraversalResult struct {
	Node     model.Node
	Index    int
	Distance int
	Path     []int // Node indexes from source to this node
}

// Direction selects which edges a traversal follows
type Direction int

const (
	Downstream Direction = iota // follow edges source -> target
	Upstream                    // follow edges target -> source
)

func adjacency(g *model.FlowGraph, dir Direction) map[int][]int {
	adj := make(map[int][]int, len(g.Nodes))
	for _, e := range g.Edges {
		if dir == Downstream {
			adj[e.Source] = append(adj[e.Source], e.Target)
		} else {
			adj[e.Target] = append(adj[e.Target], e.Source)
		}
	}
	return adj
}

func checkIndex(g *model.FlowGraph, index int) error {
	if g == nil {
		return &model.EmptyResultError{What: "graph is nil"}
	}
	if index < 0 || index >= len(g.Nodes) {
		return model.NewInvalidInputError("node index %d outside 0..%d", index, len(g.Nodes)-1)
	}
	return nil
}

// BFS performs breadth-first search from a source node
func BFS(g *model.FlowGraph, source int, maxHops int, dir Direction) ([]*TraversalResult, error) {
	if err := checkIndex(g, source); err != nil {
		return nil, err
	}

	adj := adjacency(g, dir)
	visited := map[int]bool{source: true}
	queue := []TraversalResult{{
		Node:     g.Nodes[source],
		Index:    source,
		Distance: 0,
		Path:     []int{source},
	}}

	var results []*TraversalResult
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		results = append(results, &current)

		if maxHops >= 0 && current.Distance >= maxHops {
			continue
		}

		for _, next := range adj[current.Index] {
			if visited[next] {
				continue
			}
			visited[next] = true

			newPath := make([]int, len(current.Path), len(current.Path)+1)
			copy(newPath, current.Path)
			newPath = append(newPath, next)

			queue = append(queue, TraversalResult{
				Node:     g.Nodes[next],
				Index:    next,
				Distance: current.Distance + 1,
				Path:     newPath,
			})
		}
	}

	return results, nil
}

// DFS performs depth-first search from a source node
func DFS(g *model.FlowGraph, source int, maxHops int, dir Direction) ([]*TraversalResult, error) {
	if err := checkIndex(g, source); err != nil {
		return nil, err
	}

	adj := adjacency(g, dir)
	visited := make(map[int]bool)
	var results []*TraversalResult

	dfsRecursive(g, adj, source, 0, maxHops, []int{source}, visited, &results)

	return results, nil
}

func dfsRecursive(
	g *model.FlowGraph,
	adj map[int][]int,
	current int,
	distance int,
	maxHops int,
	path []int,
	visited map[int]bool,
	results *[]*TraversalResult,
) {
	visited[current] = true

	pathCopy := make([]int, len(path))
	copy(pathCopy, path)
	*results = append(*results, &TraversalResult{
		Node:     g.Nodes[current],
		Index:    current,
		Distance: distance,
		Path:     pathCopy,
	})

	if maxHops >= 0 && distance >= maxHops {
		return
	}

	for _, next := range adj[current] {
		if visited[next] {
			continue
		}
		dfsRecursive(g, adj, next, distance+1, maxHops, append(path, next), visited, results)
	}
}

// GetNeighbors returns the nodes one step away from index
func GetNeighbors(g *model.FlowGraph, index int, dir Direction) ([]model.Node, error) {
	results, err := BFS(g, index, 1, dir)
	if err != nil {
		return nil, err
	}

	// Skip the source itself
	neighbors := make([]model.Node, 0, len(results)-1)
	for _, r := range results[1:] {
		neighbors = append(neighbors, r.Node)
	}

	return neighbors, nil
}

// Subgraph keeps the nodes upstream and downstream of focus together with
// the edges between them. Node order and edge order follow the input, so
// the result is as deterministic as the graph it came from.
func Subgraph(g *model.FlowGraph, focus int) (*model.FlowGraph, error) {
	down, err := BFS(g, focus, -1, Downstream)
	if err != nil {
		return nil, err
	}
	up, err := BFS(g, focus, -1, Upstream)
	if err != nil {
		return nil, err
	}

	keep := make(map[int]bool, len(down)+len(up))
	for _, r := range down {
		keep[r.Index] = true
	}
	for _, r := range up {
		keep[r.Index] = true
	}

	remap := make(map[int]int, len(keep))
	sub := &model.FlowGraph{RankSubjects: map[int]int{}}
	for i, n := range g.Nodes {
		if keep[i] {
			remap[i] = len(sub.Nodes)
			sub.Nodes = append(sub.Nodes, n)
		}
	}

	// Only edges on a path through the focus node are kept, which rules out
	// side branches joining a kept node from elsewhere.
	upSet := make(map[int]bool, len(up))
	for _, r := range up {
		upSet[r.Index] = true
	}
	downSet := make(map[int]bool, len(down))
	for _, r := range down {
		downSet[r.Index] = true
	}
	for _, e := range g.Edges {
		onUp := upSet[e.Source] && upSet[e.Target]
		onDown := downSet[e.Source] && downSet[e.Target]
		if onUp || onDown {
			sub.Edges = append(sub.Edges, model.Edge{Source: remap[e.Source], Target: remap[e.Target], Weight: e.Weight})
		}
	}

	for _, n := range sub.Nodes {
		if _, ok := sub.RankSubjects[n.Rank]; !ok {
			sub.RankSubjects[n.Rank] = g.RankSubjects[n.Rank]
		}
	}
	sub.SubjectCount = g.SubjectCount

	return sub, nil
}

// Focus is Subgraph for the node with the given label, e.g. "inc.2".
func Focus(g *model.FlowGraph, label string) (*model.FlowGraph, error) {
	if g == nil {
		return nil, &model.EmptyResultError{What: "graph is nil"}
	}
	for i, l := range g.Labels() {
		if l == label {
			return Subgraph(g, i)
		}
	}
	return nil, model.NewInvalidInputError("no node labelled %q", label)
}
