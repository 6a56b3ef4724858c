package flow

import (
	"fmt"
	"sort"

	"github.com/siherrmann/cohortflow/model"
)

// BuildPairFlow aggregates order-free (source, target) category pairs.
// Nodes are the distinct categories in lexicographic order with rank 0 and
// the weight of an edge is the number of times its pair occurs.
func BuildPairFlow(pairs []model.Transition) (*model.FlowGraph, error) {
	if len(pairs) == 0 {
		return nil, &model.EmptyResultError{What: "no transitions"}
	}

	set := make(map[string]struct{})
	for i, p := range pairs {
		if p.Source == "" || p.Target == "" {
			return nil, model.NewInvalidInputError("transition %d has an empty category", i)
		}
		set[p.Source] = struct{}{}
		set[p.Target] = struct{}{}
	}

	categories := make([]string, 0, len(set))
	for c := range set {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	graph := &model.FlowGraph{
		Nodes: make([]model.Node, len(categories)),
	}
	index := make(map[string]int, len(categories))
	for i, c := range categories {
		graph.Nodes[i] = model.Node{Category: c}
		index[c] = i
	}

	weights := map[transition]int{}
	for _, p := range pairs {
		weights[transition{source: index[p.Source], target: index[p.Target]}]++
	}
	graph.Edges = sortedEdges(weights)

	return graph, nil
}

// Check verifies that a ranked flow graph is internally consistent: every
// edge index is valid, edges step from rank r to r+1 with a positive weight
// and no rank sends more subjects onward than reached it.
func Check(graph *model.FlowGraph) error {
	if graph == nil || len(graph.Nodes) == 0 {
		return &model.EmptyResultError{What: "graph has no nodes"}
	}

	outflow := map[int]int{}
	for i, e := range graph.Edges {
		if e.Source < 0 || e.Source >= len(graph.Nodes) || e.Target < 0 || e.Target >= len(graph.Nodes) {
			return model.NewInvalidInputError("edge %d points outside the node list", i)
		}
		if e.Weight < 1 {
			return model.NewInvalidInputError("edge %d has weight %d", i, e.Weight)
		}

		src, tgt := graph.Nodes[e.Source], graph.Nodes[e.Target]
		if tgt.Rank != src.Rank+1 {
			return model.NewInvalidInputError("edge %s -> %s does not advance by one rank", src.Label(), tgt.Label())
		}
		outflow[src.Rank] += e.Weight
	}

	for rank, total := range outflow {
		if reached, ok := graph.RankSubjects[rank]; ok && total > reached {
			return &model.InvalidInputError{
				Reason: fmt.Sprintf("%d subjects leave rank %d but only %d reached it", total, rank, reached),
				Rank:   rank,
			}
		}
	}

	return nil
}
