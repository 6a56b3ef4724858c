// Package flow turns ranked per-subject events into the weighted flow graph
// drawn as a Sankey diagram.
package flow

import (
	"fmt"
	"sort"

	"github.com/siherrmann/cohortflow/model"
)

type transition struct {
	source int
	target int
}

// BuildFlowGraph builds the flow graph of events with the default options:
// rank gaps break the flow and every rank is kept.
//
// Nodes are the distinct (category, rank) pairs ordered by rank, then
// category. An edge joins (a, r) to (b, r+1) and its weight is the number
// of subjects making that step. Input order is irrelevant.
func BuildFlowGraph(events []model.Event) (*model.FlowGraph, error) {
	return Build(events, model.DefaultFlowOptions())
}

// Build is BuildFlowGraph with explicit options.
func Build(events []model.Event, opts model.FlowOptions) (*model.FlowGraph, error) {
	if len(events) == 0 {
		return nil, &model.EmptyResultError{}
	}

	policy := opts.GapPolicy
	if policy == "" {
		policy = model.GapBreak
	}
	if _, err := model.ParseGapPolicy(string(policy)); err != nil {
		return nil, err
	}
	if opts.MaxRank < 0 {
		return nil, model.NewInvalidInputError("max rank must not be negative, got %d", opts.MaxRank)
	}

	err := Validate(events)
	if err != nil {
		return nil, err
	}

	subjectIDs, sequences := groupBySubject(events)

	if policy == model.GapDensify {
		for _, seq := range sequences {
			for i := range seq {
				seq[i].Rank = i + 1
			}
		}
	}

	if opts.MaxRank > 0 {
		kept := 0
		for id, seq := range sequences {
			n := sort.Search(len(seq), func(i int) bool { return seq[i].Rank > opts.MaxRank })
			sequences[id] = seq[:n]
			kept += n
		}
		if kept == 0 {
			return nil, &model.EmptyResultError{What: fmt.Sprintf("no events within max rank %d", opts.MaxRank)}
		}
	}

	graph := &model.FlowGraph{
		RankSubjects: map[int]int{},
	}

	index := nodeIndex(sequences)
	graph.Nodes = make([]model.Node, len(index))
	for node, i := range index {
		graph.Nodes[i] = node
	}

	weights := map[transition]int{}
	for _, id := range subjectIDs {
		seq := sequences[id]
		if len(seq) == 0 {
			continue
		}
		graph.SubjectCount++

		for i, cur := range seq {
			graph.RankSubjects[cur.Rank]++
			if i+1 == len(seq) {
				break
			}

			next := seq[i+1]
			if next.Rank != cur.Rank+1 {
				if policy == model.GapError {
					return nil, &model.InvalidInputError{
						Reason:    fmt.Sprintf("rank gap from %d to %d", cur.Rank, next.Rank),
						SubjectID: id,
						Rank:      next.Rank,
					}
				}
				continue
			}

			t := transition{
				source: index[model.Node{Category: cur.Category, Rank: cur.Rank}],
				target: index[model.Node{Category: next.Category, Rank: next.Rank}],
			}
			weights[t]++
		}
	}

	graph.Edges = sortedEdges(weights)

	return graph, nil
}

// Validate rejects events with a missing field and duplicate
// (subject, rank) pairs.
func Validate(events []model.Event) error {
	seen := make(map[string]map[int]struct{})
	for i, e := range events {
		switch {
		case e.SubjectID == "":
			return &model.InvalidInputError{Reason: fmt.Sprintf("event %d has no subject id", i), Rank: e.Rank}
		case e.Category == "":
			return &model.InvalidInputError{Reason: fmt.Sprintf("event %d has no category", i), SubjectID: e.SubjectID, Rank: e.Rank}
		case e.Rank < 1:
			return &model.InvalidInputError{Reason: fmt.Sprintf("event %d has no rank", i), SubjectID: e.SubjectID, Rank: e.Rank}
		}

		ranks, ok := seen[e.SubjectID]
		if !ok {
			ranks = make(map[int]struct{})
			seen[e.SubjectID] = ranks
		}
		if _, dup := ranks[e.Rank]; dup {
			return &model.InvalidInputError{Reason: "duplicate rank", SubjectID: e.SubjectID, Rank: e.Rank}
		}
		ranks[e.Rank] = struct{}{}
	}
	return nil
}

// groupBySubject returns the sorted subject ids and a rank-sorted copy of
// every subject's events.
func groupBySubject(events []model.Event) ([]string, map[string][]model.Event) {
	sequences := make(map[string][]model.Event)
	for _, e := range events {
		sequences[e.SubjectID] = append(sequences[e.SubjectID], e)
	}

	ids := make([]string, 0, len(sequences))
	for id, seq := range sequences {
		sort.Slice(seq, func(i, j int) bool { return seq[i].Rank < seq[j].Rank })
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids, sequences
}

func nodeIndex(sequences map[string][]model.Event) map[model.Node]int {
	set := make(map[model.Node]struct{})
	for _, seq := range sequences {
		for _, e := range seq {
			set[model.Node{Category: e.Category, Rank: e.Rank}] = struct{}{}
		}
	}

	nodes := make([]model.Node, 0, len(set))
	for n := range set {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Less(nodes[j]) })

	index := make(map[model.Node]int, len(nodes))
	for i, n := range nodes {
		index[n] = i
	}
	return index
}

func sortedEdges(weights map[transition]int) []model.Edge {
	edges := make([]model.Edge, 0, len(weights))
	for t, w := range weights {
		edges = append(edges, model.Edge{Source: t.source, Target: t.target, Weight: w})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
	return edges
}
