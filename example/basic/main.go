package main

import (
	"fmt"
	"log"
	"os"

	"github.com/siherrmann/cohortflow/core/flow"
	"github.com/siherrmann/cohortflow/model"
	"github.com/siherrmann/cohortflow/render"
)

func main() {
	events := []model.Event{
		{SubjectID: "P1", Category: "increased", Rank: 1},
		{SubjectID: "P1", Category: "stable", Rank: 2},
		{SubjectID: "P1", Category: "decreased", Rank: 3},
		{SubjectID: "P2", Category: "increased", Rank: 1},
		{SubjectID: "P2", Category: "stable", Rank: 2},
		{SubjectID: "P3", Category: "stable", Rank: 1},
		{SubjectID: "P3", Category: "resolved", Rank: 2},
	}

	graph, err := flow.BuildFlowGraph(events)
	if err != nil {
		log.Fatalf("Failed to build flow graph: %v", err)
	}

	fmt.Printf("%d subjects, %d nodes, %d edges\n", graph.SubjectCount, len(graph.Nodes), len(graph.Edges))
	labels := graph.Labels()
	for _, e := range graph.Edges {
		fmt.Printf("  %-12s -> %-12s %d\n", labels[e.Source], labels[e.Target], e.Weight)
	}

	diagram, err := render.Sankey(graph, render.Options{Title: "Basic flow"})
	if err != nil {
		log.Fatalf("Failed to render: %v", err)
	}

	f, err := os.Create("basic_flow.html")
	if err != nil {
		log.Fatalf("Failed to create output: %v", err)
	}
	defer f.Close()

	if err := diagram.WriteHTML(f); err != nil {
		log.Fatalf("Failed to write HTML: %v", err)
	}
	fmt.Println("Wrote basic_flow.html")
}
