package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/cohortflow/helper"
)

// Node is a (category, rank) pair of the flow graph. Rank 0 marks a node of
// an order-free pair flow.
type Node struct {
	Category string `json:"category"`
	Rank     int    `json:"rank"`
}

// Label returns "<category>.<rank>", or just the category for rank 0.
func (n Node) Label() string {
	if n.Rank == 0 {
		return n.Category
	}
	return n.Category + "." + strconv.Itoa(n.Rank)
}

// Less orders nodes by rank, then category.
func (n Node) Less(other Node) bool {
	if n.Rank != other.Rank {
		return n.Rank < other.Rank
	}
	return n.Category < other.Category
}

// Edge is a weighted transition between two node indexes of a FlowGraph.
type Edge struct {
	Source int `json:"source"`
	Target int `json:"target"`
	Weight int `json:"weight"`
}

// FlowGraph is the weighted directed graph handed to a Sankey renderer.
// Edge indexes point into Nodes.
type FlowGraph struct {
	Nodes        []Node      `json:"nodes"`
	Edges        []Edge      `json:"edges"`
	SubjectCount int         `json:"subject_count"`
	RankSubjects map[int]int `json:"rank_subjects,omitempty"`
}

// Labels returns the node labels in index order.
func (g *FlowGraph) Labels() []string {
	labels := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		labels[i] = n.Label()
	}
	return labels
}

// IndexOf returns the index of node or -1.
func (g *FlowGraph) IndexOf(node Node) int {
	for i, n := range g.Nodes {
		if n == node {
			return i
		}
	}
	return -1
}

// TotalWeight sums all edge weights.
func (g *FlowGraph) TotalWeight() int {
	total := 0
	for _, e := range g.Edges {
		total += e.Weight
	}
	return total
}

// Outgoing returns the edges leaving node index i.
func (g *FlowGraph) Outgoing(i int) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Source == i {
			out = append(out, e)
		}
	}
	return out
}

// Value implements driver.Valuer so a graph can be stored as JSONB.
func (g FlowGraph) Value() (driver.Value, error) {
	return json.Marshal(g)
}

// Scan implements sql.Scanner for JSONB columns.
func (g *FlowGraph) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return helper.NewError("scan flow graph", fmt.Errorf("unsupported type %T", value))
	}
	return json.Unmarshal(b, g)
}

// FlowSnapshot is a persisted flow graph.
type FlowSnapshot struct {
	ID        int64     `json:"id"`
	RID       uuid.UUID `json:"rid"`
	Name      string    `json:"name"`
	Graph     FlowGraph `json:"graph"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
