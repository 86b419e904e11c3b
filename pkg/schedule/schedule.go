// Package schedule computes the breadth-first execution order of a workflow graph.
//
// Start nodes are every node declared as a trigger plus every node without an
// incoming edge. They form a single frontier at depth 0. Nodes that the traversal
// never reaches are appended afterwards in input order, each with a depth equal to
// its position in the schedule, which places them after every reachable node.
package schedule

import (
	"github.com/claudio-flowstack/flowstack/pkg/workflow"
)

// Item is one scheduled node.
type Item struct {
	NodeID   workflow.NodeID   `json:"nodeId"`
	Depth    int               `json:"depth"`
	NodeType workflow.NodeType `json:"nodeType,omitempty"`
}

type queued struct {
	id    workflow.NodeID
	depth int
}

// Compute returns every distinct node of nodeIDs exactly once, in execution order.
// nodeTypes may be nil. Edges whose endpoints are not listed in nodeIDs are never
// followed.
func Compute(nodeIDs []workflow.NodeID, connections []workflow.Connection, nodeTypes map[workflow.NodeID]workflow.NodeType) []Item {
	if len(nodeIDs) == 0 {
		return []Item{}
	}

	known := make(map[workflow.NodeID]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		known[id] = true
	}

	hasIncoming := make(map[workflow.NodeID]bool, len(connections))
	outgoing := make(map[workflow.NodeID][]workflow.NodeID, len(connections))
	for _, c := range connections {
		hasIncoming[c.To] = true
		if known[c.To] {
			outgoing[c.From] = append(outgoing[c.From], c.To)
		}
	}

	queue := make([]queued, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if nodeTypes[id] == workflow.NodeTypeTrigger || !hasIncoming[id] {
			queue = append(queue, queued{id: id})
		}
	}
	if len(queue) == 0 {
		queue = append(queue, queued{id: nodeIDs[0]})
	}

	visited := make(map[workflow.NodeID]bool, len(nodeIDs))
	items := make([]Item, 0, len(nodeIDs))

	for head := 0; head < len(queue); head++ {
		q := queue[head]
		if visited[q.id] {
			continue
		}
		visited[q.id] = true
		items = append(items, Item{NodeID: q.id, Depth: q.depth, NodeType: nodeTypes[q.id]})

		for _, next := range outgoing[q.id] {
			if !visited[next] {
				queue = append(queue, queued{id: next, depth: q.depth + 1})
			}
		}
	}

	for _, id := range nodeIDs {
		if !visited[id] {
			visited[id] = true
			items = append(items, Item{NodeID: id, Depth: len(items), NodeType: nodeTypes[id]})
		}
	}

	return items
}

// MaxDepth returns the largest depth in items, or -1 for an empty schedule.
func MaxDepth(items []Item) int {
	maxDepth := -1
	for _, it := range items {
		if it.Depth > maxDepth {
			maxDepth = it.Depth
		}
	}
	return maxDepth
}

// GroupByDepth returns node ids grouped by depth level; index is the depth.
// Levels without nodes are empty slices.
func GroupByDepth(items []Item) [][]workflow.NodeID {
	maxDepth := MaxDepth(items)
	if maxDepth < 0 {
		return nil
	}
	groups := make([][]workflow.NodeID, maxDepth+1)
	for _, it := range items {
		groups[it.Depth] = append(groups[it.Depth], it.NodeID)
	}
	return groups
}
