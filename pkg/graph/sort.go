// Package graph orders workflow nodes for execution.
package graph

import (
	"fmt"
	"strings"

	"github.com/dukex/flowline/pkg/models"
)

// CyclicGraphError reports connections that admit no linear order.
type CyclicGraphError struct {
	// NodeIDs are the nodes left unsorted, in stored order.
	NodeIDs []string
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("workflow graph contains a cycle involving nodes [%s]", strings.Join(e.NodeIDs, ", "))
}

// NonRetriable marks the error as terminal for the execution.
func (e *CyclicGraphError) NonRetriable() bool { return true }

type edge struct {
	from, to    string
	placeholder bool
}

// Sort returns the nodes in an order where every connection's source comes
// before its target. Independent nodes keep their stored relative order.
// With no connections the input order is returned unchanged.
func Sort(nodes []*models.Node, connections []*models.Connection) ([]*models.Node, error) {
	if len(connections) == 0 {
		out := make([]*models.Node, len(nodes))
		copy(out, nodes)

		return out, nil
	}

	byID := make(map[string]*models.Node, len(nodes))
	order := make([]string, 0, len(nodes))

	for _, node := range nodes {
		if _, dup := byID[node.ID]; dup {
			continue
		}

		byID[node.ID] = node
		order = append(order, node.ID)
	}

	edges := buildEdges(order, byID, connections)

	sorted, err := kahn(order, edges)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Node, 0, len(sorted))
	for _, id := range sorted {
		if node, ok := byID[id]; ok {
			out = append(out, node)
		}
	}

	return out, nil
}

// buildEdges turns connections into edges and adds a reflexive placeholder
// edge for every node no connection touches, so it still surfaces in the
// output. Connections to unknown nodes are dropped.
func buildEdges(order []string, byID map[string]*models.Node, connections []*models.Connection) []edge {
	touched := make(map[string]bool, len(order))
	edges := make([]edge, 0, len(connections)+len(order))

	for _, conn := range connections {
		if conn == nil {
			continue
		}

		if _, ok := byID[conn.FromNodeID]; !ok {
			continue
		}

		if _, ok := byID[conn.ToNodeID]; !ok {
			continue
		}

		touched[conn.FromNodeID] = true
		touched[conn.ToNodeID] = true

		edges = append(edges, edge{from: conn.FromNodeID, to: conn.ToNodeID})
	}

	for _, id := range order {
		if !touched[id] {
			edges = append(edges, edge{from: id, to: id, placeholder: true})
		}
	}

	return edges
}

// kahn runs Kahn's algorithm with the ready queue seeded in stored order.
// Placeholder edges carry no ordering constraint; a real self-loop does and
// leaves its node unsorted.
func kahn(order []string, edges []edge) ([]string, error) {
	indegree := make(map[string]int, len(order))
	next := make(map[string][]string, len(order))

	for _, e := range edges {
		if e.placeholder {
			continue
		}

		indegree[e.to]++
		next[e.from] = append(next[e.from], e.to)
	}

	queue := make([]string, 0, len(order))

	for _, id := range order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	sorted := make([]string, 0, len(order))
	seen := make(map[string]bool, len(order))

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if seen[id] {
			continue
		}

		seen[id] = true
		sorted = append(sorted, id)

		for _, to := range next[id] {
			indegree[to]--
			if indegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}

	if len(sorted) < len(order) {
		var remaining []string

		for _, id := range order {
			if !seen[id] {
				remaining = append(remaining, id)
			}
		}

		return nil, &CyclicGraphError{NodeIDs: remaining}
	}

	return sorted, nil
}
