package workflow

import (
	"fmt"
	"strings"
)

type visitState uint8

const (
	white visitState = iota // unvisited
	gray                    // on the current path
	black                   // finished
)

// WouldCreateCycle reports whether adding source -> target to edges
// closes a cycle, i.e. whether target already reaches source. It runs a
// breadth-first search from target and stops at the first hit.
func WouldCreateCycle(sourceID, targetID string, edges []Edge) bool {
	if sourceID == targetID {
		return true
	}
	g := NewGraphFromEdges(edges)
	if !g.Has(targetID) || !g.Has(sourceID) {
		return false
	}

	visited := map[string]bool{targetID: true}
	frontier := []string{targetID}
	for len(frontier) > 0 {
		n := frontier[0]
		frontier = frontier[1:]
		for _, next := range g.outgoing[n] {
			if next == sourceID {
				return true
			}
			if !visited[next] {
				visited[next] = true
				frontier = append(frontier, next)
			}
		}
	}
	return false
}

// DetectCycle reports whether g contains a directed cycle, using a
// three-colour depth-first search driven by an explicit stack.
func DetectCycle(g *Graph) bool {
	type frame struct {
		node string
		next int
	}

	color := make(map[string]visitState, g.Len())
	for _, start := range g.nodes {
		if color[start] != white {
			continue
		}
		color[start] = gray
		stack := []frame{{node: start}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			succ := g.outgoing[top.node]
			if top.next < len(succ) {
				n := succ[top.next]
				top.next++
				switch color[n] {
				case gray:
					return true
				case white:
					color[n] = gray
					stack = append(stack, frame{node: n})
				}
				continue
			}
			color[top.node] = black
			stack = stack[:len(stack)-1]
		}
	}
	return false
}

// ComputeLevels assigns each node its topological level: 0 for roots,
// otherwise one more than the deepest predecessor.
//
// A predecessor met while it is still being computed (only possible on
// cyclic input) counts as level 0 instead of recursing forever.
func ComputeLevels(g *Graph) map[string]int {
	type frame struct {
		node  string
		next  int
		level int
	}

	levels := make(map[string]int, g.Len())
	state := make(map[string]visitState, g.Len())

	for _, start := range g.nodes {
		if state[start] == black {
			continue
		}
		state[start] = gray
		stack := []frame{{node: start}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			preds := g.incoming[top.node]
			if top.next < len(preds) {
				p := preds[top.next]
				switch state[p] {
				case black:
					top.level = max(top.level, levels[p]+1)
					top.next++
				case gray:
					top.level = max(top.level, 1)
					top.next++
				default:
					// revisit p once it is finished
					state[p] = gray
					stack = append(stack, frame{node: p})
				}
				continue
			}
			levels[top.node] = top.level
			state[top.node] = black
			stack = stack[:len(stack)-1]
		}
	}
	return levels
}

// ValidationReport is the outcome of ValidateGraph.
type ValidationReport struct {
	Valid     bool     `json:"valid"`
	HasCycle  bool     `json:"hasCycle"`
	Errors    []string `json:"errors"`
	Roots     []string `json:"roots"`
	Terminals []string `json:"terminals"`
}

// Err returns the report as a validation error, or nil when valid.
func (r ValidationReport) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("invalid graph: %s", strings.Join(r.Errors, "; "))
}

// ValidateGraph checks acyclicity and that a non-empty graph has at least
// one entry node and one exit node.
func ValidateGraph(g *Graph) ValidationReport {
	report := ValidationReport{
		Errors:    []string{},
		Roots:     g.Roots(),
		Terminals: g.Terminals(),
	}
	if g.Len() == 0 {
		report.Valid = true
		return report
	}

	if DetectCycle(g) {
		report.HasCycle = true
		report.Errors = append(report.Errors, "graph contains a cycle")
	}
	if len(report.Roots) == 0 {
		report.Errors = append(report.Errors, "graph has no entry agent: every active agent has an incoming connection")
	}
	if len(report.Terminals) == 0 {
		report.Errors = append(report.Errors, "graph has no final agent: every active agent has an outgoing connection")
	}

	report.Valid = len(report.Errors) == 0
	return report
}
