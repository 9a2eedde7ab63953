package workflow

// Edge is a directed dependency From -> To.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is an immutable adjacency view built once per validation or
// compile call. It is safe for concurrent readers.
type Graph struct {
	nodes    []string
	index    map[string]int
	outgoing map[string][]string
	incoming map[string][]string
	edges    int
}

// NewGraph builds a graph over nodes. Edges touching unknown nodes and
// duplicate edges are dropped; node order is preserved.
func NewGraph(nodes []string, edges []Edge) *Graph {
	g := &Graph{
		nodes:    make([]string, 0, len(nodes)),
		index:    make(map[string]int, len(nodes)),
		outgoing: make(map[string][]string, len(nodes)),
		incoming: make(map[string][]string, len(nodes)),
	}
	for _, n := range nodes {
		if _, dup := g.index[n]; dup {
			continue
		}
		g.index[n] = len(g.nodes)
		g.nodes = append(g.nodes, n)
	}

	seen := make(map[Edge]struct{}, len(edges))
	for _, e := range edges {
		if !g.Has(e.From) || !g.Has(e.To) {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		g.outgoing[e.From] = append(g.outgoing[e.From], e.To)
		g.incoming[e.To] = append(g.incoming[e.To], e.From)
		g.edges++
	}
	return g
}

// NewGraphFromEdges builds a graph whose node set is every edge endpoint.
func NewGraphFromEdges(edges []Edge) *Graph {
	nodes := make([]string, 0, len(edges)*2)
	for _, e := range edges {
		nodes = append(nodes, e.From, e.To)
	}
	return NewGraph(nodes, edges)
}

// Nodes returns the node ids in insertion order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// EdgeCount returns the number of distinct edges.
func (g *Graph) EdgeCount() int { return g.edges }

// Has reports whether id is a node.
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Successors returns the direct successors of id.
func (g *Graph) Successors(id string) []string {
	return append([]string(nil), g.outgoing[id]...)
}

// Predecessors returns the direct predecessors of id.
func (g *Graph) Predecessors(id string) []string {
	return append([]string(nil), g.incoming[id]...)
}

// Roots returns nodes with no incoming edge.
func (g *Graph) Roots() []string {
	var roots []string
	for _, n := range g.nodes {
		if len(g.incoming[n]) == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}

// Terminals returns nodes with no outgoing edge.
func (g *Graph) Terminals() []string {
	var out []string
	for _, n := range g.nodes {
		if len(g.outgoing[n]) == 0 {
			out = append(out, n)
		}
	}
	return out
}
