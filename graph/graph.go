package graph

import "context"

// End is the reserved target name that terminates a path. A node whose
// only outgoing edge leads to End is a terminal node.
const End = "END"

// StepFunc is a user-supplied step body. It receives a private copy of
// the current state and returns a partial update with only the fields
// it wants to change. Side effects outside the state are the caller's
// concern.
type StepFunc func(ctx context.Context, state State) (State, error)

// RouteFunc decides where a conditional edge goes. It must return one
// of the edge's declared candidate targets (or End, if declared).
type RouteFunc func(ctx context.Context, state State) string

type node struct {
	name      string
	desc      string
	step      StepFunc
	interrupt bool
	writes    []string // declared write set, used for compile-time conflict checks
}

type conditionalEdge struct {
	from       string
	route      RouteFunc
	candidates []string
}

// Graph accumulates nodes and edges before compilation. It is not safe
// for concurrent use; build it fully, then Compile.
type Graph struct {
	nodes      map[string]*node
	order      []string // insertion order, for stable validation output
	edges      map[string][]string
	conds      map[string]*conditionalEdge
	entryPoint string
	schema     *Schema
}

// New creates an empty workflow graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
		edges: make(map[string][]string),
		conds: make(map[string]*conditionalEdge),
	}
}

// AddNode registers a named step. Re-adding a name replaces the
// previous step body.
func (g *Graph) AddNode(name, description string, step StepFunc) *Graph {
	if _, ok := g.nodes[name]; !ok {
		g.order = append(g.order, name)
	}
	g.nodes[name] = &node{name: name, desc: description, step: step}
	return g
}

// AddEdge declares an unconditional transition. Declaring several
// edges from the same source makes it a fan-out: all targets execute
// concurrently in the next step.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge declares a routing function for a node together
// with the complete set of targets it may return.
func (g *Graph) AddConditionalEdge(from string, route RouteFunc, candidates ...string) *Graph {
	g.conds[from] = &conditionalEdge{from: from, route: route, candidates: candidates}
	return g
}

// SetEntryPoint declares the start node.
func (g *Graph) SetEntryPoint(name string) *Graph {
	g.entryPoint = name
	return g
}

// SetSchema declares the merge policy for the graph's state. Without a
// schema every field overwrites, and concurrent writes to one field
// are conflicts.
func (g *Graph) SetSchema(s *Schema) *Graph {
	g.schema = s
	return g
}

// MarkInterrupt flags a node as requiring external input. When the
// node enters the frontier the run suspends with status Interrupted
// instead of executing it; Resume continues from exactly that point.
func (g *Graph) MarkInterrupt(name string) *Graph {
	if n, ok := g.nodes[name]; ok {
		n.interrupt = true
	}
	return g
}

// DeclareWrites records the set of state fields a node writes. It is
// optional; when two fan-out siblings both declare a field that has no
// reducer, Compile rejects the graph instead of deferring the conflict
// to runtime.
func (g *Graph) DeclareWrites(name string, fields ...string) *Graph {
	if n, ok := g.nodes[name]; ok {
		n.writes = fields
	}
	return g
}
