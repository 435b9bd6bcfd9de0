package graph

import (
	"fmt"
	"sort"
)

// endIndex is the sentinel target index for End.
const endIndex = -1

// CompiledGraph is the validated, immutable form of a Graph. Node
// names are interned into an index table so the engine works on
// integers; the original names survive only for routing lookups,
// checkpoints, and error messages. A CompiledGraph is safe to share
// across concurrent runs.
type CompiledGraph struct {
	names  []string       // index -> name
	index  map[string]int // name -> index
	nodes  []*node        // index -> node, same order as names
	static [][]int        // index -> unconditional targets (endIndex for End)
	conds  []*conditionalEdge
	cyclic []bool // index -> participates in a cycle
	entry  int
	schema *Schema
}

// Compile validates the graph and returns its immutable compiled form.
// Checks run in order: edge references, entry point, terminal
// reachability, terminal exclusivity, and conditional-edge shape.
// Cycles are permitted; each node's cycle participation is recorded so
// the engine knows where the iteration ceiling applies. Fan-out
// siblings with declared write sets are checked for merge conflicts
// here rather than at runtime.
func (g *Graph) Compile() (*CompiledGraph, error) {
	if len(g.nodes) == 0 {
		return nil, &ValidationError{Check: "nodes", Detail: "graph has no nodes"}
	}

	cg := &CompiledGraph{
		names:  append([]string(nil), g.order...),
		index:  make(map[string]int, len(g.order)),
		schema: g.schema,
	}
	for i, name := range cg.names {
		cg.index[name] = i
		cg.nodes = append(cg.nodes, g.nodes[name])
	}

	if err := cg.resolveEdges(g); err != nil {
		return nil, err
	}
	if err := cg.resolveEntry(g); err != nil {
		return nil, err
	}
	if err := cg.checkTerminals(); err != nil {
		return nil, err
	}
	if err := cg.checkReachability(); err != nil {
		return nil, err
	}
	if err := cg.checkWriteConflicts(); err != nil {
		return nil, err
	}
	cg.markCycles()
	return cg, nil
}

// resolveEdges interns edge targets and rejects references to
// undeclared nodes. A node may carry static edges or a conditional
// edge, not both.
func (cg *CompiledGraph) resolveEdges(g *Graph) error {
	cg.static = make([][]int, len(cg.names))
	cg.conds = make([]*conditionalEdge, len(cg.names))

	for from, targets := range g.edges {
		src, ok := cg.index[from]
		if !ok {
			return &ValidationError{Check: "edges", Detail: fmt.Sprintf("edge from undeclared node %q", from)}
		}
		for _, to := range targets {
			if to == End {
				cg.static[src] = append(cg.static[src], endIndex)
				continue
			}
			dst, ok := cg.index[to]
			if !ok {
				return &ValidationError{Check: "edges", Detail: fmt.Sprintf("edge %s -> %s references undeclared node", from, to)}
			}
			cg.static[src] = append(cg.static[src], dst)
		}
		sort.Ints(cg.static[src])
	}

	for from, ce := range g.conds {
		src, ok := cg.index[from]
		if !ok {
			return &ValidationError{Check: "edges", Detail: fmt.Sprintf("conditional edge from undeclared node %q", from)}
		}
		if len(cg.static[src]) > 0 {
			return &ValidationError{Check: "edges", Detail: fmt.Sprintf("node %s has both static and conditional edges", from)}
		}
		if ce.route == nil {
			return &ValidationError{Check: "edges", Detail: fmt.Sprintf("conditional edge of node %s has no routing function", from)}
		}
		if len(ce.candidates) == 0 {
			return &ValidationError{Check: "edges", Detail: fmt.Sprintf("conditional edge of node %s declares no candidate targets", from)}
		}
		for _, cand := range ce.candidates {
			if cand == End {
				continue
			}
			if _, ok := cg.index[cand]; !ok {
				return &ValidationError{Check: "edges", Detail: fmt.Sprintf("conditional edge of node %s names undeclared candidate %q", from, cand)}
			}
		}
		cg.conds[src] = ce
	}

	// Terminal End edges must stand alone: mixing End with other
	// static targets would make the node both terminal and branching.
	for i, targets := range cg.static {
		hasEnd := false
		for _, t := range targets {
			if t == endIndex {
				hasEnd = true
			}
		}
		if hasEnd && len(targets) > 1 {
			return &ValidationError{Check: "terminal", Detail: fmt.Sprintf("node %s mixes an END edge with other outgoing edges", cg.names[i])}
		}
	}
	return nil
}

func (cg *CompiledGraph) resolveEntry(g *Graph) error {
	if g.entryPoint == "" {
		return &ValidationError{Check: "entry", Detail: "no entry point set"}
	}
	entry, ok := cg.index[g.entryPoint]
	if !ok {
		return &ValidationError{Check: "entry", Detail: fmt.Sprintf("entry point %q is not a declared node", g.entryPoint)}
	}
	cg.entry = entry
	return nil
}

// checkTerminals verifies every node has a way forward and at least
// one path reaches End.
func (cg *CompiledGraph) checkTerminals() error {
	haveTerminal := false
	for i := range cg.names {
		hasStatic := len(cg.static[i]) > 0
		hasCond := cg.conds[i] != nil
		if !hasStatic && !hasCond {
			return &ValidationError{Check: "terminal", Detail: fmt.Sprintf("node %s has no outgoing edges; route it to END to make it terminal", cg.names[i])}
		}
		if cg.isTerminal(i) {
			haveTerminal = true
			continue
		}
		if hasCond {
			for _, cand := range cg.conds[i].candidates {
				if cand == End {
					haveTerminal = true
				}
			}
		}
	}
	if !haveTerminal {
		return &ValidationError{Check: "terminal", Detail: "no node can reach END"}
	}
	return nil
}

// isTerminal reports whether the node's only transition is to End.
func (cg *CompiledGraph) isTerminal(i int) bool {
	return len(cg.static[i]) == 1 && cg.static[i][0] == endIndex
}

// checkReachability walks from the entry point and rejects orphans.
func (cg *CompiledGraph) checkReachability() error {
	seen := make([]bool, len(cg.names))
	queue := []int{cg.entry}
	seen[cg.entry] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range cg.successors(cur) {
			if next == endIndex || seen[next] {
				continue
			}
			seen[next] = true
			queue = append(queue, next)
		}
	}
	for i, ok := range seen {
		if !ok {
			return &ValidationError{Check: "reachability", Detail: fmt.Sprintf("node %s is not reachable from entry point %s", cg.names[i], cg.names[cg.entry])}
		}
	}
	return nil
}

// successors returns every index a node can transition to, treating a
// conditional edge as able to fire any of its candidates.
func (cg *CompiledGraph) successors(i int) []int {
	if ce := cg.conds[i]; ce != nil {
		out := make([]int, 0, len(ce.candidates))
		for _, cand := range ce.candidates {
			if cand == End {
				out = append(out, endIndex)
				continue
			}
			out = append(out, cg.index[cand])
		}
		return out
	}
	return cg.static[i]
}

// checkWriteConflicts rejects fan-out siblings whose declared write
// sets overlap on a field with no reducer. Nodes without a declared
// write set are checked at runtime instead.
func (cg *CompiledGraph) checkWriteConflicts() error {
	for src := range cg.names {
		targets := cg.static[src]
		if len(targets) < 2 {
			continue
		}
		writers := make(map[string][]string)
		for _, t := range targets {
			if t == endIndex {
				continue
			}
			for _, field := range cg.nodes[t].writes {
				writers[field] = append(writers[field], cg.names[t])
			}
		}
		fields := make([]string, 0, len(writers))
		for f := range writers {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			if len(writers[f]) > 1 && !cg.schema.has(f) {
				conflict := &MergeConflictError{Field: f, Nodes: writers[f]}
				return &ValidationError{Check: "merge", Detail: conflict.Error()}
			}
		}
	}
	return nil
}

// markCycles records, per node, whether any path leads back to itself.
// The engine applies the iteration ceiling only to cyclic nodes.
func (cg *CompiledGraph) markCycles() {
	cg.cyclic = make([]bool, len(cg.names))
	for start := range cg.names {
		seen := make([]bool, len(cg.names))
		queue := append([]int(nil), cg.successors(start)...)
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if cur == endIndex || seen[cur] {
				continue
			}
			if cur == start {
				cg.cyclic[start] = true
				break
			}
			seen[cur] = true
			queue = append(queue, cg.successors(cur)...)
		}
	}
}

// Nodes returns the node names in declaration order.
func (cg *CompiledGraph) Nodes() []string {
	return append([]string(nil), cg.names...)
}

// EntryPoint returns the start node's name.
func (cg *CompiledGraph) EntryPoint() string {
	return cg.names[cg.entry]
}

// Cyclic reports whether the named node participates in a cycle.
func (cg *CompiledGraph) Cyclic(name string) bool {
	i, ok := cg.index[name]
	return ok && cg.cyclic[i]
}
