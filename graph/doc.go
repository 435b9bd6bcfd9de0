// Package graph provides a stateful workflow engine: a directed graph
// of named steps executed over a shared, evolving state map.
//
// A workflow is built with New, validated with Compile, and executed
// by an Engine. Steps run over a frontier: every node in the frontier
// executes concurrently, their partial updates are merged
// deterministically through the graph's schema, and the engine
// resolves the next frontier from the graph's edges. Cycles are
// allowed and guarded by a per-node iteration ceiling. Nodes marked
// as interrupt points suspend the run so a caller can inspect the
// state, amend it, and resume.
//
// Every completed step is checkpointed through a store.Store, which
// makes runs resumable after interruption or a process crash.
package graph
