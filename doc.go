// Package flowgraph provides a stateful workflow graph engine: a small
// runtime that executes a directed graph of steps over a shared, evolving
// state, with support for cycles, conditional routing, concurrent
// branches, durable checkpointing, and suspend/resume for external input.
//
// The engine itself lives in the graph subpackage. Checkpoint persistence
// backends (memory, file, sqlite, postgres, redis) live under store.
// Observability adapters live under metrics (Prometheus) and tracing
// (OpenTelemetry).
//
// A minimal workflow:
//
//	g := graph.New()
//	g.AddNode("greet", "adds a greeting", func(ctx context.Context, s graph.State) (graph.State, error) {
//		return graph.State{"greeting": "hello " + s["name"].(string)}, nil
//	})
//	g.SetEntryPoint("greet")
//	g.AddEdge("greet", graph.End)
//
//	compiled, err := g.Compile()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	engine := graph.NewEngine(compiled, graph.Config{})
//	result, err := engine.Start(context.Background(), graph.State{"name": "world"})
package flowgraph
