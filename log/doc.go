// Package log defines the small logging interface used across flowgraph,
// a stderr-backed default implementation, and an adapter for
// github.com/kataras/golog.
package log
