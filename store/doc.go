// Package store defines the checkpoint record and the persistence
// interface used by the graph engine. Backends live in subpackages:
// memory (default), file, sqlite, postgres, and redis.
package store
