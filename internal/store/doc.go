// Package store defines interfaces for persistence dependencies (run-state
// flags and the primary catalog store). Implementations live in other
// packages; this package must not import database drivers or concrete clients.
package store
