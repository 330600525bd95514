// Package memory provides an in-process implementation of store.Store.
//
// Each job's events live in a slice ordered by arrival, trimmed to N on
// every append. Expired entries are skipped by reads and removed by
// [Store.Sweep], which a janitor calls periodically.
package memory
