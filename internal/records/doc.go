// Package records persists one encrypted fact record per user. Backends are
// an in-memory map, an embedded BadgerDB, and Postgres with embedded goose
// migrations; Open selects one by driver name.
package records
