// Package model defines the domain types shared across the sync engine:
// entity families and their sub-records (details, counts, relationships,
// tags), composite post identifiers, and stream kinds with their cursor
// modes.
//
// Types here are plain values with no behavior beyond parsing and
// rendering. All cross-component communication uses these types; no
// component exposes its internal maps.
package model
