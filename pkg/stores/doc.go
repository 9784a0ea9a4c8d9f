// Package stores provides the persistence layer of the deployment engine.
// SQLiteStore keeps step and deployment variables, the append-only step
// event log and one bookkeeping row per deployment in SQLite, with schema
// migrations embedded in the binary.
package stores
