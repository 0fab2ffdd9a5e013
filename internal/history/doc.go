// Package history persists Miniserver state events to a local SQLite
// database.
//
// Every state change the bridge observes, whether from the event stream
// or an explicit state read, can be recorded as one row. This gives a
// local audit trail that survives restarts and works without the
// time-series database.
//
// The schema is created on open; there is no external migration step.
// Retention is enforced by Prune, typically run at startup.
package history
