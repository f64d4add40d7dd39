// Package engine executes validated tool-call plans against registered tool
// providers. It schedules calls according to the plan's declared strategy,
// substitutes earlier results into later parameters through an
// execution-scoped variable store, and aggregates per-call outcomes into a
// single strategy-aware result.
package engine
