// Package plan defines the execution-plan data model consumed by the engine:
// ordered tool calls with literal or variable-reference parameters, explicit
// and implicit dependencies, and the validation that guards execution.
package plan
