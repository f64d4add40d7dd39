// Package api exposes the REST surface of the ToolFlow daemon: submitting
// execution plans as queued runs, polling run state, synchronous plan
// execution, tool discovery and Prometheus metrics.
package api
