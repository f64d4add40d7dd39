// Package config provides centralized configuration management for the
// ToolFlow runtime. Configuration is loaded from a JSON file and completed
// with sensible defaults, covering the API server, run storage, queue
// backends, engine timeouts, provider definitions and logging.
package config
