// Package config loads application configuration from environment
// variables, with an optional YAML overlay for rate limit settings
// that hot-reloads on file change.
package config
