// Package config loads forgecli configuration from environment variables
// (FORGE_ prefix) overlaid on an optional YAML file, and resolves the
// license, cache and key paths the entitlement core depends on.
package config
