// Package config provides 12-factor configuration for both commands.
//
// Configuration is loaded from environment variables with defaults.
// Command line flags override individual values.
//
// Configuration Sections:
//   - Server: operator HTTP server (port, host)
//   - Backend: execution backend base URL and channel path
//   - Poll, Notify: reconciliation interval and notification TTL
//   - Channel: reconnect backoff and keepalive
//   - Terminal: scrollback, default size, execution mode
//   - Executor: reference backend settings
//   - Logging, RateLimit
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	wsURL, err := cfg.Backend.ChannelURL()
package config
