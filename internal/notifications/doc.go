// Package notifications delivers device events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Events cover the moments an operator must act on: a camera that
// needs a manual restart, a camera that came back, and a shutdown that had to
// force stuck workers.
package notifications
