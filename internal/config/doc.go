// Package config loads, normalizes, and validates camrelay configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CAMRELAY_API_TOKEN and CAMRELAY_NATS_URL. The Config type centralizes every
// knob the daemon and CLI need: supervisor timings, relay endpoints, snapshot
// scheduling, retention, and the static camera list.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
