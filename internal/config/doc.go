// Package config loads, normalizes, and validates courier configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the COURIER_SERVICE_URL
// environment fallback. The account data directory lives here and nowhere
// else: the daemon threads it into the account registry once at startup.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical log formats, and clear validation errors.
package config
