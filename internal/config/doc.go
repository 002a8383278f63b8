// Package config loads, normalizes, and validates EncodeTalker configuration.
//
// It supplies repository defaults, expands user paths (tilde shortcuts and
// $VAR references), reads TOML files, and derives the data-directory layout
// (socket, state snapshot, archive, logs, dependency binaries) from a single
// data_dir setting. The Config type centralizes every knob the daemon and CLI
// need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
