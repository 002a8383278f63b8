// Package main hosts the EncodeTalker CLI entrypoint and command graph.
//
// The Cobra command tree translates terminal invocations into IPC calls
// against the daemon: job submission, queue and history listings, live event
// streaming and dependency checks. It also launches and stops the daemon and
// scaffolds the configuration file. Configuration resolution and endpoint
// discovery live in commandContext so subcommands stay declarative.
package main
