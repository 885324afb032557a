// Package cmd implements the command-line interface for the mKV key-value
// store. It provides commands for running the server and for talking to it
// as a client.
//
// The package is organized into several subpackages:
//
//   - kv: Client commands (get, set, demo, perf)
//   - serve: Starts and configures the mKV server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See mkv -help for a list of all commands.
package cmd
