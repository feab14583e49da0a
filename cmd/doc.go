// Package cmd implements the command-line interface for meetnotes.
//
// This package provides the following commands:
//   - serve: Start the MCP server, optionally with the calendar daemon
//   - join: Join a single meeting by URL and capture notes until it ends
//   - auth: Authorize a Google account for calendar access
//   - version: Display version information
//
// The serve command is the default command when no subcommand is
// specified.
package cmd
