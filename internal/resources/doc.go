// Package resources provides MCP resources for observing meetnotes
// state. Resources are read-only data sources that MCP clients can
// fetch without invoking tools: the scheduler status and the most
// recently recorded meetings.
package resources
