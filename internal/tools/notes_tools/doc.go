// Package notes_tools provides MCP (Model Context Protocol) tools over
// the notes database: notes_search (full-text search across all
// transcripts), notes_list_meetings, notes_get_meeting, and
// notes_set_summary.
package notes_tools
