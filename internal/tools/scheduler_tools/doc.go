// Package scheduler_tools provides MCP (Model Context Protocol) tools
// for driving the meeting scheduler: meetings_status, meeting_approve,
// meeting_skip, meeting_unapprove, meeting_force_join, and
// meeting_set_mode.
//
// Approve and skip decisions are persisted by meet code, so they
// survive daemon restarts and calendar re-syncs.
package scheduler_tools
