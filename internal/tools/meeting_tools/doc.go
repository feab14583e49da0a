// Package meeting_tools provides MCP (Model Context Protocol) tools
// for direct session control, bypassing the scheduler: sessions_list,
// meeting_join_url, and meeting_leave.
//
// Meetings joined by URL are recorded in the notes database under the
// synthetic calendar id "manual".
package meeting_tools
