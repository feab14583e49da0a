// Package calendar_tools provides MCP (Model Context Protocol) tools for
// the monitored-calendar registry: calendars_list, calendars_add, and
// calendars_remove.
//
// Calendars drive the scheduler: every enabled calendar is polled for
// upcoming Google Meet events, and its auto-join flag decides whether new
// meetings start out approved or wait for a manual decision.
package calendar_tools
