// Package server provides the shared application context and operational
// HTTP endpoints for the meetnotes daemon.
//
// # Key Components
//
// AppContext bundles the subsystems every surface needs: the notes
// database, the session manager, the scheduler, and the metrics recorder.
// MCP tools receive it at registration time; the daemon owns its
// lifecycle and cancels it on shutdown.
//
// HealthChecker serves /healthz and /readyz for liveness and readiness
// probes, reporting not-ready once shutdown has started.
//
// MetricsServer serves Prometheus metrics on a dedicated port, keeping
// operational metrics off the MCP transport.
package server
