package server

import (
	"context"
	"sync"

	"github.com/teemow/meetnotes/internal/instrumentation"
	"github.com/teemow/meetnotes/internal/manager"
	"github.com/teemow/meetnotes/internal/scheduler"
	"github.com/teemow/meetnotes/internal/store"
)

// AppContext holds the shared dependencies for the MCP server and daemon.
type AppContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	store     *store.Store
	manager   *manager.Manager
	scheduler *scheduler.Scheduler
	metrics   *instrumentation.Metrics
	audit     *instrumentation.AuditLogger

	mu       sync.RWMutex
	shutdown bool
}

// NewAppContext creates a new application context wrapping the given
// dependencies. Any of them may be nil when the corresponding subsystem
// is not running (e.g. no scheduler in one-shot join mode).
func NewAppContext(ctx context.Context, st *store.Store, mgr *manager.Manager, sched *scheduler.Scheduler) *AppContext {
	shutdownCtx, cancel := context.WithCancel(ctx)

	return &AppContext{
		ctx:       shutdownCtx,
		cancel:    cancel,
		store:     st,
		manager:   mgr,
		scheduler: sched,
	}
}

// Context returns the application context.
func (ac *AppContext) Context() context.Context {
	return ac.ctx
}

// Store returns the notes database.
func (ac *AppContext) Store() *store.Store {
	return ac.store
}

// Manager returns the session manager.
func (ac *AppContext) Manager() *manager.Manager {
	return ac.manager
}

// Scheduler returns the meeting scheduler, or nil when not running.
func (ac *AppContext) Scheduler() *scheduler.Scheduler {
	return ac.scheduler
}

// Metrics returns the metrics recorder, or nil when instrumentation is off.
func (ac *AppContext) Metrics() *instrumentation.Metrics {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.metrics
}

// SetMetrics wires the metrics recorder after instrumentation init.
func (ac *AppContext) SetMetrics(m *instrumentation.Metrics) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.metrics = m
}

// AuditLogger returns the audit logger, or nil when audit logging is off.
func (ac *AppContext) AuditLogger() *instrumentation.AuditLogger {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.audit
}

// SetAuditLogger wires the audit logger after instrumentation init.
func (ac *AppContext) SetAuditLogger(al *instrumentation.AuditLogger) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.audit = al
}

// IsShutdown returns whether the application has been shut down.
func (ac *AppContext) IsShutdown() bool {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.shutdown
}

// Shutdown cancels the application context. Idempotent.
func (ac *AppContext) Shutdown() error {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if ac.shutdown {
		return nil
	}

	ac.shutdown = true
	ac.cancel()
	return nil
}
