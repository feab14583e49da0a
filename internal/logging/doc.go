// Package logging provides slog attribute helpers and canonical
// attribute keys so that log output stays consistent across the
// scheduler, bot manager, and session components.
//
// Components receive a *slog.Logger at construction time and derive
// scoped loggers with the With* helpers:
//
//	log := logging.WithComponent(logger, "scheduler")
//	log.Info("meeting approved", logging.Meeting(code))
package logging
