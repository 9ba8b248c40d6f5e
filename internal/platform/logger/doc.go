// Package logger configures the process-wide slog logger (JSON or text,
// level from configuration) and carries request-scoped loggers through
// context.Context so handlers, services and workers log with the same
// trace and user attributes.
package logger
