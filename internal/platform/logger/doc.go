// Package logger provides structured logging for the service.
//
// It builds a log/slog JSON logger from configuration and carries
// request or job scoped loggers through a context.Context.
package logger
