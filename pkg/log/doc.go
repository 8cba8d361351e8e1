// Package log provides structured logging for the sync agent, backed by
// zerolog. Call Init once at startup, then use the package helpers or
// WithComponent to derive component-scoped child loggers.
package log
