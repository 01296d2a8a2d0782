package testutil

import "log/slog"

// DiscardLogger returns a slog.Logger that discards all output. log.Logger
// is an alias for *slog.Logger, so this satisfies components taking either.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
