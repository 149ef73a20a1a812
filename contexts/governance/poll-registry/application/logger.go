package application

import "log/slog"

// Module is the log attribute value shared by every poll-registry layer.
const Module = "governance/poll-registry"

// ResolveLogger guarantees a non-nil logger for application/worker code paths.
func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
