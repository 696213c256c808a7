package logging

import "log/slog"

// ForRun returns the operational logger bound with a runId field, so every
// log line emitted during a scheduler run can be correlated back to it.
func ForRun(runID string) *slog.Logger {
	return Op().With("run_id", runID)
}

// ForBundle returns a logger bound with runId and bid fields, for use around
// a single bundle's loader/storage lifecycle.
func ForBundle(runID, bid string) *slog.Logger {
	return Op().With("run_id", runID, "bid", bid)
}

// ForLocator returns a logger bound with runId and the locator's id, for use
// while polling or checkpointing a specific locator.
func ForLocator(runID, locatorID string) *slog.Logger {
	return Op().With("run_id", runID, "locator_id", locatorID)
}
