// Package obs holds the ambient observability concerns shared by every
// component: structured logging setup and tick/request correlation
// ids. Metrics live next to the component that owns them
// (internal/scheduler, internal/storegw, internal/httpapi) since each
// registers its own gauges/counters against the default Prometheus
// registry.
package obs

import (
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// NewLogger builds the process-wide structured logger. Text handler in
// development, JSON in anything that looks like production, mirroring
// the level of ceremony the teacher repo's own entrypoint applies to
// startup logging.
func NewLogger(jsonOutput bool) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if jsonOutput {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// CorrelationID returns a fresh id to tag one tick, one long-poll
// cycle, or one HTTP request's log lines with, so a single slice of
// `grep correlation_id=...` reconstructs everything that happened for
// it across components.
func CorrelationID() string {
	return uuid.NewString()
}
