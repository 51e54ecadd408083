package application

import (
	"shopify-catalog-mirror/internal/domain"
	"shopify-catalog-mirror/internal/ports"

	"github.com/rs/zerolog"
)

// LogObserver writes sync transitions to the log
type LogObserver struct {
	logger zerolog.Logger
}

var _ ports.SyncObserver = (*LogObserver)(nil)

// NewLogObserver creates an observer logging to logger
func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) OnTransition(event domain.SyncEvent) {
	var e *zerolog.Event
	switch event.To {
	case domain.SyncStateFailed:
		e = o.logger.Error().
			Str("errorKind", string(event.Run.ErrorKind)).
			Str("error", event.Run.LastError)
	case domain.SyncStateCompleted, domain.SyncStateAuthenticating:
		e = o.logger.Info()
	default:
		e = o.logger.Debug()
	}
	e = e.Str("shop", event.TenantID).
		Str("runId", event.RunID).
		Str("from", string(event.From)).
		Str("to", string(event.To)).
		Int("pages", event.Run.Pages)
	if event.Run.Cursor != nil {
		e = e.Str("cursor", *event.Run.Cursor)
	}
	e.Msg("Sync state changed")
}

func (o *LogObserver) OnPageCommitted(run domain.SyncRun, stats domain.PageStats) {
	o.logger.Info().
		Str("shop", run.TenantID).
		Str("runId", run.ID).
		Int("page", run.Pages).
		Int("products", stats.Products).
		Int("variants", stats.Variants).
		Int("attempts", stats.Attempts).
		Dur("duration", stats.Duration).
		Msg("Sync page committed")
}
