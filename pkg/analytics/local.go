package analytics

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/opencirc/circ/internal/logger"
	"github.com/opencirc/circ/pkg/models"
)

// LocalSink writes circulation events to the structured log. It is the
// default sink when no external analytics pipeline is configured.
type LocalSink struct{}

// NewLocalSink creates a sink that logs events through the process logger.
func NewLocalSink() *LocalSink {
	return &LocalSink{}
}

func (s *LocalSink) CollectEvent(ctx context.Context, library *models.Library, pool *models.LicensePool, event string, neighborhood string) {
	// Each event gets its own ID so downstream pipelines can deduplicate
	// shipped log lines.
	attrs := []any{
		slog.String("event_id", uuid.NewString()),
		logger.Event(event),
	}
	if library != nil {
		attrs = append(attrs, logger.Library(library.ShortName))
	}
	if pool != nil {
		attrs = append(attrs,
			logger.Identifier(pool.Identifier),
			logger.IdentifierType(pool.IdentifierType),
			logger.DataSource(pool.DataSource),
		)
	}
	if neighborhood != "" {
		attrs = append(attrs, slog.String("neighborhood", neighborhood))
	}

	logger.InfoCtx(ctx, "circulation event", attrs...)
}

// NoopSink discards all events. Used when analytics are disabled.
type NoopSink struct{}

func (NoopSink) CollectEvent(context.Context, *models.Library, *models.LicensePool, string, string) {
}
