package handlers

import (
	"context"

	"go.uber.org/zap"

	"appraisal-backend/internal/domain/events"
)

// defaultAuditTypes is the allow-list of events worth an audit line:
// valuation lifecycle, appraisal request lifecycle, and bulk jobs.
var defaultAuditTypes = []events.Type{
	events.TypeValuationCreated,
	events.TypeValuationUpdated,
	events.TypeValuationExpired,
	events.TypeRequestCreated,
	events.TypeRequestCompleted,
	events.TypeRequestFailed,
	events.TypeBulkStarted,
	events.TypeBulkCompleted,
}

// AuditLogger writes one structured log line per allow-listed event. It
// offers no persistence beyond the logging sink; it exists so operators
// can reconstruct what happened from the log stream alone.
type AuditLogger struct {
	logger *zap.Logger
	types  []events.Type
}

// NewAuditLogger creates the audit handler. Passing no types selects the
// default allow-list.
func NewAuditLogger(logger *zap.Logger, types ...events.Type) *AuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(types) == 0 {
		types = defaultAuditTypes
	}
	return &AuditLogger{logger: logger, types: types}
}

func (h *AuditLogger) Name() string { return "audit-log" }

func (h *AuditLogger) EventTypes() []events.Type {
	out := make([]events.Type, len(h.types))
	copy(out, h.types)
	return out
}

func (h *AuditLogger) Handle(_ context.Context, event events.Event) error {
	h.logger.Info("audit",
		zap.String("eventID", event.ID),
		zap.String("eventType", string(event.Type)),
		zap.String("source", event.Source),
		zap.String("itemID", event.ItemID),
		zap.String("userID", event.UserID),
		zap.Time("occurredAt", event.Timestamp),
		zap.Any("data", event.Data),
	)
	return nil
}
