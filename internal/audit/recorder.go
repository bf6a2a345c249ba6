package audit

import (
	"context"
	"fmt"
	"log/slog"

	"signlink/internal/platform/metrics"
	"signlink/pkg/requestcontext"
)

// Sink mirrors persisted entries somewhere else (for example a Kafka topic).
type Sink interface {
	Publish(ctx context.Context, entry Entry) error
}

// Recorder appends audit entries for domain services. Record never fails the
// caller: persistence errors are logged and counted.
type Recorder struct {
	store   Appender
	sinks   []Sink
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewRecorder(store Appender, logger *slog.Logger, m *metrics.Metrics, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, sinks: sinks, logger: logger, metrics: m}
}

// Record stamps the event with request metadata and persists it.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	// the triggering request may already be cancelled; the entry still has to land
	ctx = context.WithoutCancel(ctx)

	entry := Entry{
		LinkID:    ev.LinkID,
		Action:    ev.Action,
		Details:   Canonicalize(ev.Details),
		IPAddress: requestcontext.ClientIP(ctx),
		UserAgent: requestcontext.UserAgent(ctx),
		CreatedAt: requestcontext.Now(ctx).UTC(),
	}

	if err := r.store.Append(ctx, &entry); err != nil {
		werr := fmt.Errorf("%w: %s: %w", ErrWrite, ev.Action, err)
		r.logger.ErrorContext(ctx, "audit entry dropped",
			"log_type", "audit",
			"action", string(ev.Action),
			"link_id", ev.LinkID,
			"request_id", requestcontext.RequestID(ctx),
			"error", werr,
		)
		r.metrics.IncAuditWriteError()
		return
	}

	r.logger.InfoContext(ctx, string(ev.Action),
		"log_type", "audit",
		"audit_id", entry.ID,
		"link_id", ev.LinkID,
		"request_id", requestcontext.RequestID(ctx),
	)

	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, entry); err != nil {
			r.logger.WarnContext(ctx, "audit sink publish failed",
				"action", string(ev.Action),
				"error", err,
			)
		}
	}
}
