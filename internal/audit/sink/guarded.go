package sink

import (
	"context"
	"log/slog"

	"signlink/internal/audit"
	"signlink/pkg/platform/circuit"
)

// Guarded skips a failing sink while its breaker is open. The entry is
// already persisted, so a skipped publish only loses the mirror copy.
type Guarded struct {
	next    audit.Sink
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewGuarded(next audit.Sink, breaker *circuit.Breaker, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{next: next, breaker: breaker, logger: logger}
}

func (g *Guarded) Publish(ctx context.Context, entry audit.Entry) error {
	if !g.breaker.Allow() {
		return nil
	}
	if err := g.next.Publish(ctx, entry); err != nil {
		if _, change := g.breaker.RecordFailure(); change.Opened {
			g.logger.WarnContext(ctx, "audit mirror disabled after repeated failures",
				"sink", g.breaker.Name(),
				"error", err,
			)
		}
		return err
	}
	if _, change := g.breaker.RecordSuccess(); change.Closed {
		g.logger.InfoContext(ctx, "audit mirror recovered", "sink", g.breaker.Name())
	}
	return nil
}
