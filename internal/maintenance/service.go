// Package maintenance purges expired data, repairs corrupted audit rows and
// reconciles the denormalized used flag on links.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"signlink/internal/audit"
	linkmodels "signlink/internal/links/models"
	"signlink/internal/platform/metrics"
	dErrors "signlink/pkg/domain-errors"
	"signlink/pkg/requestcontext"
)

// reconcileBatch is the page size of the unused-link scan.
const reconcileBatch = 1000

type Links interface {
	DeleteExpired(ctx context.Context, grace time.Duration) (int64, error)
	CountExpired(ctx context.Context, grace time.Duration) (int64, error)
	ListUnused(ctx context.Context, afterID string, limit int) ([]*linkmodels.SecureLink, error)
	MarkUsed(ctx context.Context, id string) error
}

type Contracts interface {
	ExistsForLink(ctx context.Context, linkID string) (bool, error)
}

type AuditStore interface {
	CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteCorrupted(ctx context.Context) (int64, error)
	RepairCorrupted(ctx context.Context) (int64, error)
}

type Auditor interface {
	Record(ctx context.Context, ev audit.Event)
}

// Options controls one cleanup run.
type Options struct {
	LinkGrace      time.Duration
	AuditRetention time.Duration
	// DryRun counts what would change without touching any row.
	DryRun bool
}

type CleanupResult struct {
	Success         bool  `json:"success"`
	DryRun          bool  `json:"dryRun"`
	DeletedLinks    int64 `json:"deletedLinks"`
	DeletedLogs     int64 `json:"deletedLogs"`
	ReconciledLinks int64 `json:"reconciledLinks"`
}

type AuditCleanupResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	DeletedCount   int64  `json:"deletedCount"`
	CorrectedCount int64  `json:"correctedCount"`
	TotalProcessed int64  `json:"totalProcessed"`
}

type Service struct {
	links     Links
	contracts Contracts
	audit     AuditStore
	auditor   Auditor
	defaults  Options
	logger    *slog.Logger
	metrics   *metrics.Metrics
	batch     int
}

func New(links Links, contracts Contracts, auditStore AuditStore, auditor Auditor, defaults Options, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		links:     links,
		contracts: contracts,
		audit:     auditStore,
		auditor:   auditor,
		defaults:  defaults,
		logger:    logger,
		metrics:   m,
		batch:     reconcileBatch,
	}
}

// Defaults returns the configured retention policy.
func (s *Service) Defaults() Options {
	return s.defaults
}

// Cleanup reconciles used flags, then purges old links and audit rows.
// Safe to re-run.
func (s *Service) Cleanup(ctx context.Context, opts Options) (*CleanupResult, error) {
	if opts.LinkGrace <= 0 {
		opts.LinkGrace = s.defaults.LinkGrace
	}
	if opts.AuditRetention <= 0 {
		opts.AuditRetention = s.defaults.AuditRetention
	}
	res := &CleanupResult{DryRun: opts.DryRun}

	reconciled, err := s.reconcile(ctx, opts.DryRun)
	if err != nil {
		return nil, err
	}
	res.ReconciledLinks = reconciled

	cutoff := requestcontext.Now(ctx).UTC().Add(-opts.AuditRetention)
	if opts.DryRun {
		if res.DeletedLinks, err = s.links.CountExpired(ctx, opts.LinkGrace); err != nil {
			return nil, err
		}
		if res.DeletedLogs, err = s.audit.CountOlderThan(ctx, cutoff); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count audit logs")
		}
		res.Success = true
		return res, nil
	}

	if res.DeletedLinks, err = s.links.DeleteExpired(ctx, opts.LinkGrace); err != nil {
		return nil, err
	}
	if res.DeletedLogs, err = s.audit.PurgeOlderThan(ctx, cutoff); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to purge audit logs")
	}
	res.Success = true

	s.metrics.AddMaintenance("links", res.DeletedLinks)
	s.metrics.AddMaintenance("audit_logs", res.DeletedLogs)
	s.metrics.AddMaintenance("reconciled", res.ReconciledLinks)
	s.auditor.Record(ctx, audit.Event{
		Action: audit.ActionDatabaseCleanup,
		Details: map[string]any{
			"deletedLinks":    res.DeletedLinks,
			"deletedLogs":     res.DeletedLogs,
			"reconciledLinks": res.ReconciledLinks,
		},
	})
	s.logger.InfoContext(ctx, "database cleanup finished",
		"deleted_links", res.DeletedLinks,
		"deleted_logs", res.DeletedLogs,
		"reconciled_links", res.ReconciledLinks,
	)
	return res, nil
}

// reconcile flips used=false on links that already have a signed contract.
// The contract is authoritative.
func (s *Service) reconcile(ctx context.Context, dryRun bool) (int64, error) {
	var (
		n     int64
		after string
	)
	for {
		candidates, err := s.links.ListUnused(ctx, after, s.batch)
		if err != nil {
			return n, err
		}
		for _, link := range candidates {
			signed, err := s.contracts.ExistsForLink(ctx, link.ID)
			if err != nil {
				return n, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check contract")
			}
			if !signed {
				continue
			}
			if !dryRun {
				if err := s.links.MarkUsed(ctx, link.ID); err != nil {
					return n, err
				}
				s.logger.InfoContext(ctx, "reconciled used flag", "link_id", link.ID)
			}
			n++
		}
		if len(candidates) < s.batch {
			return n, nil
		}
		after = candidates[len(candidates)-1].ID
	}
}

// CleanupAuditLogs deletes unreadable audit rows and nulls the details of
// rows holding malformed JSON.
func (s *Service) CleanupAuditLogs(ctx context.Context) (*AuditCleanupResult, error) {
	deleted, err := s.audit.DeleteCorrupted(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "Failed to cleanup audit logs")
	}
	corrected, err := s.audit.RepairCorrupted(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "Failed to cleanup audit logs")
	}

	res := &AuditCleanupResult{
		Success:        true,
		Message:        "Audit logs cleanup completed",
		DeletedCount:   deleted,
		CorrectedCount: corrected,
		TotalProcessed: deleted + corrected,
	}
	s.metrics.AddMaintenance("audit_corrupted_deleted", deleted)
	s.metrics.AddMaintenance("audit_corrupted_repaired", corrected)
	s.auditor.Record(ctx, audit.Event{
		Action:  audit.ActionAuditLogsCleaned,
		Details: map[string]any{"deletedCount": deleted, "correctedCount": corrected},
	})
	return res, nil
}
