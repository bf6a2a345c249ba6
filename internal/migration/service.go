// Package migration moves links from the legacy in-process store into the
// persistent registry.
package migration

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"signlink/internal/audit"
	"signlink/internal/links/models"
	"signlink/internal/migration/legacy"
	dErrors "signlink/pkg/domain-errors"
	"signlink/pkg/requestcontext"
)

// Registry is the persistent side of the migration.
type Registry interface {
	Exists(ctx context.Context, id string) (bool, error)
	Import(ctx context.Context, link *models.SecureLink) error
	Stats(ctx context.Context) (models.Stats, error)
}

type Auditor interface {
	Record(ctx context.Context, ev audit.Event)
}

type StoreCount struct {
	Count   int  `json:"count"`
	HasData bool `json:"hasData"`
}

// Status compares the legacy and persistent stores.
type Status struct {
	Legacy         StoreCount `json:"legacy"`
	Registry       StoreCount `json:"registry"`
	NeedsMigration bool       `json:"needsMigration"`
}

type Presence struct {
	Present bool `json:"present"`
	Count   int  `json:"count"`
}

// Summary reports a migration run.
type Summary struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message"`
	MigratedCount  int      `json:"migratedCount"`
	SkippedCount   int      `json:"skippedCount"`
	ErrorCount     int      `json:"errorCount"`
	TotalProcessed int      `json:"totalProcessed"`
	Errors         []string `json:"errors,omitempty"`
	LegacyCleared  bool     `json:"legacyCleared"`
}

type Service struct {
	legacy   legacy.Store
	registry Registry
	auditor  Auditor
	adminKey string
	logger   *slog.Logger
}

func New(legacyStore legacy.Store, registry Registry, auditor Auditor, adminKey string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{legacy: legacyStore, registry: registry, auditor: auditor, adminKey: adminKey, logger: logger}
}

func (s *Service) HasLegacyData(ctx context.Context) (*Presence, error) {
	n, err := s.legacy.Len(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to inspect legacy store")
	}
	return &Presence{Present: n > 0, Count: n}, nil
}

func (s *Service) Status(ctx context.Context) (*Status, error) {
	presence, err := s.HasLegacyData(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := s.registry.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Legacy:         StoreCount{Count: presence.Count, HasData: presence.Present},
		Registry:       StoreCount{Count: int(stats.Total), HasData: stats.Total > 0},
		NeedsMigration: presence.Present,
	}, nil
}

// Migrate copies every legacy record the registry does not already hold.
// Per-record failures do not stop the batch; the legacy store is cleared
// only after a run with zero errors.
func (s *Service) Migrate(ctx context.Context, credential string) (*Summary, error) {
	if s.adminKey == "" || subtle.ConstantTimeCompare([]byte(credential), []byte(s.adminKey)) != 1 {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "Unauthorized - Invalid admin key")
	}

	records, err := s.legacy.All(ctx)
	if err != nil {
		s.auditor.Record(ctx, audit.Event{Action: audit.ActionMigrationError, Details: map[string]any{"error": err.Error()}})
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "Migration failed")
	}
	if len(records) == 0 {
		return &Summary{Success: true, Message: "No data to migrate - legacy store is empty"}, nil
	}

	sum := &Summary{Success: true}
	for _, rec := range records {
		if err := s.migrateOne(ctx, rec); err != nil {
			if errors.Is(err, errSkipped) {
				sum.SkippedCount++
				continue
			}
			sum.ErrorCount++
			sum.Errors = append(sum.Errors, fmt.Sprintf("Failed to migrate %s: %v", rec.ID, err))
			s.logger.ErrorContext(ctx, "legacy link migration failed", "link_id", rec.ID, "error", err)
			continue
		}
		sum.MigratedCount++
	}
	sum.TotalProcessed = sum.MigratedCount + sum.SkippedCount + sum.ErrorCount

	if sum.ErrorCount == 0 {
		if err := s.legacy.Clear(ctx); err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("Failed to clear legacy store: %v", err))
		} else {
			sum.LegacyCleared = true
		}
	}
	sum.Message = "Migration completed successfully"
	if sum.ErrorCount > 0 {
		sum.Message = "Migration completed with errors"
	}

	s.auditor.Record(ctx, audit.Event{
		Action: audit.ActionMigrationCompleted,
		Details: map[string]any{
			"migratedCount":  sum.MigratedCount,
			"skippedCount":   sum.SkippedCount,
			"errorCount":     sum.ErrorCount,
			"totalProcessed": sum.TotalProcessed,
			"legacyCleared":  sum.LegacyCleared,
		},
	})
	return sum, nil
}

var errSkipped = errors.New("link already in registry")

func (s *Service) migrateOne(ctx context.Context, rec legacy.Record) error {
	exists, err := s.registry.Exists(ctx, rec.ID)
	if err != nil {
		return err
	}
	if exists {
		s.logger.InfoContext(ctx, "legacy link already migrated, skipping", "link_id", rec.ID)
		return errSkipped
	}

	now := requestcontext.Now(ctx).UTC()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	link := &models.SecureLink{
		ID:        rec.ID,
		Email:     rec.Email,
		OTP:       rec.OTP,
		ExpiresAt: rec.ExpiresAt.UTC(),
		Used:      rec.Used,
		CreatedAt: created.UTC(),
		UpdatedAt: now,
	}
	if err := s.registry.Import(ctx, link); err != nil {
		return err
	}

	s.auditor.Record(ctx, audit.Event{
		LinkID: rec.ID,
		Action: audit.ActionDataMigrated,
		Details: map[string]any{
			"source":     "legacy_memory",
			"email":      rec.Email,
			"used":       rec.Used,
			"createdAt":  created.UTC(),
			"migratedAt": now,
		},
	})
	return nil
}
