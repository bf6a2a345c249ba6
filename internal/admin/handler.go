// Package admin serves the maintenance endpoints: legacy migration and cleanup.
package admin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"signlink/internal/maintenance"
	"signlink/internal/migration"
	"signlink/internal/platform/middleware"
	dErrors "signlink/pkg/domain-errors"
	"signlink/pkg/platform/httputil"
)

const day = 24 * time.Hour

type Migrator interface {
	Status(ctx context.Context) (*migration.Status, error)
	Migrate(ctx context.Context, credential string) (*migration.Summary, error)
}

type Maintainer interface {
	Defaults() maintenance.Options
	Cleanup(ctx context.Context, opts maintenance.Options) (*maintenance.CleanupResult, error)
	CleanupAuditLogs(ctx context.Context) (*maintenance.AuditCleanupResult, error)
}

type Handler struct {
	migrator   Migrator
	maintainer Maintainer
	logger     *slog.Logger
	adminKey   string
}

func New(migrator Migrator, maintainer Maintainer, logger *slog.Logger, adminKey string) *Handler {
	return &Handler{migrator: migrator, maintainer: maintainer, logger: logger, adminKey: adminKey}
}

// Register mounts the admin routes. POST /admin/migrate checks its own
// credential so a rejected attempt is reported by the migration service.
func (h *Handler) Register(r chi.Router) {
	r.Post("/admin/migrate", h.handleMigrate)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdminKey(h.adminKey, h.logger))
		r.Get("/admin/migrate", h.handleMigrationStatus)
		r.Post("/admin/cleanup", h.handleCleanup)
		r.Post("/admin/cleanup-audit-logs", h.handleCleanupAuditLogs)
	})
}

func (h *Handler) handleMigrationStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.migrator.Status(r.Context())
	if err != nil {
		h.fail(w, r, "migration status failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) handleMigrate(w http.ResponseWriter, r *http.Request) {
	summary, err := h.migrator.Migrate(r.Context(), r.Header.Get("X-Admin-Key"))
	if err != nil {
		h.fail(w, r, "migration failed", err)
		return
	}
	h.logger.InfoContext(r.Context(), "legacy migration finished",
		"request_id", middleware.GetRequestID(r.Context()),
		"migrated", summary.MigratedCount,
		"skipped", summary.SkippedCount,
		"errors", summary.ErrorCount,
	)
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := httputil.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.KeepAuditDays < 0 || req.GraceDays < 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "retention days must not be negative"))
		return
	}

	opts := h.maintainer.Defaults()
	opts.DryRun = req.DryRun
	if req.KeepAuditDays > 0 {
		opts.AuditRetention = time.Duration(req.KeepAuditDays) * day
	}
	if req.GraceDays > 0 {
		opts.LinkGrace = time.Duration(req.GraceDays) * day
	}

	res, err := h.maintainer.Cleanup(r.Context(), opts)
	if err != nil {
		h.fail(w, r, "database cleanup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CleanupResponse{CleanupResult: res, Message: cleanupMessage(res)})
}

func (h *Handler) handleCleanupAuditLogs(w http.ResponseWriter, r *http.Request) {
	res, err := h.maintainer.CleanupAuditLogs(r.Context())
	if err != nil {
		h.fail(w, r, "audit log cleanup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if !dErrors.HasCode(err, dErrors.CodeUnauthorized) {
		h.logger.ErrorContext(r.Context(), msg,
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
