package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	contractmodels "signlink/internal/contracts/models"
	"signlink/internal/dashboard/service"
	"signlink/internal/platform/middleware"
	dErrors "signlink/pkg/domain-errors"
	"signlink/pkg/platform/httputil"
)

// Service defines the dashboard read models.
type Service interface {
	Overview(ctx context.Context) (*service.Overview, error)
	Links(ctx context.Context, page service.Page) ([]service.LinkView, error)
	Contracts(ctx context.Context, page service.Page) ([]contractmodels.Summary, error)
	AuditLogs(ctx context.Context, page service.Page) ([]service.AuditView, error)
	Analytics(ctx context.Context) (*service.Analytics, error)
}

type Handler struct {
	svc      Service
	logger   *slog.Logger
	adminKey string
}

func New(svc Service, logger *slog.Logger, adminKey string) *Handler {
	return &Handler{svc: svc, logger: logger, adminKey: adminKey}
}

// Register mounts the read-only dashboard routes behind the admin key.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdminKey(h.adminKey, h.logger))
		r.Get("/dashboard/stats", h.handleStats)
		r.Get("/dashboard/links", h.handleLinks)
		r.Get("/dashboard/contracts", h.handleContracts)
		r.Get("/dashboard/audit-logs", h.handleAuditLogs)
		r.Get("/dashboard/analytics", h.handleAnalytics)
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Overview(r.Context())
	h.respond(w, r, out, err)
}

func (h *Handler) handleLinks(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out, err := h.svc.Links(r.Context(), page)
	h.respond(w, r, out, err)
}

func (h *Handler) handleContracts(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out, err := h.svc.Contracts(r.Context(), page)
	h.respond(w, r, out, err)
}

func (h *Handler) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out, err := h.svc.AuditLogs(r.Context(), page)
	h.respond(w, r, out, err)
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Analytics(r.Context())
	h.respond(w, r, out, err)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, body any, err error) {
	if err != nil {
		h.logger.ErrorContext(r.Context(), "dashboard query failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"path", r.URL.Path,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

func parsePage(r *http.Request) (service.Page, error) {
	var page service.Page
	q := r.URL.Query()
	for name, dst := range map[string]*int{"limit": &page.Limit, "offset": &page.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return page, dErrors.New(dErrors.CodeValidation, name+" must be a non-negative integer")
		}
		*dst = n
	}
	return page, nil
}
