package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"signlink/internal/links/service"
	"signlink/internal/platform/middleware"
	dErrors "signlink/pkg/domain-errors"
	"signlink/pkg/platform/httputil"
)

// Service issues secure links.
type Service interface {
	Issue(ctx context.Context, source service.Source, req service.IssueRequest) (*service.IssueResult, error)
	RejectUnauthorized(ctx context.Context, keyProvided bool)
}

// Handler serves link issuance for external integrations and the dashboard.
type Handler struct {
	svc      Service
	logger   *slog.Logger
	apiKey   string
	adminKey string
}

func New(svc Service, logger *slog.Logger, apiKey, adminKey string) *Handler {
	return &Handler{svc: svc, logger: logger, apiKey: apiKey, adminKey: adminKey}
}

// Register mounts POST /links (X-API-Key) and POST /dashboard/links (X-Admin-Key).
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAPIKey(h.apiKey, h.logger, h.onUnauthorized))
		r.Post("/links", h.issue(service.SourceExternal))
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.RequireAdminKey(h.adminKey, h.logger))
		r.Post("/dashboard/links", h.issue(service.SourceDashboard))
	})
}

func (h *Handler) onUnauthorized(r *http.Request, header string) {
	h.svc.RejectUnauthorized(r.Context(), r.Header.Get(header) != "")
}

func (h *Handler) issue(source service.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req service.IssueRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			h.logger.WarnContext(ctx, "invalid issue request",
				"request_id", middleware.GetRequestID(ctx),
				"error", err.Error(),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
			return
		}

		res, err := h.svc.Issue(ctx, source, req)
		if err != nil {
			if dErrors.CodeOf(err) == dErrors.CodeInternal {
				h.logger.ErrorContext(ctx, "failed to issue secure link",
					"request_id", middleware.GetRequestID(ctx),
					"source", string(source),
					"error", err.Error(),
				)
			}
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, res)
	}
}
