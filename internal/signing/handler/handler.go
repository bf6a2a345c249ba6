package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	contractmodels "signlink/internal/contracts/models"
	"signlink/internal/platform/middleware"
	"signlink/internal/signing/service"
	dErrors "signlink/pkg/domain-errors"
	"signlink/pkg/platform/httputil"
)

// Service defines the signing workflow operations exposed over HTTP.
type Service interface {
	Verify(ctx context.Context, linkID, otp string) (*service.VerifyResult, error)
	Complete(ctx context.Context, req service.CompleteRequest) (*contractmodels.Summary, error)
	Contract(ctx context.Context, linkID string) (*contractmodels.Summary, error)
	DownloadPDF(ctx context.Context, linkID string) (*service.PDFDocument, error)
	MarkUsed(ctx context.Context, linkID string) error
}

// Handler serves the recipient-facing signing endpoints.
type Handler struct {
	svc         Service
	logger      *slog.Logger
	verifyLimit func(http.Handler) http.Handler
}

// New creates a signing Handler. verifyLimit guards POST /verify and may be nil.
func New(svc Service, logger *slog.Logger, verifyLimit func(http.Handler) http.Handler) *Handler {
	return &Handler{svc: svc, logger: logger, verifyLimit: verifyLimit}
}

// Register registers the signing routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		if h.verifyLimit != nil {
			r.With(h.verifyLimit).Post("/verify", h.handleVerify)
		} else {
			r.Post("/verify", h.handleVerify)
		}
		r.Post("/contracts", h.handleComplete)
		r.Get("/contracts", h.handleGetContract)
		r.Get("/contracts/pdf", h.handleDownloadPDF)
		r.Post("/links/mark-used", h.handleMarkUsed)
	})
}

type verifyRequest struct {
	LinkID string `json:"linkId"`
	OTP    string `json:"otp"`
}

type markUsedRequest struct {
	LinkID string `json:"linkId"`
}

type completeResponse struct {
	Success  bool                    `json:"success"`
	Message  string                  `json:"message"`
	Contract *contractmodels.Summary `json:"contract"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.badBody(w, r, err)
		return
	}

	res, err := h.svc.Verify(r.Context(), req.LinkID, req.OTP)
	if err != nil {
		h.writeError(w, r, "verify failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req service.CompleteRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.badBody(w, r, err)
		return
	}

	sum, err := h.svc.Complete(r.Context(), req)
	if err != nil {
		h.writeError(w, r, "contract completion failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, completeResponse{
		Success:  true,
		Message:  "Contract saved successfully",
		Contract: sum,
	})
}

func (h *Handler) handleGetContract(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Contract(r.Context(), r.URL.Query().Get("linkId"))
	if err != nil {
		h.writeError(w, r, "contract lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sum)
}

func (h *Handler) handleDownloadPDF(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.DownloadPDF(r.Context(), r.URL.Query().Get("linkId"))
	if err != nil {
		h.writeError(w, r, "pdf download failed", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.FileName+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Content)
}

func (h *Handler) handleMarkUsed(w http.ResponseWriter, r *http.Request) {
	var req markUsedRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.badBody(w, r, err)
		return
	}
	if err := h.svc.MarkUsed(r.Context(), req.LinkID); err != nil {
		h.writeError(w, r, "mark used failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) badBody(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WarnContext(r.Context(), "invalid request body",
		"request_id", middleware.GetRequestID(r.Context()),
		"path", r.URL.Path,
		"error", err.Error(),
	)
	httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if code := dErrors.CodeOf(err); code == dErrors.CodeInternal || code == dErrors.CodeTimeout {
		h.logger.ErrorContext(r.Context(), msg,
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
