package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"signlink/internal/audit"
	"signlink/internal/links/models"
	"signlink/internal/notify"
	"signlink/internal/platform/metrics"
	dErrors "signlink/pkg/domain-errors"
)

// Source identifies who asked for a link.
type Source string

const (
	SourceDashboard Source = "dashboard"
	SourceExternal  Source = "external_api"
)

// MaxExpiresInHours caps a requested link lifetime at one year.
const MaxExpiresInHours = 8760

// Auditor records issuance events.
type Auditor interface {
	Record(ctx context.Context, ev audit.Event)
}

// IssueRequest is the body accepted by both issuance routes. ExpiresIn is in hours.
type IssueRequest struct {
	Email     string   `json:"email"`
	ExpiresIn *float64 `json:"expiresIn,omitempty"`
	Subject   string   `json:"subject,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// IssueResult is returned to the caller after a link is created.
type IssueResult struct {
	Success    bool      `json:"success"`
	ID         string    `json:"id"`
	LinkID     string    `json:"linkId"`
	Email      string    `json:"email"`
	OTP        string    `json:"otp"`
	ExpiresAt  time.Time `json:"expiresAt"`
	SecureLink string    `json:"secureLink"`
	EmailSent  bool      `json:"emailSent"`
}

// Issuer creates links and emails them to the recipient.
type Issuer struct {
	registry   *Registry
	mailer     notify.Mailer
	auditor    Auditor
	baseURL    string
	defaultTTL time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func NewIssuer(registry *Registry, mailer notify.Mailer, auditor Auditor, baseURL string, defaultTTL time.Duration, logger *slog.Logger, m *metrics.Metrics) *Issuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{
		registry:   registry,
		mailer:     mailer,
		auditor:    auditor,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		defaultTTL: defaultTTL,
		logger:     logger,
		metrics:    m,
	}
}

// SecureLink is the recipient-facing URL for a link id.
func (i *Issuer) SecureLink(id string) string {
	return i.baseURL + "/contract/" + id
}

// Issue creates a link and sends the invitation. A failed email is audited and
// reported in the result; the link itself stays valid.
func (i *Issuer) Issue(ctx context.Context, source Source, req IssueRequest) (*IssueResult, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" {
		if source == SourceExternal {
			i.auditor.Record(ctx, audit.Event{Action: audit.ActionExternalMissingEmail, Details: map[string]any{"source": string(source)}})
		}
		return nil, dErrors.New(dErrors.CodeValidation, "Email is required")
	}

	ttl := i.defaultTTL
	if req.ExpiresIn != nil {
		if !(*req.ExpiresIn > 0) {
			return nil, dErrors.New(dErrors.CodeValidation, "expiresIn must be a positive number of hours")
		}
		if *req.ExpiresIn > MaxExpiresInHours {
			return nil, dErrors.New(dErrors.CodeValidation, "expiresIn must not exceed 8760 hours")
		}
		ttl = time.Duration(*req.ExpiresIn * float64(time.Hour))
	}

	link, err := i.registry.Create(ctx, email, ttl)
	if err != nil {
		return nil, err
	}

	action := audit.ActionSecureLinkCreated
	if source == SourceExternal {
		action = audit.ActionExternalLinkCreated
	}
	i.auditor.Record(ctx, audit.Event{
		LinkID: link.ID,
		Action: action,
		Details: map[string]any{
			"email":     email,
			"expiresIn": ttl.Hours(),
			"source":    string(source),
		},
	})
	i.metrics.IncLinkCreated(string(source))

	result := &IssueResult{
		Success:    true,
		ID:         link.ID,
		LinkID:     link.ID,
		Email:      link.Email,
		OTP:        link.OTP,
		ExpiresAt:  link.ExpiresAt,
		SecureLink: i.SecureLink(link.ID),
	}
	result.EmailSent = i.sendInvitation(ctx, source, link, req)
	return result, nil
}

func (i *Issuer) sendInvitation(ctx context.Context, source Source, link *models.SecureLink, req IssueRequest) bool {
	msg, err := notify.Compose(notify.LinkEmail{
		To:         link.Email,
		Subject:    req.Subject,
		Message:    req.Message,
		SecureLink: i.SecureLink(link.ID),
		OTP:        link.OTP,
		ExpiresAt:  link.ExpiresAt,
	})
	if err == nil {
		err = i.mailer.Send(ctx, msg)
	}
	if err != nil {
		i.logger.ErrorContext(ctx, "failed to send secure link email",
			"link_id", link.ID,
			"error", err,
		)
		i.auditor.Record(ctx, audit.Event{
			LinkID:  link.ID,
			Action:  audit.ActionEmailSendFailed,
			Details: map[string]any{"email": link.Email, "error": err.Error(), "source": string(source)},
		})
		i.metrics.IncEmail("failed")
		return false
	}

	i.auditor.Record(ctx, audit.Event{
		LinkID:  link.ID,
		Action:  audit.ActionEmailSent,
		Details: map[string]any{"email": link.Email, "subject": msg.Subject, "source": string(source)},
	})
	i.metrics.IncEmail("sent")
	return true
}

// RejectUnauthorized audits an external call that failed the API key check.
func (i *Issuer) RejectUnauthorized(ctx context.Context, keyProvided bool) {
	i.auditor.Record(ctx, audit.Event{
		Action:  audit.ActionExternalUnauthorized,
		Details: map[string]any{"source": string(SourceExternal), "keyProvided": keyProvided},
	})
}
