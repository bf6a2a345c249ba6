package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"signlink/internal/audit"
	contractmodels "signlink/internal/contracts/models"
	linkmodels "signlink/internal/links/models"
	"signlink/internal/platform/metrics"
	dErrors "signlink/pkg/domain-errors"
	"signlink/pkg/platform/sentinel"
	"signlink/pkg/requestcontext"
)

// Links is the registry surface the workflow needs.
type Links interface {
	FindByID(ctx context.Context, id string) (*linkmodels.SecureLink, error)
	MarkUsed(ctx context.Context, id string) error
}

// LinkStore is the store-level link access used inside a unit of work.
type LinkStore interface {
	FindByID(ctx context.Context, id string) (*linkmodels.SecureLink, error)
	MarkUsed(ctx context.Context, id string, at time.Time) error
}

// ContractStore persists signed contracts.
type ContractStore interface {
	Create(ctx context.Context, c *contractmodels.SignedContract) error
	FindByLinkID(ctx context.Context, linkID string) (*contractmodels.SignedContract, error)
	ExistsForLink(ctx context.Context, linkID string) (bool, error)
}

// Auditor records workflow events. Implementations never fail the caller.
type Auditor interface {
	Record(ctx context.Context, ev audit.Event)
}

// VerifyResult is returned on a successful OTP check.
type VerifyResult struct {
	Success   bool      `json:"success"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// CompleteRequest carries a signature submission.
type CompleteRequest struct {
	LinkID          string                       `json:"linkId"`
	InterpreterName string                       `json:"interpreterName"`
	SignatureType   contractmodels.SignatureType `json:"signatureType"`
	SignatureData   string                       `json:"signatureData"`
	PDFBase64       string                       `json:"pdfBase64"`
}

// PDFDocument is a decoded signed contract ready to serve.
type PDFDocument struct {
	FileName string
	Content  []byte
}

// Service drives a link from issuance through verification to completion.
// Verification never mutates the link; only Complete marks it used.
type Service struct {
	links     Links
	contracts ContractStore
	tx        SigningTx
	auditor   Auditor
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func New(links Links, contracts ContractStore, tx SigningTx, auditor Auditor, opts ...Option) *Service {
	s := &Service{
		links:     links,
		contracts: contracts,
		tx:        tx,
		auditor:   auditor,
		logger:    slog.Default(),
		tracer:    otel.Tracer("signlink/signing"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type details map[string]any

// Verify checks an OTP against a link. Check order is fixed: missing params,
// unknown link, expiry, used, then the code itself.
func (s *Service) Verify(ctx context.Context, linkID, otp string) (*VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "signing.Verify")
	defer span.End()

	linkID = strings.TrimSpace(linkID)
	code := strings.TrimSpace(otp)
	span.SetAttributes(attribute.String("link.id", linkID))

	if linkID == "" || code == "" {
		s.verifyFailed(ctx, linkID, details{"reason": "missing_params", "linkId": linkID != "", "otp": code != ""})
		return nil, dErrors.New(dErrors.CodeValidation, "Missing required parameters")
	}

	link, err := s.links.FindByID(ctx, linkID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			s.verifyFailed(ctx, linkID, details{"reason": "link_not_found"})
			return nil, dErrors.New(dErrors.CodeNotFound, "Link not found")
		}
		return nil, s.verifyError(ctx, span, linkID, err)
	}

	now := requestcontext.Now(ctx)
	switch {
	case link.IsExpired(now):
		s.verifyFailed(ctx, linkID, details{"reason": "link_expired", "expires_at": link.ExpiresAt.UTC().Format(time.RFC3339)})
		return nil, dErrors.New(dErrors.CodeExpired, "Link has expired")
	case link.Used:
		s.verifyFailed(ctx, linkID, details{"reason": "link_already_used"})
		return nil, dErrors.New(dErrors.CodeAlreadyUsed, "Link has already been used")
	case code != link.OTP:
		s.verifyFailed(ctx, linkID, details{"reason": "invalid_otp"})
		return nil, dErrors.New(dErrors.CodeInvalidCode, "Invalid OTP code")
	}

	s.auditor.Record(ctx, audit.Event{
		LinkID:  linkID,
		Action:  audit.ActionOTPVerified,
		Details: details{"email": link.Email},
	})
	s.metrics.IncVerification("success")
	return &VerifyResult{Success: true, Email: link.Email, CreatedAt: link.CreatedAt}, nil
}

func (s *Service) verifyFailed(ctx context.Context, linkID string, d details) {
	s.auditor.Record(ctx, audit.Event{LinkID: linkID, Action: audit.ActionOTPVerifyFailed, Details: d})
	reason, _ := d["reason"].(string)
	s.metrics.IncVerification(reason)
}

func (s *Service) verifyError(ctx context.Context, span trace.Span, linkID string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "verify failed")
	s.logger.ErrorContext(ctx, "otp verification failed",
		"link_id", linkID,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	s.auditor.Record(ctx, audit.Event{LinkID: linkID, Action: audit.ActionOTPVerifyError, Details: details{"error": err.Error()}})
	s.metrics.IncVerification("error")
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify otp")
}

// Complete persists the signed contract and marks the link used in one unit of work.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (*contractmodels.Summary, error) {
	ctx, span := s.tracer.Start(ctx, "signing.Complete")
	defer span.End()

	req.LinkID = strings.TrimSpace(req.LinkID)
	req.InterpreterName = strings.TrimSpace(req.InterpreterName)
	span.SetAttributes(attribute.String("link.id", req.LinkID), attribute.String("signature.type", string(req.SignatureType)))

	if req.LinkID == "" || req.InterpreterName == "" || req.SignatureType == "" ||
		strings.TrimSpace(req.SignatureData) == "" || strings.TrimSpace(req.PDFBase64) == "" {
		s.saveFailed(ctx, req.LinkID, "missing_required_fields")
		return nil, dErrors.New(dErrors.CodeValidation, "Missing required fields")
	}
	if !req.SignatureType.Valid() {
		s.saveFailed(ctx, req.LinkID, "invalid_signature_type")
		return nil, dErrors.New(dErrors.CodeValidation, "Invalid signature type")
	}

	exists, err := s.contracts.ExistsForLink(ctx, req.LinkID)
	if err != nil {
		return nil, s.saveError(ctx, span, req.LinkID, err)
	}
	if exists {
		s.saveFailed(ctx, req.LinkID, "already_signed")
		return nil, dErrors.New(dErrors.CodeConflict, "Contract already signed for this link")
	}

	now := requestcontext.Now(ctx).UTC()
	contract := &contractmodels.SignedContract{
		LinkID:          req.LinkID,
		InterpreterName: req.InterpreterName,
		SignatureType:   req.SignatureType,
		SignatureData:   req.SignatureData,
		PDFContent:      req.PDFBase64,
		SignedAt:        now,
	}

	err = s.tx.RunInTx(withTxLink(ctx, req.LinkID), func(ctx context.Context, stores TxStores) error {
		if _, err := stores.Links.FindByID(ctx, req.LinkID); err != nil {
			return err
		}
		if err := stores.Contracts.Create(ctx, contract); err != nil {
			return err
		}
		return stores.Links.MarkUsed(ctx, req.LinkID, now)
	})
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrConflict):
		s.saveFailed(ctx, req.LinkID, "already_signed")
		return nil, dErrors.Wrap(err, dErrors.CodeConflict, "Contract already signed for this link")
	case errors.Is(err, sentinel.ErrNotFound):
		s.saveFailed(ctx, req.LinkID, "link_not_found")
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "Link not found")
	default:
		return nil, s.saveError(ctx, span, req.LinkID, err)
	}

	s.auditor.Record(ctx, audit.Event{
		LinkID: req.LinkID,
		Action: audit.ActionContractSigned,
		Details: details{
			"interpreterName": req.InterpreterName,
			"signatureType":   string(req.SignatureType),
			"pdfSize":         len(req.PDFBase64),
		},
	})
	s.metrics.IncContractSigned(string(req.SignatureType))
	s.logger.InfoContext(ctx, "contract signed",
		"link_id", req.LinkID,
		"signature_type", string(req.SignatureType),
		"pdf_kb", len(req.PDFBase64)/1024,
	)

	sum := contract.Summary()
	return &sum, nil
}

func (s *Service) saveFailed(ctx context.Context, linkID, reason string) {
	s.auditor.Record(ctx, audit.Event{LinkID: linkID, Action: audit.ActionContractSaveFailed, Details: details{"reason": reason}})
}

func (s *Service) saveError(ctx context.Context, span trace.Span, linkID string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "complete failed")
	s.logger.ErrorContext(ctx, "failed to save contract",
		"link_id", linkID,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	s.auditor.Record(ctx, audit.Event{LinkID: linkID, Action: audit.ActionContractSaveError, Details: details{"error": err.Error()}})
	if dErrors.HasCode(err, dErrors.CodeTimeout) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "Failed to save contract")
}

// Contract returns contract metadata for a link, never the PDF itself.
func (s *Service) Contract(ctx context.Context, linkID string) (*contractmodels.Summary, error) {
	linkID = strings.TrimSpace(linkID)
	if linkID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "linkId parameter required")
	}
	c, err := s.contracts.FindByLinkID(ctx, linkID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "Contract not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "Failed to retrieve contract")
	}
	sum := c.Summary()
	sum.SignatureData = ""
	return &sum, nil
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// DownloadPDF decodes the stored PDF for a link.
func (s *Service) DownloadPDF(ctx context.Context, linkID string) (*PDFDocument, error) {
	ctx, span := s.tracer.Start(ctx, "signing.DownloadPDF")
	defer span.End()

	linkID = strings.TrimSpace(linkID)
	if linkID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "linkId parameter required")
	}

	c, err := s.contracts.FindByLinkID(ctx, linkID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		span.RecordError(err)
		s.logger.ErrorContext(ctx, "failed to load contract pdf", "link_id", linkID, "error", err)
		s.auditor.Record(ctx, audit.Event{LinkID: linkID, Action: audit.ActionPDFDownloadError, Details: details{"error": err.Error()}})
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "Failed to download PDF")
	}
	if c == nil || strings.TrimSpace(c.PDFContent) == "" {
		s.auditor.Record(ctx, audit.Event{LinkID: linkID, Action: audit.ActionPDFDownloadFailed, Details: details{"reason": "contract_not_found"}})
		return nil, dErrors.New(dErrors.CodeNotFound, "Contract PDF not found")
	}

	content, err := decodePDF(c.PDFContent)
	if err != nil {
		s.auditor.Record(ctx, audit.Event{LinkID: linkID, Action: audit.ActionPDFDownloadFailed, Details: details{"reason": "invalid_pdf_encoding"}})
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "Stored PDF could not be decoded")
	}

	s.auditor.Record(ctx, audit.Event{LinkID: linkID, Action: audit.ActionPDFDownloaded, Details: details{"interpreterName": c.InterpreterName}})
	s.metrics.IncPDFDownload()
	return &PDFDocument{FileName: PDFFileName(c.InterpreterName, c.SignedAt), Content: content}, nil
}

// PDFFileName builds contract-<name-with-dashes>-<YYYY-MM-DD>.pdf.
func PDFFileName(interpreterName string, signedAt time.Time) string {
	name := whitespaceRun.ReplaceAllString(strings.TrimSpace(interpreterName), "-")
	name = strings.ReplaceAll(name, `"`, "")
	return fmt.Sprintf("contract-%s-%s.pdf", name, signedAt.UTC().Format(time.DateOnly))
}

// decodePDF accepts plain base64 or a data URI.
func decodePDF(stored string) ([]byte, error) {
	if i := strings.Index(stored, "base64,"); i >= 0 && strings.HasPrefix(stored, "data:") {
		stored = stored[i+len("base64,"):]
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(stored))
}

// MarkUsed marks a link used outside the completion flow.
func (s *Service) MarkUsed(ctx context.Context, linkID string) error {
	linkID = strings.TrimSpace(linkID)
	if linkID == "" {
		return dErrors.New(dErrors.CodeValidation, "Link ID is required")
	}
	if err := s.links.MarkUsed(ctx, linkID); err != nil {
		return err
	}
	s.auditor.Record(ctx, audit.Event{LinkID: linkID, Action: audit.ActionLinkMarkedUsed})
	return nil
}
