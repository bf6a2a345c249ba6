package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"signlink/internal/audit"
	auditmemory "signlink/internal/audit/store/memory"
	"signlink/internal/links/store"
	"signlink/internal/notify"
	dErrors "signlink/pkg/domain-errors"
	"signlink/pkg/requestcontext"
)

type recordingMailer struct {
	sent []notify.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg notify.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type IssuerSuite struct {
	suite.Suite
	auditLog *auditmemory.InMemoryStore
	mailer   *recordingMailer
	issuer   *Issuer
	ctx      context.Context
	now      time.Time
}

func TestIssuerSuite(t *testing.T) {
	suite.Run(t, new(IssuerSuite))
}

func (s *IssuerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.auditLog = auditmemory.NewInMemoryStore()
	s.mailer = &recordingMailer{}
	registry := New(store.NewInMemory(), WithOTPGenerator(func() (string, error) { return "424242", nil }))
	s.issuer = NewIssuer(registry, s.mailer, audit.NewRecorder(s.auditLog, logger, nil), "http://sign.example/", 24*time.Hour, logger, nil)
	s.now = time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *IssuerSuite) TestIssueFromDashboard() {
	res, err := s.issuer.Issue(s.ctx, SourceDashboard, IssueRequest{Email: " a@x.com "})
	s.Require().NoError(err)

	s.Equal("a@x.com", res.Email)
	s.Equal("424242", res.OTP)
	s.Equal(s.now.Add(24*time.Hour), res.ExpiresAt)
	s.Equal("http://sign.example/contract/"+res.ID, res.SecureLink)
	s.True(res.EmailSent)

	s.Require().Len(s.mailer.sent, 1)
	s.Equal(notify.DefaultSubject, s.mailer.sent[0].Subject)
	s.Contains(s.mailer.sent[0].Text, "OTP Code: 424242")

	s.Equal([]audit.Action{audit.ActionSecureLinkCreated, audit.ActionEmailSent}, s.auditLog.ActionsFor(res.ID))
}

func (s *IssuerSuite) TestIssueExternalWithCustomExpiry() {
	hours := 2.0
	res, err := s.issuer.Issue(s.ctx, SourceExternal, IssueRequest{Email: "a@x.com", ExpiresIn: &hours, Subject: "Custom"})
	s.Require().NoError(err)

	s.Equal(s.now.Add(2*time.Hour), res.ExpiresAt)
	s.Equal("Custom", s.mailer.sent[0].Subject)
	s.Contains(s.auditLog.ActionsFor(res.ID), audit.ActionExternalLinkCreated)
}

func (s *IssuerSuite) TestIssueMissingEmail() {
	_, err := s.issuer.Issue(s.ctx, SourceExternal, IssueRequest{Email: "  "})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Equal([]audit.Action{audit.ActionExternalMissingEmail}, s.auditLog.ActionsFor(""))

	_, err = s.issuer.Issue(s.ctx, SourceDashboard, IssueRequest{})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Len(s.auditLog.ActionsFor(""), 1)
}

func (s *IssuerSuite) TestIssueRejectsNonPositiveExpiry() {
	zero := 0.0
	_, err := s.issuer.Issue(s.ctx, SourceDashboard, IssueRequest{Email: "a@x.com", ExpiresIn: &zero})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *IssuerSuite) TestIssueRejectsExpiryBeyondOneYear() {
	for _, hours := range []float64{MaxExpiresInHours + 1, 1e300} {
		h := hours
		_, err := s.issuer.Issue(s.ctx, SourceDashboard, IssueRequest{Email: "a@x.com", ExpiresIn: &h})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	}

	year := float64(MaxExpiresInHours)
	res, err := s.issuer.Issue(s.ctx, SourceDashboard, IssueRequest{Email: "a@x.com", ExpiresIn: &year})
	s.Require().NoError(err)
	s.Equal(s.now.Add(8760*time.Hour), res.ExpiresAt)
}

func (s *IssuerSuite) TestEmailFailureKeepsLink() {
	s.mailer.err = errors.New("smtp: 550 mailbox unavailable")

	res, err := s.issuer.Issue(s.ctx, SourceDashboard, IssueRequest{Email: "a@x.com"})
	s.Require().NoError(err)
	s.False(res.EmailSent)
	s.Contains(s.auditLog.ActionsFor(res.ID), audit.ActionEmailSendFailed)
}

func (s *IssuerSuite) TestRejectUnauthorized() {
	s.issuer.RejectUnauthorized(s.ctx, false)
	s.Equal([]audit.Action{audit.ActionExternalUnauthorized}, s.auditLog.ActionsFor(""))
}
