package maintenance

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"signlink/internal/audit"
	auditmemory "signlink/internal/audit/store/memory"
	contractmodels "signlink/internal/contracts/models"
	contractstore "signlink/internal/contracts/store"
	linkmodels "signlink/internal/links/models"
	linkservice "signlink/internal/links/service"
	linkstore "signlink/internal/links/store"
	"signlink/pkg/requestcontext"
)

type MaintenanceSuite struct {
	suite.Suite
	links     *linkstore.InMemoryStore
	contracts *contractstore.InMemoryStore
	auditLog  *auditmemory.InMemoryStore
	svc       *Service
	now       time.Time
	ctx       context.Context
}

func TestMaintenanceSuite(t *testing.T) {
	suite.Run(t, new(MaintenanceSuite))
}

func (s *MaintenanceSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.links = linkstore.NewInMemory()
	s.contracts = contractstore.NewInMemory()
	s.links.OnDelete(s.contracts.DeleteForLinks)
	s.auditLog = auditmemory.NewInMemoryStore()
	s.svc = New(linkservice.New(s.links), s.contracts, s.auditLog,
		audit.NewRecorder(s.auditLog, logger, nil),
		Options{LinkGrace: 30 * 24 * time.Hour, AuditRetention: 90 * 24 * time.Hour},
		logger, nil)
	s.now = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *MaintenanceSuite) seedLink(id string, age, ttl time.Duration, used bool) {
	created := s.now.Add(-age)
	s.Require().NoError(s.links.Create(s.ctx, &linkmodels.SecureLink{
		ID: id, Email: id + "@x.com", OTP: "123456",
		ExpiresAt: created.Add(ttl), Used: used, CreatedAt: created, UpdatedAt: created,
	}))
}

func (s *MaintenanceSuite) seedContract(linkID string) {
	s.Require().NoError(s.contracts.Create(s.ctx, &contractmodels.SignedContract{
		LinkID: linkID, InterpreterName: "Ana", SignatureType: contractmodels.SignatureText,
		SignatureData: "Ana", PDFContent: "JVBERg==", SignedAt: s.now,
	}))
}

func (s *MaintenanceSuite) seedAudit(action audit.Action, age time.Duration, raw *string) {
	s.Require().NoError(s.auditLog.AppendRaw(s.ctx, &audit.Entry{Action: action, CreatedAt: s.now.Add(-age)}, raw))
}

func (s *MaintenanceSuite) exists(id string) bool {
	_, err := s.links.FindByID(s.ctx, id)
	return err == nil
}

func (s *MaintenanceSuite) TestCleanup() {
	day := 24 * time.Hour
	s.seedLink("old-used", 40*day, 60*day, true)
	s.seedLink("old-expired", 40*day, day, false)
	s.seedLink("old-active", 40*day, 60*day, false)
	s.seedLink("fresh-expired", 2*day, day, false)
	s.seedAudit(audit.ActionOTPVerified, 100*day, nil)
	s.seedAudit(audit.ActionOTPVerified, 10*day, nil)

	res, err := s.svc.Cleanup(s.ctx, Options{})
	s.Require().NoError(err)
	s.Equal(int64(2), res.DeletedLinks)
	s.Equal(int64(1), res.DeletedLogs)
	s.Zero(res.ReconciledLinks)

	s.False(s.exists("old-used"))
	s.False(s.exists("old-expired"))
	s.True(s.exists("old-active"))
	s.True(s.exists("fresh-expired"))
	s.Contains(s.auditLog.ActionsFor(""), audit.ActionDatabaseCleanup)

	again, err := s.svc.Cleanup(s.ctx, Options{})
	s.Require().NoError(err)
	s.Zero(again.DeletedLinks)
	s.Zero(again.DeletedLogs)
}

func (s *MaintenanceSuite) TestCleanupDryRun() {
	day := 24 * time.Hour
	s.seedLink("old-used", 40*day, 60*day, true)
	s.seedLink("signed", time.Hour, day, false)
	s.seedContract("signed")
	s.seedAudit(audit.ActionOTPVerified, 100*day, nil)

	res, err := s.svc.Cleanup(s.ctx, Options{DryRun: true})
	s.Require().NoError(err)
	s.True(res.DryRun)
	s.Equal(int64(1), res.DeletedLinks)
	s.Equal(int64(1), res.DeletedLogs)
	s.Equal(int64(1), res.ReconciledLinks)

	s.True(s.exists("old-used"))
	link, err := s.links.FindByID(s.ctx, "signed")
	s.Require().NoError(err)
	s.False(link.Used)
	s.NotContains(s.auditLog.ActionsFor(""), audit.ActionDatabaseCleanup)
}

func (s *MaintenanceSuite) TestReconcileScansEveryPage() {
	s.svc.batch = 2
	for _, id := range []string{"a1", "a2", "a3", "a4", "a5"} {
		s.seedLink(id, time.Hour, 24*time.Hour, false)
	}
	s.seedContract("a1")
	s.seedContract("a5")

	res, err := s.svc.Cleanup(s.ctx, Options{DryRun: true})
	s.Require().NoError(err)
	s.Equal(int64(2), res.ReconciledLinks)

	res, err = s.svc.Cleanup(s.ctx, Options{})
	s.Require().NoError(err)
	s.Equal(int64(2), res.ReconciledLinks)

	for _, id := range []string{"a1", "a5"} {
		link, err := s.links.FindByID(s.ctx, id)
		s.Require().NoError(err)
		s.True(link.Used, id)
	}
}

func (s *MaintenanceSuite) TestReconcileUsesContractAsTruth() {
	s.seedLink("signed", time.Hour, 24*time.Hour, false)
	s.seedLink("pending", time.Hour, 24*time.Hour, false)
	s.seedContract("signed")

	res, err := s.svc.Cleanup(s.ctx, Options{})
	s.Require().NoError(err)
	s.Equal(int64(1), res.ReconciledLinks)

	signed, err := s.links.FindByID(s.ctx, "signed")
	s.Require().NoError(err)
	s.True(signed.Used)
	pending, err := s.links.FindByID(s.ctx, "pending")
	s.Require().NoError(err)
	s.False(pending.Used)
}

func (s *MaintenanceSuite) TestCascadeRemovesContracts() {
	s.seedLink("old-used", 40*24*time.Hour, time.Hour, true)
	s.seedContract("old-used")

	_, err := s.svc.Cleanup(s.ctx, Options{})
	s.Require().NoError(err)

	ok, err := s.contracts.ExistsForLink(s.ctx, "old-used")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *MaintenanceSuite) TestCleanupAuditLogs() {
	str := func(v string) *string { return &v }
	s.seedAudit(audit.ActionOTPVerified, time.Hour, str("[object Object]"))
	s.seedAudit(audit.ActionOTPVerified, time.Hour, str(`{"email": "a@x.com"`))
	s.seedAudit(audit.ActionOTPVerified, time.Hour, str("plain note"))
	s.seedAudit(audit.ActionOTPVerified, time.Hour, str(`{"email":"a@x.com"}`))

	res, err := s.svc.CleanupAuditLogs(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), res.DeletedCount)
	s.Equal(int64(1), res.CorrectedCount)
	s.Equal(int64(2), res.TotalProcessed)

	again, err := s.svc.CleanupAuditLogs(s.ctx)
	s.Require().NoError(err)
	s.Zero(again.TotalProcessed)

	entries, err := s.auditLog.List(s.ctx, 10, 0)
	s.Require().NoError(err)
	s.Len(entries, 5)
}
