//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"signlink/internal/audit"
	auditpostgres "signlink/internal/audit/store/postgres"
	"signlink/pkg/testutil/containers"
)

type AuditStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *auditpostgres.Store
	now      time.Time
}

func TestAuditStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(AuditStoreSuite))
}

func (s *AuditStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = auditpostgres.New(s.postgres.DB)
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

func (s *AuditStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_logs"))
}

func (s *AuditStoreSuite) appendRaw(action audit.Action, raw *string, at time.Time) {
	entry := &audit.Entry{LinkID: "l1", Action: action, CreatedAt: at}
	s.Require().NoError(s.store.AppendRaw(context.Background(), entry, raw))
}

func (s *AuditStoreSuite) TestDetailsRoundTrip() {
	ctx := context.Background()
	entry := &audit.Entry{
		LinkID:    "l1",
		Action:    audit.ActionContractSigned,
		Details:   audit.Canonicalize(map[string]any{"interpreterName": "Ana", "pdfSize": 512}),
		IPAddress: "203.0.113.9",
		UserAgent: "curl/8.0",
		CreatedAt: s.now,
	}
	s.Require().NoError(s.store.Append(ctx, entry))
	s.NotZero(entry.ID)

	got, err := s.store.List(ctx, 10, 0)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(entry.Details.Payload(), got[0].Details.Payload())
	s.Equal("203.0.113.9", got[0].IPAddress)
	s.True(got[0].CreatedAt.Equal(s.now))
}

func (s *AuditStoreSuite) TestListNewestFirst() {
	s.appendRaw(audit.ActionEmailSent, nil, s.now.Add(-time.Hour))
	s.appendRaw(audit.ActionOTPVerified, nil, s.now)

	got, err := s.store.List(context.Background(), 10, 0)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(audit.ActionOTPVerified, got[0].Action)
}

func (s *AuditStoreSuite) TestCorruptedRowsAreCleaned() {
	ctx := context.Background()
	unreadable := "[object Object]"
	malformed := `{"email": "a@x.com"`
	plain := "free text note"
	valid := `{"ok":true}`
	s.appendRaw(audit.ActionEmailSent, &unreadable, s.now)
	s.appendRaw(audit.ActionEmailSent, &malformed, s.now)
	s.appendRaw(audit.ActionEmailSent, &plain, s.now)
	s.appendRaw(audit.ActionEmailSent, &valid, s.now)

	deleted, err := s.store.DeleteCorrupted(ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)

	repaired, err := s.store.RepairCorrupted(ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), repaired)

	again, err := s.store.RepairCorrupted(ctx)
	s.Require().NoError(err)
	s.Zero(again)

	got, err := s.store.List(ctx, 10, 0)
	s.Require().NoError(err)
	s.Len(got, 3)
	kinds := map[audit.Kind]int{}
	for _, e := range got {
		kinds[e.Details.Kind()]++
	}
	s.Equal(map[audit.Kind]int{audit.KindNone: 1, audit.KindRawText: 1, audit.KindStructured: 1}, kinds)
}

func (s *AuditStoreSuite) TestRetention() {
	ctx := context.Background()
	s.appendRaw(audit.ActionEmailSent, nil, s.now.Add(-100*24*time.Hour))
	s.appendRaw(audit.ActionEmailSent, nil, s.now)

	cutoff := s.now.Add(-90 * 24 * time.Hour)
	n, err := s.store.CountOlderThan(ctx, cutoff)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	n, err = s.store.PurgeOlderThan(ctx, cutoff)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	st, err := s.store.Stats(ctx, s.now)
	s.Require().NoError(err)
	s.Equal(int64(1), st.Total)
}
