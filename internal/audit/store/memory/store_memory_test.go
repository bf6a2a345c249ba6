package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"signlink/internal/audit"
)

type AuditMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	now   time.Time
}

func TestAuditMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(AuditMemoryStoreSuite))
}

func (s *AuditMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
	s.now = time.Date(2026, 6, 10, 15, 0, 0, 0, time.UTC)
}

func (s *AuditMemoryStoreSuite) raw(action audit.Action, details string, at time.Time) {
	d := details
	require.NoError(s.T(), s.store.AppendRaw(s.ctx, &audit.Entry{Action: action, CreatedAt: at}, &d))
}

func (s *AuditMemoryStoreSuite) TestListNewestFirstWithIDTieBreak() {
	for i := 0; i < 3; i++ {
		require.NoError(s.T(), s.store.Append(s.ctx, &audit.Entry{Action: audit.ActionEmailSent, CreatedAt: s.now}))
	}
	require.NoError(s.T(), s.store.Append(s.ctx, &audit.Entry{Action: audit.ActionEmailSent, CreatedAt: s.now.Add(-time.Hour)}))

	entries, err := s.store.List(s.ctx, 10, 0)
	require.NoError(s.T(), err)
	require.Len(s.T(), entries, 4)
	assert.Equal(s.T(), []int64{3, 2, 1, 4}, []int64{entries[0].ID, entries[1].ID, entries[2].ID, entries[3].ID})

	page, err := s.store.List(s.ctx, 2, 1)
	require.NoError(s.T(), err)
	require.Len(s.T(), page, 2)
	assert.Equal(s.T(), int64(2), page[0].ID)

	empty, err := s.store.List(s.ctx, 10, 10)
	require.NoError(s.T(), err)
	assert.Empty(s.T(), empty)
}

func (s *AuditMemoryStoreSuite) TestRepairAndDeleteAreIdempotent() {
	s.raw(audit.ActionOTPVerifyFailed, "[object Object]", s.now)
	s.raw(audit.ActionOTPVerifyFailed, `{"reason":`, s.now)
	s.raw(audit.ActionOTPVerifyFailed, `{"reason":"invalid_otp"}`, s.now)
	s.raw(audit.ActionMigrationCompleted, "plain text", s.now)
	s.raw(audit.ActionContractSigned, `{"interpreterName":"[object Object]"}`, s.now)

	deleted, err := s.store.DeleteCorrupted(s.ctx)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), deleted)

	repaired, err := s.store.RepairCorrupted(s.ctx)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), repaired)

	deleted, err = s.store.DeleteCorrupted(s.ctx)
	require.NoError(s.T(), err)
	assert.Zero(s.T(), deleted)
	repaired, err = s.store.RepairCorrupted(s.ctx)
	require.NoError(s.T(), err)
	assert.Zero(s.T(), repaired)

	entries, err := s.store.List(s.ctx, 10, 0)
	require.NoError(s.T(), err)
	require.Len(s.T(), entries, 4)
	kinds := map[audit.Kind]int{}
	for _, e := range entries {
		kinds[e.Details.Kind()]++
	}
	assert.Equal(s.T(), map[audit.Kind]int{audit.KindNone: 1, audit.KindStructured: 2, audit.KindRawText: 1}, kinds)
}

func (s *AuditMemoryStoreSuite) TestStatsAndPurge() {
	require.NoError(s.T(), s.store.Append(s.ctx, &audit.Entry{LinkID: "a", Action: audit.ActionEmailSent, CreatedAt: s.now.Add(-time.Hour)}))
	require.NoError(s.T(), s.store.Append(s.ctx, &audit.Entry{LinkID: "a", Action: audit.ActionOTPVerified, CreatedAt: s.now.Add(-3 * 24 * time.Hour)}))
	require.NoError(s.T(), s.store.Append(s.ctx, &audit.Entry{LinkID: "b", Action: audit.ActionEmailSent, CreatedAt: s.now.Add(-100 * 24 * time.Hour)}))
	require.NoError(s.T(), s.store.Append(s.ctx, &audit.Entry{Action: audit.ActionDatabaseCleanup, CreatedAt: s.now}))

	st, err := s.store.Stats(s.ctx, s.now)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), audit.Stats{Total: 4, Today: 2, ThisWeek: 3, UniqueActions: 3, UniqueLinks: 2}, st)

	daily, err := s.store.DailyActivity(s.ctx, s.now.Add(-7*24*time.Hour))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), []audit.DailyCount{{Date: "2026-06-10", Count: 2}, {Date: "2026-06-07", Count: 1}}, daily)

	cutoff := s.now.Add(-90 * 24 * time.Hour)
	n, err := s.store.CountOlderThan(s.ctx, cutoff)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), n)

	purged, err := s.store.PurgeOlderThan(s.ctx, cutoff)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), purged)
	assert.Equal(s.T(), []audit.Action{audit.ActionEmailSent, audit.ActionOTPVerified}, s.store.ActionsFor("a"))
	assert.Empty(s.T(), s.store.ActionsFor("b"))
}
