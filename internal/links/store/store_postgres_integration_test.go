//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"signlink/internal/links/models"
	"signlink/internal/links/store"
	"signlink/pkg/platform/sentinel"
	"signlink/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_logs", "signed_contracts", "secure_links"))
}

func (s *PostgresStoreSuite) link(id string, createdAt time.Time, ttl time.Duration) *models.SecureLink {
	return &models.SecureLink{
		ID:        id,
		Email:     id + "@example.com",
		OTP:       "123456",
		ExpiresAt: createdAt.Add(ttl),
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func (s *PostgresStoreSuite) TestCreateThenFind() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.link("a1", s.now, time.Hour)))

	got, err := s.store.FindByID(ctx, "a1")
	s.Require().NoError(err)
	s.Equal("a1@example.com", got.Email)
	s.False(got.Used)
	s.True(got.ExpiresAt.Equal(s.now.Add(time.Hour)))
}

func (s *PostgresStoreSuite) TestDuplicateIDConflicts() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.link("dup", s.now, time.Hour)))
	s.ErrorIs(s.store.Create(ctx, s.link("dup", s.now, time.Hour)), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestFindMissing() {
	_, err := s.store.FindByID(context.Background(), "nope")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestMarkUsedIsIdempotent() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.link("m1", s.now, time.Hour)))

	first := s.now.Add(time.Minute)
	s.Require().NoError(s.store.MarkUsed(ctx, "m1", first))
	s.Require().NoError(s.store.MarkUsed(ctx, "m1", first.Add(time.Hour)))

	got, err := s.store.FindByID(ctx, "m1")
	s.Require().NoError(err)
	s.True(got.Used)
	s.True(got.UpdatedAt.Equal(first))

	s.ErrorIs(s.store.MarkUsed(ctx, "ghost", first), sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestDeleteExpiredCascadesContracts() {
	ctx := context.Background()
	old := s.now.Add(-40 * 24 * time.Hour)
	s.Require().NoError(s.store.Create(ctx, s.link("old", old, time.Hour)))
	s.Require().NoError(s.store.Create(ctx, s.link("fresh", s.now, time.Hour)))
	_, err := s.postgres.Exec(ctx, `
		INSERT INTO signed_contracts (link_id, interpreter_name, signature_type, signature_data, pdf_content)
		VALUES ('old', 'Ana', 'text', 'Ana', 'JVBERi0=')`)
	s.Require().NoError(err)

	cutoff := s.now.Add(-30 * 24 * time.Hour)
	n, err := s.store.CountExpired(ctx, s.now, cutoff)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	n, err = s.store.DeleteExpired(ctx, s.now, cutoff)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	var contracts int
	s.Require().NoError(s.postgres.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM signed_contracts`).Scan(&contracts))
	s.Zero(contracts)

	_, err = s.store.FindByID(ctx, "fresh")
	s.NoError(err)
}

func (s *PostgresStoreSuite) TestStatsAndListing() {
	ctx := context.Background()
	s.Require().NoError(s.store.Create(ctx, s.link("active", s.now, time.Hour)))
	s.Require().NoError(s.store.Create(ctx, s.link("expired", s.now.Add(-2*time.Hour), time.Hour)))
	s.Require().NoError(s.store.Create(ctx, s.link("used", s.now.Add(-time.Minute), time.Hour)))
	s.Require().NoError(s.store.MarkUsed(ctx, "used", s.now))

	st, err := s.store.Stats(ctx, s.now)
	s.Require().NoError(err)
	s.Equal(models.Stats{Total: 3, Used: 1, Expired: 1, Active: 1, Today: st.Today}, st)

	recent, err := s.store.ListRecent(ctx, 2, 0)
	s.Require().NoError(err)
	s.Require().Len(recent, 2)
	s.Equal("active", recent[0].ID)

	unused, err := s.store.ListUnused(ctx, "", 10)
	s.Require().NoError(err)
	s.Require().Len(unused, 2)
	s.Equal("active", unused[0].ID)

	rest, err := s.store.ListUnused(ctx, "active", 10)
	s.Require().NoError(err)
	s.Require().Len(rest, 1)
	s.Equal("expired", rest[0].ID)
}
