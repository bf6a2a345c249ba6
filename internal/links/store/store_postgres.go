package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"signlink/internal/links/models"
	"signlink/internal/platform/postgres"
	"signlink/pkg/platform/sentinel"
	txcontext "signlink/pkg/platform/tx"
)

// PostgresStore persists links in the secure_links table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const linkColumns = `id, email, otp, expires_at, used, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, link *models.SecureLink) error {
	query := `
		INSERT INTO secure_links (` + linkColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := txcontext.Pick(ctx, s.db).ExecContext(ctx, query,
		link.ID, link.Email, link.OTP, link.ExpiresAt, link.Used, link.CreatedAt, link.UpdatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("secure link %s: %w", link.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert secure link: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.SecureLink, error) {
	row := txcontext.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM secure_links WHERE id = $1`, id)
	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("secure link not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find secure link: %w", err)
	}
	return link, nil
}

// MarkUsed keeps updated_at untouched on repeated calls.
func (s *PostgresStore) MarkUsed(ctx context.Context, id string, at time.Time) error {
	exec := txcontext.Pick(ctx, s.db)
	res, err := exec.ExecContext(ctx,
		`UPDATE secure_links SET used = TRUE, updated_at = $2 WHERE id = $1 AND used = FALSE`, id, at)
	if err != nil {
		return fmt.Errorf("mark secure link used: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists bool
	if err := exec.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM secure_links WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check secure link: %w", err)
	}
	if !exists {
		return fmt.Errorf("secure link not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

const purgePredicate = `(used OR expires_at < $1) AND created_at < $2`

func (s *PostgresStore) CountExpired(ctx context.Context, now, createdBefore time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM secure_links WHERE `+purgePredicate, now, createdBefore).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count expired links: %w", err)
	}
	return n, nil
}

// DeleteExpired relies on ON DELETE CASCADE to remove the matching contracts.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now, createdBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secure_links WHERE `+purgePredicate, now, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("delete expired links: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) Stats(ctx context.Context, now time.Time) (models.Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE used),
			COUNT(*) FILTER (WHERE NOT used AND expires_at <= $1),
			COUNT(*) FILTER (WHERE NOT used AND expires_at > $1),
			COUNT(*) FILTER (WHERE created_at >= $2)
		FROM secure_links
	`
	var st models.Stats
	err := s.db.QueryRowContext(ctx, query, now, now.UTC().Truncate(24*time.Hour)).
		Scan(&st.Total, &st.Used, &st.Expired, &st.Active, &st.Today)
	if err != nil {
		return models.Stats{}, fmt.Errorf("secure link stats: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit, offset int) ([]*models.SecureLink, error) {
	return s.list(ctx, `SELECT `+linkColumns+` FROM secure_links
		ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
}

func (s *PostgresStore) ListUnused(ctx context.Context, afterID string, limit int) ([]*models.SecureLink, error) {
	return s.list(ctx, `SELECT `+linkColumns+` FROM secure_links WHERE NOT used AND id > $1
		ORDER BY id LIMIT $2`, afterID, limit)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.SecureLink, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list secure links: %w", err)
	}
	defer rows.Close()

	out := []*models.SecureLink{}
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan secure link: %w", err)
		}
		out = append(out, link)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLink(row scanner) (*models.SecureLink, error) {
	var l models.SecureLink
	if err := row.Scan(&l.ID, &l.Email, &l.OTP, &l.ExpiresAt, &l.Used, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}
