package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"signlink/internal/contracts/models"
	"signlink/internal/platform/postgres"
	"signlink/pkg/platform/sentinel"
	txcontext "signlink/pkg/platform/tx"
)

// PostgresStore persists contracts in signed_contracts. Link deletion cascades here.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create maps a duplicate link_id to ErrConflict.
func (s *PostgresStore) Create(ctx context.Context, c *models.SignedContract) error {
	query := `
		INSERT INTO signed_contracts (link_id, interpreter_name, signature_type, signature_data, pdf_content, signed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := txcontext.Pick(ctx, s.db).QueryRowContext(ctx, query,
		c.LinkID, c.InterpreterName, string(c.SignatureType), c.SignatureData, c.PDFContent, c.SignedAt,
	).Scan(&c.ID)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("contract for link %s: %w", c.LinkID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert signed contract: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByLinkID(ctx context.Context, linkID string) (*models.SignedContract, error) {
	query := `
		SELECT id, link_id, interpreter_name, signature_type, signature_data, pdf_content, signed_at
		FROM signed_contracts WHERE link_id = $1
	`
	var (
		c       models.SignedContract
		sigType string
	)
	err := txcontext.Pick(ctx, s.db).QueryRowContext(ctx, query, linkID).
		Scan(&c.ID, &c.LinkID, &c.InterpreterName, &sigType, &c.SignatureData, &c.PDFContent, &c.SignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contract not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find signed contract: %w", err)
	}
	c.SignatureType = models.SignatureType(sigType)
	return &c, nil
}

func (s *PostgresStore) ExistsForLink(ctx context.Context, linkID string) (bool, error) {
	var exists bool
	err := txcontext.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM signed_contracts WHERE link_id = $1)`, linkID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check signed contract: %w", err)
	}
	return exists, nil
}

// ListRecent joins the link email and never selects pdf_content itself.
func (s *PostgresStore) ListRecent(ctx context.Context, limit, offset int) ([]models.Summary, error) {
	query := `
		SELECT c.id, c.link_id, c.interpreter_name, c.signature_type, c.signature_data,
		       length(c.pdf_content) > 0, c.signed_at, COALESCE(l.email, '')
		FROM signed_contracts c
		LEFT JOIN secure_links l ON l.id = c.link_id
		ORDER BY c.signed_at DESC, c.id DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list signed contracts: %w", err)
	}
	defer rows.Close()

	out := []models.Summary{}
	for rows.Next() {
		var (
			sum     models.Summary
			sigType string
		)
		if err := rows.Scan(&sum.ID, &sum.LinkID, &sum.InterpreterName, &sigType, &sum.SignatureData,
			&sum.HasPDF, &sum.SignedAt, &sum.Email); err != nil {
			return nil, fmt.Errorf("scan signed contract: %w", err)
		}
		sum.SignatureType = models.SignatureType(sigType)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context) (models.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT signature_type, COUNT(*) FROM signed_contracts GROUP BY signature_type`)
	if err != nil {
		return models.Stats{}, fmt.Errorf("contract stats: %w", err)
	}
	defer rows.Close()

	st := models.Stats{ByType: map[models.SignatureType]int64{}}
	for rows.Next() {
		var (
			sigType string
			n       int64
		)
		if err := rows.Scan(&sigType, &n); err != nil {
			return models.Stats{}, fmt.Errorf("scan contract stats: %w", err)
		}
		st.ByType[models.SignatureType(sigType)] = n
		st.Total += n
	}
	return st, rows.Err()
}

func (s *PostgresStore) MonthlySigned(ctx context.Context, since time.Time) ([]models.MonthlyCount, error) {
	query := `
		SELECT to_char(date_trunc('month', signed_at AT TIME ZONE 'UTC'), 'YYYY-MM') AS month, COUNT(*)
		FROM signed_contracts
		WHERE signed_at >= $1
		GROUP BY month
		ORDER BY month DESC
	`
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("monthly contracts: %w", err)
	}
	defer rows.Close()

	out := []models.MonthlyCount{}
	for rows.Next() {
		var m models.MonthlyCount
		if err := rows.Scan(&m.Month, &m.Count); err != nil {
			return nil, fmt.Errorf("scan monthly contracts: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) TopInterpreters(ctx context.Context, limit int) ([]models.InterpreterActivity, error) {
	query := `
		SELECT interpreter_name, COUNT(*) AS contract_count, MAX(signed_at)
		FROM signed_contracts
		GROUP BY interpreter_name
		ORDER BY contract_count DESC, interpreter_name
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("top interpreters: %w", err)
	}
	defer rows.Close()

	out := []models.InterpreterActivity{}
	for rows.Next() {
		var a models.InterpreterActivity
		if err := rows.Scan(&a.InterpreterName, &a.ContractCount, &a.LastSigned); err != nil {
			return nil, fmt.Errorf("scan top interpreters: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
