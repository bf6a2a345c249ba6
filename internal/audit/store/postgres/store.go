package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"signlink/internal/audit"
	txcontext "signlink/pkg/platform/tx"
)

// repairBatchSize bounds how many rows RepairCorrupted classifies per round trip.
const repairBatchSize = 500

// Store implements audit.Store on the audit_logs table.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts the entry and sets its ID. It joins a transaction from ctx when present.
func (s *Store) Append(ctx context.Context, entry *audit.Entry) error {
	return s.insert(ctx, entry, entry.Details.Stored())
}

// AppendRaw stores details text verbatim, bypassing canonicalization.
func (s *Store) AppendRaw(ctx context.Context, entry *audit.Entry, raw *string) error {
	return s.insert(ctx, entry, raw)
}

func (s *Store) insert(ctx context.Context, entry *audit.Entry, details *string) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO audit_logs (link_id, action, details, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := txcontext.Pick(ctx, s.db).QueryRowContext(ctx, query,
		nullString(entry.LinkID),
		string(entry.Action),
		details,
		entry.IPAddress,
		entry.UserAgent,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// List returns entries newest first; ties on created_at fall back to id.
func (s *Store) List(ctx context.Context, limit, offset int) ([]audit.Entry, error) {
	query := `
		SELECT id, link_id, action, details, ip_address, user_agent, created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	entries := []audit.Entry{}
	for rows.Next() {
		var (
			e       audit.Entry
			linkID  sql.NullString
			action  string
			details sql.NullString
		)
		if err := rows.Scan(&e.ID, &linkID, &action, &details, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		e.LinkID = linkID.String
		e.Action = audit.Action(action)
		if details.Valid {
			e.Details = audit.ParseDetails(&details.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return entries, nil
}

func (s *Store) Stats(ctx context.Context, now time.Time) (audit.Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE created_at >= $1),
			COUNT(*) FILTER (WHERE created_at >= $2),
			COUNT(DISTINCT action),
			COUNT(DISTINCT link_id)
		FROM audit_logs
	`
	var st audit.Stats
	err := s.db.QueryRowContext(ctx, query, audit.StartOfDay(now), now.Add(-7*24*time.Hour)).
		Scan(&st.Total, &st.Today, &st.ThisWeek, &st.UniqueActions, &st.UniqueLinks)
	if err != nil {
		return audit.Stats{}, fmt.Errorf("audit stats: %w", err)
	}
	return st, nil
}

func (s *Store) DailyActivity(ctx context.Context, since time.Time) ([]audit.DailyCount, error) {
	query := `
		SELECT to_char(date_trunc('day', created_at AT TIME ZONE 'UTC'), 'YYYY-MM-DD') AS day, COUNT(*)
		FROM audit_logs
		WHERE created_at >= $1
		GROUP BY day
		ORDER BY day DESC
	`
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query daily activity: %w", err)
	}
	defer rows.Close()

	out := []audit.DailyCount{}
	for rows.Next() {
		var d audit.DailyCount
		if err := rows.Scan(&d.Date, &d.Count); err != nil {
			return nil, fmt.Errorf("scan daily activity: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs WHERE created_at < $1`, cutoff).Scan(&n); err != nil {
		return 0, fmt.Errorf("count old audit logs: %w", err)
	}
	return n, nil
}

func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit logs: %w", err)
	}
	return res.RowsAffected()
}

// DeleteCorrupted removes rows whose details carry the unserialized-object signature.
func (s *Store) DeleteCorrupted(ctx context.Context) (int64, error) {
	ids, err := s.collect(ctx, audit.Details.Corrupted)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("delete corrupted audit logs: %w", err)
	}
	return res.RowsAffected()
}

// RepairCorrupted nulls details that look like JSON but do not parse.
func (s *Store) RepairCorrupted(ctx context.Context) (int64, error) {
	ids, err := s.collect(ctx, audit.Details.Malformed)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE audit_logs SET details = NULL WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("repair audit logs: %w", err)
	}
	return res.RowsAffected()
}

// collect walks non-null details in id order and returns the ids matching pred.
func (s *Store) collect(ctx context.Context, pred func(audit.Details) bool) ([]int64, error) {
	var (
		ids    []int64
		lastID int64
	)
	for {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, details FROM audit_logs
			WHERE details IS NOT NULL AND id > $1
			ORDER BY id
			LIMIT $2
		`, lastID, repairBatchSize)
		if err != nil {
			return nil, fmt.Errorf("scan audit details: %w", err)
		}
		n := 0
		for rows.Next() {
			var (
				id      int64
				details string
			)
			if err := rows.Scan(&id, &details); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan audit details: %w", err)
			}
			n++
			lastID = id
			if pred(audit.ParseDetails(&details)) {
				ids = append(ids, id)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterate audit details: %w", err)
		}
		if n < repairBatchSize {
			return ids, nil
		}
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
