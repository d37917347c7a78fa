// Package audit persists the append-only record of dispatch attempts. The
// rate limiter reconstructs quota usage from these records, so the store is
// the single source of truth for both diagnostics and admission control.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"taskmail/internal/database"
	"taskmail/internal/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the append/query interface over dispatch attempt records.
// Records are immutable once appended; retention is an external concern.
type Store interface {
	// Append writes one record. Each call creates a new logical entry,
	// duplicate content included.
	Append(ctx context.Context, record *types.AuditRecord) error

	// CountSince returns the number of records for the identity with
	// created_at strictly after since, optionally filtered by outcome.
	// The strict inequality makes quota windows half-open: (since, now].
	CountSince(ctx context.Context, identityID string, since time.Time, outcome *types.Outcome) (int, error)

	// List returns up to limit records for the identity, newest first.
	// The result is a snapshot, not a live feed.
	List(ctx context.Context, identityID string, limit int) ([]*types.AuditRecord, error)
}

// sqlStore implements Store on the shared database wrapper.
type sqlStore struct {
	db     *database.Database
	logger *zap.Logger
}

// NewStore creates a SQL-backed audit store.
func NewStore(db *database.Database, logger *zap.Logger) Store {
	return &sqlStore{
		db:     db,
		logger: logger,
	}
}

// Append writes one record
func (s *sqlStore) Append(ctx context.Context, record *types.AuditRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	query := `
        INSERT INTO notifications (
            id, identity_id, recipient, subject,
            template, status, error_message, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.IdentityID,
		record.Recipient,
		record.Subject,
		nullableString(string(record.TemplateID)),
		string(record.Outcome),
		nullableString(record.FailureReason),
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	return nil
}

// CountSince counts records for an identity after the given instant
func (s *sqlStore) CountSince(ctx context.Context, identityID string, since time.Time, outcome *types.Outcome) (int, error) {
	query := `
        SELECT COUNT(*) FROM notifications
        WHERE identity_id = ? AND created_at > ?`
	args := []any{identityID, since}

	if outcome != nil {
		query += ` AND status = ?`
		args = append(args, string(*outcome))
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}

	return count, nil
}

// List returns recent records for an identity, newest first
func (s *sqlStore) List(ctx context.Context, identityID string, limit int) ([]*types.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
        SELECT id, identity_id, recipient, subject,
               template, status, error_message, created_at
        FROM notifications
        WHERE identity_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, identityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var records []*types.AuditRecord
	for rows.Next() {
		var (
			record        types.AuditRecord
			template      sql.NullString
			failureReason sql.NullString
			status        string
		)

		err := rows.Scan(
			&record.ID,
			&record.IdentityID,
			&record.Recipient,
			&record.Subject,
			&template,
			&status,
			&failureReason,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}

		record.TemplateID = types.TemplateID(template.String)
		record.Outcome = types.Outcome(status)
		record.FailureReason = failureReason.String
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}

	return records, nil
}

// nullableString maps empty strings to SQL NULL
func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
