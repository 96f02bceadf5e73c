package stores

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/amoebalabs/docguard/pkg/engine"
)

// DocumentHash returns the hex SHA-256 of a document text.
func DocumentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// SaveResult stores the canonical encoding of result together with the hash
// of the validated document text. The document text itself is not kept.
func (s *SQLiteStore) SaveResult(ctx context.Context, result *engine.ValidationResult, documentText string) (*ResultRecord, error) {
	if result == nil {
		return nil, fmt.Errorf("result is required")
	}

	canonical, err := result.Canonical()
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	rec := &ResultRecord{
		ID:           uuid.New().String(),
		PolicyType:   result.PolicyType,
		Verdict:      result.Verdict,
		Blocking:     len(result.Blocking()),
		Warnings:     len(result.Warnings()),
		DocumentHash: DocumentHash(documentText),
		Result:       json.RawMessage(canonical),
		CreatedAt:    s.now(),
	}

	query := `
		INSERT INTO validation_results (id, policy_type, verdict, blocking, warnings, document_hash, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.PolicyType,
		string(rec.Verdict),
		rec.Blocking,
		rec.Warnings,
		rec.DocumentHash,
		string(rec.Result),
		rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save result: %w", err)
	}

	return rec, nil
}

const resultColumns = `id, policy_type, verdict, blocking, warnings, document_hash, result, created_at`

// GetResult retrieves a stored result by ID.
func (s *SQLiteStore) GetResult(ctx context.Context, id string) (*ResultRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM validation_results WHERE id = ?`, id)

	rec, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return rec, nil
}

// ListResults lists stored results, newest first.
func (s *SQLiteStore) ListResults(ctx context.Context, filter ResultFilter) ([]*ResultRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.PolicyType != "" {
		where = append(where, "policy_type = ? COLLATE NOCASE")
		args = append(args, strings.TrimSpace(filter.PolicyType))
	}
	if filter.Verdict != "" {
		where = append(where, "verdict = ?")
		args = append(args, string(filter.Verdict))
	}
	if filter.DocumentHash != "" {
		where = append(where, "document_hash = ?")
		args = append(args, filter.DocumentHash)
	}

	query := `SELECT ` + resultColumns + ` FROM validation_results`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	records := []*ResultRecord{}
	for rows.Next() {
		rec, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return records, nil
}

// PruneResults deletes results created before the given time and returns the
// number removed.
func (s *SQLiteStore) PruneResults(ctx context.Context, before time.Time) (int64, error) {
	var removed int64

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM validation_results WHERE created_at < ?`, before.UTC().UnixNano())
		if err != nil {
			return fmt.Errorf("failed to prune results: %w", err)
		}
		removed, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		details := fmt.Sprintf(`{"removed":%d,"before":%q}`, removed, before.UTC().Format(time.RFC3339))
		return createAuditEntry(ctx, tx, &AuditEntry{Action: AuditResultsPruned, Actor: "retention", Details: &details}, s.now())
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(row scanner) (*ResultRecord, error) {
	rec := &ResultRecord{}
	var (
		verdict string
		result  string
		created int64
	)
	err := row.Scan(
		&rec.ID,
		&rec.PolicyType,
		&verdict,
		&rec.Blocking,
		&rec.Warnings,
		&rec.DocumentHash,
		&result,
		&created,
	)
	if err != nil {
		return nil, err
	}
	rec.Verdict = engine.Verdict(verdict)
	rec.Result = json.RawMessage(result)
	rec.CreatedAt = time.Unix(0, created).UTC()
	return rec, nil
}
