package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/amoebalabs/docguard/pkg/telemetry"
)

// AuditFilter narrows ListAuditEntries. Zero fields do not filter.
type AuditFilter struct {
	Action   string
	TargetID string
	Since    time.Time
	Limit    int
	Offset   int
}

// CreateAuditEntry appends entry to the audit trail and sets its ID.
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	return createAuditEntry(ctx, s.db, entry, s.now())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// createAuditEntry writes through db, which may be a transaction so that the
// entry commits with the change it records.
func createAuditEntry(ctx context.Context, db execer, entry *AuditEntry, now time.Time) error {
	if entry.Action == "" {
		return fmt.Errorf("audit entry has no action")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}

	res, err := db.ExecContext(ctx,
		`INSERT INTO audit (action, actor, target_id, details, timestamp) VALUES (?, ?, ?, ?, ?)`,
		entry.Action, entry.Actor, entry.TargetID, entry.Details, entry.Timestamp.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	if entry.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}
	return nil
}

// ListAuditEntries returns audit entries, newest first.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.TargetID != "" {
		where = append(where, "target_id = ?")
		args = append(args, filter.TargetID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.Since.UTC().UnixNano())
	}

	query := `SELECT id, action, actor, target_id, details, timestamp FROM audit`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		var ts int64
		if err := rows.Scan(&entry.ID, &entry.Action, &entry.Actor, &entry.TargetID, &entry.Details, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Timestamp = time.Unix(0, ts).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	return entries, nil
}

// AuditSubscriber returns an event subscriber that appends every published
// event to the audit trail. Write failures are logged and dropped.
func (s *SQLiteStore) AuditSubscriber(ctx context.Context, logger zerolog.Logger) telemetry.EventSubscriber {
	return func(e telemetry.Event) {
		entry := &AuditEntry{
			Action:    e.Type,
			Actor:     e.Source,
			Timestamp: e.Timestamp.UTC(),
		}

		switch {
		case e.ResultID != "":
			id := e.ResultID
			entry.TargetID = &id
		case e.PolicyType != "":
			pt := e.PolicyType
			entry.TargetID = &pt
		}

		details := map[string]interface{}{"message": e.Message, "level": e.Level}
		for k, v := range e.Data {
			details[k] = v
		}
		if data, err := json.Marshal(details); err == nil {
			d := string(data)
			entry.Details = &d
		}

		if err := s.CreateAuditEntry(ctx, entry); err != nil {
			logger.Warn().Err(err).Str("event", e.Type).Msg("Failed to record audit entry")
		}
	}
}
