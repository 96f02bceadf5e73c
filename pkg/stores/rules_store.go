package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/amoebalabs/docguard/pkg/rules"
)

// globalKey is the policy key of the global readability thresholds.
const globalKey = ""

// PutSpec adds or replaces the spec for spec.PolicyType. The spec is checked
// the same way a rules.Builder checks it before anything is written.
func (s *SQLiteStore) PutSpec(ctx context.Context, spec rules.PolicySpec) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.putSpec(ctx, tx, spec)
	})
}

func (s *SQLiteStore) putSpec(ctx context.Context, tx *sql.Tx, spec rules.PolicySpec) error {
	if err := rules.NewBuilder().PutSpec(spec); err != nil {
		return err
	}

	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to encode spec %s: %w", spec.PolicyType, err)
	}

	policyType := strings.TrimSpace(spec.PolicyType)
	query := `
		INSERT INTO policy_specs (policy_key, policy_type, spec, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(policy_key) DO UPDATE SET
			policy_type = excluded.policy_type,
			spec = excluded.spec,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, rules.NormalizeName(policyType), policyType, string(data), s.now().UnixNano()); err != nil {
		return fmt.Errorf("failed to store spec %s: %w", policyType, err)
	}

	if spec.Readability != nil {
		return s.putThresholds(ctx, tx, policyType, *spec.Readability)
	}
	return nil
}

// DeleteSpec removes the spec and the per-type thresholds of a policy type.
func (s *SQLiteStore) DeleteSpec(ctx context.Context, policyType string) error {
	key := rules.NormalizeName(policyType)
	if key == globalKey {
		return fmt.Errorf("policy type is required")
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM policy_specs WHERE policy_key = ?`, key)
		if err != nil {
			return fmt.Errorf("failed to delete spec: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("spec %s: %w", policyType, ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM readability_thresholds WHERE policy_key = ?`, key); err != nil {
			return fmt.Errorf("failed to delete thresholds: %w", err)
		}

		target := strings.TrimSpace(policyType)
		return createAuditEntry(ctx, tx, &AuditEntry{Action: AuditSpecDeleted, Actor: "docguard", TargetID: &target}, s.now())
	})
}

// UpsertMappings applies bulk control-mapping records. A record without
// policy types is global. An existing (policy type, control) row is replaced,
// never merged. It returns the number of rows written.
func (s *SQLiteStore) UpsertMappings(ctx context.Context, records []rules.MappingRecord) (int, error) {
	b := rules.NewBuilder()
	if _, err := b.Upsert(records); err != nil {
		return 0, err
	}
	mappings := b.Build().Mappings()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return s.putMappings(ctx, tx, mappings)
	})
	if err != nil {
		return 0, err
	}
	return len(mappings), nil
}

func (s *SQLiteStore) putMappings(ctx context.Context, tx *sql.Tx, mappings []rules.ControlMapping) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO control_mappings (policy_key, policy_type, control_id, title, keywords, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(policy_key, control_id) DO UPDATE SET
			policy_type = excluded.policy_type,
			title = excluded.title,
			keywords = excluded.keywords,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare mapping upsert: %w", err)
	}
	defer stmt.Close()

	now := s.now().UnixNano()
	for _, m := range mappings {
		keywords, err := json.Marshal(m.Keywords)
		if err != nil {
			return fmt.Errorf("failed to encode keywords for %s: %w", m.ControlID, err)
		}
		if _, err := stmt.ExecContext(ctx, rules.NormalizeName(m.PolicyType), m.PolicyType, m.ControlID, m.Title, string(keywords), now); err != nil {
			return fmt.Errorf("failed to upsert mapping %s: %w", m.ControlID, err)
		}
	}
	return nil
}

// PutThresholds stores readability thresholds for a policy type. An empty
// policy type sets the global thresholds.
func (s *SQLiteStore) PutThresholds(ctx context.Context, policyType string, t rules.ReadabilityThresholds) error {
	if err := rules.NewBuilder().SetGlobalThresholds(t); err != nil {
		return err
	}
	policyType = strings.TrimSpace(policyType)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.putThresholds(ctx, tx, policyType, t); err != nil {
			return err
		}
		entry := &AuditEntry{Action: AuditThresholdsSaved, Actor: "docguard"}
		if policyType != "" {
			entry.TargetID = &policyType
		}
		return createAuditEntry(ctx, tx, entry, s.now())
	})
}

func (s *SQLiteStore) putThresholds(ctx context.Context, tx *sql.Tx, policyType string, t rules.ReadabilityThresholds) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode thresholds: %w", err)
	}

	query := `
		INSERT INTO readability_thresholds (policy_key, policy_type, thresholds, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(policy_key) DO UPDATE SET
			policy_type = excluded.policy_type,
			thresholds = excluded.thresholds,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, rules.NormalizeName(policyType), policyType, string(data), s.now().UnixNano()); err != nil {
		return fmt.Errorf("failed to store thresholds: %w", err)
	}
	return nil
}

// ImportSnapshot writes every spec, mapping and threshold of snap in one
// transaction and records an audit entry for actor.
func (s *SQLiteStore) ImportSnapshot(ctx context.Context, snap *rules.Snapshot, actor string) (ImportSummary, error) {
	var summary ImportSummary
	if snap == nil {
		return summary, fmt.Errorf("snapshot is required")
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, pt := range snap.PolicyTypes() {
			spec, err := snap.GetSpec(pt)
			if err != nil {
				return err
			}
			if err := s.putSpec(ctx, tx, *spec); err != nil {
				return err
			}
			summary.Specs++
			if spec.Readability != nil {
				summary.Thresholds++
			}
		}

		mappings := snap.Mappings()
		if err := s.putMappings(ctx, tx, mappings); err != nil {
			return err
		}
		summary.Mappings = len(mappings)

		if g, ok := snap.GlobalThresholds(); ok {
			if err := s.putThresholds(ctx, tx, globalKey, g); err != nil {
				return err
			}
			summary.Thresholds++
		}

		details, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("failed to encode import summary: %w", err)
		}
		d := string(details)
		return createAuditEntry(ctx, tx, &AuditEntry{Action: AuditRulesImported, Actor: actor, Details: &d}, s.now())
	})
	if err != nil {
		return ImportSummary{}, err
	}
	return summary, nil
}

// LoadBuilder reads all rule data into a new builder. Callers can layer
// further rule sets on top before building a snapshot.
func (s *SQLiteStore) LoadBuilder(ctx context.Context) (*rules.Builder, error) {
	b := rules.NewBuilder()

	if err := s.loadSpecs(ctx, b); err != nil {
		return nil, err
	}
	if err := s.loadMappings(ctx, b); err != nil {
		return nil, err
	}
	if err := s.loadThresholds(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// LoadSnapshot builds a rules snapshot from the stored rule data.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (*rules.Snapshot, error) {
	b, err := s.LoadBuilder(ctx)
	if err != nil {
		return nil, err
	}
	return b.Build(), nil
}

func (s *SQLiteStore) loadSpecs(ctx context.Context, b *rules.Builder) error {
	rows, err := s.db.QueryContext(ctx, `SELECT policy_type, spec FROM policy_specs ORDER BY policy_key`)
	if err != nil {
		return fmt.Errorf("failed to list specs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var policyType, data string
		if err := rows.Scan(&policyType, &data); err != nil {
			return fmt.Errorf("failed to scan spec: %w", err)
		}
		var spec rules.PolicySpec
		if err := json.Unmarshal([]byte(data), &spec); err != nil {
			return fmt.Errorf("failed to decode spec %s: %w", policyType, err)
		}
		if err := b.PutSpec(spec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating specs: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadMappings(ctx context.Context, b *rules.Builder) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT policy_type, control_id, title, keywords
		FROM control_mappings
		ORDER BY policy_key, control_id
	`)
	if err != nil {
		return fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	var records []rules.MappingRecord
	for rows.Next() {
		var policyType, keywords string
		rec := rules.MappingRecord{}
		if err := rows.Scan(&policyType, &rec.ControlID, &rec.Title, &keywords); err != nil {
			return fmt.Errorf("failed to scan mapping: %w", err)
		}
		if err := json.Unmarshal([]byte(keywords), &rec.Keywords); err != nil {
			return fmt.Errorf("failed to decode keywords for %s: %w", rec.ControlID, err)
		}
		if policyType != "" {
			rec.PolicyTypes = []string{policyType}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating mappings: %w", err)
	}

	if _, err := b.Upsert(records); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) loadThresholds(ctx context.Context, b *rules.Builder) error {
	rows, err := s.db.QueryContext(ctx, `SELECT policy_key, policy_type, thresholds FROM readability_thresholds`)
	if err != nil {
		return fmt.Errorf("failed to list thresholds: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, policyType, data string
		if err := rows.Scan(&key, &policyType, &data); err != nil {
			return fmt.Errorf("failed to scan thresholds: %w", err)
		}
		var t rules.ReadabilityThresholds
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return fmt.Errorf("failed to decode thresholds: %w", err)
		}
		if key == globalKey {
			err = b.SetGlobalThresholds(t)
		} else {
			err = b.PutThresholds(policyType, t)
		}
		if err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating thresholds: %w", err)
	}
	return nil
}
