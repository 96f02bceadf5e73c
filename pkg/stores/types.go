package stores

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/amoebalabs/docguard/pkg/engine"
	"github.com/amoebalabs/docguard/pkg/rules"
)

// ErrNotFound is returned when a stored record does not exist.
var ErrNotFound = errors.New("not found")

// Audit actions written by docguard.
const (
	AuditRulesImported   = "rules.imported"
	AuditSpecDeleted     = "spec.deleted"
	AuditResultsPruned   = "results.pruned"
	AuditThresholdsSaved = "thresholds.saved"
)

// ResultRecord is a stored validation result.
type ResultRecord struct {
	ID           string          `json:"id"`
	PolicyType   string          `json:"policy_type"`
	Verdict      engine.Verdict  `json:"verdict"`
	Blocking     int             `json:"blocking"`
	Warnings     int             `json:"warnings"`
	DocumentHash string          `json:"document_hash"` // SHA-256 of the document text
	Result       json.RawMessage `json:"result"`        // canonical result encoding
	CreatedAt    time.Time       `json:"created_at"`
}

// Decode returns the stored validation result.
func (r *ResultRecord) Decode() (*engine.ValidationResult, error) {
	var out engine.ValidationResult
	if err := json.Unmarshal(r.Result, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResultFilter narrows ListResults. Zero fields do not filter.
type ResultFilter struct {
	PolicyType   string
	Verdict      engine.Verdict
	DocumentHash string
	Limit        int
	Offset       int
}

// AuditEntry is one line of the audit trail.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g., "rules.imported", "validation.completed"
	Actor     string    `json:"actor"`               // user or system identifier
	TargetID  *string   `json:"target_id,omitempty"` // policy type, result id, etc.
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// ImportSummary counts what an import wrote.
type ImportSummary struct {
	Specs      int `json:"specs"`
	Mappings   int `json:"mappings"`
	Thresholds int `json:"thresholds"`
}

// Store is the persistence layer: the rule-store population interface, the
// result-consumption interface and the audit trail.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	SchemaVersion(ctx context.Context) (version uint, dirty bool, err error)

	// Rule data
	PutSpec(ctx context.Context, spec rules.PolicySpec) error
	DeleteSpec(ctx context.Context, policyType string) error
	UpsertMappings(ctx context.Context, records []rules.MappingRecord) (int, error)
	PutThresholds(ctx context.Context, policyType string, t rules.ReadabilityThresholds) error
	ImportSnapshot(ctx context.Context, snap *rules.Snapshot, actor string) (ImportSummary, error)
	LoadBuilder(ctx context.Context) (*rules.Builder, error)
	LoadSnapshot(ctx context.Context) (*rules.Snapshot, error)

	// Validation results
	SaveResult(ctx context.Context, result *engine.ValidationResult, documentText string) (*ResultRecord, error)
	GetResult(ctx context.Context, id string) (*ResultRecord, error)
	ListResults(ctx context.Context, filter ResultFilter) ([]*ResultRecord, error)
	PruneResults(ctx context.Context, before time.Time) (int64, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
