package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidSpec is wrapped by every rejected administrative update.
var ErrInvalidSpec = errors.New("invalid rule data")

// Builder is the administrative update path of the rule store. It accumulates
// specs, mappings and thresholds and produces immutable snapshots.
type Builder struct {
	specs      map[string]*PolicySpec
	mappings   map[mappingKey]ControlMapping
	thresholds map[string]ReadabilityThresholds
	global     *ReadabilityThresholds
	validate   *validator.Validate
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		specs:      make(map[string]*PolicySpec),
		mappings:   make(map[mappingKey]ControlMapping),
		thresholds: make(map[string]ReadabilityThresholds),
		validate:   validator.New(),
	}
}

// NewBuilderFrom creates a builder seeded with the contents of snap, so that
// a refresh can start from the previous generation without mutating it.
func NewBuilderFrom(snap *Snapshot) *Builder {
	b := NewBuilder()
	if snap == nil {
		return b
	}
	for k, spec := range snap.specs {
		b.specs[k] = spec.clone()
	}
	for k, m := range snap.mappings {
		m.Keywords = append([]string(nil), m.Keywords...)
		b.mappings[k] = m
	}
	for k, t := range snap.thresholds {
		b.thresholds[k] = t.clone()
	}
	if snap.global != nil {
		g := snap.global.clone()
		b.global = &g
	}
	return b
}

// PutSpec adds or replaces the spec for spec.PolicyType. Section names and
// aliases must be unique within the spec, and rule ids must be unique.
func (b *Builder) PutSpec(spec PolicySpec) error {
	spec.PolicyType = strings.TrimSpace(spec.PolicyType)
	if spec.PolicyType == "" {
		return fmt.Errorf("%w: policy type is required", ErrInvalidSpec)
	}

	seen := make(map[string]string)
	for i, sec := range spec.RequiredSections {
		if err := b.validate.Struct(sec); err != nil {
			return fmt.Errorf("%w: %s: required section %d: %v", ErrInvalidSpec, spec.PolicyType, i, err)
		}
		for _, name := range sec.Names() {
			key := NormalizeName(name)
			if key == "" {
				return fmt.Errorf("%w: %s: section %q has an empty alias", ErrInvalidSpec, spec.PolicyType, sec.Name)
			}
			if owner, dup := seen[key]; dup && owner != sec.Name {
				return fmt.Errorf("%w: %s: section name %q used by both %q and %q", ErrInvalidSpec, spec.PolicyType, name, owner, sec.Name)
			} else if dup {
				return fmt.Errorf("%w: %s: duplicate section name %q", ErrInvalidSpec, spec.PolicyType, name)
			}
			seen[key] = sec.Name
		}
	}

	ruleIDs := make(map[string]struct{}, len(spec.Rules))
	for _, r := range spec.Rules {
		if r.Predicate == nil {
			return fmt.Errorf("%w: %s: rule %q has no predicate", ErrInvalidSpec, spec.PolicyType, r.ID)
		}
		if !r.Severity.Valid() {
			return fmt.Errorf("%w: %s: rule %q has unknown severity %q", ErrInvalidSpec, spec.PolicyType, r.ID, r.Severity)
		}
		if _, dup := ruleIDs[r.ID]; dup {
			return fmt.Errorf("%w: %s: duplicate rule id %q", ErrInvalidSpec, spec.PolicyType, r.ID)
		}
		ruleIDs[r.ID] = struct{}{}
	}

	stored := spec.clone()
	stored.Controls = ParseControlList(strings.Join(spec.Controls, ","))

	key := typeKey(spec.PolicyType)
	b.specs[key] = stored
	if stored.Readability != nil {
		b.thresholds[key] = stored.Readability.clone()
	}
	return nil
}

// RemoveSpec deletes the spec and thresholds for a policy type.
func (b *Builder) RemoveSpec(policyType string) bool {
	key := typeKey(policyType)
	_, ok := b.specs[key]
	delete(b.specs, key)
	delete(b.thresholds, key)
	return ok
}

// PutThresholds sets the readability thresholds for one policy type.
func (b *Builder) PutThresholds(policyType string, t ReadabilityThresholds) error {
	if strings.TrimSpace(policyType) == "" {
		return fmt.Errorf("%w: policy type is required for thresholds", ErrInvalidSpec)
	}
	if err := b.validate.Struct(t); err != nil {
		return fmt.Errorf("%w: thresholds for %s: %v", ErrInvalidSpec, policyType, err)
	}
	b.thresholds[typeKey(policyType)] = t.clone()
	return nil
}

// SetGlobalThresholds sets the thresholds used when a policy type has none.
func (b *Builder) SetGlobalThresholds(t ReadabilityThresholds) error {
	if err := b.validate.Struct(t); err != nil {
		return fmt.Errorf("%w: global thresholds: %v", ErrInvalidSpec, err)
	}
	g := t.clone()
	b.global = &g
	return nil
}

// Upsert applies bulk control-mapping records. A record without policy types
// is global. An existing (policy type, control) entry is replaced by the later
// record, never merged. It returns the number of entries written.
func (b *Builder) Upsert(records []MappingRecord) (int, error) {
	for i, rec := range records {
		if err := b.validate.Struct(rec); err != nil {
			return 0, fmt.Errorf("%w: mapping record %d (%s): %v", ErrInvalidSpec, i, rec.ControlID, err)
		}
		if NormalizeControlID(rec.ControlID) == "" {
			return 0, fmt.Errorf("%w: mapping record %d: empty control id", ErrInvalidSpec, i)
		}
		if len(normalizeKeywords(rec.Keywords)) == 0 {
			return 0, fmt.Errorf("%w: mapping record %d (%s): keyword set is empty", ErrInvalidSpec, i, rec.ControlID)
		}
	}

	written := 0
	for _, rec := range records {
		id := NormalizeControlID(rec.ControlID)
		title := strings.TrimSpace(rec.Title)
		if title == "" {
			title = id
		}
		keywords := normalizeKeywords(rec.Keywords)

		types := rec.PolicyTypes
		if len(types) == 0 {
			types = []string{""}
		}
		for _, pt := range types {
			pt = strings.TrimSpace(pt)
			b.mappings[mappingKey{policyType: typeKey(pt), controlID: id}] = ControlMapping{
				ControlID:  id,
				Title:      title,
				Keywords:   append([]string(nil), keywords...),
				PolicyType: pt,
			}
			written++
		}
	}
	return written, nil
}

// Build returns an immutable snapshot of the current builder contents.
// The builder remains usable; later changes do not affect the snapshot.
func (b *Builder) Build() *Snapshot {
	snap := &Snapshot{
		specs:      make(map[string]*PolicySpec, len(b.specs)),
		mappings:   make(map[mappingKey]ControlMapping, len(b.mappings)),
		thresholds: make(map[string]ReadabilityThresholds, len(b.thresholds)),
	}
	for k, spec := range b.specs {
		snap.specs[k] = spec.clone()
	}
	for k, m := range b.mappings {
		m.Keywords = append([]string(nil), m.Keywords...)
		snap.mappings[k] = m
	}
	for k, t := range b.thresholds {
		snap.thresholds[k] = t.clone()
	}
	if b.global != nil {
		g := b.global.clone()
		snap.global = &g
	}
	return snap
}

// normalizeKeywords trims keywords and drops empty and case-insensitive duplicates.
func normalizeKeywords(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, kw := range in {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		k := strings.ToLower(kw)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, kw)
	}
	return out
}
