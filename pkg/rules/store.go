package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// ErrNotFound matches every NotFoundError via errors.Is.
var ErrNotFound = errors.New("not found")

// NotFoundKind identifies what a lookup failed to find.
type NotFoundKind string

const (
	NotFoundPolicyType NotFoundKind = "policy_type"
	NotFoundControl    NotFoundKind = "control"
	NotFoundThresholds NotFoundKind = "thresholds"
)

// NotFoundError is returned by Store lookups for unknown keys. Callers must
// treat it as a configuration problem, not as a content failure.
type NotFoundError struct {
	Kind       NotFoundKind
	PolicyType string
	Keys       []string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	switch e.Kind {
	case NotFoundControl:
		return fmt.Sprintf("no control mapping for %s (policy type %q)", strings.Join(e.Keys, ", "), e.PolicyType)
	case NotFoundThresholds:
		return fmt.Sprintf("no readability thresholds for policy type %q", e.PolicyType)
	default:
		return fmt.Sprintf("unknown policy type %q", e.PolicyType)
	}
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Store is the read-only rule data contract consumed by the validation engine.
type Store interface {
	// GetSpec returns the policy specification for a policy type.
	GetSpec(policyType string) (*PolicySpec, error)

	// GetMappings resolves control ids to their keyword mappings for a policy
	// type. It fails if any id is unknown.
	GetMappings(policyType string, controlIDs []string) ([]ControlMapping, error)

	// GetThresholds returns the readability thresholds for a policy type,
	// falling back to the global thresholds.
	GetThresholds(policyType string) (ReadabilityThresholds, error)
}

type mappingKey struct {
	policyType string
	controlID  string
}

// Snapshot is an immutable view of the rule data. Snapshots are produced by a
// Builder; refreshing rules produces a new Snapshot.
type Snapshot struct {
	specs      map[string]*PolicySpec
	mappings   map[mappingKey]ControlMapping
	thresholds map[string]ReadabilityThresholds
	global     *ReadabilityThresholds
}

var _ Store = (*Snapshot)(nil)

// typeKey is the lookup key for a policy type.
func typeKey(policyType string) string {
	return NormalizeName(policyType)
}

// GetSpec implements Store.
func (s *Snapshot) GetSpec(policyType string) (*PolicySpec, error) {
	spec, ok := s.specs[typeKey(policyType)]
	if !ok {
		return nil, &NotFoundError{Kind: NotFoundPolicyType, PolicyType: policyType}
	}
	return spec.clone(), nil
}

// GetMappings implements Store. Policy-specific mappings take precedence over
// global ones. Duplicate ids are resolved once, in first-seen order.
func (s *Snapshot) GetMappings(policyType string, controlIDs []string) ([]ControlMapping, error) {
	key := typeKey(policyType)

	var missing []string
	out := make([]ControlMapping, 0, len(controlIDs))
	for _, raw := range dedupe(normalizeAll(controlIDs)) {
		m, ok := s.mappings[mappingKey{policyType: key, controlID: raw}]
		if !ok {
			m, ok = s.mappings[mappingKey{controlID: raw}]
		}
		if !ok {
			missing = append(missing, raw)
			continue
		}
		m.Keywords = append([]string(nil), m.Keywords...)
		out = append(out, m)
	}

	if len(missing) > 0 {
		return nil, &NotFoundError{Kind: NotFoundControl, PolicyType: policyType, Keys: missing}
	}
	return out, nil
}

// GetThresholds implements Store.
func (s *Snapshot) GetThresholds(policyType string) (ReadabilityThresholds, error) {
	if t, ok := s.thresholds[typeKey(policyType)]; ok {
		return t.clone(), nil
	}
	if s.global != nil {
		return s.global.clone(), nil
	}
	return ReadabilityThresholds{}, &NotFoundError{Kind: NotFoundThresholds, PolicyType: policyType}
}

// PolicyTypes returns the policy types in the snapshot, sorted.
func (s *Snapshot) PolicyTypes() []string {
	out := make([]string, 0, len(s.specs))
	for _, spec := range s.specs {
		out = append(out, spec.PolicyType)
	}
	sort.Strings(out)
	return out
}

// Mappings returns every control mapping, sorted by policy type then control id.
func (s *Snapshot) Mappings() []ControlMapping {
	out := make([]ControlMapping, 0, len(s.mappings))
	for _, m := range s.mappings {
		m.Keywords = append([]string(nil), m.Keywords...)
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PolicyType != out[j].PolicyType {
			return out[i].PolicyType < out[j].PolicyType
		}
		return out[i].ControlID < out[j].ControlID
	})
	return out
}

// GlobalThresholds returns the global readability thresholds, if any.
func (s *Snapshot) GlobalThresholds() (ReadabilityThresholds, bool) {
	if s.global == nil {
		return ReadabilityThresholds{}, false
	}
	return s.global.clone(), true
}

// Stats summarizes the snapshot contents for logging.
type Stats struct {
	PolicyTypes int
	Mappings    int
	Rules       int
}

// Stats returns counts of the snapshot contents.
func (s *Snapshot) Stats() Stats {
	st := Stats{PolicyTypes: len(s.specs), Mappings: len(s.mappings)}
	for _, spec := range s.specs {
		st.Rules += len(spec.Rules)
	}
	return st
}

func normalizeAll(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = NormalizeControlID(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Holder publishes the current snapshot to concurrent readers. Swapping never
// affects a validation that already holds the previous snapshot.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// NewHolder creates a holder seeded with snap.
func NewHolder(snap *Snapshot) *Holder {
	h := &Holder{}
	h.current.Store(snap)
	return h
}

// Load returns the current snapshot.
func (h *Holder) Load() *Snapshot {
	return h.current.Load()
}

// Swap installs snap and returns the previous snapshot.
func (h *Holder) Swap(snap *Snapshot) *Snapshot {
	return h.current.Swap(snap)
}
