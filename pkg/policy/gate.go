package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"

	"github.com/amoebalabs/docguard/pkg/engine"
	"github.com/amoebalabs/docguard/pkg/telemetry"
)

// Gate decides whether a validated document may be accepted into the document
// set. It evaluates the "deny" rules of every enabled policy against the
// validation result.
type Gate struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	events   *telemetry.EventPublisher
}

// GateOptions configures a Gate. Zero fields are disabled.
type GateOptions struct {
	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
	Events  *telemetry.EventPublisher
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewGate creates a gate with the built-in policies loaded.
func NewGate(opts GateOptions) (*Gate, error) {
	g := &Gate{
		policies: make(map[string]*compiledPolicy),
		logger:   opts.Logger.With().Str("component", "policy-gate").Logger(),
		metrics:  opts.Metrics,
		events:   opts.Events,
	}

	ctx := context.Background()
	for _, p := range GetBuiltinPolicies() {
		if err := g.AddPolicy(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}

	return g, nil
}

// AddPolicy compiles a policy and adds it to the gate, replacing any policy
// with the same name.
func (g *Gate) AddPolicy(ctx context.Context, p Policy) error {
	cp, err := compile(ctx, p)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.policies[p.Name] = cp
	g.mu.Unlock()

	g.logger.Debug().Str("policy", p.Name).Msg("Policy compiled successfully")
	return nil
}

// compile parses a policy and prepares its deny query.
func compile(ctx context.Context, p Policy) (*compiledPolicy, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("policy name is required")
	}

	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse policy %s: %w", p.Name, err)
	}
	if module == nil {
		return nil, fmt.Errorf("policy %s is empty", p.Name)
	}

	query, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy %s: %w", p.Name, err)
	}

	if p.Severity == "" {
		p.Severity = SeverityWarning
	}

	return &compiledPolicy{policy: &p, query: query, compiled: time.Now()}, nil
}

// LoadPolicies loads policy files and adds them to the gate. Nothing is
// added unless every policy compiles.
func (g *Gate) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(g.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return g.Replace(ctx, policies)
}

// Replace compiles policies and swaps them in, keeping the built-in
// policies. Nothing changes if any policy fails to compile.
func (g *Gate) Replace(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for _, p := range GetBuiltinPolicies() {
		g.mu.RLock()
		existing, ok := g.policies[p.Name]
		g.mu.RUnlock()
		if ok {
			compiled[p.Name] = existing
		}
	}
	for i := range policies {
		cp, err := compile(ctx, policies[i])
		if err != nil {
			g.logger.Error().Err(err).Str("policy", policies[i].Name).Msg("Failed to compile policy")
			return err
		}
		compiled[policies[i].Name] = cp
	}

	g.mu.Lock()
	g.policies = compiled
	g.mu.Unlock()

	g.logger.Info().Int("count", len(policies)).Msg("Policies loaded successfully")
	return nil
}

// Evaluate runs the validation result through every enabled policy. A policy
// that fails to evaluate is an error; a half-evaluated gate never accepts.
func (g *Gate) Evaluate(ctx context.Context, result *engine.ValidationResult, opts Options) (*Decision, error) {
	if result == nil {
		return nil, fmt.Errorf("validation result is required")
	}

	start := time.Now()
	input, err := buildInput(result, opts)
	if err != nil {
		return nil, err
	}

	g.mu.RLock()
	names := make([]string, 0, len(g.policies))
	for name, cp := range g.policies {
		if cp.policy.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	policies := make([]*compiledPolicy, len(names))
	for i, name := range names {
		policies[i] = g.policies[name]
	}
	g.mu.RUnlock()

	decision := &Decision{
		Accepted:          true,
		Violations:        []Violation{},
		EvaluatedPolicies: names,
		EvaluatedAt:       start,
	}

	for _, cp := range policies {
		violations, err := evaluatePolicy(ctx, cp, input)
		if err != nil {
			g.logger.Error().Err(err).Str("policy", cp.policy.Name).Msg("Policy evaluation failed")
			return nil, fmt.Errorf("policy %s evaluation failed: %w", cp.policy.Name, err)
		}
		decision.Violations = append(decision.Violations, violations...)
	}

	for _, v := range decision.Violations {
		if v.Severity == SeverityError {
			decision.Accepted = false
			break
		}
	}
	decision.Duration = time.Since(start)

	g.metrics.RecordDecision(decision.Accepted)
	if !decision.Accepted {
		messages := make([]string, 0, len(decision.Violations))
		for _, v := range decision.Rejections() {
			messages = append(messages, v.Message)
		}
		if err := g.events.PublishGateRejected(result.PolicyType, opts.ResultID, messages); err != nil {
			g.logger.Warn().Err(err).Msg("Failed to publish gate rejection")
		}
	}

	g.logger.Debug().
		Str("policy_type", result.PolicyType).
		Bool("accepted", decision.Accepted).
		Int("violations", len(decision.Violations)).
		Dur("duration", decision.Duration).
		Msg("Acceptance gate evaluated")

	return decision, nil
}

// buildInput converts the result to plain JSON values so that policies see
// the stable result field names.
func buildInput(result *engine.ValidationResult, opts Options) (map[string]interface{}, error) {
	canonical, err := result.Canonical()
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	var res interface{}
	if err := json.Unmarshal(canonical, &res); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}

	in := Input{
		PolicyType: result.PolicyType,
		Result:     res,
		Counts: Counts{
			Findings: len(result.Findings),
			Blocking: len(result.Blocking()),
			Warnings: len(result.Warnings()),
		},
		MaxWarnings: opts.MaxWarnings,
		Metadata:    opts.Metadata,
	}

	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode gate input: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode gate input: %w", err)
	}
	return out, nil
}

// evaluatePolicy evaluates a single compiled policy.
func evaluatePolicy(ctx context.Context, cp *compiledPolicy, input map[string]interface{}) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Message < violations[j].Message
	})
	return violations, nil
}

// createViolation creates a Violation from one deny value.
func createViolation(p *Policy, value interface{}) Violation {
	violation := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
	}

	switch v := value.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok && (Severity(sev) == SeverityError || Severity(sev) == SeverityWarning) {
			violation.Severity = Severity(sev)
		}
	default:
		violation.Message = fmt.Sprintf("%v", value)
	}

	return violation
}

// GetPolicy returns a policy by name.
func (g *Gate) GetPolicy(name string) (*Policy, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cp, exists := g.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies, sorted by name.
func (g *Gate) ListPolicies() []Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()

	policies := make([]Policy, 0, len(g.policies))
	for _, cp := range g.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })

	return policies
}

// EnablePolicy enables a policy by name.
func (g *Gate) EnablePolicy(name string) error {
	return g.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (g *Gate) DisablePolicy(name string) error {
	return g.setEnabled(name, false)
}

func (g *Gate) setEnabled(name string, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cp, exists := g.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	p := *cp.policy
	p.Enabled = enabled
	g.policies[name] = &compiledPolicy{policy: &p, query: cp.query, compiled: cp.compiled}
	g.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}

// Watch reloads the file policies from paths whenever they change. The
// returned loader stops watching when ctx is done or StopWatching is called.
func (g *Gate) Watch(ctx context.Context, paths []string) (*Loader, error) {
	loader := NewLoader(g.logger)
	reload := func(policies []Policy) error {
		return g.Replace(ctx, policies)
	}
	if err := loader.Watch(ctx, paths, reload); err != nil {
		return nil, err
	}
	return loader, nil
}
