package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/amoebalabs/docguard/pkg/rules"
	"github.com/amoebalabs/docguard/pkg/telemetry"
)

// Options configures an Engine. The zero value is usable: passes run
// concurrently and nothing is logged, traced or measured.
type Options struct {
	// Sequential runs the passes one after another instead of concurrently.
	// The result is identical either way.
	Sequential bool

	// Logger receives debug and info logs.
	Logger zerolog.Logger

	// Metrics records validation counters. Nil disables metrics.
	Metrics *telemetry.Metrics

	// Tracer records validation spans. Nil disables tracing.
	Tracer *telemetry.Tracer
}

// Engine validates candidate documents against a rule store snapshot. It
// holds no per-validation state and is safe for concurrent use.
type Engine struct {
	sequential bool
	logger     zerolog.Logger
	metrics    *telemetry.Metrics
	tracer     *telemetry.Tracer
}

// New creates an engine.
func New(opts Options) *Engine {
	return &Engine{
		sequential: opts.Sequential,
		logger:     opts.Logger.With().Str("component", "validation_engine").Logger(),
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
	}
}

// resolved is the rule data one validation runs against.
type resolved struct {
	spec       *rules.PolicySpec
	claimed    []string
	mappings   []rules.ControlMapping
	thresholds rules.ReadabilityThresholds
}

// passOutput is the slot one pass writes to.
type passOutput struct {
	findings []Finding
}

// Validate runs all passes over doc and aggregates their findings.
//
// Rule data is resolved before any content is inspected, so a configuration
// problem such as an unknown policy type or an unmapped claimed control is
// returned as a *Error of class configuration and no result is produced,
// whatever the document says. Problems with the document itself are
// findings, never errors.
//
// Findings are merged in a fixed order: structural, control, rule,
// readability. Identical inputs against the same snapshot yield identical
// results.
func (e *Engine) Validate(ctx context.Context, store rules.Store, doc CandidateDocument) (*ValidationResult, error) {
	timer := telemetry.NewTimer()
	ctx, span := e.tracer.StartValidationSpan(ctx, doc.PolicyType, len(doc.ClaimedControls))
	defer span.End()

	logger := e.logger.With().Str("policy_type", doc.PolicyType).Logger()

	if store == nil {
		err := NewInputError("no rule store supplied", nil).WithPolicyType(doc.PolicyType)
		telemetry.RecordError(span, err)
		return nil, err
	}
	if strings.TrimSpace(doc.PolicyType) == "" {
		err := NewInputError("document has no policy type", nil).WithCode(ErrCodeMissingPolicyType)
		telemetry.RecordError(span, err)
		return nil, err
	}

	cfg, err := e.resolve(store, doc)
	if err != nil {
		var ve *Error
		if errors.As(err, &ve) {
			e.metrics.RecordConfigurationError(strings.ToLower(ve.Code))
			span.SetAttributes(telemetry.AttrErrorClass.String(string(ve.Class)))
		}
		telemetry.RecordError(span, err)
		logger.Warn().Err(err).Msg("Validation aborted by configuration error")
		return nil, err
	}

	if strings.TrimSpace(doc.Text) == "" {
		result := &ValidationResult{
			PolicyType: cfg.spec.PolicyType,
			Verdict:    VerdictFail,
			Findings: []Finding{{
				Pass:     PassInput,
				Severity: rules.SeverityBlocking,
				Code:     CodeEmptyDocument,
				Message:  "document is empty",
			}},
			Coverage: Coverage{Controls: []ControlCoverage{}},
		}
		e.record(span, result, timer)
		logger.Info().Str("verdict", string(result.Verdict)).Msg("Empty document rejected")
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, NewInternalError("validation canceled", err).WithCode(ErrCodeCanceled)
	}

	outline := ParseOutline(doc.Text)

	var (
		slots    [4]passOutput
		coverage Coverage
		scores   Scores
	)

	passes := []struct {
		pass Pass
		run  func() error
	}{
		{PassStructural, func() error {
			slots[0].findings = CheckStructure(outline, cfg.spec.RequiredSections)
			return nil
		}},
		{PassControl, func() error {
			slots[1].findings, coverage = MatchControls(outline, cfg.claimed, cfg.mappings)
			return nil
		}},
		{PassRule, func() error {
			findings, err := EvaluateRules(outline, cfg.spec)
			slots[2].findings = findings
			return err
		}},
		{PassReadability, func() error {
			slots[3].findings, scores = ScoreReadability(outline, cfg.thresholds)
			return nil
		}},
	}

	runPass := func(ctx context.Context, pass Pass, run func() error) error {
		_, passSpan := e.tracer.StartPassSpan(ctx, string(pass))
		defer passSpan.End()
		if err := run(); err != nil {
			telemetry.RecordError(passSpan, err)
			return err
		}
		telemetry.RecordSuccess(passSpan)
		return nil
	}

	if e.sequential {
		for _, p := range passes {
			if err = runPass(ctx, p.pass, p.run); err != nil {
				break
			}
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for _, p := range passes {
			g.Go(func() error {
				return runPass(gctx, p.pass, p.run)
			})
		}
		err = g.Wait()
	}
	if err != nil {
		var ve *Error
		if !errors.As(err, &ve) {
			ve = NewConfigurationError("rule evaluation failed", err)
		}
		ve.PolicyType = cfg.spec.PolicyType
		e.metrics.RecordConfigurationError(strings.ToLower(ve.Code))
		telemetry.RecordError(span, ve)
		logger.Warn().Err(ve).Msg("Validation aborted by rule error")
		return nil, ve
	}

	var findings []Finding
	for _, s := range slots {
		findings = append(findings, s.findings...)
	}

	result := &ValidationResult{
		PolicyType: cfg.spec.PolicyType,
		Verdict:    deriveVerdict(findings),
		Findings:   findings,
		Scores:     scores,
		Coverage:   coverage,
	}
	e.record(span, result, timer)

	logger.Debug().
		Str("verdict", string(result.Verdict)).
		Int("findings", len(result.Findings)).
		Int("sections", len(outline.sections)).
		Float64("reading_ease", scores.ReadingEase).
		Msg("Validation complete")

	return result, nil
}

// ValidateText validates text as a document of policyType claiming controls.
func (e *Engine) ValidateText(ctx context.Context, store rules.Store, text, policyType string, controls ...string) (*ValidationResult, error) {
	return e.Validate(ctx, store, CandidateDocument{Text: text, PolicyType: policyType, ClaimedControls: controls})
}

// resolve fetches the spec, mappings and thresholds for doc. Each lookup
// must succeed; the policy type's thresholds fall back to the global set
// inside the store.
func (e *Engine) resolve(store rules.Store, doc CandidateDocument) (*resolved, error) {
	spec, err := store.GetSpec(doc.PolicyType)
	if err != nil {
		return nil, configurationErrorFromLookup(doc.PolicyType, err)
	}

	cfg := &resolved{spec: spec}
	for _, id := range doc.ClaimedControls {
		if id = rules.NormalizeControlID(id); id != "" {
			cfg.claimed = append(cfg.claimed, id)
		}
	}

	if len(cfg.claimed) > 0 {
		cfg.mappings, err = store.GetMappings(doc.PolicyType, cfg.claimed)
		if err != nil {
			return nil, configurationErrorFromLookup(doc.PolicyType, err)
		}
	}

	cfg.thresholds, err = store.GetThresholds(doc.PolicyType)
	if err != nil {
		return nil, configurationErrorFromLookup(doc.PolicyType, err)
	}

	return cfg, nil
}

// record updates metrics and the run span for a finished validation.
func (e *Engine) record(span trace.Span, result *ValidationResult, timer *telemetry.Timer) {
	for _, f := range result.Findings {
		e.metrics.RecordFinding(string(f.Pass), string(f.Severity))
	}
	e.metrics.RecordValidation(result.PolicyType, string(result.Verdict), timer.Duration())

	span.SetAttributes(
		telemetry.AttrVerdict.String(string(result.Verdict)),
		telemetry.AttrFindings.Int(len(result.Findings)),
	)
	telemetry.RecordSuccess(span)
}
