package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/amoebalabs/docguard/pkg/config"
	"github.com/amoebalabs/docguard/pkg/document"
	"github.com/amoebalabs/docguard/pkg/engine"
	"github.com/amoebalabs/docguard/pkg/policy"
	"github.com/amoebalabs/docguard/pkg/rules"
	"github.com/amoebalabs/docguard/pkg/stores"
	"github.com/amoebalabs/docguard/pkg/telemetry"
)

// serviceOptions tunes the services a command needs.
type serviceOptions struct {
	// metricsAddr enables metrics served on this address. Empty disables them.
	metricsAddr string

	// asyncEvents delivers events on a background goroutine. One-shot
	// commands deliver synchronously so audit entries land before exit.
	asyncEvents bool

	// requireStore fails when --store is not set.
	requireStore bool
}

// services holds the services shared by a command run.
type services struct {
	g       *globalOptions
	tel     *telemetry.Telemetry
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
	tracer  *telemetry.Tracer
	store   *stores.SQLiteStore
}

func (g *globalOptions) newServices(ctx context.Context, opts serviceOptions) (*services, error) {
	if opts.requireStore && g.storePath == "" {
		return nil, usageError(errors.New("--store is required"))
	}

	cfg := telemetry.DefaultConfig()
	if err := cfg.ApplyEnv(nil); err != nil {
		return nil, usageError(err)
	}
	cfg.ServiceVersion = g.version
	cfg.Logging.Level = zerolog.GlobalLevel().String()
	if g.verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		cfg.Logging.Level = "debug"
	}
	cfg.Metrics.Enabled = opts.metricsAddr != ""
	cfg.Metrics.ListenAddress = opts.metricsAddr
	cfg.Events.EnableAsync = opts.asyncEvents
	if g.traceExporter != "" && g.traceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = g.traceExporter
		cfg.Tracing.Endpoint = g.traceEndpoint
	}

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, usageError(err)
	}

	svc := &services{
		g:       g,
		tel:     tel,
		logger:  tel.Logger.Zerolog(),
		metrics: tel.Metrics,
		events:  tel.Events,
		tracer:  tel.Tracer,
	}

	if g.storePath != "" {
		if svc.store, err = stores.Open(ctx, stores.Config{Path: g.storePath}); err != nil {
			svc.Close()
			return nil, err
		}
		// Pruning writes its own audit entry. Audit writes outlive cancellation
		// so that events flushed on shutdown are still recorded.
		svc.events.Subscribe(svc.store.AuditSubscriber(context.WithoutCancel(ctx), svc.logger), func(e telemetry.Event) bool {
			return e.Type != telemetry.EventTypeResultsPruned
		})
	}

	return svc, nil
}

// shutdownTimeout bounds flushing events and traces on exit.
const shutdownTimeout = 5 * time.Second

// Close flushes events and traces and closes the store.
func (r *services) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := r.tel.Shutdown(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to flush telemetry")
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to close store")
		}
	}
}

// baseBuilder returns a builder seeded from the store, or an empty one.
func (r *services) baseBuilder(ctx context.Context) (*rules.Builder, error) {
	if r.store == nil {
		return rules.NewBuilder(), nil
	}
	return r.store.LoadBuilder(ctx)
}

// snapshot builds the rule snapshot from the store and the --rules files,
// files taking precedence.
func (r *services) snapshot(ctx context.Context) (*rules.Snapshot, error) {
	if len(r.g.rules) == 0 && r.store == nil {
		return nil, usageError(errors.New("no rule source: pass --rules or --store"))
	}

	b, err := r.baseBuilder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored rules: %w", err)
	}

	if len(r.g.rules) > 0 {
		parsed, err := config.NewParser().Parse(ctx, r.g.rules)
		if err != nil {
			return nil, engine.NewConfigurationError("failed to read rule files", err)
		}
		for _, e := range parsed.Errors {
			if e.Severity == config.SeverityWarning {
				r.logger.Warn().Str("file", e.File).Msg(e.Message)
			}
		}
		if err := parsed.Err(); err != nil {
			return nil, err
		}
		if err := parsed.Apply(b); err != nil {
			return nil, engine.NewConfigurationError("failed to apply rule files", err)
		}
	}

	snap := b.Build()
	stats := snap.Stats()
	zl := r.tel.Logger.WithRuleSource(strings.Join(r.g.rules, ",")).Zerolog()
	zl.Debug().
		Int("policy_types", stats.PolicyTypes).
		Int("mappings", stats.Mappings).
		Int("rules", stats.Rules).
		Msg("Rule snapshot loaded")
	return snap, nil
}

// newEngine creates a validation engine wired to the runtime telemetry.
func (r *services) newEngine(sequential bool) *engine.Engine {
	return engine.New(engine.Options{
		Sequential: sequential,
		Logger:     r.logger,
		Metrics:    r.metrics,
		Tracer:     r.tracer,
	})
}

// newGate creates an acceptance gate with the built-in policies plus those
// found under paths, minus the policies named in skip.
func (r *services) newGate(ctx context.Context, paths, skip []string) (*policy.Gate, error) {
	gate, err := policy.NewGate(policy.GateOptions{Logger: r.logger, Metrics: r.metrics, Events: r.events})
	if err != nil {
		return nil, err
	}
	if len(paths) > 0 {
		if err := gate.LoadPolicies(ctx, paths); err != nil {
			return nil, engine.NewConfigurationError("failed to load gate policies", err)
		}
	}
	for _, name := range skip {
		if err := gate.DisablePolicy(name); err != nil {
			return nil, usageError(fmt.Errorf("--skip-gate-policy: %w", err))
		}
	}
	return gate, nil
}

// validateRequest describes one document validation.
type validateRequest struct {
	PolicyType  string
	Controls    []string
	Save        bool
	Gate        *policy.Gate
	GateOptions policy.Options
}

// validation is the outcome of validating one document.
type validation struct {
	Source   string                   `json:"source"`
	Title    string                   `json:"title,omitempty"`
	ResultID string                   `json:"result_id,omitempty"`
	Result   *engine.ValidationResult `json:"result"`
	Decision *policy.Decision         `json:"decision,omitempty"`
}

// rejected reports whether the document failed or was turned away by the gate.
func (v *validation) rejected() bool {
	if v.Result.Verdict == engine.VerdictFail {
		return true
	}
	return v.Decision != nil && !v.Decision.Accepted
}

// validate runs the engine over doc, then optionally stores the result and
// runs the acceptance gate. Without an explicit policy type the document
// title is matched against the known policy types. Without claimed controls
// the policy type's default controls are claimed.
func (r *services) validate(ctx context.Context, eng *engine.Engine, snap *rules.Snapshot, doc *document.Document, req validateRequest) (_ *validation, err error) {
	op := telemetry.StartOperation(r.tel.WithContext(ctx), "document.validate", telemetry.AttrSource.String(doc.Source))
	defer func() { op.End(err) }()
	ctx = op.Ctx

	policyType := req.PolicyType
	if policyType == "" {
		policyType = inferPolicyType(snap, doc.Title)
	}
	if policyType == "" {
		return nil, engine.NewInputError(
			fmt.Sprintf("no --policy-type given and document title %q names no known policy type", doc.Title), nil).
			WithCode(engine.ErrCodeMissingPolicyType)
	}

	controls := req.Controls
	if len(controls) == 0 {
		if spec, err := snap.GetSpec(policyType); err == nil {
			controls = spec.Controls
		}
	}

	result, err := eng.Validate(ctx, snap, engine.CandidateDocument{
		Text:            doc.Text,
		PolicyType:      policyType,
		ClaimedControls: controls,
	})
	if err != nil {
		if engine.IsConfiguration(err) {
			_ = r.events.PublishValidationAborted(policyType, err.Error())
		}
		return nil, err
	}

	v := &validation{Source: doc.Source, Title: doc.Title, Result: result}

	if req.Save {
		if r.store == nil {
			return nil, usageError(errors.New("--save requires --store"))
		}
		rec, err := r.store.SaveResult(ctx, result, doc.Text)
		if err != nil {
			return nil, err
		}
		v.ResultID = rec.ID
	}

	_ = r.events.PublishValidationCompleted(result.PolicyType, v.ResultID, string(result.Verdict), len(result.Findings))

	if req.Gate != nil {
		opts := req.GateOptions
		opts.ResultID = v.ResultID
		if v.Decision, err = req.Gate.Evaluate(ctx, result, opts); err != nil {
			return nil, fmt.Errorf("acceptance gate failed: %w", err)
		}
	}

	logger := op.Logger.WithPolicyType(result.PolicyType)
	if v.ResultID != "" {
		logger = logger.WithResultID(v.ResultID)
	}
	zl := logger.Zerolog()
	event := zl.Info().
		Str("source", doc.Source).
		Str("verdict", string(result.Verdict)).
		Int("findings", len(result.Findings))
	if v.Decision != nil {
		event = event.Bool("accepted", v.Decision.Accepted)
	}
	event.Msg("Document validated")

	return v, nil
}

// inferPolicyType returns the known policy type the title names. A title
// may carry a suffix such as a version ("Access Control Policy v1.2"); the
// longest matching policy type wins.
func inferPolicyType(snap *rules.Snapshot, title string) string {
	norm := rules.NormalizeName(title)
	if norm == "" {
		return ""
	}

	best := ""
	for _, pt := range snap.PolicyTypes() {
		key := rules.NormalizeName(pt)
		if norm != key && !strings.HasPrefix(norm, key+" ") {
			continue
		}
		if len(key) > len(rules.NormalizeName(best)) {
			best = pt
		}
	}
	return best
}
