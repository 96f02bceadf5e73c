// Package telemetry provides observability for docguard: structured logging
// (zerolog), tracing (OpenTelemetry), metrics (Prometheus) and an event
// publisher used for audit trails.
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Library packages such as the validation engine take a zerolog.Logger, a
// *Metrics and a *Tracer directly; all three are safe to leave nil or
// disabled.
//
// # Metrics
//
//   - docguard_validations_total{policy_type,verdict}
//   - docguard_validation_duration_seconds{policy_type}
//   - docguard_findings_total{pass,severity}
//   - docguard_configuration_errors_total{kind}
//   - docguard_rule_snapshots_loaded_total{source}
//   - docguard_rule_load_errors_total
//   - docguard_acceptance_decisions_total{accepted}
//   - docguard_results_pruned_total
//
// # Tracing
//
// A validation produces a "validation.run" span with one child span per pass
// ("validation.pass.structural", "validation.pass.control", ...). Exporters:
// "stdout", "otlp" (gRPC) and "none".
//
// # Events
//
// The EventPublisher delivers validation, rule reload and retention events to
// subscribers, in publish order. The CLI subscribes the result store's audit
// log to it.
package telemetry
