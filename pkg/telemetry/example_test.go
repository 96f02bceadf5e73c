package telemetry_test

import (
	"context"
	"fmt"

	"github.com/amoebalabs/docguard/pkg/telemetry"
)

// Example_eventPublishing shows synchronous delivery to a filtered subscriber.
func Example_eventPublishing() {
	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	if err != nil {
		panic(err)
	}
	defer events.Shutdown(context.Background())

	events.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Type, e.PolicyType)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	_ = events.PublishValidationCompleted("Access Control Policy", "", "pass", 0)
	_ = events.PublishValidationCompleted("Cryptography Policy", "", "fail", 1)

	// Output:
	// validation.completed Cryptography Policy
}

// Example_productionConfiguration shows the production preset.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()
	fmt.Println(cfg.Logging.Format, cfg.Tracing.Exporter, cfg.Tracing.SamplingRate)
	fmt.Println(cfg.Validate() == nil)

	// Output:
	// json otlp 0.1
	// true
}
