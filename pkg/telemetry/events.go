package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a notable occurrence in docguard: a finished validation, a rule
// reload or a retention sweep.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// PolicyType is the associated policy type, if applicable.
	PolicyType string `json:"policy_type,omitempty"`

	// ResultID is the associated stored result, if applicable.
	ResultID string `json:"result_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeValidationCompleted = "validation.completed"
	EventTypeValidationAborted   = "validation.aborted"
	EventTypeGateRejected        = "gate.rejected"
	EventTypeRulesReloaded       = "rules.reloaded"
	EventTypeRulesReloadFailed   = "rules.reload_failed"
	EventTypeResultsPruned       = "results.pruned"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher delivers events to subscribers, synchronously or through a
// buffered channel.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if !ep.config.EnableAsync {
		ep.deliverEvent(event)
		return nil
	}

	select {
	case <-ep.ctx.Done():
		return fmt.Errorf("event publisher stopped")
	default:
	}

	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, event %s dropped", event.Type)
	}
}

// PublishValidationCompleted publishes the outcome of a validation.
func (ep *EventPublisher) PublishValidationCompleted(policyType, resultID, verdict string, findings int) error {
	level := EventLevelInfo
	if verdict == "fail" {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:       EventTypeValidationCompleted,
		Source:     "engine",
		PolicyType: policyType,
		ResultID:   resultID,
		Message:    fmt.Sprintf("%s validated: %s (%d findings)", policyType, verdict, findings),
		Level:      level,
		Data: map[string]interface{}{
			"verdict":  verdict,
			"findings": findings,
		},
	})
}

// PublishValidationAborted publishes a validation aborted by a configuration error.
func (ep *EventPublisher) PublishValidationAborted(policyType, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypeValidationAborted,
		Source:     "engine",
		PolicyType: policyType,
		Message:    fmt.Sprintf("validation of %s aborted: %s", policyType, reason),
		Level:      EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishGateRejected publishes an acceptance gate rejection.
func (ep *EventPublisher) PublishGateRejected(policyType, resultID string, violations []string) error {
	return ep.Publish(Event{
		Type:       EventTypeGateRejected,
		Source:     "policy_gate",
		PolicyType: policyType,
		ResultID:   resultID,
		Message:    fmt.Sprintf("%s rejected by acceptance gate (%d violations)", policyType, len(violations)),
		Level:      EventLevelWarning,
		Data: map[string]interface{}{
			"violations": violations,
		},
	})
}

// PublishRulesReloaded publishes a successful rule reload.
func (ep *EventPublisher) PublishRulesReloaded(source string, policyTypes, mappings int) error {
	return ep.Publish(Event{
		Type:    EventTypeRulesReloaded,
		Source:  "rules",
		Message: fmt.Sprintf("rules reloaded from %s: %d policy types, %d mappings", source, policyTypes, mappings),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"source":       source,
			"policy_types": policyTypes,
			"mappings":     mappings,
		},
	})
}

// PublishRulesReloadFailed publishes a rejected rule reload.
func (ep *EventPublisher) PublishRulesReloadFailed(source, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRulesReloadFailed,
		Source:  "rules",
		Message: fmt.Sprintf("rule reload from %s rejected: %s", source, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"source": source,
			"reason": reason,
		},
	})
}

// PublishResultsPruned publishes a retention sweep.
func (ep *EventPublisher) PublishResultsPruned(removed int64, before time.Time) error {
	return ep.Publish(Event{
		Type:    EventTypeResultsPruned,
		Source:  "retention",
		Message: fmt.Sprintf("pruned %d results older than %s", removed, before.Format(time.RFC3339)),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"removed": removed,
			"before":  before.Format(time.RFC3339),
		},
	})
}

// Subscribe adds a subscriber. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// processEvents drains the buffer until shutdown, then delivers what is left.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to every matching subscriber in order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel allows events of minLevel or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType allows events of the given types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}
