package engine

import (
	"errors"
	"fmt"

	"github.com/amoebalabs/docguard/pkg/rules"
)

// ErrorClass represents the classification of a validation error.
type ErrorClass string

const (
	// ErrorClassConfiguration indicates the rule data cannot support the
	// request: unknown policy type, unmapped control, unsupported rule.
	// No ValidationResult is produced.
	ErrorClassConfiguration ErrorClass = "configuration"

	// ErrorClassInput indicates a caller mistake in the request itself, such
	// as a missing policy type.
	ErrorClassInput ErrorClass = "input"

	// ErrorClassInternal indicates a failure inside the engine.
	ErrorClassInternal ErrorClass = "internal"
)

// Error codes.
const (
	ErrCodeUnknownPolicyType = "UNKNOWN_POLICY_TYPE"
	ErrCodeUnmappedControl   = "UNMAPPED_CONTROL"
	ErrCodeMissingThresholds = "MISSING_THRESHOLDS"
	ErrCodeUnsupportedRule   = "UNSUPPORTED_RULE"
	ErrCodeStoreFailure      = "STORE_FAILURE"
	ErrCodeMissingPolicyType = "MISSING_POLICY_TYPE"
	ErrCodeCanceled          = "CANCELED"
)

// Error is a classified validation error with context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// PolicyType is the policy type being validated.
	PolicyType string `json:"policy_type,omitempty"`

	// Subject names the offending item: a control id, a rule id.
	Subject string `json:"subject,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.PolicyType != "" {
		msg += fmt.Sprintf(" (policy_type=%s)", e.PolicyType)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same class and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && (t.Code == "" || e.Code == t.Code)
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassConfiguration,
		Message: message,
		Err:     err,
	}
}

// NewInputError creates an input error.
func NewInputError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassInput,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassInternal,
		Message: message,
		Err:     err,
	}
}

// WithCode sets the error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithPolicyType sets the policy type.
func (e *Error) WithPolicyType(policyType string) *Error {
	e.PolicyType = policyType
	return e
}

// WithSubject sets the offending item.
func (e *Error) WithSubject(subject string) *Error {
	e.Subject = subject
	return e
}

// WithDetail adds a detail field.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassConfiguration
	}
	return false
}

// IsInput reports whether err is an input error.
func IsInput(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ErrorClassInput
	}
	return false
}

// configurationErrorFromLookup classifies a rule store lookup failure.
// Not-found lookups are configuration errors; anything else is internal.
func configurationErrorFromLookup(policyType string, err error) *Error {
	var nf *rules.NotFoundError
	if !errors.As(err, &nf) {
		return NewInternalError("rule store lookup failed", err).
			WithCode(ErrCodeStoreFailure).
			WithPolicyType(policyType)
	}

	switch nf.Kind {
	case rules.NotFoundControl:
		e := NewConfigurationError("claimed controls have no mapping", err).
			WithCode(ErrCodeUnmappedControl).
			WithPolicyType(policyType).
			WithDetail("controls", nf.Keys)
		if len(nf.Keys) > 0 {
			e.Subject = nf.Keys[0]
		}
		return e
	case rules.NotFoundThresholds:
		return NewConfigurationError("no readability thresholds configured", err).
			WithCode(ErrCodeMissingThresholds).
			WithPolicyType(policyType)
	default:
		return NewConfigurationError("unknown policy type", err).
			WithCode(ErrCodeUnknownPolicyType).
			WithPolicyType(policyType).
			WithSubject(policyType)
	}
}
