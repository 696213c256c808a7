// Package ferrors defines the stable error taxonomy used across the fetch
// engine, so callers can classify a failure (configuration vs transient vs
// fatal) without string-matching error messages.
package ferrors

import "fmt"

// Kind is a stable error category. Components attach one to every error
// they originate so propagation policy (retry, surface, log-and-continue)
// can be decided generically.
type Kind string

const (
	Configuration       Kind = "configuration"
	Validation          Kind = "validation"
	Resource            Kind = "resource"
	Storage             Kind = "storage"
	Network             Kind = "network"
	Retryable           Kind = "retryable"
	Fatal               Kind = "fatal"
	BundleRefValidation Kind = "bundle_ref_validation"
)

// Error is the engine's structured error type. Component and Field/Resource
// are optional attribution used in structured log records.
type Error struct {
	Kind      Kind
	Component string
	Field     string
	Resource  string
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Component)
	if e.Field != "" {
		msg += fmt.Sprintf(" field=%s", e.Field)
	}
	if e.Resource != "" {
		msg += fmt.Sprintf(" resource=%s", e.Resource)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a taxonomy error without a field/resource attribution.
func New(kind Kind, component string, err error) *Error {
	return &Error{Kind: kind, Component: component, Err: err}
}

// WithField attaches the offending field name (used by strategy factories'
// InvalidArgument-style validation failures).
func (e *Error) WithField(field string) *Error {
	cp := *e
	cp.Field = field
	return &cp
}

// WithResource attaches the offending resource/bundle URL.
func (e *Error) WithResource(resource string) *Error {
	cp := *e
	cp.Resource = resource
	return &cp
}

// Is reports whether err carries the given Kind, so callers can write
// `errors.Is`-compatible checks against a sentinel of the same Kind with no
// Err set.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind of err if it (or something it wraps) is a
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if err == nil {
		return "", false
	}
	if asErr, ok := err.(*Error); ok {
		return asErr.Kind, true
	}
	if u, ok := err.(interface{ Unwrap() error }); ok {
		return KindOf(u.Unwrap())
	}
	_ = fe
	return "", false
}

// Sentinel errors for common conditions. Each is itself an *Error; since Is
// matches on Kind alone, errors.Is against a sentinel matches any *Error of
// the same Kind (ErrKeyMissing and ErrAccessDenied are both Resource and are
// not told apart by it).
var (
	ErrKeyMissing       = New(Resource, "credentials", fmt.Errorf("key missing"))
	ErrAccessDenied     = New(Resource, "credentials", fmt.Errorf("access denied"))
	ErrStoreUnavailable = New(Network, "kvs", fmt.Errorf("store unavailable"))
	ErrSerialization    = New(Storage, "kvs", fmt.Errorf("serialization error"))
	ErrLocatorStalled   = New(Retryable, "locator", fmt.Errorf("locator stalled"))
)
