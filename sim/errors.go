package sim

import (
	"errors"
	"fmt"
)

// ConfigError is a configuration fault: detected before or during a step,
// fatal to the single rollout, never retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// CallErrorKind classifies a failed remote call.
type CallErrorKind string

const (
	// CallErrTransport covers connection failures and I/O errors on the wire.
	CallErrTransport CallErrorKind = "transport"
	// CallErrTimeout means the call exceeded its bounded wait.
	CallErrTimeout CallErrorKind = "timeout"
	// CallErrMalformed means the response failed to decode or did not echo
	// the rollout id / instant of the request it answers.
	CallErrMalformed CallErrorKind = "malformed"
	// CallErrRemote is an error reported by the remote service itself.
	CallErrRemote CallErrorKind = "remote"
	// CallErrCapacity means the configured maximum admission wait elapsed
	// before a capacity slot freed.
	CallErrCapacity CallErrorKind = "capacity"
)

// CallError tags a remote call failure with the service name and replica
// identity so the rollout state machine can decide whether to retry.
type CallError struct {
	Service string
	Replica string
	Kind    CallErrorKind
	Cause   error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call to service %q (replica %q) failed: %s: %v", e.Service, e.Replica, e.Kind, e.Cause)
}

func (e *CallError) Unwrap() error { return e.Cause }

// IsRetryable reports whether a failure may be re-issued for an idempotent
// call. Capacity exhaustion is excluded: re-queuing immediately would just
// contend for the same slots.
func (e *CallError) IsRetryable() bool {
	switch e.Kind {
	case CallErrTransport, CallErrTimeout, CallErrMalformed, CallErrRemote:
		return true
	}
	return false
}

// AsCallError unwraps err to a *CallError if one is in the chain.
func AsCallError(err error) (*CallError, bool) {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
