package models

import "fmt"

// ConfigErrorCode identifies which connection parameter was rejected
type ConfigErrorCode string

const (
	ConfigUnknownProvider    ConfigErrorCode = "UNKNOWN_PROVIDER"
	ConfigMissingCredentials ConfigErrorCode = "MISSING_CREDENTIALS"
	ConfigMissingServer      ConfigErrorCode = "MISSING_SERVER"
	ConfigInvalidTransport   ConfigErrorCode = "INVALID_TRANSPORT"
	ConfigInvalidPort        ConfigErrorCode = "INVALID_PORT"
)

// ConfigError reports bad or missing connection parameters. It is never
// retried; the caller gets it back verbatim.
type ConfigError struct {
	Code   ConfigErrorCode
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error %s: %s", e.Code, e.Reason)
}

// NotRegisteredError reports an operation that requires an active
// registration session.
type NotRegisteredError struct {
	Op string
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("%s requires an active registration", e.Op)
}

// InvalidCallStateError reports an operation against a call that is not
// in a compatible state. The UI should prevent most of these, but the
// core enforces them regardless.
type InvalidCallStateError struct {
	CallID string
	State  CallState
	Op     string
}

func (e *InvalidCallStateError) Error() string {
	return fmt.Sprintf("%s not valid for call %s in state %s", e.Op, e.CallID, e.State)
}

// InvalidNumberError reports a dial string that cannot be placed
type InvalidNumberError struct {
	Number string
}

func (e *InvalidNumberError) Error() string {
	if e.Number == "" {
		return "number is empty"
	}
	return fmt.Sprintf("invalid number %q", e.Number)
}

// InvalidDigitsError reports a DTMF string containing symbols outside
// 0-9, *, # and A-D. Nothing is sent when this is returned.
type InvalidDigitsError struct {
	Digits string
}

func (e *InvalidDigitsError) Error() string {
	return fmt.Sprintf("invalid DTMF digits %q", e.Digits)
}

// ConcurrencyLimitError reports a violation of the call-limit policy
type ConcurrencyLimitError struct {
	Limit int
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("concurrent call limit of %d reached", e.Limit)
}

// TransportError wraps a registration or signaling failure from the
// underlying SIP stack, with the provider-supplied reason text. Never
// retried automatically by this layer.
type TransportError struct {
	Op     string
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transport %s failed: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
