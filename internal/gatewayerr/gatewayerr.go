// Package gatewayerr defines the four outcomes a failed gateway operation
// can produce. Callers dispatch on Kind rather than on concrete error types.
package gatewayerr

import (
	"errors"
	"fmt"
)

// Kind is the classified outcome of a failed operation.
type Kind int

const (
	// KindInvalidRequest means the caller supplied malformed or incomplete input.
	KindInvalidRequest Kind = iota + 1
	// KindSoftDecline means the customer must act (e.g. authenticate) before retrying.
	KindSoftDecline
	// KindHardDecline means the payment method is unusable for this attempt.
	KindHardDecline
	// KindGateway is an operational failure: inconsistent remote state, disallowed
	// operation, transport trouble.
	KindGateway
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindSoftDecline:
		return "soft_decline"
	case KindHardDecline:
		return "hard_decline"
	case KindGateway:
		return "gateway_exception"
	default:
		return "unknown"
	}
}

// Error is a classified gateway failure.
type Error struct {
	Kind    Kind
	Message string
	// Code is the processor's error or decline code, when there was one.
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// InvalidRequest builds a KindInvalidRequest error.
func InvalidRequest(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

// SoftDecline builds a KindSoftDecline error.
func SoftDecline(format string, args ...any) *Error {
	return &Error{Kind: KindSoftDecline, Message: fmt.Sprintf(format, args...)}
}

// HardDecline builds a KindHardDecline error.
func HardDecline(format string, args ...any) *Error {
	return &Error{Kind: KindHardDecline, Message: fmt.Sprintf(format, args...)}
}

// Gateway builds a KindGateway error.
func Gateway(format string, args ...any) *Error {
	return &Error{Kind: KindGateway, Message: fmt.Sprintf(format, args...)}
}

// WithCode returns e with the processor code set.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// Wrap returns e wrapping cause.
func (e *Error) Wrap(cause error) *Error {
	e.Err = cause
	return e
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind, true
	}
	return 0, false
}

// Is reports whether err carries a classified error of kind k.
func Is(err error, k Kind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}

func IsInvalidRequest(err error) bool { return Is(err, KindInvalidRequest) }
func IsSoftDecline(err error) bool    { return Is(err, KindSoftDecline) }
func IsHardDecline(err error) bool    { return Is(err, KindHardDecline) }
func IsGateway(err error) bool        { return Is(err, KindGateway) }

// MessageOf returns the classified message, or err.Error() for unclassified errors.
func MessageOf(err error) string {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
