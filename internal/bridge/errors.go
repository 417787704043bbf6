package bridge

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the specific kind of bridge failure.
type ErrorCode string

const (
	ConnectTimeout  ErrorCode = "connect_timeout"
	ConnectRejected ErrorCode = "connect_rejected"
	DiscoveryFailed ErrorCode = "discovery_failed"
	AdvertiseConfig ErrorCode = "advertise_config"
	NotReady        ErrorCode = "not_ready"
	PayloadTooLarge ErrorCode = "payload_too_large"
	Overloaded      ErrorCode = "overloaded"
)

// Error represents any bridge-level problem. Connection-level codes
// (ConnectTimeout, ConnectRejected, DiscoveryFailed) are consumed by the
// target link's retry policy; per-operation codes (NotReady, PayloadTooLarge,
// Overloaded) are surfaced synchronously to the requester.
type Error struct {
	Code ErrorCode
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is allows errors.Is to compare Error values by Code.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Predefined sentinel errors, one per taxonomy code.
var (
	ErrConnectTimeout  = &Error{Code: ConnectTimeout}
	ErrConnectRejected = &Error{Code: ConnectRejected}
	ErrDiscoveryFailed = &Error{Code: DiscoveryFailed}
	ErrAdvertiseConfig = &Error{Code: AdvertiseConfig}
	ErrNotReady        = &Error{Code: NotReady}
	ErrPayloadTooLarge = &Error{Code: PayloadTooLarge}
	ErrOverloaded      = &Error{Code: Overloaded}
)

// IsCode reports whether err is a bridge Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Code == code
	}
	return false
}

// codedError wraps err with a bridge error code, preserving the original
// message for logs.
func codedError(code ErrorCode, err error) error {
	if err == nil {
		return &Error{Code: code}
	}
	return fmt.Errorf("%w: %v", &Error{Code: code}, err)
}
