package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DeviceErrorKind classifies a microphone acquisition failure.
type DeviceErrorKind int

const (
	// DeviceUnknown is any failure that matches no other kind.
	DeviceUnknown DeviceErrorKind = iota

	// DeviceNotAllowed means the user or OS denied microphone permission.
	DeviceNotAllowed

	// DeviceNotFound means no capture device exists.
	DeviceNotFound

	// DeviceNotReadable means the device exists but is busy or failed to open.
	DeviceNotReadable

	// DeviceOverconstrained means the device cannot satisfy the requested
	// [Constraints].
	DeviceOverconstrained

	// DeviceSecurity means acquisition was blocked by a security policy.
	DeviceSecurity

	// DeviceAborted means acquisition was interrupted before it completed.
	DeviceAborted
)

// String returns the kind name.
func (k DeviceErrorKind) String() string {
	switch k {
	case DeviceNotAllowed:
		return "NotAllowed"
	case DeviceNotFound:
		return "NotFound"
	case DeviceNotReadable:
		return "NotReadable"
	case DeviceOverconstrained:
		return "Overconstrained"
	case DeviceSecurity:
		return "Security"
	case DeviceAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Message returns the user-facing description for the kind.
func (k DeviceErrorKind) Message() string {
	switch k {
	case DeviceNotAllowed:
		return "microphone access was denied; grant permission and try again"
	case DeviceNotFound:
		return "no microphone was found; connect an input device"
	case DeviceNotReadable:
		return "the microphone is in use by another application or could not be read"
	case DeviceOverconstrained:
		return "the microphone does not support the requested audio settings"
	case DeviceSecurity:
		return "microphone access is blocked by a security policy"
	case DeviceAborted:
		return "microphone access was aborted before it completed"
	default:
		return "the microphone could not be started"
	}
}

// DeviceError is a classified capture device failure.
type DeviceError struct {
	Kind DeviceErrorKind
	Err  error
}

// Error implements error.
func (e *DeviceError) Error() string {
	if e.Err == nil {
		return "audio: " + e.Kind.Message()
	}
	return fmt.Sprintf("audio: %s: %v", e.Kind.Message(), e.Err)
}

// Unwrap returns the underlying error.
func (e *DeviceError) Unwrap() error { return e.Err }

// NewDeviceError wraps err with the given kind.
func NewDeviceError(kind DeviceErrorKind, err error) *DeviceError {
	return &DeviceError{Kind: kind, Err: err}
}

// deviceErrorPatterns maps lower-cased substrings of backend error messages
// to kinds. Checked in order.
var deviceErrorPatterns = []struct {
	kind     DeviceErrorKind
	patterns []string
}{
	{DeviceNotAllowed, []string{"permission", "access denied", "not allowed", "notallowed"}},
	{DeviceSecurity, []string{"security", "sandbox"}},
	{DeviceNotFound, []string{"no such device", "device not found", "no device", "no backend", "notfound"}},
	{DeviceOverconstrained, []string{"format not supported", "invalid device config", "invalid args", "overconstrained", "unsupported"}},
	{DeviceNotReadable, []string{"busy", "in use", "failed to open", "failed to start", "not readable", "notreadable"}},
	{DeviceAborted, []string{"aborted", "interrupted"}},
}

// ClassifyDeviceError maps err to a [*DeviceError]. An error already wrapping
// a DeviceError is returned as that DeviceError. Context cancellation maps to
// [DeviceAborted]. Every other error maps to exactly one kind; unmatched
// errors become [DeviceUnknown]. A nil err returns nil.
func ClassifyDeviceError(err error) *DeviceError {
	if err == nil {
		return nil
	}
	var de *DeviceError
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewDeviceError(DeviceAborted, err)
	}
	msg := strings.ToLower(err.Error())
	for _, p := range deviceErrorPatterns {
		for _, s := range p.patterns {
			if strings.Contains(msg, s) {
				return NewDeviceError(p.kind, err)
			}
		}
	}
	return NewDeviceError(DeviceUnknown, err)
}
