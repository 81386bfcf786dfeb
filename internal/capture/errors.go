package capture

import (
	"errors"
	"fmt"

	"voiceloop/internal/audio"
	"voiceloop/internal/transcribe"
)

// ErrorKind distinguishes why capture failed. Callers surface these
// distinctly; a user who denied microphone access needs different advice
// than one whose device is claimed by another app.
type ErrorKind string

const (
	KindUnsupported ErrorKind = "unsupported"
	// KindPermissionDenied is part of the caller-facing taxonomy but is not
	// produced by classifyOpenError: miniaudio reports an OS-level capture
	// denial (e.g. macOS privacy settings) as a generic device-open failure
	// with no distinct error code, so it classifies as KindDeviceBusy. A
	// Device implementation that can see the denial reports it directly.
	KindPermissionDenied ErrorKind = "permission-denied"
	KindNoDevice         ErrorKind = "no-device"
	KindDeviceBusy       ErrorKind = "device-busy"
	// KindBadConstraints is likewise unreachable from the local backend:
	// miniaudio resamples and converts formats internally, so an exotic
	// requested rate degrades instead of failing the open.
	KindBadConstraints ErrorKind = "unsupported-constraints"
	KindRecognizer     ErrorKind = "recognizer"
)

// Error is a capture failure with a user-presentable message.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("capture (%s): %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("capture (%s): %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Persistent reports whether the underlying cause outlives the current turn.
// Persistent failures stay visible until the user fixes the environment.
func (e *Error) Persistent() bool {
	switch e.Kind {
	case KindUnsupported, KindPermissionDenied, KindNoDevice:
		return true
	}
	return false
}

func newError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// classifyOpenError maps backend failures onto capture error kinds with
// messages a user can act on.
func classifyOpenError(err error) *Error {
	switch {
	case errors.Is(err, audio.ErrBackendUnavailable):
		return newError(KindUnsupported, "this system has no usable audio backend", err)
	case errors.Is(err, audio.ErrNoCaptureDevice):
		return newError(KindNoDevice, "no microphone was found - plug one in and try again", err)
	case errors.Is(err, audio.ErrDeviceOpen):
		return newError(KindDeviceBusy, "the microphone could not be opened - it may be in use by another application or blocked by system privacy settings", err)
	case errors.Is(err, transcribe.ErrMissingAPIKey):
		return newError(KindUnsupported, "speech recognition is not configured", err)
	default:
		return newError(KindRecognizer, "the speech recognizer could not be reached", err)
	}
}
