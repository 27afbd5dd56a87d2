package speech

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

var (
	// ErrDeviceUnavailable means no capture device or recognizer is configured.
	ErrDeviceUnavailable = errors.New("speech capture unavailable")
	// ErrSynthesisUnavailable means no speech synthesis path is configured.
	ErrSynthesisUnavailable = errors.New("speech synthesis unavailable")
	// ErrPermissionDenied marks capture refused by the OS or the audio server.
	ErrPermissionDenied = errors.New("microphone access denied")
	// ErrServiceUnavailable marks a recognizer that refused or could not serve the session.
	ErrServiceUnavailable = errors.New("speech recognition service unavailable")
	// ErrAborted marks a session ended by Abort or by a newer Start.
	ErrAborted = errors.New("capture aborted")
)

// CaptureErrorKind classifies capture failures for recovery policy.
type CaptureErrorKind string

const (
	CapturePermissionDenied   CaptureErrorKind = "permission_denied"
	CaptureDeviceUnavailable  CaptureErrorKind = "device_unavailable"
	CaptureNetworkError       CaptureErrorKind = "network_error"
	CaptureServiceUnavailable CaptureErrorKind = "service_unavailable"
	CaptureAborted            CaptureErrorKind = "aborted"
	CaptureOther              CaptureErrorKind = "other"
)

// Retryable reports whether the user may simply try again.
func (k CaptureErrorKind) Retryable() bool {
	return k == CaptureNetworkError || k == CaptureServiceUnavailable
}

// CaptureError carries a classified capture failure.
type CaptureError struct {
	Kind CaptureErrorKind
	Err  error
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// ClassifyCaptureError maps a low-level capture or recognizer error into the
// capture taxonomy. Errors already classified are returned unchanged.
func ClassifyCaptureError(err error) *CaptureError {
	if err == nil {
		return nil
	}

	var classified *CaptureError
	if errors.As(err, &classified) {
		return classified
	}

	kind := CaptureOther
	var netErr net.Error
	switch {
	case errors.Is(err, ErrAborted), errors.Is(err, context.Canceled):
		kind = CaptureAborted
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, os.ErrPermission):
		kind = CapturePermissionDenied
	case errors.Is(err, ErrDeviceUnavailable):
		kind = CaptureDeviceUnavailable
	case errors.Is(err, ErrServiceUnavailable):
		kind = CaptureServiceUnavailable
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		kind = CaptureNetworkError
	}
	return &CaptureError{Kind: kind, Err: err}
}
