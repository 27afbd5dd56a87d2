package session

import (
	"fmt"

	"github.com/rbright/parley/internal/speech"
)

func captureMessage(err *speech.CaptureError) string {
	switch err.Kind {
	case speech.CaptureNetworkError:
		return "Network error detected. This is usually temporary. Start listening again to retry."
	case speech.CapturePermissionDenied:
		return "Microphone access denied. Allow parley to record from your audio server and try again."
	case speech.CaptureDeviceUnavailable:
		return "No microphone found. Please connect a microphone and try again."
	case speech.CaptureServiceUnavailable:
		return "Speech recognition service not available. Please check your connection."
	default:
		return fmt.Sprintf("Speech recognition error: %v. Start listening again to retry.", err.Err)
	}
}

func synthesisMessage(err error) string {
	if err == nil {
		return "Speech error"
	}
	return fmt.Sprintf("Speech error: %v", err)
}
