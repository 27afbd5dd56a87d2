// Package speech turns live capture and synthesis into ordered, tagged session events.
package speech

import "fmt"

// InputKind tags one capture session event.
type InputKind string

const (
	InputInterim InputKind = "interim"
	InputFinal   InputKind = "final"
	InputNoInput InputKind = "no_input"
	InputError   InputKind = "error"
)

// InputEvent is one event of a capture session. Interim events carry the
// live transcript; exactly one of Final, NoInput or Error ends the session.
type InputEvent struct {
	Kind InputKind
	Text string
	Err  *CaptureError
}

// Terminal reports whether the event ends its session.
func (e InputEvent) Terminal() bool {
	return e.Kind != InputInterim
}

func (e InputEvent) String() string {
	switch e.Kind {
	case InputInterim, InputFinal:
		return fmt.Sprintf("%s(%q)", e.Kind, e.Text)
	case InputError:
		if e.Err != nil {
			return fmt.Sprintf("error(%s)", e.Err.Kind)
		}
	}
	return string(e.Kind)
}

// PlaybackKind tags one playback session event.
type PlaybackKind string

const (
	PlaybackStarted   PlaybackKind = "started"
	PlaybackCompleted PlaybackKind = "completed"
	PlaybackErrored   PlaybackKind = "errored"
)

// PlaybackErrorKind classifies a failed utterance.
type PlaybackErrorKind string

const (
	// PlaybackInterrupted is caused by a later Speak or by Cancel.
	PlaybackInterrupted PlaybackErrorKind = "interrupted"
	PlaybackSynthesis   PlaybackErrorKind = "synthesis_error"
)

// PlaybackEvent is one event of a playback session: an optional Started
// followed by exactly one Completed or Errored.
type PlaybackEvent struct {
	Kind    PlaybackKind
	ErrKind PlaybackErrorKind
	Err     error
}

// Terminal reports whether the event ends its utterance.
func (e PlaybackEvent) Terminal() bool {
	return e.Kind != PlaybackStarted
}

func (e PlaybackEvent) String() string {
	if e.Kind == PlaybackErrored {
		return fmt.Sprintf("errored(%s)", e.ErrKind)
	}
	return string(e.Kind)
}
