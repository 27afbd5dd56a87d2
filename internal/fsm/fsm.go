package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle             State = "idle"
	StateCapturing        State = "capturing"
	StateAwaitingResponse State = "awaiting_response"
	StateSpeaking         State = "speaking"
)

const (
	EventCapture        Event = "capture"
	EventTranscribed    Event = "transcribed"
	EventCaptureEnded   Event = "capture_ended"
	EventSubmit         Event = "submit"
	EventResponded      Event = "responded"
	EventResponderFault Event = "responder_fault"
	EventPlaybackDone   Event = "playback_done"
	EventReplay         Event = "replay"
	EventStop           Event = "stop"
	EventClear          Event = "clear"
)

func Transition(current State, event Event) (State, error) {
	if event == EventClear {
		switch current {
		case StateIdle, StateCapturing, StateAwaitingResponse, StateSpeaking:
			return StateIdle, nil
		}
	}

	switch current {
	case StateIdle:
		switch event {
		case EventCapture:
			return StateCapturing, nil
		case EventSubmit:
			return StateAwaitingResponse, nil
		case EventReplay:
			return StateSpeaking, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateCapturing:
		switch event {
		case EventTranscribed:
			return StateAwaitingResponse, nil
		case EventCaptureEnded, EventStop:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateAwaitingResponse:
		switch event {
		case EventResponded:
			return StateSpeaking, nil
		case EventResponderFault:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateSpeaking:
		switch event {
		case EventPlaybackDone, EventStop:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}

// Controls is the enabled/disabled status of every user control.
type Controls struct {
	Capture bool `json:"capture"`
	Stop    bool `json:"stop"`
	Submit  bool `json:"submit"`
	Replay  bool `json:"replay"`
	Clear   bool `json:"clear"`
}

// ControlsFor derives control availability from the state alone.
func ControlsFor(state State) Controls {
	idle := state == StateIdle
	return Controls{
		Capture: idle,
		Stop:    state == StateCapturing || state == StateSpeaking,
		Submit:  idle,
		Replay:  idle,
		Clear:   true,
	}
}

// WithCapture disables Capture when no capture device is usable.
func (c Controls) WithCapture(available bool) Controls {
	c.Capture = c.Capture && available
	return c
}

// WithReplay disables Replay while the microphone is still releasing.
func (c Controls) WithReplay(allowed bool) Controls {
	c.Replay = c.Replay && allowed
	return c
}
