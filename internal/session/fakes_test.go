package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/responder"
	"github.com/rbright/parley/internal/speech"
)

type fakeListener struct {
	startErr error

	mu           sync.Mutex
	availableErr error
	current      chan speech.InputEvent

	starts  atomic.Int32
	stops   atomic.Int32
	cancels atomic.Int32
}

func (f *fakeListener) Available(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.availableErr
}

func (f *fakeListener) setAvailable(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.availableErr = err
}

func (f *fakeListener) Start(ctx context.Context) (<-chan speech.InputEvent, error) {
	if err := f.Available(ctx); err != nil {
		return nil, err
	}
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.starts.Add(1)
	ch := make(chan speech.InputEvent, 8)
	f.mu.Lock()
	f.current = ch
	f.mu.Unlock()
	return ch, nil
}

func (f *fakeListener) Stop() { f.stops.Add(1) }

func (f *fakeListener) Cancel() {
	f.cancels.Add(1)
	f.emit(speech.InputEvent{Kind: speech.InputError, Err: speech.ClassifyCaptureError(speech.ErrAborted)})
}

// emit delivers ev on the active session; terminal events close it.
func (f *fakeListener) emit(ev speech.InputEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return
	}
	f.current <- ev
	if ev.Terminal() {
		close(f.current)
		f.current = nil
	}
}

// heldRecognizer streams whatever the test pushes and keeps results open
// after Finish until the test closes them.
type heldRecognizer struct {
	results chan speech.Result
}

func (h *heldRecognizer) Available(context.Context) error { return nil }

func (h *heldRecognizer) Open(context.Context) (speech.Stream, error) {
	return heldStream{results: h.results}, nil
}

type heldStream struct {
	results chan speech.Result
}

func (s heldStream) Results() <-chan speech.Result { return s.results }
func (heldStream) Err() error                      { return nil }
func (heldStream) Finish() error                   { return nil }
func (heldStream) Close() error                    { return nil }

type fakeSpeaker struct {
	availableErr error
	speakErr     error

	mu      sync.Mutex
	texts   []string
	current chan speech.PlaybackEvent

	cancels atomic.Int32
}

func (f *fakeSpeaker) Available() error { return f.availableErr }

func (f *fakeSpeaker) Speak(_ context.Context, text string) (<-chan speech.PlaybackEvent, error) {
	if f.availableErr != nil {
		return nil, f.availableErr
	}
	if f.speakErr != nil {
		return nil, f.speakErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interruptLocked()
	ch := make(chan speech.PlaybackEvent, 4)
	ch <- speech.PlaybackEvent{Kind: speech.PlaybackStarted}
	f.current = ch
	f.texts = append(f.texts, text)
	return ch, nil
}

func (f *fakeSpeaker) Cancel() {
	f.cancels.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interruptLocked()
}

func (f *fakeSpeaker) interruptLocked() {
	if f.current == nil {
		return
	}
	f.current <- speech.PlaybackEvent{Kind: speech.PlaybackErrored, ErrKind: speech.PlaybackInterrupted}
	close(f.current)
	f.current = nil
}

// finish ends the active utterance with ev.
func (f *fakeSpeaker) finish(ev speech.PlaybackEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return
	}
	f.current <- ev
	close(f.current)
	f.current = nil
}

func (f *fakeSpeaker) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeResponder struct {
	reply func(responder.Request) (responder.Response, error)
	gate  chan struct{}

	mu       sync.Mutex
	requests []responder.Request
}

func (f *fakeResponder) Ask(ctx context.Context, req responder.Request) (responder.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return responder.Response{}, ctx.Err()
		}
	}
	if f.reply == nil {
		return responder.Response{Response: "ok"}, nil
	}
	return f.reply(req)
}

func (f *fakeResponder) Close() error { return nil }

func (f *fakeResponder) seen() []responder.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]responder.Request(nil), f.requests...)
}

type recordingNotifier struct {
	mu        sync.Mutex
	errors    []string
	listening atomic.Int32
	thinking  atomic.Int32
	speaking  atomic.Int32
}

func (n *recordingNotifier) ShowListening(context.Context) { n.listening.Add(1) }
func (n *recordingNotifier) ShowThinking(context.Context)  { n.thinking.Add(1) }
func (n *recordingNotifier) ShowSpeaking(context.Context)  { n.speaking.Add(1) }
func (*recordingNotifier) Hide(context.Context)            {}

func (n *recordingNotifier) ShowError(_ context.Context, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

func (n *recordingNotifier) shown() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.errors...)
}

type rig struct {
	ctrl      *Controller
	listener  *fakeListener
	speaker   *fakeSpeaker
	responder *fakeResponder
	notifier  *recordingNotifier
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		listener:  &fakeListener{},
		speaker:   &fakeSpeaker{},
		responder: &fakeResponder{},
		notifier:  &recordingNotifier{},
	}
	r.ctrl = NewController(Options{
		Listener:  r.listener,
		Speaker:   r.speaker,
		Responder: r.responder,
		Notifier:  r.notifier,
	})
	return r
}

// start runs the controller loop until the test ends.
func (r *rig) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.ctrl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForState(t *testing.T, ctrl *Controller, desired fsm.State) {
	t.Helper()
	waitFor(t, "state "+string(desired), func() bool { return ctrl.State() == desired })
}

// waitForSpoken waits until the speaker has been asked to speak n utterances.
func (r *rig) waitForSpoken(t *testing.T, n int) {
	t.Helper()
	waitFor(t, "speak call", func() bool { return len(r.speaker.spoken()) >= n })
}
