// Package session runs the turn controller: the single event loop that moves a
// conversation between capturing, awaiting a response and speaking.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rbright/parley/internal/conversation"
	"github.com/rbright/parley/internal/fsm"
	"github.com/rbright/parley/internal/mode"
	"github.com/rbright/parley/internal/responder"
	"github.com/rbright/parley/internal/speech"
)

// TestVoicePhrase is spoken by TestVoice.
const TestVoicePhrase = "Hello! This is a test. Can you hear me speaking?"

var (
	// ErrBusy rejects a request that the current state does not accept.
	ErrBusy = errors.New("controller is busy")
	// ErrEmptyMessage rejects a blank typed submission.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNothingToReplay means there is no assistant turn to replay.
	ErrNothingToReplay = errors.New("no assistant turn to replay")
	// ErrNotRunning means the event loop has exited or was never started.
	ErrNotRunning = errors.New("controller is not running")
)

// Listener is the capture surface the controller drives.
type Listener interface {
	Available(ctx context.Context) error
	Start(ctx context.Context) (<-chan speech.InputEvent, error)
	Stop()
	Cancel()
}

// Speaker is the playback surface the controller drives.
type Speaker interface {
	Available() error
	Speak(ctx context.Context, text string) (<-chan speech.PlaybackEvent, error)
	Cancel()
}

// Notifier renders controller progress for the user.
type Notifier interface {
	ShowListening(context.Context)
	ShowThinking(context.Context)
	ShowSpeaking(context.Context)
	ShowError(context.Context, string)
	Hide(context.Context)
}

type noopNotifier struct{}

func (noopNotifier) ShowListening(context.Context)     {}
func (noopNotifier) ShowThinking(context.Context)      {}
func (noopNotifier) ShowSpeaking(context.Context)      {}
func (noopNotifier) ShowError(context.Context, string) {}
func (noopNotifier) Hide(context.Context)              {}

// Options wires a Controller. Store defaults to a fresh store and Notifier to a no-op.
type Options struct {
	Logger    *slog.Logger
	Listener  Listener
	Speaker   Speaker
	Responder responder.Client
	Store     *conversation.Store
	Notifier  Notifier
}

// ErrorInfo is the last error surfaced to the user.
type ErrorInfo struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Snapshot is a consistent view of controller state for display surfaces.
type Snapshot struct {
	State       fsm.State
	Controls    fsm.Controls
	Mode        conversation.Mode
	Interim     string
	Turns       int
	Suggestions []string
	Feedback    *responder.Feedback
	LastError   *ErrorInfo
}

// Controller owns the conversation state machine. All transitions happen on
// the goroutine running Run; public methods post commands to it.
type Controller struct {
	logger    *slog.Logger
	listener  Listener
	speaker   Speaker
	responder responder.Client
	store     *conversation.Store
	notifier  Notifier
	modes     mode.Selector

	commands chan command
	events   chan loopEvent
	running  chan struct{}
	done     chan struct{}
	runOnce  sync.Once

	mu   sync.RWMutex
	view Snapshot

	// loop-owned
	ctx           context.Context
	captureGen    uint64
	speakGen      uint64
	requestGen    uint64
	cancelRequest context.CancelFunc
	// captureReady masks the capture control; drainGen is the stopped
	// capture session still releasing the microphone, 0 when none.
	captureReady bool
	drainGen     uint64
}

type commandKind int

const (
	cmdCapture commandKind = iota + 1
	cmdStop
	cmdSubmit
	cmdReplay
	cmdTestVoice
	cmdClear
	cmdSetMode
)

type command struct {
	kind   commandKind
	text   string
	turnID string
	mode   conversation.Mode
	reply  chan error
}

type eventKind int

const (
	eventInput eventKind = iota + 1
	eventPlayback
	eventResponse
	eventInputClosed
)

type loopEvent struct {
	kind     eventKind
	gen      uint64
	input    speech.InputEvent
	playback speech.PlaybackEvent
	response responder.Response
	err      error
}

// NewController constructs a controller. Call Run to start its loop.
func NewController(opts Options) *Controller {
	store := opts.Store
	if store == nil {
		store = conversation.NewStore()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if opts.Listener != nil {
		store.Attach(opts.Listener)
	}
	if opts.Speaker != nil {
		store.Attach(opts.Speaker)
	}

	c := &Controller{
		logger:    opts.Logger,
		listener:  opts.Listener,
		speaker:   opts.Speaker,
		responder: opts.Responder,
		store:     store,
		notifier:  notifier,
		commands:  make(chan command),
		events:    make(chan loopEvent, 16),
		running:   make(chan struct{}),
		done:      make(chan struct{}),

		captureReady: opts.Listener != nil,
	}
	c.view = Snapshot{
		State:    fsm.StateIdle,
		Controls: c.controlsFor(fsm.StateIdle),
		Mode:     store.Mode(),
	}
	return c
}

// Run processes commands and session events until ctx is done. Active speech
// sessions are cancelled on exit.
func (c *Controller) Run(ctx context.Context) error {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("controller already ran")
	}

	c.ctx = ctx
	c.checkCapture()
	close(c.running)
	defer close(c.done)
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-c.commands:
			cmd.reply <- c.handleCommand(cmd)
		case ev := <-c.events:
			c.handleEvent(ev)
		}
	}
}

func (c *Controller) shutdown() {
	if c.cancelRequest != nil {
		c.cancelRequest()
	}
	if c.listener != nil {
		c.listener.Cancel()
	}
	if c.speaker != nil {
		c.speaker.Cancel()
	}
	c.notifier.Hide(context.Background())
}

// Capture starts listening. Only accepted while idle.
func (c *Controller) Capture(ctx context.Context) error {
	return c.post(ctx, command{kind: cmdCapture})
}

// Stop ends capture or playback. Safe in any state.
func (c *Controller) Stop(ctx context.Context) error {
	return c.post(ctx, command{kind: cmdStop})
}

// Submit sends typed text as the user's turn. Only accepted while idle.
func (c *Controller) Submit(ctx context.Context, text string) error {
	return c.post(ctx, command{kind: cmdSubmit, text: text})
}

// Replay speaks an earlier assistant turn again without recording a turn.
// An empty id replays the latest assistant turn.
func (c *Controller) Replay(ctx context.Context, turnID string) error {
	return c.post(ctx, command{kind: cmdReplay, turnID: strings.TrimSpace(turnID)})
}

// TestVoice speaks TestVoicePhrase.
func (c *Controller) TestVoice(ctx context.Context) error {
	return c.post(ctx, command{kind: cmdTestVoice})
}

// Clear empties the conversation, cancels speech and abandons any pending
// responder call. Safe in any state.
func (c *Controller) Clear(ctx context.Context) error {
	return c.post(ctx, command{kind: cmdClear})
}

// SetMode switches the coaching mode for subsequent turns.
func (c *Controller) SetMode(ctx context.Context, m conversation.Mode) error {
	return c.post(ctx, command{kind: cmdSetMode, mode: m})
}

// State returns the current state.
func (c *Controller) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view.State
}

// Snapshot returns the current display state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := c.view
	out.Turns = c.store.Len()
	out.Mode = c.store.Mode()
	out.Suggestions = append([]string(nil), c.view.Suggestions...)
	if c.view.LastError != nil {
		e := *c.view.LastError
		out.LastError = &e
	}
	return out
}

// History returns the recorded turns.
func (c *Controller) History() []conversation.Turn {
	return c.store.History()
}

func (c *Controller) post(ctx context.Context, cmd command) error {
	select {
	case <-c.running:
	case <-ctx.Done():
		return ctx.Err()
	}

	cmd.reply = make(chan error, 1)
	select {
	case c.commands <- cmd:
	case <-c.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		return ErrNotRunning
	}
}

func (c *Controller) handleCommand(cmd command) error {
	state := c.State()

	switch cmd.kind {
	case cmdCapture:
		if state != fsm.StateIdle {
			return busy("capture", state)
		}
		return c.startCapture()

	case cmdSubmit:
		text := strings.TrimSpace(cmd.text)
		if text == "" {
			return ErrEmptyMessage
		}
		if state != fsm.StateIdle {
			return busy("submit", state)
		}
		c.transition(fsm.EventSubmit)
		c.submitTurn(text)
		return nil

	case cmdStop:
		switch state {
		case fsm.StateCapturing:
			c.listener.Stop()
			c.drainGen = c.captureGen
			c.transition(fsm.EventStop)
			c.setInterim("")
			c.notifier.Hide(c.ctx)
		case fsm.StateSpeaking:
			c.speakGen++
			c.speaker.Cancel()
			c.transition(fsm.EventStop)
			c.notifier.Hide(c.ctx)
		}
		return nil

	case cmdReplay:
		if state != fsm.StateIdle {
			return busy("replay", state)
		}
		if c.drainGen != 0 {
			return draining("replay")
		}
		turn, ok := c.replayTarget(cmd.turnID)
		if !ok {
			if cmd.turnID != "" {
				return fmt.Errorf("%w: turn %q", ErrNothingToReplay, cmd.turnID)
			}
			return ErrNothingToReplay
		}
		return c.replay(turn.Content)

	case cmdTestVoice:
		if state != fsm.StateIdle {
			return busy("test voice", state)
		}
		if c.drainGen != 0 {
			return draining("test voice")
		}
		return c.replay(TestVoicePhrase)

	case cmdClear:
		c.captureGen++
		c.speakGen++
		c.requestGen++
		if c.cancelRequest != nil {
			c.cancelRequest()
			c.cancelRequest = nil
		}
		c.store.Clear()
		c.transition(fsm.EventClear)
		c.mu.Lock()
		c.view.Interim = ""
		c.view.Suggestions = nil
		c.view.Feedback = nil
		c.view.LastError = nil
		c.mu.Unlock()
		c.notifier.Hide(c.ctx)
		return nil

	case cmdSetMode:
		m, err := conversation.ParseMode(string(cmd.mode))
		if err != nil {
			return err
		}
		c.store.SetMode(m)
		c.logInfo("conversation mode changed", "mode", string(m))
		return nil

	default:
		return fmt.Errorf("unknown command %d", cmd.kind)
	}
}

func (c *Controller) replayTarget(id string) (conversation.Turn, bool) {
	if id == "" {
		return c.store.LastAssistant()
	}
	turn, ok := c.store.Turn(id)
	if !ok || turn.Role != conversation.RoleAssistant {
		return conversation.Turn{}, false
	}
	return turn, true
}

// replay speaks text from idle. A synchronous failure leaves the state untouched.
func (c *Controller) replay(text string) error {
	if c.speaker == nil {
		return speech.ErrSynthesisUnavailable
	}
	if err := c.speaker.Available(); err != nil {
		return err
	}
	c.transition(fsm.EventReplay)
	if err := c.speak(text); err != nil {
		c.transition(fsm.EventPlaybackDone)
		c.notifier.Hide(c.ctx)
		return err
	}
	return nil
}

func (c *Controller) startCapture() error {
	if c.listener == nil {
		err := speech.ErrDeviceUnavailable
		c.surfaceCapture(speech.ClassifyCaptureError(err))
		return err
	}
	events, err := c.listener.Start(c.ctx)
	if err != nil {
		c.surfaceCapture(speech.ClassifyCaptureError(err))
		return err
	}

	c.captureGen++
	gen := c.captureGen
	c.captureReady = true
	c.transition(fsm.EventCapture)
	c.setInterim("")
	c.clearLastError()
	c.notifier.ShowListening(c.ctx)

	go func() {
		for ev := range events {
			c.deliver(loopEvent{kind: eventInput, gen: gen, input: ev})
		}
		c.deliver(loopEvent{kind: eventInputClosed, gen: gen})
	}()
	return nil
}

// submitTurn records the user's turn and calls the responder with the
// history as it was before the turn.
func (c *Controller) submitTurn(text string) {
	history := c.store.History()
	currentMode := c.store.Mode()
	c.store.AppendTurn(conversation.RoleUser, text)
	req := responder.NewRequest(text, c.modes.WireName(currentMode), history)

	c.requestGen++
	gen := c.requestGen
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelRequest = cancel
	c.notifier.ShowThinking(c.ctx)
	c.logDebug("responder request", "mode", req.Mode, "history", len(req.History))

	client := c.responder
	go func() {
		var (
			resp responder.Response
			err  error
		)
		if client == nil {
			err = responder.ErrNotConfigured
		} else {
			resp, err = client.Ask(ctx, req)
		}
		c.deliver(loopEvent{kind: eventResponse, gen: gen, response: resp, err: err})
	}()
}

func (c *Controller) speak(text string) error {
	events, err := c.speaker.Speak(c.ctx, text)
	if err != nil {
		return err
	}
	c.speakGen++
	gen := c.speakGen
	c.notifier.ShowSpeaking(c.ctx)

	go func() {
		for ev := range events {
			c.deliver(loopEvent{kind: eventPlayback, gen: gen, playback: ev})
		}
	}()
	return nil
}

// deliver hands an event to the loop. Once the loop exits, events are dropped
// so session channels still drain.
func (c *Controller) deliver(ev loopEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) handleEvent(ev loopEvent) {
	switch ev.kind {
	case eventInput:
		c.handleInput(ev)
	case eventInputClosed:
		if ev.gen == c.drainGen {
			c.drainGen = 0
			c.refreshControls()
		}
	case eventResponse:
		c.handleResponse(ev)
	case eventPlayback:
		c.handlePlayback(ev)
	}
}

func (c *Controller) handleInput(ev loopEvent) {
	if ev.gen != c.captureGen {
		return
	}
	state := c.State()
	in := ev.input

	switch state {
	case fsm.StateCapturing:
	case fsm.StateIdle:
		// A gracefully stopped session may still deliver its final result.
		if in.Kind == speech.InputFinal && strings.TrimSpace(in.Text) != "" {
			c.logDebug("accepting trailing transcript after stop")
			c.transition(fsm.EventSubmit)
			c.submitTurn(strings.TrimSpace(in.Text))
		}
		return
	default:
		return
	}

	switch in.Kind {
	case speech.InputInterim:
		c.setInterim(in.Text)
	case speech.InputFinal:
		text := strings.TrimSpace(in.Text)
		c.setInterim("")
		if text == "" {
			c.transition(fsm.EventCaptureEnded)
			c.notifier.Hide(c.ctx)
			return
		}
		c.transition(fsm.EventTranscribed)
		c.submitTurn(text)
	case speech.InputNoInput:
		c.setInterim("")
		c.transition(fsm.EventCaptureEnded)
		c.notifier.Hide(c.ctx)
	case speech.InputError:
		c.setInterim("")
		c.transition(fsm.EventCaptureEnded)
		c.surfaceCapture(in.Err)
	}
}

func (c *Controller) handleResponse(ev loopEvent) {
	if ev.gen != c.requestGen || c.State() != fsm.StateAwaitingResponse {
		return
	}
	c.cancelRequest = nil

	if ev.err != nil {
		c.logError("responder call failed", ev.err)
		c.store.AppendTurn(conversation.RoleAssistant, responder.FallbackReply)
		c.transition(fsm.EventResponderFault)
		c.notifier.Hide(c.ctx)
		return
	}

	c.store.AppendTurn(conversation.RoleAssistant, ev.response.Response)
	c.mu.Lock()
	c.view.Suggestions = append([]string(nil), ev.response.Suggestions...)
	c.view.Feedback = ev.response.Feedback
	c.mu.Unlock()

	c.transition(fsm.EventResponded)
	if c.speaker == nil {
		c.transition(fsm.EventPlaybackDone)
		c.notifier.Hide(c.ctx)
		return
	}
	if err := c.speak(ev.response.Response); err != nil {
		c.transition(fsm.EventPlaybackDone)
		if errors.Is(err, speech.ErrSynthesisUnavailable) {
			c.logWarn("reply not spoken", "error", err.Error())
			c.notifier.Hide(c.ctx)
			return
		}
		c.surface(ErrorInfo{Kind: string(speech.PlaybackSynthesis), Message: synthesisMessage(err)})
	}
}

func (c *Controller) handlePlayback(ev loopEvent) {
	if ev.gen != c.speakGen || c.State() != fsm.StateSpeaking {
		return
	}

	pb := ev.playback
	switch pb.Kind {
	case speech.PlaybackStarted:
		c.logDebug("playback started")
	case speech.PlaybackCompleted:
		c.transition(fsm.EventPlaybackDone)
		c.notifier.Hide(c.ctx)
	case speech.PlaybackErrored:
		c.transition(fsm.EventPlaybackDone)
		if pb.ErrKind == speech.PlaybackInterrupted {
			c.notifier.Hide(c.ctx)
			return
		}
		c.surface(ErrorInfo{Kind: string(pb.ErrKind), Message: synthesisMessage(pb.Err)})
	}
}

// surfaceCapture reports a classified capture failure. Aborted sessions are silent.
func (c *Controller) surfaceCapture(capErr *speech.CaptureError) {
	if capErr == nil || capErr.Kind == speech.CaptureAborted {
		c.notifier.Hide(c.ctx)
		return
	}
	if capErr.Kind == speech.CaptureDeviceUnavailable || capErr.Kind == speech.CapturePermissionDenied {
		c.checkCapture()
	}
	c.surface(ErrorInfo{
		Kind:      string(capErr.Kind),
		Message:   captureMessage(capErr),
		Retryable: capErr.Kind.Retryable(),
	})
}

func (c *Controller) surface(info ErrorInfo) {
	c.mu.Lock()
	c.view.LastError = &info
	c.mu.Unlock()
	c.logWarn("surfaced error", "kind", info.Kind, "message", info.Message, "retryable", info.Retryable)
	c.notifier.ShowError(c.ctx, info.Message)
}

// transition applies event on the loop goroutine. Commands check state before
// calling it, so a rejected transition is a programming error and is logged.
func (c *Controller) transition(event fsm.Event) {
	c.mu.Lock()
	from := c.view.State
	next, err := fsm.Transition(from, event)
	if err == nil {
		c.view.State = next
		c.view.Controls = c.controlsFor(next)
	}
	c.mu.Unlock()

	if err != nil {
		c.logError("transition rejected", err)
		return
	}
	c.logDebug("transition", "from", string(from), "to", string(next), "event", string(event))
}

func (c *Controller) controlsFor(state fsm.State) fsm.Controls {
	return fsm.ControlsFor(state).WithCapture(c.captureReady).WithReplay(c.drainGen == 0)
}

func (c *Controller) refreshControls() {
	c.mu.Lock()
	c.view.Controls = c.controlsFor(c.view.State)
	c.mu.Unlock()
}

// checkCapture asks the listener whether capture can start at all and
// updates the capture control to match.
func (c *Controller) checkCapture() {
	ready := false
	if c.listener != nil {
		err := c.listener.Available(c.ctx)
		ready = err == nil
		if err != nil {
			c.logWarn("capture unavailable", "error", err.Error())
		}
	}
	c.captureReady = ready
	c.refreshControls()
}

func (c *Controller) setInterim(text string) {
	c.mu.Lock()
	c.view.Interim = text
	c.mu.Unlock()
}

func (c *Controller) clearLastError() {
	c.mu.Lock()
	c.view.LastError = nil
	c.mu.Unlock()
}

func busy(action string, state fsm.State) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrBusy, action, state)
}

func draining(action string) error {
	return fmt.Errorf("%w: cannot %s while the microphone is still closing", ErrBusy, action)
}

func (c *Controller) logDebug(msg string, attrs ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(msg, attrs...)
}

func (c *Controller) logInfo(msg string, attrs ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Info(msg, attrs...)
}

func (c *Controller) logWarn(msg string, attrs ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Warn(msg, attrs...)
}

func (c *Controller) logError(msg string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Error(msg, "error", err.Error())
}
