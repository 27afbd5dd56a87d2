package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/parley/internal/transcript"
)

// DefaultNoInputTimeout ends a session that heard nothing.
const DefaultNoInputTimeout = 8 * time.Second

// Result is one recognition hypothesis from a Stream.
type Result struct {
	Text  string
	Final bool
}

// Stream is one open recognition session.
type Stream interface {
	// Results closes when the recognizer has nothing more to say.
	Results() <-chan Result
	// Err reports why Results closed; nil on a clean end.
	Err() error
	// Finish stops capture and asks the recognizer to flush pending results.
	Finish() error
	// Close releases the session immediately.
	Close() error
}

// Recognizer opens recognition sessions against a capture device.
type Recognizer interface {
	Available(ctx context.Context) error
	Open(ctx context.Context) (Stream, error)
}

// ListenerOptions tunes capture sessions.
type ListenerOptions struct {
	NoInputTimeout time.Duration
	// Continuous keeps the session open after the first final result.
	Continuous      bool
	CapitalizeFirst bool
	Logger          *slog.Logger
}

// Listener runs at most one capture session at a time.
type Listener struct {
	rec    Recognizer
	opts   ListenerOptions
	logger *slog.Logger

	startMu sync.Mutex

	mu     sync.Mutex
	active *captureSession
}

type captureSession struct {
	events chan InputEvent

	stopCh    chan struct{}
	stopOnce  sync.Once
	abortCh   chan struct{}
	abortOnce sync.Once
	done      chan struct{}
}

func (s *captureSession) stop()  { s.stopOnce.Do(func() { close(s.stopCh) }) }
func (s *captureSession) abort() { s.abortOnce.Do(func() { close(s.abortCh) }) }

// NewListener constructs a listener over rec. A nil rec is never available.
func NewListener(rec Recognizer, opts ListenerOptions) *Listener {
	if opts.NoInputTimeout == 0 {
		opts.NoInputTimeout = DefaultNoInputTimeout
	}
	return &Listener{rec: rec, opts: opts, logger: opts.Logger}
}

// Available reports ErrDeviceUnavailable when capture cannot start. A
// permission failure stays detectable through the wrapped cause.
func (l *Listener) Available(ctx context.Context) error {
	if l == nil || l.rec == nil {
		return ErrDeviceUnavailable
	}
	if err := l.rec.Available(ctx); err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	return nil
}

// Start opens a capture session. An active session is aborted and fully
// wound down first. The returned channel must be drained until it closes.
func (l *Listener) Start(ctx context.Context) (<-chan InputEvent, error) {
	if err := l.Available(ctx); err != nil {
		return nil, err
	}

	l.startMu.Lock()
	defer l.startMu.Unlock()

	l.mu.Lock()
	prev := l.active
	l.mu.Unlock()
	if prev != nil {
		prev.abort()
		<-prev.done
	}

	s := &captureSession{
		events:  make(chan InputEvent, 8),
		stopCh:  make(chan struct{}),
		abortCh: make(chan struct{}),
		done:    make(chan struct{}),
	}

	l.mu.Lock()
	l.active = s
	l.mu.Unlock()

	go l.run(ctx, s)
	return s.events, nil
}

// Stop ends the active session gracefully. The session still delivers a
// Final or NoInput. No-op when idle.
func (l *Listener) Stop() {
	if s := l.current(); s != nil {
		s.stop()
	}
}

// Abort ends the active session immediately with Error(aborted). No-op when idle.
func (l *Listener) Abort() {
	if s := l.current(); s != nil {
		s.abort()
	}
}

// Cancel aborts the active session.
func (l *Listener) Cancel() {
	l.Abort()
}

// Active reports whether a session is running.
func (l *Listener) Active() bool {
	return l.current() != nil
}

func (l *Listener) current() *captureSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *Listener) run(parent context.Context, s *captureSession) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-s.abortCh:
			cancel()
		case <-s.done:
		}
	}()

	terminal := l.capture(ctx, s)
	cancel()
	s.events <- terminal

	l.mu.Lock()
	if l.active == s {
		l.active = nil
	}
	l.mu.Unlock()

	close(s.events)
	close(s.done)
	l.logDebug("capture session ended", "result", terminal.String())
}

// capture drives one session and returns its terminal event. Interim events
// are delivered along the way.
func (l *Listener) capture(ctx context.Context, s *captureSession) InputEvent {
	stream, err := l.rec.Open(ctx)
	if err != nil {
		return errorEvent(err)
	}
	defer func() { _ = stream.Close() }()

	var (
		timerC    <-chan time.Time
		finals    []string
		finishing bool
	)
	if l.opts.NoInputTimeout > 0 {
		timer := time.NewTimer(l.opts.NoInputTimeout)
		defer timer.Stop()
		timerC = timer.C
	}

	finish := func() error {
		if finishing {
			return nil
		}
		finishing = true
		timerC = nil
		return stream.Finish()
	}

	stopCh := s.stopCh
	results := stream.Results()
	for {
		select {
		case <-s.abortCh:
			return errorEvent(ErrAborted)
		case <-ctx.Done():
			return errorEvent(ErrAborted)
		case <-stopCh:
			stopCh = nil
			if err := finish(); err != nil {
				return errorEvent(fmt.Errorf("finish recognition: %w", err))
			}
		case <-timerC:
			return InputEvent{Kind: InputNoInput}
		case result, ok := <-results:
			if !ok {
				if err := stream.Err(); err != nil {
					return errorEvent(err)
				}
				text := l.assemble(finals)
				if transcript.Blank(text) {
					return InputEvent{Kind: InputNoInput}
				}
				return InputEvent{Kind: InputFinal, Text: text}
			}

			timerC = nil
			if result.Final {
				if !transcript.Blank(result.Text) {
					finals = append(finals, result.Text)
				}
				if !l.opts.Continuous {
					if err := finish(); err != nil {
						return errorEvent(fmt.Errorf("finish recognition: %w", err))
					}
				}
				continue
			}

			live := l.assemble(append(finals[:len(finals):len(finals)], result.Text))
			if live == "" {
				continue
			}
			select {
			case s.events <- InputEvent{Kind: InputInterim, Text: live}:
			case <-s.abortCh:
				return errorEvent(ErrAborted)
			}
		}
	}
}

func (l *Listener) assemble(segments []string) string {
	return transcript.Assemble(segments, transcript.Options{CapitalizeFirst: l.opts.CapitalizeFirst})
}

func errorEvent(err error) InputEvent {
	return InputEvent{Kind: InputError, Err: ClassifyCaptureError(err)}
}

func (l *Listener) logDebug(msg string, attrs ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Debug(msg, attrs...)
}
