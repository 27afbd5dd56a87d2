package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var errInterrupted = errors.New("utterance interrupted")

// Clip is synthesized mono PCM16LE audio.
type Clip struct {
	PCM        []byte
	SampleRate int
}

// Synthesizer renders text to audio.
type Synthesizer interface {
	Available() error
	Synthesize(ctx context.Context, text string) (Clip, error)
}

// Player plays a clip to completion. It returns early with ctx.Err() when
// ctx is cancelled.
type Player interface {
	Play(ctx context.Context, clip Clip) error
}

// Speaker plays one utterance at a time. A new Speak interrupts the current one.
type Speaker struct {
	synth  Synthesizer
	player Player
	logger *slog.Logger

	mu     sync.Mutex
	active *utterance
}

type utterance struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func (u *utterance) interrupt() { u.cancel(errInterrupted) }

// NewSpeaker constructs a speaker. Nil synth or player is never available.
func NewSpeaker(synth Synthesizer, player Player, logger *slog.Logger) *Speaker {
	return &Speaker{synth: synth, player: player, logger: logger}
}

// Available reports ErrSynthesisUnavailable when Speak cannot succeed.
func (s *Speaker) Available() error {
	if s == nil || s.synth == nil || s.player == nil {
		return ErrSynthesisUnavailable
	}
	if err := s.synth.Available(); err != nil {
		if errors.Is(err, ErrSynthesisUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrSynthesisUnavailable, err)
	}
	return nil
}

// Speak cancels the current utterance and starts text. The returned channel
// yields an optional Started and exactly one terminal event, then closes.
func (s *Speaker) Speak(ctx context.Context, text string) (<-chan PlaybackEvent, error) {
	if err := s.Available(); err != nil {
		return nil, err
	}

	uctx, cancel := context.WithCancelCause(ctx)
	u := &utterance{cancel: cancel, done: make(chan struct{})}
	events := make(chan PlaybackEvent, 2)

	s.mu.Lock()
	prev := s.active
	s.active = u
	s.mu.Unlock()

	if prev != nil {
		prev.interrupt()
	}

	go s.run(uctx, u, prev, text, events)
	return events, nil
}

// Cancel stops the active utterance. No-op when idle.
func (s *Speaker) Cancel() {
	s.mu.Lock()
	u := s.active
	s.mu.Unlock()
	if u != nil {
		u.interrupt()
	}
}

// Speaking reports whether an utterance is active.
func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

func (s *Speaker) run(ctx context.Context, u, prev *utterance, text string, events chan<- PlaybackEvent) {
	defer close(u.done)
	defer close(events)
	defer u.cancel(nil)

	if prev != nil {
		<-prev.done
	}

	terminal := s.play(ctx, text, events)

	s.mu.Lock()
	if s.active == u {
		s.active = nil
	}
	s.mu.Unlock()

	events <- terminal

	if terminal.Kind == PlaybackErrored && terminal.ErrKind == PlaybackSynthesis && s.logger != nil {
		s.logger.Warn("speech playback failed", "error", terminal.Err)
	}
}

func (s *Speaker) play(ctx context.Context, text string, events chan<- PlaybackEvent) PlaybackEvent {
	if ctx.Err() != nil {
		return interrupted(ctx)
	}

	clip, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx)
		}
		return PlaybackEvent{Kind: PlaybackErrored, ErrKind: PlaybackSynthesis, Err: fmt.Errorf("synthesize: %w", err)}
	}
	if ctx.Err() != nil {
		return interrupted(ctx)
	}

	events <- PlaybackEvent{Kind: PlaybackStarted}

	if err := s.player.Play(ctx, clip); err != nil {
		if ctx.Err() != nil {
			return interrupted(ctx)
		}
		return PlaybackEvent{Kind: PlaybackErrored, ErrKind: PlaybackSynthesis, Err: fmt.Errorf("play: %w", err)}
	}
	return PlaybackEvent{Kind: PlaybackCompleted}
}

func interrupted(ctx context.Context) PlaybackEvent {
	return PlaybackEvent{Kind: PlaybackErrored, ErrKind: PlaybackInterrupted, Err: context.Cause(ctx)}
}
