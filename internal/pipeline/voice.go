package pipeline

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/responder"
	"github.com/rbright/parley/internal/speech"
	"github.com/rbright/parley/internal/tts"
)

// NewListener builds the capture listener over a Recognizer. A zero
// stt.no_input_timeout_ms disables the no-input timer.
func NewListener(cfg config.Config, logger *slog.Logger) *speech.Listener {
	timeout := time.Duration(cfg.STT.NoInputTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = -1
	}
	return speech.NewListener(NewRecognizer(cfg, logger), speech.ListenerOptions{
		NoInputTimeout:  timeout,
		Continuous:      cfg.STT.Continuous,
		CapitalizeFirst: cfg.STT.CapitalizeFirst,
		Logger:          logger,
	})
}

// NewSpeaker builds the reply speaker over the tts client and audio.output.
func NewSpeaker(cfg config.Config, logger *slog.Logger) *speech.Speaker {
	return speech.NewSpeaker(NewSynthesizer(cfg), NewOutput(cfg), logger)
}

// NewSynthesizer maps tts config onto the synthesis client.
func NewSynthesizer(cfg config.Config) *tts.Client {
	return tts.New(tts.Config{
		URL:        cfg.TTS.URL,
		Token:      cfg.TTS.Token,
		Voice:      cfg.TTS.Voice,
		Language:   cfg.TTS.Language,
		Rate:       cfg.TTS.Rate,
		Pitch:      cfg.TTS.Pitch,
		Volume:     cfg.TTS.Volume,
		SampleRate: cfg.TTS.SampleRate,
		Timeout:    time.Duration(cfg.TTS.TimeoutMS) * time.Millisecond,
	})
}

// Output plays synthesized clips on the configured Pulse sink.
type Output struct {
	play func(ctx context.Context, pcm []byte, sampleRate int) error
}

// NewOutput constructs an Output for audio.output.
func NewOutput(cfg config.Config) Output {
	player := audio.Player{SinkID: cfg.Audio.Output, MediaName: "parley speech"}
	return Output{play: player.Play}
}

// Play implements speech.Player.
func (o Output) Play(ctx context.Context, clip speech.Clip) error {
	return o.play(ctx, clip.PCM, clip.SampleRate)
}

// NewResponder dials the configured coaching backend. dump may be nil.
func NewResponder(ctx context.Context, cfg config.Config, dump io.Writer) (responder.Client, error) {
	return responder.New(ctx, responder.Options{
		Transport:   cfg.Responder.Transport,
		URL:         cfg.Responder.URL,
		Addr:        cfg.Responder.GRPCAddr,
		Token:       cfg.Responder.Token,
		Timeout:     time.Duration(cfg.Responder.RequestTimeoutMS) * time.Millisecond,
		DialTimeout: time.Duration(cfg.Responder.DialTimeoutMS) * time.Millisecond,
		DebugSink:   dump,
	})
}
