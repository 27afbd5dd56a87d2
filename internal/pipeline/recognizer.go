// Package pipeline wires microphone capture, streaming recognition, speech
// synthesis and playback into the speech interfaces.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/speech"
	"github.com/rbright/parley/internal/stt"
)

type captureSource interface {
	Stop() error
	Chunks() <-chan []byte
	BytesCaptured() int64
	RawPCM() []byte
}

type sttSession interface {
	SendAudio(pcm []byte) error
	Finish() error
	Close() error
	Transcripts() <-chan stt.Transcript
	Err() error
}

// Recognizer implements speech.Recognizer with Pulse capture feeding the
// streaming STT service.
type Recognizer struct {
	cfg    config.Config
	logger *slog.Logger

	selectDevice func(context.Context, string, string) (audio.Selection, error)
	dial         func(context.Context, stt.Config) (sttSession, error)
	startCapture func(context.Context, audio.Device, int) (captureSource, error)
}

// NewRecognizer constructs a recognizer from runtime config.
func NewRecognizer(cfg config.Config, logger *slog.Logger) *Recognizer {
	return &Recognizer{
		cfg:          cfg,
		logger:       logger,
		selectDevice: audio.SelectDevice,
		dial: func(ctx context.Context, c stt.Config) (sttSession, error) {
			return stt.Dial(ctx, c)
		},
		startCapture: func(ctx context.Context, d audio.Device, rate int) (captureSource, error) {
			return audio.StartCapture(ctx, d, rate)
		},
	}
}

// Available checks that the recognizer is configured and a capture source resolves.
func (r *Recognizer) Available(ctx context.Context) error {
	if strings.TrimSpace(r.cfg.STT.URL) == "" {
		return fmt.Errorf("%w: stt.url is not configured", speech.ErrDeviceUnavailable)
	}
	_, err := r.selectDevice(ctx, r.cfg.Audio.Input, r.cfg.Audio.Fallback)
	return deviceError(err)
}

// Open resolves the capture source, dials the recognizer, and starts capture.
func (r *Recognizer) Open(ctx context.Context) (speech.Stream, error) {
	selection, err := r.selectDevice(ctx, r.cfg.Audio.Input, r.cfg.Audio.Fallback)
	if err != nil {
		return nil, deviceError(err)
	}
	if selection.Warning != "" {
		r.logWarn(selection.Warning)
	}

	keywords, _, err := config.BuildKeywords(r.cfg)
	if err != nil {
		return nil, fmt.Errorf("build keywords: %w", err)
	}
	sttKeywords := make([]stt.Keyword, 0, len(keywords))
	for _, k := range keywords {
		sttKeywords = append(sttKeywords, stt.Keyword{Phrase: k.Phrase, Boost: k.Boost})
	}

	rate := r.cfg.Audio.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}

	session, err := r.dial(ctx, stt.Config{
		URL:              r.cfg.STT.URL,
		Token:            r.cfg.STT.Token,
		Language:         r.cfg.STT.Language,
		Model:            r.cfg.STT.Model,
		SampleRate:       rate,
		Keywords:         sttKeywords,
		HandshakeTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	capture, err := r.startCapture(ctx, selection.Device, rate)
	if err != nil {
		_ = session.Close()
		return nil, deviceError(err)
	}

	r.logInfo("capture started", "device", describeDevice(selection.Device), "sample_rate", rate, "keywords", len(sttKeywords))

	s := &stream{
		capture:   capture,
		session:   session,
		results:   make(chan speech.Result, 16),
		closed:    make(chan struct{}),
		sendDone:  make(chan struct{}),
		rate:      rate,
		dumpAudio: r.cfg.Debug.EnableAudioDump,
		logger:    r.logger,
	}
	go s.sendLoop()
	go s.forward()
	return s, nil
}

// deviceError marks capture-source failures as ErrDeviceUnavailable while
// keeping permission causes visible.
func deviceError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrPermission) || errors.Is(err, speech.ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", speech.ErrDeviceUnavailable, err)
}

// stream adapts one capture + STT session pair to speech.Stream.
type stream struct {
	capture captureSource
	session sttSession
	results chan speech.Result

	closeOnce sync.Once
	closed    chan struct{}

	sendDone chan struct{}
	sendMu   sync.Mutex
	sendErr  error

	rate      int
	dumpAudio bool
	logger    *slog.Logger
}

func (s *stream) Results() <-chan speech.Result {
	return s.results
}

// Err prefers the recognizer's reason over a failed audio send.
func (s *stream) Err() error {
	if err := s.session.Err(); err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.sendErr
}

// Finish stops capture, waits for buffered audio to be sent, and asks the
// recognizer to flush.
func (s *stream) Finish() error {
	_ = s.capture.Stop()
	<-s.sendDone

	s.sendMu.Lock()
	sendErr := s.sendErr
	s.sendMu.Unlock()
	if sendErr != nil {
		return fmt.Errorf("send audio stream: %w", sendErr)
	}
	return s.session.Finish()
}

func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.capture.Stop()
		<-s.sendDone
		err = s.session.Close()
		if s.dumpAudio {
			writeDebugAudio(s.capture.RawPCM(), s.rate, s.logger)
		}
	})
	return err
}

// sendLoop forwards capture chunks to the recognizer and records the first send failure.
func (s *stream) sendLoop() {
	defer close(s.sendDone)

	for chunk := range s.capture.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		if err := s.session.SendAudio(chunk); err != nil {
			_ = s.capture.Stop()
			s.sendMu.Lock()
			s.sendErr = err
			s.sendMu.Unlock()
			// drain so capture can wind down
			for range s.capture.Chunks() {
			}
			return
		}
	}
}

func (s *stream) forward() {
	defer close(s.results)

	for tr := range s.session.Transcripts() {
		select {
		case s.results <- speech.Result{Text: tr.Text, Final: tr.Final}:
		case <-s.closed:
			return
		}
	}
}

// describeDevice formats device metadata for logs.
func describeDevice(device audio.Device) string {
	description := strings.TrimSpace(device.Description)
	id := strings.TrimSpace(device.ID)
	if description == "" {
		return id
	}
	if id == "" {
		return description
	}
	return fmt.Sprintf("%s (%s)", description, id)
}

func (r *Recognizer) logWarn(message string) {
	if r.logger == nil {
		return
	}
	r.logger.Warn(message)
}

func (r *Recognizer) logInfo(message string, attrs ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Info(message, attrs...)
}
