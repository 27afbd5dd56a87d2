// Package stt streams PCM audio to a websocket speech recognizer.
package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rbright/parley/internal/speech"
)

const (
	DefaultLanguage   = "en-US"
	DefaultSampleRate = 16000
	Encoding          = "pcm_s16le"

	DefaultWriteTimeout = 5 * time.Second
)

// Keyword is one boosted recognition phrase.
type Keyword struct {
	Phrase string
	Boost  float64
}

// Config controls one recognition session.
type Config struct {
	URL              string
	Token            string
	Language         string
	Model            string
	SampleRate       int
	Keywords         []Keyword
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each frame write so a stalled server cannot block
	// the caller. Defaults to DefaultWriteTimeout.
	WriteTimeout time.Duration
}

// Transcript is one hypothesis pushed by the server.
type Transcript struct {
	Text  string
	Final bool
}

// ServerError is an error message sent by the recognizer.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return "stt server error: " + e.Message
	}
	return fmt.Sprintf("stt server error %s: %s", e.Code, e.Message)
}

// Unwrap classifies every server-reported failure as a service failure.
func (e *ServerError) Unwrap() error {
	return speech.ErrServiceUnavailable
}

type serverMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

// Session is one live websocket recognition stream.
type Session struct {
	conn        *websocket.Conn
	transcripts chan Transcript
	stop        chan struct{}
	done        chan struct{}

	writeMu      sync.Mutex
	writeTimeout time.Duration
	closed       atomic.Bool
	finished     atomic.Bool

	errMu sync.Mutex
	err   error
}

// StreamURL builds the session URL with recognition parameters in the query.
func StreamURL(cfg Config) (string, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return "", errors.New("stt url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse stt url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported stt url scheme %q", u.Scheme)
	}

	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = DefaultLanguage
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	q := u.Query()
	q.Set("language", language)
	if model := strings.TrimSpace(cfg.Model); model != "" {
		q.Set("model", model)
	}
	q.Set("encoding", Encoding)
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("interim_results", "true")
	for _, kw := range cfg.Keywords {
		phrase := strings.TrimSpace(kw.Phrase)
		if phrase == "" {
			continue
		}
		q.Add("keywords", phrase+":"+strconv.FormatFloat(kw.Boost, 'f', -1, 64))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens a session. Handshake refusals are classified for the capture taxonomy.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	target, err := StreamURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", speech.ErrDeviceUnavailable, err)
	}

	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	headers := http.Header{}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := dialer.DialContext(ctx, target, headers)
	if err != nil {
		return nil, handshakeError(resp, err)
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}

	s := &Session{
		conn:         conn,
		writeTimeout: writeTimeout,
		transcripts:  make(chan Transcript, 64),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func handshakeError(resp *http.Response, err error) error {
	if resp == nil {
		return fmt.Errorf("stt connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	detail := strings.TrimSpace(string(body))
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%w: stt handshake status %d: %s", speech.ErrServiceUnavailable, resp.StatusCode, detail)
}

// Transcripts closes when the server ends the session or the connection drops.
func (s *Session) Transcripts() <-chan Transcript {
	return s.transcripts
}

// Done closes when the read loop exits.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports why the transcript channel closed; nil on a clean end.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// SendAudio sends one PCM chunk.
func (s *Session) SendAudio(pcm []byte) error {
	if s.closed.Load() || s.finished.Load() {
		return errors.New("stt session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.write(websocket.BinaryMessage, pcm)
}

// Finish flushes pending audio and asks the server to end the session.
// Remaining transcripts still arrive on Transcripts.
func (s *Session) Finish() error {
	if s.closed.Load() || s.finished.Swap(true) {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.write(websocket.TextMessage, []byte("finalize")); err != nil {
		return fmt.Errorf("send finalize: %w", err)
	}
	if err := s.write(websocket.TextMessage, []byte("close")); err != nil {
		return fmt.Errorf("send close: %w", err)
	}
	return nil
}

// write sends one frame under writeMu with a fresh deadline.
func (s *Session) write(kind int, data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(kind, data)
}

// Close tears the connection down immediately.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.stop)
	s.writeMu.Lock()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()
	err := s.conn.Close()
	<-s.done
	return err
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.transcripts)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(readError(err, s.closed.Load()))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "transcript":
			select {
			case s.transcripts <- Transcript{Text: msg.Text, Final: msg.IsFinal}:
			case <-s.stop:
				return
			}
		case "error":
			s.fail(&ServerError{Code: msg.Code, Message: msg.Error})
			return
		case "done":
			return
		}
	}
}

func (s *Session) fail(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func readError(err error, closedLocally bool) error {
	if closedLocally {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseInternalServerErr, websocket.CloseTryAgainLater, websocket.CloseServiceRestart) {
		return fmt.Errorf("%w: %v", speech.ErrServiceUnavailable, err)
	}
	return fmt.Errorf("stt connection lost: %w: %w", io.ErrUnexpectedEOF, err)
}
