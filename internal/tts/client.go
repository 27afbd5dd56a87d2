// Package tts renders text to PCM through an HTTP speech synthesis service.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rbright/parley/internal/speech"
)

const (
	DefaultLanguage   = "en-US"
	DefaultRate       = 0.9
	DefaultPitch      = 1.0
	DefaultVolume     = 1.0
	DefaultSampleRate = 24000

	// SampleRateHeader overrides the configured rate when the server resamples.
	SampleRateHeader = "X-Sample-Rate"
)

// Config controls synthesis requests.
type Config struct {
	URL        string
	Token      string
	Voice      string
	Language   string
	Rate       float64
	Pitch      float64
	Volume     float64
	SampleRate int
	Timeout    time.Duration
	HTTPClient *http.Client
}

type synthRequest struct {
	Text       string  `json:"text"`
	Voice      string  `json:"voice,omitempty"`
	Language   string  `json:"language"`
	Rate       float64 `json:"rate"`
	Pitch      float64 `json:"pitch"`
	Volume     float64 `json:"volume"`
	SampleRate int     `json:"sample_rate"`
	Encoding   string  `json:"encoding"`
}

// Client implements speech.Synthesizer.
type Client struct {
	cfg  Config
	http *http.Client
}

// New fills zero-valued voice parameters with defaults.
func New(cfg Config) *Client {
	cfg.URL = strings.TrimSpace(cfg.URL)
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Rate == 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.Pitch == 0 {
		cfg.Pitch = DefaultPitch
	}
	if cfg.Volume == 0 {
		cfg.Volume = DefaultVolume
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, http: client}
}

// Available reports ErrSynthesisUnavailable when no endpoint is configured.
func (c *Client) Available() error {
	if c == nil || c.cfg.URL == "" {
		return speech.ErrSynthesisUnavailable
	}
	return nil
}

// Synthesize returns mono PCM16LE audio for text.
func (c *Client) Synthesize(ctx context.Context, text string) (speech.Clip, error) {
	if err := c.Available(); err != nil {
		return speech.Clip{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return speech.Clip{}, fmt.Errorf("synthesize: empty text")
	}

	payload, err := json.Marshal(synthRequest{
		Text:       text,
		Voice:      c.cfg.Voice,
		Language:   c.cfg.Language,
		Rate:       c.cfg.Rate,
		Pitch:      c.cfg.Pitch,
		Volume:     c.cfg.Volume,
		SampleRate: c.cfg.SampleRate,
		Encoding:   "pcm_s16le",
	})
	if err != nil {
		return speech.Clip{}, fmt.Errorf("encode tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return speech.Clip{}, fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(c.cfg.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return speech.Clip{}, fmt.Errorf("tts request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return speech.Clip{}, fmt.Errorf("tts error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return speech.Clip{}, fmt.Errorf("read tts audio: %w", err)
	}
	if len(pcm) == 0 {
		return speech.Clip{}, fmt.Errorf("tts returned no audio")
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}

	rate := c.cfg.SampleRate
	if raw := resp.Header.Get(SampleRateHeader); raw != "" {
		if parsed, perr := strconv.Atoi(raw); perr == nil && parsed > 0 {
			rate = parsed
		}
	}
	return speech.Clip{PCM: pcm, SampleRate: rate}, nil
}
