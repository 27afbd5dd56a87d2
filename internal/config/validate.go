package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/rbright/parley/internal/conversation"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	switch strings.ToLower(strings.TrimSpace(cfg.Responder.Transport)) {
	case "http":
		if err := validateURL("responder.url", cfg.Responder.URL, "http", "https"); err != nil {
			return nil, err
		}
	case "grpc":
		if strings.TrimSpace(cfg.Responder.GRPCAddr) == "" {
			return nil, fmt.Errorf("responder.grpc must not be empty when responder.transport=grpc")
		}
	default:
		return nil, fmt.Errorf("responder.transport must be one of: http, grpc")
	}
	if cfg.Responder.RequestTimeoutMS <= 0 {
		return nil, fmt.Errorf("responder.request_timeout_ms must be > 0")
	}
	if cfg.Responder.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("responder.dial_timeout_ms must be > 0")
	}

	if cfg.Audio.SampleRate <= 0 {
		return nil, fmt.Errorf("audio.sample_rate must be > 0")
	}

	if err := validateURL("stt.url", cfg.STT.URL, "ws", "wss", "http", "https"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.STT.Language) == "" {
		return nil, fmt.Errorf("stt.language must not be empty")
	}
	if cfg.STT.NoInputTimeoutMS == 0 {
		warnings = append(warnings, Warning{Message: "stt.no_input_timeout_ms is 0; the default timeout applies"})
	}

	if strings.TrimSpace(cfg.TTS.URL) == "" {
		warnings = append(warnings, Warning{Message: "tts.url is empty; spoken replies are disabled"})
	} else if err := validateURL("tts.url", cfg.TTS.URL, "http", "https"); err != nil {
		return nil, err
	}
	if cfg.TTS.Rate <= 0 || cfg.TTS.Rate > 4 {
		return nil, fmt.Errorf("tts.rate must be in (0, 4]")
	}
	if cfg.TTS.Pitch <= 0 || cfg.TTS.Pitch > 2 {
		return nil, fmt.Errorf("tts.pitch must be in (0, 2]")
	}
	if cfg.TTS.Volume < 0 || cfg.TTS.Volume > 1 {
		return nil, fmt.Errorf("tts.volume must be in [0, 1]")
	}
	if cfg.TTS.SampleRate <= 0 {
		return nil, fmt.Errorf("tts.sample_rate must be > 0")
	}

	if _, err := conversation.ParseMode(string(cfg.Conversation.Mode)); err != nil {
		return nil, fmt.Errorf("conversation.mode: %w", err)
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Indicator.Backend))
	if backend == "" {
		return nil, fmt.Errorf("indicator.backend must not be empty")
	}
	if backend != "hypr" && backend != "desktop" {
		return nil, fmt.Errorf("indicator.backend must be one of: hypr, desktop")
	}
	if backend == "desktop" && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}
	if cfg.Indicator.CuePlayer.Raw != "" && len(cfg.Indicator.CuePlayer.Argv) == 0 {
		return nil, fmt.Errorf("indicator.cue_player is configured but empty")
	}

	if cfg.Vocab.MaxPhrases <= 0 {
		return nil, fmt.Errorf("vocab.max_phrases must be > 0")
	}
	_, vocabWarnings, err := BuildKeywords(cfg)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, vocabWarnings...)

	return warnings, nil
}

func validateURL(key, raw string, schemes ...string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s must not be empty", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for _, scheme := range schemes {
		if strings.EqualFold(u.Scheme, scheme) {
			if u.Host == "" {
				return fmt.Errorf("%s must include a host", key)
			}
			return nil
		}
	}
	return fmt.Errorf("%s scheme must be one of: %s", key, strings.Join(schemes, ", "))
}

// BuildKeywords merges enabled vocab sets into a deterministic keyword list.
func BuildKeywords(cfg Config) ([]Keyword, []Warning, error) {
	enabledSets := cfg.Vocab.GlobalSets
	if len(enabledSets) == 0 {
		return nil, nil, nil
	}

	type candidate struct {
		boost float64
		from  string
	}

	warnings := make([]Warning, 0)
	selected := make(map[string]candidate)

	for _, name := range enabledSets {
		set, ok := cfg.Vocab.Sets[name]
		if !ok {
			return nil, nil, fmt.Errorf("vocab.global references unknown set %q", name)
		}
		for _, phrase := range set.Phrases {
			phrase = strings.TrimSpace(phrase)
			if phrase == "" {
				continue
			}
			if existing, exists := selected[phrase]; exists {
				if set.Boost > existing.boost {
					warnings = append(warnings, Warning{Message: fmt.Sprintf("phrase %q present in %q and %q; using higher boost %.2f", phrase, existing.from, name, set.Boost)})
					selected[phrase] = candidate{boost: set.Boost, from: name}
				}
				continue
			}
			selected[phrase] = candidate{boost: set.Boost, from: name}
		}
	}

	if len(selected) > cfg.Vocab.MaxPhrases {
		return nil, nil, fmt.Errorf("keyword count %d exceeds vocab.max_phrases=%d", len(selected), cfg.Vocab.MaxPhrases)
	}

	keywords := make([]Keyword, 0, len(selected))
	for phrase, c := range selected {
		keywords = append(keywords, Keyword{Phrase: phrase, Boost: c.boost})
	}
	sort.Slice(keywords, func(i, j int) bool {
		return keywords[i].Phrase < keywords[j].Phrase
	})

	return keywords, warnings, nil
}
