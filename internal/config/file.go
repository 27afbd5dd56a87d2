package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rbright/parley/internal/conversation"
)

// fileConfig is the on-disk schema shared by the JSONC and YAML decoders.
// Pointer fields distinguish "unset" from zero values.
type fileConfig struct {
	Responder    *fileResponder    `json:"responder" yaml:"responder"`
	Audio        *fileAudio        `json:"audio" yaml:"audio"`
	STT          *fileSTT          `json:"stt" yaml:"stt"`
	TTS          *fileTTS          `json:"tts" yaml:"tts"`
	Conversation *fileConversation `json:"conversation" yaml:"conversation"`
	Indicator    *fileIndicator    `json:"indicator" yaml:"indicator"`
	Vocab        *fileVocab        `json:"vocab" yaml:"vocab"`
	Debug        *fileDebug        `json:"debug" yaml:"debug"`
}

type fileResponder struct {
	Transport        *string `json:"transport" yaml:"transport"`
	URL              *string `json:"url" yaml:"url"`
	GRPC             *string `json:"grpc" yaml:"grpc"`
	Token            *string `json:"token" yaml:"token"`
	RequestTimeoutMS *int    `json:"request_timeout_ms" yaml:"request_timeout_ms"`
	DialTimeoutMS    *int    `json:"dial_timeout_ms" yaml:"dial_timeout_ms"`
}

type fileAudio struct {
	Input      *string `json:"input" yaml:"input"`
	Fallback   *string `json:"fallback" yaml:"fallback"`
	Output     *string `json:"output" yaml:"output"`
	SampleRate *int    `json:"sample_rate" yaml:"sample_rate"`
}

type fileSTT struct {
	URL              *string `json:"url" yaml:"url"`
	Token            *string `json:"token" yaml:"token"`
	Language         *string `json:"language" yaml:"language"`
	Model            *string `json:"model" yaml:"model"`
	NoInputTimeoutMS *int    `json:"no_input_timeout_ms" yaml:"no_input_timeout_ms"`
	Continuous       *bool   `json:"continuous" yaml:"continuous"`
	CapitalizeFirst  *bool   `json:"capitalize_first" yaml:"capitalize_first"`
}

type fileTTS struct {
	URL        *string  `json:"url" yaml:"url"`
	Token      *string  `json:"token" yaml:"token"`
	Voice      *string  `json:"voice" yaml:"voice"`
	Language   *string  `json:"language" yaml:"language"`
	Rate       *float64 `json:"rate" yaml:"rate"`
	Pitch      *float64 `json:"pitch" yaml:"pitch"`
	Volume     *float64 `json:"volume" yaml:"volume"`
	SampleRate *int     `json:"sample_rate" yaml:"sample_rate"`
	TimeoutMS  *int     `json:"timeout_ms" yaml:"timeout_ms"`
}

type fileConversation struct {
	Mode *string `json:"mode" yaml:"mode"`
}

type fileIndicator struct {
	Enable            *bool   `json:"enable" yaml:"enable"`
	Backend           *string `json:"backend" yaml:"backend"`
	DesktopAppName    *string `json:"desktop_app_name" yaml:"desktop_app_name"`
	SoundEnable       *bool   `json:"sound_enable" yaml:"sound_enable"`
	SoundStartFile    *string `json:"sound_start_file" yaml:"sound_start_file"`
	SoundStopFile     *string `json:"sound_stop_file" yaml:"sound_stop_file"`
	SoundCompleteFile *string `json:"sound_complete_file" yaml:"sound_complete_file"`
	SoundCancelFile   *string `json:"sound_cancel_file" yaml:"sound_cancel_file"`
	CuePlayer         *string `json:"cue_player" yaml:"cue_player"`
	TextListening     *string `json:"text_listening" yaml:"text_listening"`
	TextThinking      *string `json:"text_thinking" yaml:"text_thinking"`
	TextSpeaking      *string `json:"text_speaking" yaml:"text_speaking"`
	TextError         *string `json:"text_error" yaml:"text_error"`
	ErrorTimeoutMS    *int    `json:"error_timeout_ms" yaml:"error_timeout_ms"`
}

type fileVocab struct {
	Global     *stringList             `json:"global" yaml:"global"`
	MaxPhrases *int                    `json:"max_phrases" yaml:"max_phrases"`
	Sets       map[string]fileVocabSet `json:"sets" yaml:"sets"`
}

type fileVocabSet struct {
	Boost   *float64 `json:"boost" yaml:"boost"`
	Phrases []string `json:"phrases" yaml:"phrases"`
}

type fileDebug struct {
	AudioDump     *bool `json:"audio_dump" yaml:"audio_dump"`
	ResponderDump *bool `json:"responder_dump" yaml:"responder_dump"`
}

// stringList accepts either a string array or one comma-delimited string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = splitCommaList(single)
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*l = list
		return nil
	case yaml.ScalarNode:
		*l = splitCommaList(node.Value)
		return nil
	default:
		return fmt.Errorf("line %d: expected string array or comma-delimited string", node.Line)
	}
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func (payload fileConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if r := payload.Responder; r != nil {
		setString(&cfg.Responder.Transport, r.Transport)
		setString(&cfg.Responder.URL, r.URL)
		setString(&cfg.Responder.GRPCAddr, r.GRPC)
		setString(&cfg.Responder.Token, r.Token)
		setInt(&cfg.Responder.RequestTimeoutMS, r.RequestTimeoutMS)
		setInt(&cfg.Responder.DialTimeoutMS, r.DialTimeoutMS)
	}

	if a := payload.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
		setString(&cfg.Audio.Output, a.Output)
		setInt(&cfg.Audio.SampleRate, a.SampleRate)
	}

	if s := payload.STT; s != nil {
		setString(&cfg.STT.URL, s.URL)
		setString(&cfg.STT.Token, s.Token)
		setString(&cfg.STT.Language, s.Language)
		setString(&cfg.STT.Model, s.Model)
		setInt(&cfg.STT.NoInputTimeoutMS, s.NoInputTimeoutMS)
		setBool(&cfg.STT.Continuous, s.Continuous)
		setBool(&cfg.STT.CapitalizeFirst, s.CapitalizeFirst)
	}

	if t := payload.TTS; t != nil {
		setString(&cfg.TTS.URL, t.URL)
		setString(&cfg.TTS.Token, t.Token)
		setString(&cfg.TTS.Voice, t.Voice)
		setString(&cfg.TTS.Language, t.Language)
		setFloat(&cfg.TTS.Rate, t.Rate)
		setFloat(&cfg.TTS.Pitch, t.Pitch)
		setFloat(&cfg.TTS.Volume, t.Volume)
		setInt(&cfg.TTS.SampleRate, t.SampleRate)
		setInt(&cfg.TTS.TimeoutMS, t.TimeoutMS)
	}

	if c := payload.Conversation; c != nil && c.Mode != nil {
		m, err := conversation.ParseMode(*c.Mode)
		if err != nil {
			return nil, fmt.Errorf("invalid conversation.mode: %w", err)
		}
		cfg.Conversation.Mode = m
	}

	if ind := payload.Indicator; ind != nil {
		setBool(&cfg.Indicator.Enable, ind.Enable)
		setString(&cfg.Indicator.Backend, ind.Backend)
		setString(&cfg.Indicator.DesktopAppName, ind.DesktopAppName)
		setBool(&cfg.Indicator.SoundEnable, ind.SoundEnable)
		setString(&cfg.Indicator.SoundStartFile, ind.SoundStartFile)
		setString(&cfg.Indicator.SoundStopFile, ind.SoundStopFile)
		setString(&cfg.Indicator.SoundCompleteFile, ind.SoundCompleteFile)
		setString(&cfg.Indicator.SoundCancelFile, ind.SoundCancelFile)
		setString(&cfg.Indicator.TextListening, ind.TextListening)
		setString(&cfg.Indicator.TextThinking, ind.TextThinking)
		setString(&cfg.Indicator.TextSpeaking, ind.TextSpeaking)
		setString(&cfg.Indicator.TextError, ind.TextError)
		setInt(&cfg.Indicator.ErrorTimeoutMS, ind.ErrorTimeoutMS)
		if ind.CuePlayer != nil {
			player, err := ParseCommand(*ind.CuePlayer)
			if err != nil {
				return nil, fmt.Errorf("invalid indicator.cue_player: %w", err)
			}
			cfg.Indicator.CuePlayer = player
		}
	}

	if v := payload.Vocab; v != nil {
		if v.Global != nil {
			cfg.Vocab.GlobalSets = cfg.Vocab.GlobalSets[:0]
			for _, name := range *v.Global {
				name = strings.TrimSpace(name)
				if name == "" {
					continue
				}
				cfg.Vocab.GlobalSets = append(cfg.Vocab.GlobalSets, name)
			}
		}
		setInt(&cfg.Vocab.MaxPhrases, v.MaxPhrases)
		if v.Sets != nil {
			if cfg.Vocab.Sets == nil {
				cfg.Vocab.Sets = make(map[string]VocabSet)
			}
			for name, set := range v.Sets {
				trimmedName := strings.TrimSpace(name)
				if trimmedName == "" {
					return nil, fmt.Errorf("vocab.sets contains an empty set name")
				}
				entry := VocabSet{Name: trimmedName, Phrases: append([]string(nil), set.Phrases...)}
				if set.Boost != nil {
					entry.Boost = *set.Boost
				}
				cfg.Vocab.Sets[trimmedName] = entry
			}
		}
	}

	if d := payload.Debug; d != nil {
		setBool(&cfg.Debug.EnableAudioDump, d.AudioDump)
		setBool(&cfg.Debug.EnableResponderDump, d.ResponderDump)
	}

	return warnings, nil
}
