package config

import "github.com/rbright/parley/internal/conversation"

// Config is the fully materialized runtime configuration used by parley.
type Config struct {
	Responder    ResponderConfig
	Audio        AudioConfig
	STT          STTConfig
	TTS          TTSConfig
	Conversation ConversationConfig
	Indicator    IndicatorConfig
	Vocab        VocabConfig
	Debug        DebugConfig
}

// ResponderConfig selects the coaching backend and how to reach it.
type ResponderConfig struct {
	Transport        string
	URL              string
	GRPCAddr         string
	Token            string
	RequestTimeoutMS int
	DialTimeoutMS    int
}

// AudioConfig controls capture source selection and the playback sink.
type AudioConfig struct {
	Input      string
	Fallback   string
	Output     string
	SampleRate int
}

// STTConfig points at the streaming recognizer.
type STTConfig struct {
	URL              string
	Token            string
	Language         string
	Model            string
	NoInputTimeoutMS int
	Continuous       bool
	CapitalizeFirst  bool
}

// TTSConfig points at the synthesis service and carries voice parameters.
type TTSConfig struct {
	URL        string
	Token      string
	Voice      string
	Language   string
	Rate       float64
	Pitch      float64
	Volume     float64
	SampleRate int
	TimeoutMS  int
}

// ConversationConfig holds the mode a fresh conversation starts in.
type ConversationConfig struct {
	Mode conversation.Mode
}

// IndicatorConfig controls visual indicator and audio cue behavior.
type IndicatorConfig struct {
	Enable            bool
	Backend           string
	DesktopAppName    string
	SoundEnable       bool
	SoundStartFile    string
	SoundStopFile     string
	SoundCompleteFile string
	SoundCancelFile   string
	CuePlayer         CommandConfig
	TextListening     string
	TextThinking      string
	TextSpeaking      string
	TextError         string
	ErrorTimeoutMS    int
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// VocabConfig controls enabled keyword sets and dedupe limits.
type VocabConfig struct {
	GlobalSets []string
	Sets       map[string]VocabSet
	MaxPhrases int
}

// VocabSet is one named phrase group with a shared boost value.
type VocabSet struct {
	Name    string
	Boost   float64
	Phrases []string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump     bool
	EnableResponderDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

// Keyword is one boosted phrase handed to the recognizer.
type Keyword struct {
	Phrase string
	Boost  float64
}
