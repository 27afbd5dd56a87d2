package config

import "github.com/rbright/parley/internal/conversation"

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	cuePlayer := "pw-play --media-role Notification"

	return Config{
		Responder: ResponderConfig{
			Transport:        "http",
			URL:              "http://127.0.0.1:8000/api/voice-chat",
			GRPCAddr:         "127.0.0.1:50061",
			RequestTimeoutMS: 60000,
			DialTimeoutMS:    3000,
		},
		Audio: AudioConfig{
			Input:      "default",
			Fallback:   "default",
			Output:     "default",
			SampleRate: 16000,
		},
		STT: STTConfig{
			URL:              "ws://127.0.0.1:2700/v1/listen",
			Language:         "en-US",
			NoInputTimeoutMS: 8000,
			CapitalizeFirst:  true,
		},
		TTS: TTSConfig{
			URL:        "http://127.0.0.1:5002/v1/synthesize",
			Language:   "en-US",
			Rate:       0.9,
			Pitch:      1,
			Volume:     1,
			SampleRate: 24000,
			TimeoutMS:  30000,
		},
		Conversation: ConversationConfig{Mode: conversation.DefaultMode},
		Indicator: IndicatorConfig{
			Enable:         true,
			Backend:        "hypr",
			DesktopAppName: "parley",
			SoundEnable:    true,
			CuePlayer:      mustParseCommand(cuePlayer),
			ErrorTimeoutMS: 4000,
		},
		Vocab: VocabConfig{
			Sets:       map[string]VocabSet{},
			MaxPhrases: 256,
		},
	}
}
