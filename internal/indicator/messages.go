package indicator

import (
	"os"
	"strings"

	"github.com/rbright/parley/internal/config"
)

type locale string

const (
	localeEnglish locale = "en"
)

type messages struct {
	listening string
	thinking  string
	speaking  string
	errorText string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "en") {
		return localeEnglish
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeEnglish:
		fallthrough
	default:
		return messages{
			listening: "Listening…",
			thinking:  "Thinking…",
			speaking:  "Speaking…",
			errorText: "Something went wrong",
		}
	}
}

func (m messages) withOverrides(cfg config.IndicatorConfig) messages {
	override := func(dst *string, raw string) {
		if v := strings.TrimSpace(raw); v != "" {
			*dst = v
		}
	}
	override(&m.listening, cfg.TextListening)
	override(&m.thinking, cfg.TextThinking)
	override(&m.speaking, cfg.TextSpeaking)
	override(&m.errorText, cfg.TextError)
	return m
}
