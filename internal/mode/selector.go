// Package mode maps coaching mode identifiers to their user-facing profile.
package mode

import (
	"fmt"

	"github.com/rbright/parley/internal/conversation"
)

// Profile describes one coaching mode and how it shapes responder requests.
type Profile struct {
	Mode        conversation.Mode
	Title       string
	Tagline     string
	Description string
	// WireName is sent as conversation_mode.
	WireName string
}

var profiles = []Profile{
	{
		Mode:        conversation.ModePractice,
		Title:       "Casual Practice",
		Tagline:     "Improve fluency",
		Description: "Casual conversation practice to improve fluency",
		WireName:    "practice",
	},
	{
		Mode:        conversation.ModeInterview,
		Title:       "Interview Practice",
		Tagline:     "Professional skills",
		Description: "Mock interview practice with professional questions",
		WireName:    "interview",
	},
	{
		Mode:        conversation.ModePresentation,
		Title:       "Presentation",
		Tagline:     "Public speaking",
		Description: "Practice presenting ideas clearly and confidently",
		WireName:    "presentation",
	},
}

// Selector resolves mode identifiers. The zero value is ready to use.
type Selector struct{}

// Profiles returns every known profile in display order.
func (Selector) Profiles() []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles)
	return out
}

// Lookup returns the profile for a mode.
func (Selector) Lookup(m conversation.Mode) (Profile, error) {
	for _, p := range profiles {
		if p.Mode == m {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("no profile for mode %q", m)
}

// Resolve parses a raw identifier and returns its profile.
func (s Selector) Resolve(raw string) (Profile, error) {
	m, err := conversation.ParseMode(raw)
	if err != nil {
		return Profile{}, err
	}
	return s.Lookup(m)
}

// WireName returns the conversation_mode value for m, falling back to practice.
func (s Selector) WireName(m conversation.Mode) string {
	p, err := s.Lookup(m)
	if err != nil {
		return string(conversation.DefaultMode)
	}
	return p.WireName
}
