// Package conversation owns the ordered turn log and the active coaching mode.
package conversation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Mode is the coaching context that parameterizes responder requests.
type Mode string

const (
	ModePractice     Mode = "practice"
	ModeInterview    Mode = "interview"
	ModePresentation Mode = "presentation"
)

// DefaultMode is the mode a fresh store starts in.
const DefaultMode = ModePractice

// ParseMode normalizes and validates a mode identifier.
func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case ModePractice, ModeInterview, ModePresentation:
		return m, nil
	default:
		return "", fmt.Errorf("unknown conversation mode %q (want practice, interview or presentation)", raw)
	}
}

// Turn is one immutable message in the conversation log.
type Turn struct {
	ID        string
	Role      Role
	Content   string
	CreatedAt time.Time
	Mode      Mode
}

// Canceler is a speech session that must stop when the conversation is cleared.
type Canceler interface {
	Cancel()
}

// Store is the authoritative, append-only turn log.
//
// One writer is expected (the turn controller); readers may call any accessor
// concurrently.
type Store struct {
	mu    sync.RWMutex
	turns []Turn
	mode  Mode

	attached []Canceler

	now   func() time.Time
	newID func() string
}

// NewStore returns an empty store in DefaultMode.
func NewStore() *Store {
	return &Store{
		mode:  DefaultMode,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Attach registers a session that Clear cancels.
func (s *Store) Attach(c Canceler) {
	if c == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = append(s.attached, c)
}

// AppendTurn records a new turn stamped with a fresh id, the current time and mode.
func (s *Store) AppendTurn(role Role, content string) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn := Turn{
		ID:        s.newID(),
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
		Mode:      s.mode,
	}
	s.turns = append(s.turns, turn)
	return turn
}

// SetMode replaces the current mode. Existing turns keep the mode they were created in.
func (s *Store) SetMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// Mode returns the current mode.
func (s *Store) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Clear empties the turn log and cancels every attached speech session.
func (s *Store) Clear() {
	s.mu.Lock()
	s.turns = nil
	attached := append([]Canceler(nil), s.attached...)
	s.mu.Unlock()

	for _, c := range attached {
		c.Cancel()
	}
}

// History returns a copy of the turns in conversation order.
func (s *Store) History() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Len reports the number of recorded turns.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Turn looks up a turn by id.
func (s *Store) Turn(id string) (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, turn := range s.turns {
		if turn.ID == id {
			return turn, true
		}
	}
	return Turn{}, false
}

// LastAssistant returns the most recent assistant turn.
func (s *Store) LastAssistant() (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].Role == RoleAssistant {
			return s.turns[i], true
		}
	}
	return Turn{}, false
}
