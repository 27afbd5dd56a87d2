// Package ipc carries one JSON request/response pair per unix-socket connection
// between CLI invocations and the owner process.
package ipc

import (
	"errors"
	"strings"
	"time"
)

// DefaultReplyTimeout bounds quick state queries and commands.
const DefaultReplyTimeout = 2 * time.Second

// slowCommands touch audio devices or the synthesis service before the owner
// can answer.
var slowCommands = map[string]time.Duration{
	"listen":     10 * time.Second,
	"replay":     10 * time.Second,
	"test-voice": 10 * time.Second,
}

// ReplyTimeout is how long a client waits for the owner to answer command.
func ReplyTimeout(command string) time.Duration {
	if d, ok := slowCommands[command]; ok {
		return d
	}
	return DefaultReplyTimeout
}

// Request is one CLI command forwarded to the owner.
type Request struct {
	Command string `json:"command"`
	Text    string `json:"text,omitempty"`
	TurnID  string `json:"turn_id,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

// Controls mirrors which user actions the owner accepts right now.
type Controls struct {
	Capture bool `json:"capture"`
	Stop    bool `json:"stop"`
	Submit  bool `json:"submit"`
	Replay  bool `json:"replay"`
	Clear   bool `json:"clear"`
}

// Turn is one conversation entry as listed by the history command.
type Turn struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

// Feedback is coaching metadata from the last reply.
type Feedback struct {
	Encouragement  string   `json:"encouragement,omitempty"`
	AreasToImprove []string `json:"areas_to_improve,omitempty"`
}

// Response is the owner's answer. Status fields are filled on every reply.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`

	Mode        string    `json:"mode,omitempty"`
	Interim     string    `json:"interim,omitempty"`
	TurnCount   int       `json:"turn_count,omitempty"`
	Controls    *Controls `json:"controls,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
	Feedback    *Feedback `json:"feedback,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Retryable   bool      `json:"retryable,omitempty"`
	Turns       []Turn    `json:"turns,omitempty"`
}

// Err turns a rejected response into an error carrying the owner's text.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	msg := strings.TrimSpace(r.Error)
	if msg == "" {
		msg = "parley owner rejected the request"
	}
	return errors.New(msg)
}
