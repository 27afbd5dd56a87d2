// Package responder talks to the remote conversational responder.
package responder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rbright/parley/internal/conversation"
)

const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"

	// FallbackReply is recorded as the assistant turn when a call fails.
	FallbackReply = "Sorry, I encountered an error. Please try again."
)

var (
	// ErrEmptyResponse means the responder answered without reply text.
	ErrEmptyResponse = errors.New("responder returned an empty response")
	// ErrNotConfigured means no responder endpoint is set.
	ErrNotConfigured = errors.New("responder endpoint not configured")
)

// Message is one prior turn as sent on the wire.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one responder call.
type Request struct {
	Message string    `json:"message"`
	Mode    string    `json:"conversation_mode"`
	History []Message `json:"conversation_history"`
}

// Feedback is optional coaching metadata attached to a reply.
type Feedback struct {
	Mode           string   `json:"mode"`
	Encouragement  string   `json:"encouragement"`
	AreasToImprove []string `json:"areas_to_improve"`
}

// Response is the responder's answer.
type Response struct {
	Response    string    `json:"response"`
	Suggestions []string  `json:"suggestions"`
	Feedback    *Feedback `json:"feedback,omitempty"`
}

// Client sends requests to a responder.
type Client interface {
	Ask(ctx context.Context, req Request) (Response, error)
	Close() error
}

// StatusError is a non-success HTTP reply.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("responder returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("responder returned HTTP %d: %s", e.Code, body)
}

// NewRequest builds the wire request. history is the conversation as it was
// before message was added; it is never encoded as null.
func NewRequest(message, mode string, history []conversation.Turn) Request {
	msgs := make([]Message, 0, len(history))
	for _, turn := range history {
		msgs = append(msgs, Message{Role: string(turn.Role), Content: turn.Content})
	}
	return Request{Message: message, Mode: mode, History: msgs}
}

func (r Response) validate() error {
	if strings.TrimSpace(r.Response) == "" {
		return ErrEmptyResponse
	}
	return nil
}

// Options selects and configures a transport.
type Options struct {
	Transport   string
	URL         string
	Addr        string
	Token       string
	Timeout     time.Duration
	DialTimeout time.Duration
	// DebugSink receives one JSON line per gRPC reply when set.
	DebugSink io.Writer
}

// New constructs the client for opts.Transport.
func New(ctx context.Context, opts Options) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Transport)) {
	case "", TransportHTTP:
		client, err := NewHTTPClient(HTTPConfig{URL: opts.URL, Token: opts.Token, Timeout: opts.Timeout})
		if err != nil {
			return nil, err
		}
		return client, nil
	case TransportGRPC:
		client, err := DialGRPC(ctx, GRPCConfig{
			Addr:        opts.Addr,
			Token:       opts.Token,
			DialTimeout: opts.DialTimeout,
			DebugSink:   opts.DebugSink,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown responder transport %q", opts.Transport)
	}
}
