package session

import (
	"context"
	"fmt"

	"github.com/rbright/parley/internal/conversation"
	"github.com/rbright/parley/internal/ipc"
)

// Handle serves IPC commands for the owner process.
func (c *Controller) Handle(ctx context.Context, req ipc.Request) ipc.Response {
	var (
		err     error
		message string
	)

	switch req.Command {
	case "status":
		message = "status"
	case "listen":
		err = c.Capture(ctx)
		message = "listening"
	case "stop":
		err = c.Stop(ctx)
		message = "stopped"
	case "say":
		err = c.Submit(ctx, req.Text)
		message = "sent"
	case "replay":
		err = c.Replay(ctx, req.TurnID)
		message = "replaying"
	case "test-voice":
		err = c.TestVoice(ctx)
		message = "speaking test phrase"
	case "clear":
		err = c.Clear(ctx)
		message = "conversation cleared"
	case "mode":
		if req.Mode != "" {
			err = c.SetMode(ctx, conversation.Mode(req.Mode))
		}
		message = "mode"
	case "history":
		resp := c.statusResponse()
		resp.OK = true
		resp.Message = "history"
		resp.Turns = toIPCTurns(c.History())
		return resp
	default:
		resp := c.statusResponse()
		resp.Error = fmt.Sprintf("unknown command: %s", req.Command)
		return resp
	}

	resp := c.statusResponse()
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.OK = true
	resp.Message = message
	return resp
}

func (c *Controller) statusResponse() ipc.Response {
	snap := c.Snapshot()
	resp := ipc.Response{
		State:       string(snap.State),
		Mode:        string(snap.Mode),
		Interim:     snap.Interim,
		TurnCount:   snap.Turns,
		Suggestions: snap.Suggestions,
		Controls: &ipc.Controls{
			Capture: snap.Controls.Capture,
			Stop:    snap.Controls.Stop,
			Submit:  snap.Controls.Submit,
			Replay:  snap.Controls.Replay,
			Clear:   snap.Controls.Clear,
		},
	}
	if snap.Feedback != nil {
		resp.Feedback = &ipc.Feedback{
			Encouragement:  snap.Feedback.Encouragement,
			AreasToImprove: append([]string(nil), snap.Feedback.AreasToImprove...),
		}
	}
	if snap.LastError != nil {
		resp.LastError = snap.LastError.Message
		resp.Retryable = snap.LastError.Retryable
	}
	return resp
}

func toIPCTurns(turns []conversation.Turn) []ipc.Turn {
	out := make([]ipc.Turn, 0, len(turns))
	for _, t := range turns {
		out = append(out, ipc.Turn{
			ID:        t.ID,
			Role:      string(t.Role),
			Content:   t.Content,
			Mode:      string(t.Mode),
			CreatedAt: t.CreatedAt,
		})
	}
	return out
}
