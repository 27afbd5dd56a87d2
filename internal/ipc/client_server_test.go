package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// serveOn runs srv on a fresh socket until the test ends.
func serveOn(t *testing.T, srv Server) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "parley.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return socketPath
}

// rawExchange writes payload and returns the decoded reply.
func rawExchange(t *testing.T, socketPath string, payload string) Response {
	t.Helper()
	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	if payload != "" {
		_, err = conn.Write([]byte(payload))
		require.NoError(t, err)
	}
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	return resp
}

func TestCallCarriesConversationPayload(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	socketPath := serveOn(t, Server{Handler: HandlerFunc(func(_ context.Context, req Request) Response {
		if req.Command != "say" || req.Text != "What is photosynthesis?" || req.Mode != "interview" {
			return Response{OK: false, Error: "unexpected request"}
		}
		return Response{
			OK:        true,
			State:     "awaiting_response",
			Controls:  &Controls{Clear: true},
			TurnCount: 1,
			Turns:     []Turn{{ID: "t-1", Role: "user", Content: req.Text, Mode: req.Mode, CreatedAt: created}},
		}
	})})

	resp, err := Call(context.Background(), socketPath, Request{Command: "say", Text: "What is photosynthesis?", Mode: "interview"})
	require.NoError(t, err)
	require.NoError(t, resp.Err())
	require.Equal(t, "awaiting_response", resp.State)
	require.Equal(t, &Controls{Clear: true}, resp.Controls)
	require.Len(t, resp.Turns, 1)
	require.True(t, created.Equal(resp.Turns[0].CreatedAt))
}

func TestResponseErrUsesOwnerText(t *testing.T) {
	require.NoError(t, Response{OK: true}.Err())
	require.EqualError(t, Response{Error: "controller is busy"}.Err(), "controller is busy")
	require.EqualError(t, Response{}.Err(), "parley owner rejected the request")
}

func TestReplyTimeoutGivesDeviceCommandsLonger(t *testing.T) {
	require.Equal(t, DefaultReplyTimeout, ReplyTimeout("status"))
	require.Equal(t, DefaultReplyTimeout, ReplyTimeout("say"))
	require.Greater(t, ReplyTimeout("listen"), DefaultReplyTimeout)
	require.Greater(t, ReplyTimeout("test-voice"), DefaultReplyTimeout)
	require.Equal(t, ReplyTimeout("listen"), ReplyTimeout("replay"))
}

func TestSendWithoutOwnerIsErrNoOwner(t *testing.T) {
	dir := t.TempDir()

	_, err := Send(context.Background(), filepath.Join(dir, "missing.sock"), Request{Command: "status"}, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrNoOwner)

	stale := filepath.Join(dir, "stale.sock")
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o600))
	_, err = Send(context.Background(), stale, Request{Command: "status"}, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrNoOwner)
}

func TestSendReportsBrokenReplies(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "parley.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	replies := []string{"not-json\n", ""}
	go func() {
		for _, reply := range replies {
			conn, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}
			_, _ = bufio.NewReader(conn).ReadBytes('\n')
			if reply != "" {
				_, _ = conn.Write([]byte(reply))
			}
			_ = conn.Close()
		}
	}()

	_, err = Send(context.Background(), socketPath, Request{Command: "status"}, 500*time.Millisecond)
	require.ErrorContains(t, err, "read status response: invalid json")
	require.NotErrorIs(t, err, ErrNoOwner)

	_, err = Send(context.Background(), socketPath, Request{Command: "history"}, 500*time.Millisecond)
	require.ErrorContains(t, err, "read history response")
}

func TestSendStopsWhenContextEnds(t *testing.T) {
	release := make(chan struct{})
	socketPath := serveOn(t, Server{Handler: HandlerFunc(func(context.Context, Request) Response {
		<-release
		return Response{OK: true}
	})})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)
	started := time.Now()
	_, err := Send(ctx, socketPath, Request{Command: "listen"}, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(started), 2*time.Second)
}

func TestServerRejectsMalformedRequests(t *testing.T) {
	socketPath := serveOn(t, Server{Handler: HandlerFunc(func(context.Context, Request) Response {
		return Response{OK: true}
	}), RequestTimeout: 100 * time.Millisecond})

	resp := rawExchange(t, socketPath, "not-json\n")
	require.False(t, resp.OK)
	require.True(t, strings.HasPrefix(resp.Error, "parley owner: bad request"), resp.Error)

	resp = rawExchange(t, socketPath, `{"command":"  "}`+"\n")
	require.False(t, resp.OK)
	require.Equal(t, "parley owner: request has no command", resp.Error)

	// a client that connects and says nothing times out
	resp = rawExchange(t, socketPath, "")
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "bad request")
}

func TestServerSurvivesHandlerPanic(t *testing.T) {
	socketPath := serveOn(t, Server{Handler: HandlerFunc(func(_ context.Context, req Request) Response {
		if req.Command == "clear" {
			panic("store exploded")
		}
		return Response{OK: true, State: "idle"}
	})})

	resp, err := Call(context.Background(), socketPath, Request{Command: "clear"})
	require.NoError(t, err)
	require.EqualError(t, resp.Err(), "parley owner: clear failed inside the owner")

	resp, err = Call(context.Background(), socketPath, Request{Command: "status"})
	require.NoError(t, err)
	require.Equal(t, "idle", resp.State)
}

func TestServeRequiresHandler(t *testing.T) {
	listener, err := net.Listen("unix", filepath.Join(t.TempDir(), "parley.sock"))
	require.NoError(t, err)
	defer listener.Close()

	require.Error(t, Server{}.Serve(context.Background(), listener))
}

func TestProbe(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "parley.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, listener, HandlerFunc(func(context.Context, Request) Response {
			return Response{OK: true, State: "idle"}
		}))
	}()

	alive, err := Probe(context.Background(), socketPath, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, alive)

	cancel()
	require.NoError(t, <-done)

	alive, err = Probe(context.Background(), socketPath, 100*time.Millisecond)
	require.NoError(t, err)
	require.False(t, alive)
}
