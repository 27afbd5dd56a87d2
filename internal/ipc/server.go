package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// Handler answers one forwarded CLI command.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// DefaultRequestTimeout is how long a connected client has to send its request.
const DefaultRequestTimeout = time.Second

// Server answers one request per connection on the owner socket.
type Server struct {
	Handler        Handler
	Logger         *slog.Logger
	RequestTimeout time.Duration
}

// Serve runs a Server with defaults for handler.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	return Server{Handler: handler}.Serve(ctx, listener)
}

// Serve accepts clients until ctx is done or listener is closed. In-flight
// requests finish before it returns.
func (s Server) Serve(ctx context.Context, listener net.Listener) error {
	if s.Handler == nil {
		return errors.New("ipc server has no handler")
	}

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept owner connection: %w", err)
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer conn.Close()
			s.answer(ctx, conn)
		}()
	}
}

func (s Server) answer(ctx context.Context, conn net.Conn) {
	timeout := s.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	var req Request
	if err := readMessage(conn, &req); err != nil {
		s.reply(conn, rejected("bad request: %v", err))
		return
	}
	req.Command = strings.TrimSpace(req.Command)
	if req.Command == "" {
		s.reply(conn, rejected("request has no command"))
		return
	}

	// the handler may legitimately take longer than the read window
	_ = conn.SetReadDeadline(time.Time{})
	s.reply(conn, s.dispatch(ctx, req))
}

// dispatch runs the handler. A panic fails the one request, not the owner.
func (s Server) dispatch(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logError("ipc handler panicked", "command", req.Command, "panic", fmt.Sprint(r))
			resp = rejected("%s failed inside the owner", req.Command)
		}
	}()
	return s.Handler.Handle(ctx, req)
}

func (s Server) reply(conn net.Conn, resp Response) {
	_ = conn.SetWriteDeadline(time.Now().Add(DefaultRequestTimeout))
	if err := writeMessage(conn, resp); err != nil {
		s.logError("ipc reply failed", "error", err.Error())
	}
}

func (s Server) logError(msg string, attrs ...any) {
	if s.Logger == nil {
		return
	}
	s.Logger.Error(msg, attrs...)
}

func rejected(format string, args ...any) Response {
	return Response{OK: false, Error: "parley owner: " + fmt.Sprintf(format, args...)}
}
