package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
)

// ErrNoOwner means nothing is serving the socket: it is missing or stale.
var ErrNoOwner = errors.New("no active parley owner")

// Call forwards req and waits ReplyTimeout(req.Command) for the answer.
func Call(ctx context.Context, path string, req Request) (Response, error) {
	return Send(ctx, path, req, ReplyTimeout(req.Command))
}

// Send performs one request/response exchange. The exchange ends at timeout or
// at ctx's deadline, whichever comes first.
func Send(ctx context.Context, path string, req Request, timeout time.Duration) (Response, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		if noListener(err) {
			return Response{}, fmt.Errorf("%w: %w", ErrNoOwner, err)
		}
		return Response{}, fmt.Errorf("connect owner: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := conn.SetDeadline(deadline); err != nil {
		return Response{}, fmt.Errorf("set deadline: %w", err)
	}
	if err := writeMessage(conn, req); err != nil {
		return Response{}, fmt.Errorf("send %s request: %w", req.Command, err)
	}

	var resp Response
	if err := readMessage(conn, &resp); err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, fmt.Errorf("read %s response: %w", req.Command, err)
	}
	return resp, nil
}

// Probe reports whether a live owner answers status on path.
func Probe(ctx context.Context, path string, timeout time.Duration) (bool, error) {
	_, err := Send(ctx, path, Request{Command: "status"}, timeout)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNoOwner):
		return false, nil
	default:
		return false, fmt.Errorf("probe socket: %w", err)
	}
}

// noListener covers a missing socket file and a file nobody accepts on.
func noListener(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED)
}
