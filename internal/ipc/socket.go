package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// SocketEnv overrides the owner socket location.
const SocketEnv = "PARLEY_SOCKET"

// ErrAlreadyRunning means a responsive owner already holds the socket.
var ErrAlreadyRunning = errors.New("parley owner already running")

// RuntimeSocketPath returns $PARLEY_SOCKET, or parley.sock under $XDG_RUNTIME_DIR.
func RuntimeSocketPath() (string, error) {
	if override := strings.TrimSpace(os.Getenv(SocketEnv)); override != "" {
		return filepath.Clean(override), nil
	}
	runtimeDir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if runtimeDir == "" {
		return "", fmt.Errorf("XDG_RUNTIME_DIR is not set (or set %s)", SocketEnv)
	}
	return filepath.Join(runtimeDir, "parley.sock"), nil
}

// AcquireOptions tunes owner socket acquisition.
type AcquireOptions struct {
	// ProbeTimeout bounds the status check against an existing socket.
	ProbeTimeout time.Duration
	// Retries is how many more listen attempts follow a stale-socket cleanup.
	Retries int
	// Rescue runs after a stale socket is removed.
	Rescue func(context.Context) error
}

// Acquire makes the caller the owner by listening on path. A live owner gives
// ErrAlreadyRunning. A stale socket is unlinked only when the probe proves no
// one answers on it.
func Acquire(ctx context.Context, path string, opts AcquireOptions) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure socket dir: %w", err)
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("socket path %s is a directory", path)
	}

	for attempt := 0; ; attempt++ {
		listener, err := net.Listen("unix", path)
		if err == nil {
			if cerr := os.Chmod(path, 0o600); cerr != nil {
				_ = listener.Close()
				return nil, fmt.Errorf("restrict socket %s: %w", path, cerr)
			}
			return listener, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, fmt.Errorf("listen on %s: %w", path, err)
		}
		if attempt >= opts.Retries+1 {
			return nil, fmt.Errorf("socket %s still in use after %d attempts", path, attempt+1)
		}

		alive, probeErr := Probe(ctx, path, opts.ProbeTimeout)
		if alive {
			return nil, ErrAlreadyRunning
		}
		if probeErr != nil {
			return nil, fmt.Errorf("probe existing socket %s: %w", path, probeErr)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
		}
		if opts.Rescue != nil {
			_ = opts.Rescue(ctx)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 25 * time.Millisecond):
		}
	}
}

// Release closes the owner listener and unlinks its socket.
func Release(listener net.Listener, path string) error {
	closeErr := listener.Close()
	if errors.Is(closeErr, net.ErrClosed) {
		closeErr = nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Join(closeErr, fmt.Errorf("remove socket %s: %w", path, err))
	}
	return closeErr
}
