package ipc

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireReplacesStaleSocketAndReleaseUnlinks(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "run", "parley.sock")
	require.NoError(t, os.MkdirAll(filepath.Dir(socketPath), 0o700))
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	rescued := 0
	listener, err := Acquire(context.Background(), socketPath, AcquireOptions{
		ProbeTimeout: 50 * time.Millisecond,
		Retries:      2,
		Rescue: func(context.Context) error {
			rescued++
			return nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, rescued)

	info, err := os.Stat(socketPath)
	require.NoError(t, err)
	require.Equal(t, os.ModeSocket, info.Mode().Type())
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, Release(listener, socketPath))
	_, err = os.Stat(socketPath)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.NoError(t, Release(listener, socketPath))
}

func TestAcquireCreatesSocketDirectory(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "nested", "dir", "parley.sock")

	listener, err := Acquire(context.Background(), socketPath, AcquireOptions{ProbeTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer func() { _ = Release(listener, socketPath) }()

	info, err := os.Stat(filepath.Dir(socketPath))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestAcquireRefusesWhileOwnerAnswers(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "parley.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, listener, HandlerFunc(func(context.Context, Request) Response {
			return Response{OK: true, State: "speaking"}
		}))
	}()

	_, err = Acquire(context.Background(), socketPath, AcquireOptions{ProbeTimeout: 200 * time.Millisecond, Retries: 1})
	require.ErrorIs(t, err, ErrAlreadyRunning)

	cancel()
	require.NoError(t, <-done)
}

func TestAcquireKeepsSocketWhenProbeInconclusive(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "parley.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				time.Sleep(250 * time.Millisecond)
			}(conn)
		}
	}()

	_, err = Acquire(context.Background(), socketPath, AcquireOptions{ProbeTimeout: 30 * time.Millisecond})
	require.ErrorContains(t, err, "probe existing socket")
	require.NotErrorIs(t, err, ErrAlreadyRunning)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
	require.NoError(t, listener.Close())
	<-acceptDone
}

func TestAcquireRejectsDirectoryPath(t *testing.T) {
	dir := t.TempDir()
	_, err := Acquire(context.Background(), dir, AcquireOptions{})
	require.ErrorContains(t, err, "is a directory")
}

func TestRuntimeSocketPath(t *testing.T) {
	t.Setenv(SocketEnv, "")
	t.Setenv("XDG_RUNTIME_DIR", "")
	_, err := RuntimeSocketPath()
	require.ErrorContains(t, err, SocketEnv)

	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	got, err := RuntimeSocketPath()
	require.NoError(t, err)
	require.Equal(t, "/run/user/1000/parley.sock", got)

	t.Setenv(SocketEnv, "/tmp/coach//parley-test.sock")
	got, err = RuntimeSocketPath()
	require.NoError(t, err)
	require.Equal(t, "/tmp/coach/parley-test.sock", got)
}
