package app

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rbright/parley/internal/ipc"
	"github.com/stretchr/testify/require"
)

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "parley")
	require.Empty(t, stderr.String())
}

func TestExecuteModesListsProfiles(t *testing.T) {
	var stdout bytes.Buffer
	exitCode := Execute(context.Background(), []string{"modes"}, &stdout, &bytes.Buffer{})
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "practice")
	require.Contains(t, stdout.String(), "Interview Practice")
	require.Contains(t, stdout.String(), "presentation")
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestRunnerStatusIdleWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerStopReturnsNoActiveOwner(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "stop"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "no active parley owner")
}

func TestRunnerModeWithoutOwner(t *testing.T) {
	paths := setupRunnerEnv(t)

	stdout := &bytes.Buffer{}
	runner := Runner{Stdout: stdout, Stderr: &bytes.Buffer{}}
	require.Equal(t, 0, runner.Execute(context.Background(), []string{"--config", paths.configPath, "mode"}))
	require.Equal(t, "practice\n", stdout.String())

	stderr := &bytes.Buffer{}
	runner = Runner{Stdout: &bytes.Buffer{}, Stderr: stderr}
	require.Equal(t, 1, runner.Execute(context.Background(), []string{"--config", paths.configPath, "mode", "interview"}))
	require.Contains(t, stderr.String(), "no active parley owner")

	stderr.Reset()
	require.Equal(t, 2, runner.Execute(context.Background(), []string{"--config", paths.configPath, "mode", "debate"}))
	require.Contains(t, stderr.String(), "debate")
}

func TestRunnerForwardsCommandsToActiveOwner(t *testing.T) {
	paths := setupRunnerEnv(t)
	requests := make(chan ipc.Request, 16)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "parley.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		requests <- req
		switch req.Command {
		case "status":
			return ipc.Response{OK: true, State: "capturing", Mode: "practice"}
		case "mode":
			return ipc.Response{OK: true, Mode: req.Mode}
		case "history":
			return ipc.Response{OK: true, Turns: []ipc.Turn{{ID: "t1", Role: "user", Content: "hi"}}}
		default:
			return ipc.Response{OK: true, Message: req.Command + " handled"}
		}
	})
	defer shutdown()

	cases := [][]string{
		{"status"},
		{"listen"},
		{"stop"},
		{"say", "What", "is", "photosynthesis?"},
		{"replay", "t2"},
		{"test-voice"},
		{"clear"},
		{"mode", "interview"},
		{"history"},
	}
	for _, args := range cases {
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		runner := Runner{Stdout: stdout, Stderr: stderr}

		exitCode := runner.Execute(context.Background(), append([]string{"--config", paths.configPath}, args...))
		require.Equal(t, 0, exitCode, args)
		require.Empty(t, stderr.String(), args)
		require.NotEmpty(t, stdout.String(), args)
	}

	got := map[string]ipc.Request{}
	for range cases {
		req := <-requests
		got[req.Command] = req
	}
	require.Len(t, got, len(cases))
	require.Equal(t, "What is photosynthesis?", got["say"].Text)
	require.Equal(t, "t2", got["replay"].TurnID)
	require.Equal(t, "interview", got["mode"].Mode)
}

func TestRunnerStatusPrintsOwnerDetails(t *testing.T) {
	paths := setupRunnerEnv(t)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "parley.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		require.Equal(t, "status", req.Command)
		return ipc.Response{OK: true, State: "", Mode: "interview", TurnCount: 2, LastError: "Network error detected.", Retryable: true}
	})
	defer shutdown()

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\nmode: interview\nturns: 2\nlast error: Network error detected. (retryable)\n", stdout.String())
}

func TestRunnerHistoryPrintsTimestampsAndModes(t *testing.T) {
	paths := setupRunnerEnv(t)
	at := time.Date(2026, 3, 4, 15, 4, 5, 0, time.UTC)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "parley.sock"), func(_ context.Context, req ipc.Request) ipc.Response {
		require.Equal(t, "history", req.Command)
		return ipc.Response{OK: true, Turns: []ipc.Turn{
			{ID: "t1", Role: "user", Content: "Tell me about yourself", Mode: "interview", CreatedAt: at},
			{ID: "t2", Role: "assistant", Content: "Start with your current role.", Mode: "interview", CreatedAt: at.Add(2 * time.Second)},
		}}
	})
	defer shutdown()

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "history"})
	require.Equal(t, 0, exitCode)
	require.Equal(t,
		"2026-03-04T15:04:05Z t1 [interview] user:      Tell me about yourself\n"+
			"2026-03-04T15:04:07Z t2 [interview] assistant: Start with your current role.\n",
		stdout.String())
}

func TestRunnerForwardSurfacesOwnerErrors(t *testing.T) {
	paths := setupRunnerEnv(t)

	shutdown := startIPCServerForRunnerTest(t, filepath.Join(paths.runtimeDir, "parley.sock"), func(_ context.Context, _ ipc.Request) ipc.Response {
		return ipc.Response{OK: false, State: "speaking", Error: "controller is busy: cannot submit while speaking"}
	})
	defer shutdown()

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "say", "hello"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "controller is busy")
}

func TestTryForwardSuccessAndFailureResponses(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "parley.sock")

	shutdown := startIPCServerForRunnerTest(t, socketPath, func(_ context.Context, req ipc.Request) ipc.Response {
		switch req.Command {
		case "status":
			return ipc.Response{OK: true, State: "speaking"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	resp, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: "status"})
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "speaking", resp.State)

	_, handled, err = tryForward(context.Background(), socketPath, ipc.Request{Command: "bogus"})
	require.True(t, handled)
	require.ErrorContains(t, err, "unsupported")
}

func TestTryForwardDoesNotRemoveSocketPathOnForwardFailure(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "parley.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: "status"})
	require.False(t, handled)
	require.NoError(t, err)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestTryForwardTreatsReadFailuresAsHandledErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "parley.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, handled, err := tryForward(context.Background(), socketPath, ipc.Request{Command: "status"})
	require.True(t, handled)
	require.ErrorContains(t, err, "forward command \"status\":")

	<-done
	require.NoError(t, listener.Close())
}

func TestRunnerDoctorCommandDispatchesAndPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exitCode := runner.Execute(ctx, []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "[OK] config:")
	require.Contains(t, stdout.String(), "[FAIL] audio.device")
}

func TestRunnerDevicesCommandDispatches(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")
}

func TestRunnerListenOwnerPathFailsWhenCaptureCannotStart(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	exitCode := runner.Execute(ctx, []string{"--config", paths.configPath, "listen"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "start listening")

	_, statErr := os.Stat(filepath.Join(paths.runtimeDir, "parley.sock"))
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerRunOwnerServesUntilCancelled(t *testing.T) {
	paths := setupRunnerEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
		done <- runner.Execute(ctx, []string{"--config", paths.configPath, "run"})
	}()

	socketPath := filepath.Join(paths.runtimeDir, "parley.sock")
	var resp ipc.Response
	require.Eventually(t, func() bool {
		var err error
		resp, err = ipc.Send(context.Background(), socketPath, ipc.Request{Command: "status"}, time.Second)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	require.True(t, resp.OK)
	require.Equal(t, "idle", resp.State)
	require.Equal(t, "practice", resp.Mode)

	resp, err := ipc.Send(context.Background(), socketPath, ipc.Request{Command: "mode", Mode: "presentation"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, "presentation", resp.Mode)

	cancel()
	select {
	case code := <-done:
		require.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("owner did not stop")
	}
	_, statErr := os.Stat(socketPath)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

type runnerPaths struct {
	configPath string
	runtimeDir string
}

func setupRunnerEnv(t *testing.T) runnerPaths {
	t.Helper()

	xdgStateHome := t.TempDir()
	runtimeDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", xdgStateHome)
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)
	t.Setenv("PARLEY_LOG_LEVEL", "")
	t.Setenv(ipc.SocketEnv, "")

	configPath := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(configPath, []byte("{\n  \"indicator\": {\"enable\": false, \"sound_enable\": false}\n}\n"), 0o600))

	return runnerPaths{configPath: configPath, runtimeDir: runtimeDir}
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}
