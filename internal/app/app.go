// Package app wires parsed commands to the conversation owner and its IPC surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/cli"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/conversation"
	"github.com/rbright/parley/internal/doctor"
	"github.com/rbright/parley/internal/indicator"
	"github.com/rbright/parley/internal/ipc"
	"github.com/rbright/parley/internal/logging"
	"github.com/rbright/parley/internal/mode"
	"github.com/rbright/parley/internal/pipeline"
	"github.com/rbright/parley/internal/session"
	"github.com/rbright/parley/internal/version"
)

const probeTimeout = 180 * time.Millisecond

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("parley"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("parley"))
		return 0
	}

	switch parsed.Command {
	case cli.CommandVersion:
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	case cli.CommandModes:
		return r.commandModes()
	}

	logRuntime, err := logging.New(logging.Options{Role: string(parsed.Command)})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandHistory:
		return r.commandHistory(ctx)
	case cli.CommandMode:
		return r.commandMode(ctx, cfgLoaded.Config, parsed.Arg())
	case cli.CommandRun:
		return r.runOwner(ctx, cfgLoaded.Config, logger, nil)
	case cli.CommandListen:
		return r.commandListen(ctx, cfgLoaded.Config, logger)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.Request{Command: "stop"})
	case cli.CommandSay:
		return r.forwardOrFail(ctx, ipc.Request{Command: "say", Text: parsed.Text()})
	case cli.CommandReplay:
		return r.forwardOrFail(ctx, ipc.Request{Command: "replay", TurnID: parsed.Arg()})
	case cli.CommandTestVoice:
		return r.forwardOrFail(ctx, ipc.Request{Command: "test-voice"})
	case cli.CommandClear:
		return r.forwardOrFail(ctx, ipc.Request{Command: "clear"})
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandModes() int {
	for _, p := range (mode.Selector{}).Profiles() {
		fmt.Fprintf(r.Stdout, "%-13s %s: %s\n", p.Mode, p.Title, p.Description)
	}
	return 0
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		fmt.Fprintf(
			r.Stdout,
			"%s input  id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark(device.Default),
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}

	sinks, err := audio.ListSinks(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	for _, sink := range sinks {
		fmt.Fprintf(r.Stdout, "%s output id=%s | name=%q\n", defaultMark(sink.Default), sink.ID, sink.Name)
	}
	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: "status"})
	if !handled {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	r.printStatus(resp)
	return 0
}

func (r Runner) printStatus(resp ipc.Response) {
	if resp.State == "" {
		resp.State = "idle"
	}
	fmt.Fprintln(r.Stdout, resp.State)
	if resp.Mode != "" {
		fmt.Fprintf(r.Stdout, "mode: %s\n", resp.Mode)
	}
	if resp.TurnCount > 0 {
		fmt.Fprintf(r.Stdout, "turns: %d\n", resp.TurnCount)
	}
	if resp.Interim != "" {
		fmt.Fprintf(r.Stdout, "hearing: %s\n", resp.Interim)
	}
	if resp.LastError != "" {
		retry := ""
		if resp.Retryable {
			retry = " (retryable)"
		}
		fmt.Fprintf(r.Stdout, "last error: %s%s\n", resp.LastError, retry)
	}
}

func (r Runner) commandHistory(ctx context.Context) int {
	resp, code := r.forward(ctx, ipc.Request{Command: "history"})
	if code != 0 {
		return code
	}
	if len(resp.Turns) == 0 {
		fmt.Fprintln(r.Stdout, "no turns yet")
		return 0
	}
	for _, turn := range resp.Turns {
		fmt.Fprintf(r.Stdout, "%s %s [%s] %-10s %s\n", turnTime(turn.CreatedAt), turn.ID, turn.Mode, turn.Role+":", turn.Content)
	}
	if resp.Feedback != nil && resp.Feedback.Encouragement != "" {
		fmt.Fprintf(r.Stdout, "feedback: %s\n", resp.Feedback.Encouragement)
		for _, area := range resp.Feedback.AreasToImprove {
			fmt.Fprintf(r.Stdout, "  - %s\n", area)
		}
	}
	for _, suggestion := range resp.Suggestions {
		fmt.Fprintf(r.Stdout, "try: %s\n", suggestion)
	}
	return 0
}

func turnTime(at time.Time) string {
	if at.IsZero() {
		return "-"
	}
	return at.UTC().Format(time.RFC3339)
}

// commandMode prints or sets the mode. Without an owner it reports the configured mode.
func (r Runner) commandMode(ctx context.Context, cfg config.Config, name string) int {
	if name != "" {
		if _, err := (mode.Selector{}).Resolve(name); err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 2
		}
	}

	socketPath, err := ipc.RuntimeSocketPath()
	if err == nil {
		resp, handled, ferr := tryForward(ctx, socketPath, ipc.Request{Command: "mode", Mode: name})
		if handled {
			if ferr != nil {
				fmt.Fprintf(r.Stderr, "error: %v\n", ferr)
				return 1
			}
			fmt.Fprintln(r.Stdout, resp.Mode)
			return 0
		}
	}

	if name != "" {
		fmt.Fprintln(r.Stderr, "error: no active parley owner; set conversation.mode in config instead")
		return 1
	}
	fmt.Fprintln(r.Stdout, cfg.Conversation.Mode)
	return 0
}

// commandListen forwards to a running owner, or becomes the owner and starts capture.
func (r Runner) commandListen(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: "listen"})
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Fprintln(r.Stdout, resp.Message)
		return 0
	}

	return r.runOwner(ctx, cfg, logger, func(ctx context.Context, ctrl *session.Controller) error {
		if err := ctrl.Capture(ctx); err != nil {
			return fmt.Errorf("start listening: %w", err)
		}
		fmt.Fprintln(r.Stdout, "listening")
		return nil
	})
}

// runOwner acquires the runtime socket and serves the controller until ctx
// ends or a component fails. initial runs once the loop is up.
func (r Runner) runOwner(
	ctx context.Context,
	cfg config.Config,
	logger *slog.Logger,
	initial func(context.Context, *session.Controller) error,
) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{ProbeTimeout: probeTimeout, Retries: 8})
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintln(r.Stderr, "error: parley owner already running")
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		if err := ipc.Release(listener, socketPath); err != nil {
			logger.Warn("release owner socket failed", "error", err.Error())
		}
	}()

	var dump io.Writer
	if cfg.Debug.EnableResponderDump {
		f, derr := pipeline.OpenResponderDump()
		if derr != nil {
			logger.Warn("open responder dump failed", "error", derr.Error())
		} else {
			defer func() { _ = f.Close() }()
			dump = f
			logger.Debug("responder dump enabled", "path", f.Name())
		}
	}

	client, err := pipeline.NewResponder(ctx, cfg, dump)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: responder: %v\n", err)
		logger.Error("responder setup failed", "error", err.Error())
		return 1
	}
	defer func() { _ = client.Close() }()

	store := conversation.NewStore()
	store.SetMode(cfg.Conversation.Mode)

	ctrl := session.NewController(session.Options{
		Logger:    logger,
		Listener:  pipeline.NewListener(cfg, logger),
		Speaker:   pipeline.NewSpeaker(cfg, logger),
		Responder: client,
		Store:     store,
		Notifier:  indicator.New(cfg.Indicator, logger),
	})

	logger.Info("owner started", "socket", socketPath, "mode", string(store.Mode()), "transport", cfg.Responder.Transport)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error {
		server := ipc.Server{Handler: ctrl, Logger: logger}
		if err := server.Serve(gctx, listener); err != nil {
			return fmt.Errorf("ipc server failed: %w", err)
		}
		return nil
	})
	if initial != nil {
		g.Go(func() error { return initial(gctx, ctrl) })
	}

	err = g.Wait()
	logger.Info("owner stopped", "turns", store.Len())
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("owner failed", "error", err.Error())
		return 1
	}
	return 0
}

func (r Runner) forward(ctx context.Context, req ipc.Request) (ipc.Response, int) {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return ipc.Response{}, 1
	}

	resp, handled, err := tryForward(ctx, socketPath, req)
	if !handled {
		fmt.Fprintln(r.Stderr, "error: no active parley owner (start one with `parley run`)")
		return ipc.Response{}, 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return resp, 1
	}
	return resp, 0
}

func (r Runner) forwardOrFail(ctx context.Context, req ipc.Request) int {
	resp, code := r.forward(ctx, req)
	if code != 0 {
		return code
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func tryForward(ctx context.Context, socketPath string, req ipc.Request) (ipc.Response, bool, error) {
	resp, err := ipc.Call(ctx, socketPath, req)
	switch {
	case err == nil:
		return resp, true, resp.Err()
	case errors.Is(err, ipc.ErrNoOwner):
		return ipc.Response{}, false, nil
	default:
		return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", req.Command, err)
	}
}

func defaultMark(isDefault bool) string {
	if isDefault {
		return "*"
	}
	return " "
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
