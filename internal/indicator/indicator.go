// Package indicator renders conversation progress as on-screen notifications
// and short audio cues.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/hypr"
)

// persistentTimeoutMS keeps progress notifications up until Hide replaces them.
const persistentTimeoutMS = 300000

// surface is how one conversation state looks on either backend.
type surface struct {
	state       string
	hyprIcon    int
	color       string
	desktopIcon string
	urgency     byte
}

var (
	surfaceListening = surface{"listening", 1, "rgb(89b4fa)", "audio-input-microphone", urgencyNormal}
	surfaceThinking  = surface{"thinking", 1, "rgb(cba6f7)", "content-loading-symbolic", urgencyLow}
	surfaceSpeaking  = surface{"speaking", 1, "rgb(a6e3a1)", "audio-speakers", urgencyLow}
	surfaceError     = surface{"error", 3, "rgb(f38ba8)", "dialog-error", urgencyCritical}
)

// Notifier routes status through Hyprland or desktop DBus based on config backend.
type Notifier struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages

	mu                    sync.Mutex
	desktopNotificationID uint32
	soundMu               sync.Mutex
}

// New creates a notifier from config. Configured texts override locale defaults.
func New(cfg config.IndicatorConfig, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:      cfg,
		logger:   logger,
		messages: indicatorMessagesFromEnv().withOverrides(cfg),
	}
}

// ShowListening signals capture start and emits the start cue.
func (n *Notifier) ShowListening(ctx context.Context) {
	n.playCue(cueStart)
	n.show(ctx, surfaceListening, persistentTimeoutMS, n.messages.listening)
}

// ShowThinking signals that the responder has the user's turn.
func (n *Notifier) ShowThinking(ctx context.Context) {
	n.playCue(cueStop)
	n.show(ctx, surfaceThinking, persistentTimeoutMS, n.messages.thinking)
}

// ShowSpeaking signals that a reply is being played.
func (n *Notifier) ShowSpeaking(ctx context.Context) {
	n.playCue(cueComplete)
	n.show(ctx, surfaceSpeaking, persistentTimeoutMS, n.messages.speaking)
}

// ShowError displays an error message for indicator.error_timeout_ms.
func (n *Notifier) ShowError(ctx context.Context, text string) {
	n.playCue(cueCancel)
	if strings.TrimSpace(text) == "" {
		text = n.messages.errorText
	}
	timeout := n.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = 1200
	}
	n.show(ctx, surfaceError, timeout, text)
}

// Hide dismisses the active indicator surface.
func (n *Notifier) Hide(ctx context.Context) {
	if !n.cfg.Enable {
		return
	}
	n.run(ctx, n.dismiss)
}

func (n *Notifier) show(ctx context.Context, s surface, timeoutMS int, text string) {
	if !n.cfg.Enable {
		return
	}
	n.run(ctx, func(ctx context.Context) error {
		return n.notify(ctx, s, timeoutMS, text)
	})
}

func (n *Notifier) desktop() bool {
	return strings.EqualFold(strings.TrimSpace(n.cfg.Backend), "desktop")
}

// notify dispatches indicator output through the configured backend.
func (n *Notifier) notify(ctx context.Context, s surface, timeoutMS int, text string) error {
	if n.desktop() {
		return n.notifyDesktop(ctx, s, timeoutMS, text)
	}
	return hypr.Notify(ctx, s.hyprIcon, timeoutMS, s.color, text)
}

func (n *Notifier) dismiss(ctx context.Context) error {
	if n.desktop() {
		return n.dismissDesktop(ctx)
	}
	return hypr.DismissNotify(ctx)
}

// notifyDesktop sends a replaceable desktop notification and stores its ID.
func (n *Notifier) notifyDesktop(ctx context.Context, s surface, timeoutMS int, text string) error {
	n.mu.Lock()
	replaceID := n.desktopNotificationID
	n.mu.Unlock()

	appName := strings.TrimSpace(n.cfg.DesktopAppName)
	if appName == "" {
		appName = "parley"
	}

	id, err := sendDesktopNote(ctx, desktopNote{
		appName:   appName,
		replaceID: replaceID,
		icon:      s.desktopIcon,
		summary:   text,
		urgency:   s.urgency,
		category:  "x-parley." + s.state,
		timeoutMS: timeoutMS,
	})
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.desktopNotificationID = id
	n.mu.Unlock()
	return nil
}

func (n *Notifier) dismissDesktop(ctx context.Context) error {
	n.mu.Lock()
	id := n.desktopNotificationID
	n.desktopNotificationID = 0
	n.mu.Unlock()

	if id == 0 {
		return nil
	}
	return closeDesktopNote(ctx, id)
}

// run executes an indicator operation with a bounded timeout.
func (n *Notifier) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		n.log("indicator dispatch failed", err)
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (n *Notifier) playCue(kind cueKind) {
	if !n.cfg.SoundEnable {
		return
	}
	go func() {
		n.soundMu.Lock()
		defer n.soundMu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		defer cancel()
		if err := emitCue(ctx, kind, n.cfg); err != nil {
			n.log("indicator audio cue failed", err)
		}
	}()
}

func (n *Notifier) log(message string, err error) {
	if n.logger == nil || err == nil {
		return
	}
	n.logger.Debug(message, "error", err.Error())
}
