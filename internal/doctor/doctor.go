// Package doctor runs readiness diagnostics for config, desktop tools, audio
// devices and the speech and responder services.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/parley/internal/audio"
	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/hypr"
	"github.com/rbright/parley/internal/responder"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment, device and service checks for a loaded config.
func Run(ctx context.Context, loaded config.Loaded) Report {
	cfg := loaded.Config
	checks := []Check{{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q (%d warnings)", loaded.Path, len(loaded.Warnings)),
	}}

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "runtime socket directory is set", "XDG_RUNTIME_DIR is empty; commands cannot reach the owner"))

	checks = append(checks, checkIndicator(ctx, cfg.Indicator)...)

	checks = append(checks, checkAudioSelection(ctx, cfg))
	checks = append(checks, checkAudioOutput(ctx, cfg))
	checks = append(checks, checkRecognizer(ctx, cfg))
	checks = append(checks, checkSynthesis(ctx, cfg))
	checks = append(checks, checkResponder(ctx, cfg))

	return Report{Checks: checks}
}

func checkIndicator(ctx context.Context, cfg config.IndicatorConfig) []Check {
	var checks []Check
	if cfg.Enable {
		if strings.EqualFold(strings.TrimSpace(cfg.Backend), "desktop") {
			checks = append(checks, checkBinary("busctl", "desktop notifications"))
		} else {
			checks = append(checks, checkEnv("HYPRLAND_INSTANCE_SIGNATURE", func(v string) bool {
				return strings.TrimSpace(v) != ""
			}, "Hyprland session detected", "HYPRLAND_INSTANCE_SIGNATURE is empty"))
			checks = append(checks, checkHyprctl(ctx))
		}
	}
	if cfg.SoundEnable && cfg.CuePlayer.Raw != "" {
		checks = append(checks, checkCommand(cfg.CuePlayer.Argv, "indicator.cue_player"))
	}
	return checks
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

func checkHyprctl(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	line, err := hypr.Version(ctx)
	if err != nil {
		return Check{Name: "hyprctl", Pass: false, Message: err.Error()}
	}
	return Check{Name: "hyprctl", Pass: true, Message: line}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

func checkAudioOutput(ctx context.Context, cfg config.Config) Check {
	if err := audio.CheckSink(ctx, cfg.Audio.Output); err != nil {
		return Check{Name: "audio.output", Pass: false, Message: err.Error()}
	}
	target := strings.TrimSpace(cfg.Audio.Output)
	if target == "" {
		target = "default"
	}
	return Check{Name: "audio.output", Pass: true, Message: fmt.Sprintf("sink %q is available", target)}
}

// checkRecognizer validates the vocabulary plan and that the stt endpoint accepts connections.
func checkRecognizer(ctx context.Context, cfg config.Config) Check {
	keywords, _, err := config.BuildKeywords(cfg)
	if err != nil {
		return Check{Name: "stt", Pass: false, Message: err.Error()}
	}
	if strings.TrimSpace(cfg.STT.URL) == "" {
		return Check{Name: "stt", Pass: false, Message: "stt.url is empty; voice input is unavailable"}
	}
	if err := dialEndpoint(ctx, cfg.STT.URL); err != nil {
		return Check{Name: "stt", Pass: false, Message: err.Error()}
	}
	return Check{Name: "stt", Pass: true, Message: fmt.Sprintf("reachable at %s (%d keywords)", cfg.STT.URL, len(keywords))}
}

func checkSynthesis(ctx context.Context, cfg config.Config) Check {
	if strings.TrimSpace(cfg.TTS.URL) == "" {
		return Check{Name: "tts", Pass: true, Message: "disabled; replies are text only"}
	}
	if err := dialEndpoint(ctx, cfg.TTS.URL); err != nil {
		return Check{Name: "tts", Pass: false, Message: err.Error()}
	}
	return Check{Name: "tts", Pass: true, Message: fmt.Sprintf("reachable at %s", cfg.TTS.URL)}
}

// checkResponder probes the HTTP endpoint or dials the gRPC target.
func checkResponder(ctx context.Context, cfg config.Config) Check {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if strings.EqualFold(cfg.Responder.Transport, responder.TransportGRPC) {
		client, err := responder.DialGRPC(ctx, responder.GRPCConfig{
			Addr:        cfg.Responder.GRPCAddr,
			Token:       cfg.Responder.Token,
			DialTimeout: probeTimeout,
		})
		if err != nil {
			return Check{Name: "responder", Pass: false, Message: err.Error()}
		}
		_ = client.Close()
		return Check{Name: "responder", Pass: true, Message: fmt.Sprintf("grpc ready at %s", cfg.Responder.GRPCAddr)}
	}

	client, err := responder.NewHTTPClient(responder.HTTPConfig{
		URL:     cfg.Responder.URL,
		Token:   cfg.Responder.Token,
		Timeout: probeTimeout,
	})
	if err != nil {
		return Check{Name: "responder", Pass: false, Message: err.Error()}
	}
	if err := client.Probe(ctx); err != nil {
		return Check{Name: "responder", Pass: false, Message: err.Error()}
	}
	return Check{Name: "responder", Pass: true, Message: fmt.Sprintf("reachable at %s", cfg.Responder.URL)}
}

// dialEndpoint opens and closes a TCP connection to the URL's host.
func dialEndpoint(ctx context.Context, raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse %q: %w", raw, err)
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https", "wss":
			host = net.JoinHostPort(u.Hostname(), "443")
		default:
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}

	dialer := net.Dialer{Timeout: probeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return fmt.Errorf("connect %s: %w", host, err)
	}
	return conn.Close()
}
