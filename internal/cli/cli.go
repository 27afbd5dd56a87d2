// Package cli parses parley's command line.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRun       Command = "run"
	CommandListen    Command = "listen"
	CommandStop      Command = "stop"
	CommandSay       Command = "say"
	CommandMode      Command = "mode"
	CommandModes     Command = "modes"
	CommandReplay    Command = "replay"
	CommandTestVoice Command = "test-voice"
	CommandClear     Command = "clear"
	CommandStatus    Command = "status"
	CommandHistory   Command = "history"
	CommandDevices   Command = "devices"
	CommandDoctor    Command = "doctor"
	CommandVersion   Command = "version"
	CommandHelp      Command = "help"
)

// arity bounds positional arguments per command; max < 0 means unbounded.
type arity struct{ min, max int }

var validCommands = map[Command]arity{
	CommandRun:       {},
	CommandListen:    {},
	CommandStop:      {},
	CommandSay:       {min: 1, max: -1},
	CommandMode:      {max: 1},
	CommandModes:     {},
	CommandReplay:    {max: 1},
	CommandTestVoice: {},
	CommandClear:     {},
	CommandStatus:    {},
	CommandHistory:   {},
	CommandDevices:   {},
	CommandDoctor:    {},
	CommandVersion:   {},
	CommandHelp:      {},
}

type Parsed struct {
	Command    Command
	Args       []string
	ConfigPath string
	ShowHelp   bool
}

// Text joins the positional arguments, as `say` expects.
func (p Parsed) Text() string {
	return strings.TrimSpace(strings.Join(p.Args, " "))
}

// Arg returns the first positional argument or "".
func (p Parsed) Arg() string {
	if len(p.Args) == 0 {
		return ""
	}
	return strings.TrimSpace(p.Args[0])
}

// Parse reads global flags followed by one command and its arguments.
func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			bounds, ok := validCommands[cmd]
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			rest := args[i+1:]
			if len(rest) < bounds.min {
				return Parsed{}, fmt.Errorf("command %q requires an argument", arg)
			}
			if bounds.max >= 0 && len(rest) > bounds.max {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if len(rest) > 0 {
				parsed.Args = append([]string(nil), rest...)
			}
			return parsed, nil
		}
	}

	return parsed, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [args]

Commands:
  run              Start the conversation owner in the foreground
  listen           Start listening for a spoken turn
  stop             Stop listening or speaking
  say TEXT...      Send typed text as your turn
  mode [NAME]      Show or set the coaching mode
  modes            List coaching modes
  replay [TURN]    Speak the latest (or given) assistant reply again
  test-voice       Speak a short test phrase
  clear            Clear the conversation
  status           Print current state
  history          Print the conversation
  devices          List audio input and output devices
  doctor           Run configuration and environment checks
  version          Print version information
  help             Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/parley/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
