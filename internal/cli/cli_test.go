package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaultsToHelp(t *testing.T) {
	parsed, err := Parse(nil)
	require.NoError(t, err)
	require.True(t, parsed.ShowHelp)
	require.Equal(t, CommandHelp, parsed.Command)
}

func TestParseCommandWithConfig(t *testing.T) {
	parsed, err := Parse([]string{"--config", "/tmp/parley.jsonc", "doctor"})
	require.NoError(t, err)
	require.Equal(t, CommandDoctor, parsed.Command)
	require.Equal(t, "/tmp/parley.jsonc", parsed.ConfigPath)
	require.False(t, parsed.ShowHelp)
	require.Empty(t, parsed.Args)
}

func TestParseSayJoinsText(t *testing.T) {
	parsed, err := Parse([]string{"say", "What", "is", "-photosynthesis?"})
	require.NoError(t, err)
	require.Equal(t, CommandSay, parsed.Command)
	require.Equal(t, "What is -photosynthesis?", parsed.Text())
}

func TestParseArgMatrix(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  string
		wantCmd  Command
		wantHelp bool
		wantPath string
		wantArg  string
	}{
		{name: "help short flag", args: []string{"-h"}, wantCmd: CommandHelp, wantHelp: true},
		{name: "help long flag", args: []string{"--help"}, wantCmd: CommandHelp, wantHelp: true},
		{name: "version flag", args: []string{"--version"}, wantCmd: CommandVersion},
		{name: "config after command", args: []string{"status", "--config", "/tmp/cfg"}, wantErr: "unexpected arguments after command"},
		{name: "missing config path", args: []string{"--config"}, wantErr: "requires a path"},
		{name: "unknown flag", args: []string{"--bogus"}, wantErr: "unknown flag"},
		{name: "unknown command", args: []string{"toggle"}, wantErr: "unknown command"},
		{name: "extra args after command", args: []string{"doctor", "extra"}, wantErr: "unexpected arguments"},
		{name: "say without text", args: []string{"say"}, wantErr: "requires an argument"},
		{name: "mode query", args: []string{"mode"}, wantCmd: CommandMode},
		{name: "mode set", args: []string{"mode", "interview"}, wantCmd: CommandMode, wantArg: "interview"},
		{name: "mode two names", args: []string{"mode", "a", "b"}, wantErr: "unexpected arguments"},
		{name: "replay turn", args: []string{"replay", "turn-7"}, wantCmd: CommandReplay, wantArg: "turn-7"},
		{name: "test voice", args: []string{"test-voice"}, wantCmd: CommandTestVoice},
		{name: "valid stop with config", args: []string{"--config", "/tmp/cfg", "stop"}, wantCmd: CommandStop, wantPath: "/tmp/cfg"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := Parse(tc.args)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.wantCmd, parsed.Command)
			require.Equal(t, tc.wantHelp, parsed.ShowHelp)
			require.Equal(t, tc.wantPath, parsed.ConfigPath)
			require.Equal(t, tc.wantArg, parsed.Arg())
		})
	}
}

func TestHelpTextIncludesCoreCommands(t *testing.T) {
	text := HelpText("parley")
	for _, cmd := range []string{"run", "listen", "say TEXT", "replay", "test-voice", "clear", "doctor", "--config PATH"} {
		require.Contains(t, text, cmd)
	}
}
