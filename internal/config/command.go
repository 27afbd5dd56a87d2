package config

import (
	"fmt"
	"os"
	"strings"
	"unicode"
)

// FilePlaceholder marks where WithFile puts the file path.
const FilePlaceholder = "{file}"

// ParseCommand splits a shell-like command line into a CommandConfig. It
// honours quotes and backslash escapes, expands a leading ~ from HOME, and
// expands $VAR and ${VAR} outside single quotes. A blank or commented line
// yields an empty Argv.
func ParseCommand(raw string) (CommandConfig, error) {
	argv, err := splitCommand(raw, os.Getenv)
	if err != nil {
		return CommandConfig{}, err
	}
	return CommandConfig{Raw: raw, Argv: argv}, nil
}

// WithFile returns the argv with every {file} replaced by file, or with file
// appended when no argument names the placeholder.
func (c CommandConfig) WithFile(file string) []string {
	if len(c.Argv) == 0 {
		return nil
	}
	out := make([]string, len(c.Argv), len(c.Argv)+1)
	placed := false
	for i, arg := range c.Argv {
		if strings.Contains(arg, FilePlaceholder) {
			arg = strings.ReplaceAll(arg, FilePlaceholder, file)
			placed = true
		}
		out[i] = arg
	}
	if !placed {
		out = append(out, file)
	}
	return out
}

func mustParseCommand(raw string) CommandConfig {
	cmd, err := ParseCommand(raw)
	if err != nil {
		panic(err)
	}
	return cmd
}

// commandLexer holds the state of one splitCommand pass.
type commandLexer struct {
	input  []rune
	pos    int
	lookup func(string) string

	argv    []string
	word    strings.Builder
	started bool // an empty quoted word still counts
}

func splitCommand(raw string, lookup func(string) string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return nil, nil
	}

	lx := &commandLexer{input: []rune(raw), lookup: lookup}
	for lx.pos < len(lx.input) {
		r := lx.input[lx.pos]
		switch {
		case unicode.IsSpace(r):
			lx.pos++
			lx.endWord()
		case r == '\\':
			if lx.pos+1 >= len(lx.input) {
				return nil, fmt.Errorf("unterminated escape in command %q", raw)
			}
			lx.add(lx.input[lx.pos+1])
			lx.pos += 2
		case r == '\'':
			if err := lx.singleQuoted(); err != nil {
				return nil, fmt.Errorf("%w in command %q", err, raw)
			}
		case r == '"':
			if err := lx.doubleQuoted(); err != nil {
				return nil, fmt.Errorf("%w in command %q", err, raw)
			}
		case r == '~' && !lx.started:
			lx.pos++
			lx.tilde()
		case r == '$':
			lx.pos++
			lx.variable()
		default:
			lx.add(r)
			lx.pos++
		}
	}
	lx.endWord()
	return lx.argv, nil
}

func (lx *commandLexer) add(r rune) {
	lx.word.WriteRune(r)
	lx.started = true
}

func (lx *commandLexer) endWord() {
	if !lx.started {
		return
	}
	lx.argv = append(lx.argv, lx.word.String())
	lx.word.Reset()
	lx.started = false
}

func (lx *commandLexer) singleQuoted() error {
	lx.pos++ // opening quote
	lx.started = true
	for lx.pos < len(lx.input) {
		r := lx.input[lx.pos]
		lx.pos++
		if r == '\'' {
			return nil
		}
		lx.word.WriteRune(r)
	}
	return fmt.Errorf("unterminated quote")
}

func (lx *commandLexer) doubleQuoted() error {
	lx.pos++
	lx.started = true
	for lx.pos < len(lx.input) {
		r := lx.input[lx.pos]
		switch r {
		case '"':
			lx.pos++
			return nil
		case '\\':
			if lx.pos+1 >= len(lx.input) {
				return fmt.Errorf("unterminated escape")
			}
			lx.word.WriteRune(lx.input[lx.pos+1])
			lx.pos += 2
		case '$':
			lx.pos++
			lx.variable()
		default:
			lx.word.WriteRune(r)
			lx.pos++
		}
	}
	return fmt.Errorf("unterminated quote")
}

// tilde expands ~ and ~/ at the start of a word. ~user is kept literally.
func (lx *commandLexer) tilde() {
	if lx.pos < len(lx.input) {
		next := lx.input[lx.pos]
		if next != '/' && !unicode.IsSpace(next) {
			lx.add('~')
			return
		}
	}
	home := lx.lookup("HOME")
	if home == "" {
		lx.add('~')
		return
	}
	lx.word.WriteString(home)
	lx.started = true
}

// variable expands $NAME or ${NAME}; pos sits just past the dollar sign.
func (lx *commandLexer) variable() {
	if lx.pos < len(lx.input) && lx.input[lx.pos] == '{' {
		end := lx.pos + 1
		for end < len(lx.input) && lx.input[end] != '}' {
			end++
		}
		if end >= len(lx.input) {
			lx.add('$')
			return
		}
		name := string(lx.input[lx.pos+1 : end])
		lx.pos = end + 1
		lx.word.WriteString(lx.lookup(name))
		lx.started = true
		return
	}

	start := lx.pos
	for lx.pos < len(lx.input) && isNameRune(lx.input[lx.pos], lx.pos == start) {
		lx.pos++
	}
	if lx.pos == start {
		lx.add('$')
		return
	}
	lx.word.WriteString(lx.lookup(string(lx.input[start:lx.pos])))
	lx.started = true
}

func isNameRune(r rune, first bool) bool {
	if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
		return true
	}
	return !first && r >= '0' && r <= '9'
}
