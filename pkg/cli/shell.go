// pkg/cli/shell.go
// Package cli is an interactive shell over pkg/hbtdb, grounded on the
// teacher's pkg/cli.Shell/REPL split: Shell owns line-reading and prompts,
// REPL owns command dispatch. Unlike the teacher's multi-line SQL statement
// reader, commands here are single-line dot-commands (this engine has no
// SQL layer), so ReadStatement collapses to ReadLine with a prompt.
package cli

import (
	"bufio"
	"io"
	"strings"
)

// Shell reads dot-command lines from input and writes prompts/output.
type Shell struct {
	reader *bufio.Reader
	output io.Writer

	prompt  string
	history []string
}

// NewShell creates a shell reading from input and writing prompts to
// output. If input is nil the shell reports immediate EOF, matching the
// teacher's NewShell nil-input degenerate case (useful for headless use).
func NewShell(input io.Reader, output io.Writer) *Shell {
	var reader *bufio.Reader
	if input != nil {
		reader = bufio.NewReader(input)
	}
	return &Shell{
		reader: reader,
		output: output,
		prompt: "hbtdb> ",
	}
}

// SetPrompt changes the prompt string.
func (s *Shell) SetPrompt(prompt string) { s.prompt = prompt }

// ReadLine reads a single line, stripping surrounding whitespace. It
// returns the line and whether EOF was reached.
func (s *Shell) ReadLine() (string, bool) {
	if s.reader == nil {
		return "", true
	}
	if s.output != nil {
		io.WriteString(s.output, s.prompt)
	}
	line, err := s.reader.ReadString('\n')
	trimmed := strings.TrimSpace(line)
	if err != nil {
		return trimmed, true
	}
	if trimmed != "" {
		s.history = append(s.history, trimmed)
	}
	return trimmed, false
}

// History returns the commands entered so far, oldest first.
func (s *Shell) History() []string {
	return append([]string(nil), s.history...)
}
