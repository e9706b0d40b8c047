// Package logging builds the structured logger used by the pipeline and the
// status lines printed by the CLI. Status lines are colorized only when the
// stream is a terminal.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"golang.org/x/term"
)

// ANSI escape codes.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	cyan   = "\033[36m"
	green  = "\033[32m"
	yellow = "\033[33m"
	red    = "\033[31m"
)

// NewLogger returns a logger writing one line per entry to w. Messages
// logged with V(n) are shown when n <= verbosity; errors are always shown.
func NewLogger(w io.Writer, verbosity int) logr.Logger {
	return funcr.New(func(prefix, args string) {
		ts := time.Now().Format("15:04:05")
		if prefix != "" {
			fmt.Fprintf(w, "%s %s: %s\n", ts, prefix, args)
			return
		}
		fmt.Fprintf(w, "%s %s\n", ts, args)
	}, funcr.Options{
		Verbosity: verbosity,
		LogCaller: funcr.None,
	})
}

// Console prints user-facing status lines.
type Console struct {
	Out io.Writer
	Err io.Writer
	// OutColor and ErrColor enable ANSI colors per stream.
	OutColor bool
	ErrColor bool
}

// NewConsole returns a Console on stdout and stderr, colorized per stream
// when the stream is a terminal and TERM is set.
func NewConsole() *Console {
	termSet := os.Getenv("TERM") != ""
	return &Console{
		Out:      os.Stdout,
		Err:      os.Stderr,
		OutColor: termSet && term.IsTerminal(int(os.Stdout.Fd())),
		ErrColor: termSet && term.IsTerminal(int(os.Stderr.Fd())),
	}
}

func colorize(enabled bool, color, msg string) string {
	if enabled {
		return color + bold + msg + reset
	}
	return msg
}

// Info prints a progress line.
func (c *Console) Info(format string, args ...any) {
	fmt.Fprintf(c.Out, "%s %s\n", colorize(c.OutColor, cyan, "[+]"), fmt.Sprintf(format, args...))
}

// Ok prints a success line.
func (c *Console) Ok(format string, args ...any) {
	fmt.Fprintf(c.Out, "%s %s\n", colorize(c.OutColor, green, "[✓]"), fmt.Sprintf(format, args...))
}

// Skip prints a line for work that was not needed.
func (c *Console) Skip(format string, args ...any) {
	fmt.Fprintf(c.Out, "%s %s\n", colorize(c.OutColor, yellow, "[=]"), fmt.Sprintf(format, args...))
}

// Error prints a failure line to the error stream.
func (c *Console) Error(format string, args ...any) {
	fmt.Fprintf(c.Err, "%s %s\n", colorize(c.ErrColor, red, "[!]"), fmt.Sprintf(format, args...))
}
