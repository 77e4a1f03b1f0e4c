package log

import (
	"fmt"
	"io"

	"github.com/shuttle-hq/cargo-nbuild/internal/cargoerr"
)

// Logger is a minimal wrapper around an io.Writer.
type Logger struct {
	io.Writer
}

// New returns a new logger which writes to w.
func New(w io.Writer) *Logger {
	return &Logger{Writer: w}
}

// Logln logs a line.
func (l *Logger) Logln(args ...interface{}) {
	fmt.Fprintln(l, args...)
}

// Logf logs a formatted string.
func (l *Logger) Logf(f string, args ...interface{}) {
	fmt.Fprintf(l, f, args...)
}

// Diagnosef renders a non-fatal Diagnostic returned alongside a
// successful result (spec.md section 9's "diagnostics without ambient
// state" — the core never writes to this logger itself; only the CLI
// front end does, once a Diagnostic reaches it as a value).
func (l *Logger) Diagnosef(d cargoerr.Diagnostic) {
	fmt.Fprintf(l, "warning: %s\n", d.String())
}
