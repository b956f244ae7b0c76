package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// EarlyLog reports problems that happen before the configured logger
// exists, such as an unreadable config file.
type EarlyLog struct {
	out io.Writer
}

// NewEarlyLog writes to out, or to stderr when out is nil.
func NewEarlyLog(out io.Writer) *EarlyLog {
	if out == nil {
		out = os.Stderr
	}
	return &EarlyLog{out: out}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.write("ERROR", msg, args...)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.write("WARN", msg, args...)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	l.write("INFO", msg, args...)
}

// Multi-line messages, like a list of invalid config fields, are indented
// under the first line.
func (l *EarlyLog) write(level, msg string, args ...interface{}) {
	text := fmt.Sprintf(msg, args...)
	text = strings.ReplaceAll(strings.TrimRight(text, "\n"), "\n", "\n  ")
	fmt.Fprintf(l.out, "%s: %s\n", level, text)
}
