// Package logging configures the standard logger for the daemon: component
// prefixes, microsecond timestamps and an optional rotating file copy.
package logging

import (
	"io"
	"log"
	"os"
	"strings"
)

const flags = log.LstdFlags | log.Lmicroseconds

// Setup points the standard logger at stdout, mirrored to a rotating file
// when logFile is set, with prefix "[app] ". The returned closer releases
// the file.
func Setup(app, logFile string, maxBytes int64, maxFiles int) (io.Closer, error) {
	out := io.Writer(os.Stdout)
	var closer io.Closer = nopWriteCloser{w: io.Discard}
	if strings.TrimSpace(logFile) != "" {
		rot, err := NewRotatingWriter(logFile, maxBytes, maxFiles)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stdout, rot)
		closer = rot
	}
	log.SetOutput(out)
	log.SetFlags(flags)
	log.SetPrefix("[" + app + "] ")
	return closer, nil
}

// New returns a logger sharing the standard logger's output, prefixed
// "[app/component] ".
func New(app, component string) *log.Logger {
	prefix := "[" + app + "] "
	if component != "" {
		prefix = "[" + app + "/" + component + "] "
	}
	return log.New(log.Writer(), prefix, flags)
}

// Leveled wraps a logger with a debug switch.
type Leveled struct {
	*log.Logger
	debug bool
}

// NewLeveled returns l with Debugf enabled when level is "debug".
func NewLeveled(l *log.Logger, level string) Leveled {
	return Leveled{Logger: l, debug: strings.EqualFold(strings.TrimSpace(level), "debug")}
}

// Debugf logs only at debug level.
func (l Leveled) Debugf(format string, args ...any) {
	if l.debug && l.Logger != nil {
		l.Printf(format, args...)
	}
}

// DebugEnabled reports whether debug output is on.
func (l Leveled) DebugEnabled() bool { return l.debug }
