package log

import "io"

// NewNop returns a Logger that discards all output. Used by tests across
// the module that need a Logger but don't assert on log content.
func NewNop() *Logger {
	return newLoggerWithWriter(Context{}, io.Discard)
}
