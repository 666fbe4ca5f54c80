package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/onecloudio/onemonitord/frame"
	"github.com/onecloudio/onemonitord/log"
)

// DefaultMaxLine is the line-length cap for the stream reader. Spec
// requires a cap of at least 1 MiB; a line beyond it is an OversizedFrame
// error that closes the channel.
const DefaultMaxLine = 1 << 20

// OversizedFrame is returned by Reader.Run when a line exceeds MaxLine.
// It is fatal to the reader's own channel — the caller must treat the
// source as closed — but it is not fatal to the process.
var OversizedFrame = errors.New("stream: line exceeds maximum frame size")

// Reader reads whole lines from a byte stream (stdin, or a driver's
// stdout) and dispatches each as a decoded frame, in arrival order, to a
// shared Dispatcher. One Reader serializes exactly one source: handlers
// for frames from this source observe them in the order they arrived.
type Reader struct {
	src        io.Reader
	dispatcher *Dispatcher
	logger     *log.Logger
	maxLine    int
}

// NewReader constructs a Reader over src. maxLine of 0 selects
// DefaultMaxLine.
func NewReader(src io.Reader, dispatcher *Dispatcher, logger *log.Logger, maxLine int) *Reader {
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	return &Reader{src: src, dispatcher: dispatcher, logger: logger, maxLine: maxLine}
}

// Run reads lines until EOF, an OversizedFrame, or a fatal I/O error.
// Malformed frames are logged and dropped — they do not terminate the
// loop, per the Protocol error kind's log-and-drop policy. Run returns
// nil on clean EOF.
func (r *Reader) Run() error {
	br, ok := r.src.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r.src, 4096)
	}
	for {
		line, err := readLine(br, r.maxLine)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, OversizedFrame) {
				r.logger.Error("oversized frame, closing stream", map[string]any{"error": err.Error()})
				return err
			}
			return fmt.Errorf("stream: read error: %w", err)
		}

		fr, err := frame.Decode(line)
		if err != nil {
			if legacy, ok := frame.DecodeLegacy(line); ok {
				r.dispatcher.Dispatch(legacy)
				continue
			}
			r.dispatcher.recordMalformed()
			r.logger.Warn("malformed frame, dropping", map[string]any{"error": err.Error(), "line": string(line)})
			continue
		}

		r.dispatcher.Dispatch(fr)
	}
}

// readLine reads up to the next '\n' (exclusive), enforcing maxLine on the
// accumulated buffer so a line without a delimiter cannot grow unbounded.
func readLine(br *bufio.Reader, maxLine int) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := br.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > maxLine {
			// Drain the remainder of this line so the next read resumes at
			// the next frame boundary is not attempted — the channel is
			// being closed regardless.
			return nil, OversizedFrame
		}
		if err == nil {
			return trimNewline(buf), nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if len(buf) == 0 {
				return nil, io.EOF
			}
			return trimNewline(buf), nil
		}
		return nil, err
	}
}

func trimNewline(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}
