package supervisor

import (
	"fmt"
	"io"
	"sync"

	"github.com/onecloudio/onemonitord/frame"
)

// stdioWriter serializes outbound frames onto the orchestrator's stdout,
// the stdio mirror of driver.Driver's per-driver write queue. Unlike a
// driver write queue it is unbuffered: the orchestrator channel has no
// equivalent of "drop the oldest non-critical frame under backpressure" —
// every HOST_STATE reply is meaningful to the orchestrator's own state
// machine, so a write failure here is logged by the caller and otherwise
// surfaced, never silently dropped.
type stdioWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// newStdioWriter wraps w (normally os.Stdout) as a monitor.OrchestratorLink.
func newStdioWriter(w io.Writer) *stdioWriter {
	return &stdioWriter{w: w}
}

// Send encodes one frame and writes it, newline-terminated, to stdout.
func (s *stdioWriter) Send(typ frame.Type, status frame.Status, oid int, ts int64, payload []byte) error {
	line, err := frame.Encode(typ, status, oid, ts, payload)
	if err != nil {
		return fmt.Errorf("supervisor: encode %s frame: %w", typ, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("supervisor: write %s frame: %w", typ, err)
	}
	return nil
}
