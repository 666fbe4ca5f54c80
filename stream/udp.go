package stream

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/onecloudio/onemonitord/frame"
	"github.com/onecloudio/onemonitord/log"
)

// MaxDatagram is the UDP ingest cap. Datagrams larger than this are
// truncated and dropped with a warning rather than processed partially.
const MaxDatagram = 64 * 1024

// DefaultUDPWorkers is the default UDP worker concurrency.
const DefaultUDPWorkers = 16

// UDPListener receives one-frame-per-datagram UDP traffic and dispatches
// to the same Dispatcher a Reader would use. Workers share the socket and
// may execute concurrently; there is no ordering guarantee across
// datagrams, per spec.
type UDPListener struct {
	conn       *net.UDPConn
	dispatcher *Dispatcher
	logger     *log.Logger
	workers    int

	wg   sync.WaitGroup
	stop chan struct{}
}

// ListenUDP binds addr (host:port form, e.g. "0.0.0.0:4124") and returns a
// listener ready to Start. workers of 0 selects DefaultUDPWorkers.
func ListenUDP(addr string, dispatcher *Dispatcher, logger *log.Logger, workers int) (*UDPListener, error) {
	if workers <= 0 {
		workers = DefaultUDPWorkers
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("stream: resolve udp addr %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("stream: listen udp %q: %w", addr, err)
	}
	return &UDPListener{
		conn:       conn,
		dispatcher: dispatcher,
		logger:     logger,
		workers:    workers,
		stop:       make(chan struct{}),
	}, nil
}

// Start launches the configured number of worker goroutines, each
// performing its own recvfrom against the shared socket.
func (l *UDPListener) Start() {
	for i := 0; i < l.workers; i++ {
		l.wg.Add(1)
		go l.workerLoop()
	}
}

func (l *UDPListener) workerLoop() {
	defer l.wg.Done()
	buf := make([]byte, MaxDatagram)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.stop:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("udp read error", map[string]any{"error": err.Error()})
			continue
		}

		if n == len(buf) {
			l.logger.Warn("udp datagram truncated, dropping", map[string]any{"max_bytes": MaxDatagram})
			continue
		}

		fr, err := frame.Decode(buf[:n])
		if err != nil {
			if legacy, ok := frame.DecodeLegacy(buf[:n]); ok {
				l.dispatcher.Dispatch(legacy)
				continue
			}
			l.dispatcher.recordMalformed()
			l.logger.Warn("malformed udp frame, dropping", map[string]any{"error": err.Error()})
			continue
		}

		l.dispatcher.Dispatch(fr)
	}
}

// Stop closes the socket and waits for all workers to exit.
func (l *UDPListener) Stop() error {
	close(l.stop)
	err := l.conn.Close()
	l.wg.Wait()
	return err
}
