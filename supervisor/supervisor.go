// Package supervisor wires every component together and owns the
// daemon's lifecycle: build configuration-derived resources, start
// drivers and the UDP listener, install protocol handlers, run the
// sweeper, and block on the orchestrator stdio loop until FINALIZE or
// EOF triggers shutdown.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/onecloudio/onemonitord/config"
	"github.com/onecloudio/onemonitord/driver"
	"github.com/onecloudio/onemonitord/frame"
	"github.com/onecloudio/onemonitord/hostpool"
	"github.com/onecloudio/onemonitord/log"
	"github.com/onecloudio/onemonitord/metrics"
	"github.com/onecloudio/onemonitord/monitor"
	"github.com/onecloudio/onemonitord/notify"
	"github.com/onecloudio/onemonitord/notify/redis"
	"github.com/onecloudio/onemonitord/notify/webhook"
	"github.com/onecloudio/onemonitord/protocol"
	"github.com/onecloudio/onemonitord/rpcclient"
	"github.com/onecloudio/onemonitord/store"
	"github.com/onecloudio/onemonitord/store/sqlstore"
	"github.com/onecloudio/onemonitord/stream"
)

// finalizeGrace is how long Stop waits for driver FINALIZE handshakes to
// complete before the process exits anyway.
const finalizeGrace = 5 * time.Second

// Supervisor owns every long-lived resource the daemon needs and the
// order they start and stop in.
type Supervisor struct {
	cfg     *config.Config
	logger  *log.Logger
	metrics *metrics.Collector

	store    store.Store
	rpc      *rpcclient.Client
	pool     *hostpool.Pool
	drivers  *driver.Manager
	sm       *monitor.StateMachine
	sweeper  *monitor.Sweeper
	udp      *stream.UDPListener
	notifier notify.Adapter

	dispatcher   *stream.Dispatcher
	orchLink     *stdioWriter
	orchHandlers *protocol.OrchestratorHandlers

	stdin io.Reader

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New builds every resource a Supervisor needs from cfg: the SQL-backed
// store, the XML-RPC client, an empty host table, the driver manager
// (loaded but not started), the state machine, and the sweeper. It does
// not start anything — call Run for that.
func New(cfg *config.Config, logger *log.Logger) (*Supervisor, error) {
	st, err := sqlstore.Open(sqlstore.Config{
		Backend:           sqlstore.Backend(cfg.DB.Backend),
		DSN:               dsnFor(cfg.DB),
		MonitorExpiration: cfg.Host.MonitorExpiration,
	})
	if err != nil {
		return nil, fmt.Errorf("supervisor: open store: %w", err)
	}

	rpc, err := rpcclient.NewClient(rpcclient.Config{Endpoint: cfg.OneXMLRPC})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("supervisor: build rpc client: %w", err)
	}

	pool := hostpool.New()

	dispatcher := stream.NewDispatcher(func(fr *frame.Frame) {
		logger.Warn("undefined frame type", map[string]any{"type": fr.Type, "oid": fr.OID})
	})

	drivers := driver.NewManager(driverDir(cfg), dispatcher, logger)
	specs := make([]driver.Spec, 0, len(cfg.IMMad))
	for _, m := range cfg.IMMad {
		specs = append(specs, driver.Spec{Name: m.Name, Executable: m.Executable, Args: m.Arguments, Threads: m.Threads})
	}
	if err := drivers.Load(specs); err != nil {
		st.Close()
		return nil, fmt.Errorf("supervisor: load drivers: %w", err)
	}

	orchLink := newStdioWriter(os.Stdout)

	var notifier notify.Adapter
	switch cfg.Notify.Backend {
	case "redis":
		notifier, err = redis.New(redis.Config{
			URL:     cfg.Notify.URL,
			Channel: cfg.Notify.Channel,
			Timeout: cfg.Notify.Timeout.Duration,
			Retries: retriesOf(cfg.Notify.Retries),
		})
	case "webhook":
		notifier, err = webhook.New(webhook.Config{
			URL:     cfg.Notify.URL,
			Headers: cfg.Notify.Headers,
			Timeout: cfg.Notify.Timeout.Duration,
			Retries: retriesOf(cfg.Notify.Retries),
		})
	}
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("supervisor: build notify adapter: %w", err)
	}

	sm := monitor.NewStateMachine(pool, orchLink, drivers, st, notifier, logger, nowUnix)

	// TimerPeriod and MonitorExpire are fixed internal cadences, not a
	// function of HOST.MONITORING_INTERVAL: neither appears in the
	// configuration table, so an operator tuning the per-host probe
	// interval must not also silently change the sweeper's tick rate or
	// its stuck-probe threshold.
	sweeperCfg := monitor.DefaultSweeperConfig()
	sweeperCfg.MonitorIntervalHost = time.Duration(cfg.Host.MonitoringInterval) * time.Second
	sweeperCfg.HostLimit = cfg.Host.MonitoringThreads
	sweeper := monitor.NewSweeper(pool, sm, st, sweeperCfg, logger, nowUnix)

	s := &Supervisor{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics.NewCollector(cfg.DB.Backend, hostnameOrDefault()),
		store:      st,
		rpc:        rpc,
		pool:       pool,
		drivers:    drivers,
		sm:         sm,
		sweeper:    sweeper,
		notifier:   notifier,
		dispatcher: dispatcher,
		orchLink:   orchLink,
		stdin:      os.Stdin,
		shutdownCh: make(chan struct{}),
	}

	s.orchHandlers = protocol.NewOrchestratorHandlers(pool, sm, drivers, drivers, orchLink, logger, s.triggerShutdown)
	driverHandlers := protocol.NewDriverHandlers(sm, logger)
	s.orchHandlers.Register(dispatcher)
	driverHandlers.Register(dispatcher)

	return s, nil
}

// Run bootstraps the host table, starts drivers, binds the UDP listener,
// starts the sweeper, and blocks on the orchestrator stdio loop until
// FINALIZE, EOF, or ctx cancellation (e.g. SIGINT/SIGTERM) ends it.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.pool.Bootstrap(ctx, s.rpc, s.logger); err != nil {
		return fmt.Errorf("supervisor: bootstrap host pool: %w", err)
	}

	if err := s.drivers.Start(ctx); err != nil {
		return fmt.Errorf("supervisor: start drivers: %w", err)
	}
	for range s.drivers.List() {
		s.metrics.IncDriverStarted()
	}
	s.orchHandlers.BroadcastHostList(nowUnix())

	udpAddr := fmt.Sprintf("%s:%d", s.cfg.UDPListener.Address, s.cfg.UDPListener.Port)
	udp, err := stream.ListenUDP(udpAddr, s.dispatcher, s.logger, s.cfg.UDPListener.Threads)
	if err != nil {
		return fmt.Errorf("supervisor: bind udp listener: %w", err)
	}
	s.udp = udp
	s.udp.Start()

	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go s.sweeper.Run(sweeperCtx)

	readerDone := make(chan error, 1)
	go func() {
		reader := stream.NewReader(s.stdin, s.dispatcher, s.logger, 0)
		readerDone <- reader.Run()
	}()

	select {
	case err := <-readerDone:
		if err != nil {
			s.logger.Warn("orchestrator stdio loop ended with error", map[string]any{"error": err.Error()})
		}
	case <-s.shutdownCh:
	case <-ctx.Done():
	}

	stopSweeper()
	s.shutdown()
	return nil
}

// triggerShutdown is wired to OrchestratorHandlers as its onFinalize
// hook: once FINALIZE has been acknowledged, Run's stdio select unblocks
// on shutdownCh instead of waiting for EOF.
func (s *Supervisor) triggerShutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// shutdown stops every resource in the order spec.md's lifecycle
// prescribes: sweeper already canceled by Run before it calls shutdown, UDP listener next,
// then drivers (with their own internal FINALIZE grace period), then the
// store.
func (s *Supervisor) shutdown() {
	if s.udp != nil {
		if err := s.udp.Stop(); err != nil {
			s.logger.Warn("udp listener stop error", map[string]any{"error": err.Error()})
		}
	}

	done := make(chan struct{})
	go func() {
		s.drivers.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(finalizeGrace + time.Second):
		s.logger.Warn("driver shutdown exceeded grace period", nil)
	}

	if s.notifier != nil {
		if err := s.notifier.Close(); err != nil {
			s.logger.Warn("notify adapter close error", map[string]any{"error": err.Error()})
		}
	}

	if err := s.store.Close(); err != nil {
		s.logger.Warn("store close error", map[string]any{"error": err.Error()})
	}
}

// Metrics returns the daemon's lifetime counters, for a diagnostics
// surface or periodic logging.
func (s *Supervisor) Metrics() metrics.Snapshot { return s.metrics.Snapshot() }

func nowUnix() int64 { return time.Now().Unix() }

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "onemonitord"
	}
	return h
}

// defaultNotifyRetries applies when Notify.Retries is unset; it matches
// both notify backends' own DefaultRetries.
const defaultNotifyRetries = 3

func retriesOf(p *int) int {
	if p == nil {
		return defaultNotifyRetries
	}
	return *p
}

func driverDir(cfg *config.Config) string {
	return cfg.DriverDir
}

func dsnFor(db config.DBConfig) string {
	switch db.Backend {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", db.User, db.Password, db.Server, db.Port, db.Name)
	default:
		if db.Path != "" {
			return db.Path
		}
		return "onemonitord.db"
	}
}
