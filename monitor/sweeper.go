package monitor

import (
	"context"
	"time"

	"github.com/onecloudio/onemonitord/hostpool"
	"github.com/onecloudio/onemonitord/log"
	"github.com/onecloudio/onemonitord/types"
)

// SweeperConfig holds the sweeper's tunables. The supervisor sets
// MonitorIntervalHost and HostLimit from the HOST.* configuration entries;
// TimerPeriod and MonitorExpire keep DefaultSweeperConfig's values.
type SweeperConfig struct {
	// TimerPeriod is how often the sweeper ticks.
	TimerPeriod time.Duration
	// MonitorIntervalHost is the per-host probe cadence: a host is due
	// for a new probe once this long has passed since LastMonitored.
	MonitorIntervalHost time.Duration
	// MonitorExpire is how long a probe may sit "in progress" before the
	// sweeper treats it as stuck and re-dispatches START_MONITOR.
	MonitorExpire time.Duration
	// HostLimit caps how many candidates one tick will act on.
	HostLimit int
}

// DefaultSweeperConfig returns a 30s tick, a 60s per-host probe interval,
// a 300s stuck-probe threshold, and no per-tick host limit.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		TimerPeriod:         30 * time.Second,
		MonitorIntervalHost: 60 * time.Second,
		MonitorExpire:       300 * time.Second,
		HostLimit:           0,
	}
}

// storeCleaner is the narrow slice of store.Store the sweeper calls
// directly, besides what the StateMachine already writes through.
type storeCleaner interface {
	CleanExpired(ctx context.Context, now int64) error
}

// Sweeper is the sole authority deciding which hosts are due for a probe.
// It owns the scan-and-dispatch tick; the StateMachine only ever reacts to
// what the sweeper (or an inbound ENABLE/DISABLE/OFFLINE request) tells it
// to do.
type Sweeper struct {
	pool    *hostpool.Pool
	sm      *StateMachine
	store   storeCleaner
	cfg     SweeperConfig
	logger  *log.Logger
	nowFunc func() int64
}

// NewSweeper constructs a Sweeper.
func NewSweeper(pool *hostpool.Pool, sm *StateMachine, st storeCleaner, cfg SweeperConfig, logger *log.Logger, nowFunc func() int64) *Sweeper {
	return &Sweeper{
		pool:    pool,
		sm:      sm,
		store:   st,
		cfg:     cfg,
		logger:  logger,
		nowFunc: nowFunc,
	}
}

// Config returns the sweeper's tunables, for diagnostics and tests.
func (s *Sweeper) Config() SweeperConfig { return s.cfg }

// Run blocks ticking every cfg.TimerPeriod until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TimerPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one sweep: clean expired monitoring rows, then discover
// and act on every host due for a probe.
func (s *Sweeper) Tick(ctx context.Context) {
	now := s.nowFunc()

	if s.store != nil {
		if err := s.store.CleanExpired(ctx, now); err != nil && s.logger != nil {
			s.logger.Warn("CleanExpired failed", map[string]any{"error": err.Error()})
		}
	}

	candidates := s.pool.Discover(now-int64(s.cfg.MonitorIntervalHost/time.Second), s.cfg.HostLimit)
	for _, oid := range candidates {
		s.handleCandidate(ctx, oid, now)
	}
}

func (s *Sweeper) handleCandidate(ctx context.Context, oid int, now int64) {
	lease, ok := s.pool.GetExclusive(oid)
	if !ok {
		return
	}
	host := lease.Host()
	state := host.State.Effective()
	inProgress := host.MonitorInProgress
	lastMonitored := host.LastMonitored
	lease.Release()

	switch {
	case state == types.StateOffline:
		// No probe is ever dispatched for an offline host, but it still
		// produces one zero-capacity row per tick so downstream
		// consumers see it continuing to report rather than going
		// silent, and RecordOffline's LastMonitored bump keeps it from
		// being re-discovered on every single tick.
		if err := s.sm.RecordOffline(ctx, oid); err != nil && s.logger != nil {
			s.logger.Warn("failed to record OFFLINE row", map[string]any{"oid": oid, "error": err.Error()})
		}
	case state == types.StateDisabled:
		return
	case inProgress && now-lastMonitored >= int64(s.cfg.MonitorExpire/time.Second):
		if s.logger != nil {
			s.logger.Warn("probe appears stuck, re-dispatching", map[string]any{"oid": oid})
		}
		if err := s.sm.StartMonitor(ctx, oid, false); err != nil && s.logger != nil {
			s.logger.Warn("failed to re-dispatch stuck probe", map[string]any{"oid": oid, "error": err.Error()})
		}
	case !inProgress:
		if err := s.sm.StartMonitor(ctx, oid, false); err != nil && s.logger != nil {
			s.logger.Warn("failed to dispatch probe", map[string]any{"oid": oid, "error": err.Error()})
		}
	}
}
