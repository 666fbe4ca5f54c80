package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/onecloudio/onemonitord/types"
)

type fakeCleaner struct {
	calls []int64
}

func (f *fakeCleaner) CleanExpired(ctx context.Context, now int64) error {
	f.calls = append(f.calls, now)
	return nil
}

func TestSweeper_Tick_DispatchesDueHosts(t *testing.T) {
	host := types.NewHost(1, "host1")
	host.IMMad = "im_kvm"
	pool := newTestPool(t, host)

	lease, _ := pool.GetExclusive(1)
	lease.Host().LastMonitored = 0
	lease.Release()

	drivers := &fakeDrivers{}
	sm := NewStateMachine(pool, &fakeOrch{}, drivers, nil, nil, nil, newFixedClock(1000))
	cleaner := &fakeCleaner{}
	cfg := SweeperConfig{
		TimerPeriod:         time.Second,
		MonitorIntervalHost: 60 * time.Second,
		MonitorExpire:       300 * time.Second,
	}
	sw := NewSweeper(pool, sm, cleaner, cfg, nil, newFixedClock(1000))

	sw.Tick(context.Background())

	drivers.mu.Lock()
	defer drivers.mu.Unlock()
	if len(drivers.dispatched) != 1 {
		t.Fatalf("expected 1 dispatch for a stale host, got %d", len(drivers.dispatched))
	}
	if len(cleaner.calls) != 1 || cleaner.calls[0] != 1000 {
		t.Errorf("expected CleanExpired called once with now=1000, got %v", cleaner.calls)
	}
}

func TestSweeper_Tick_SkipsFreshHost(t *testing.T) {
	host := types.NewHost(1, "host1")
	pool := newTestPool(t, host)

	lease, _ := pool.GetExclusive(1)
	lease.Host().LastMonitored = 990
	lease.Release()

	drivers := &fakeDrivers{}
	sm := NewStateMachine(pool, &fakeOrch{}, drivers, nil, nil, nil, newFixedClock(1000))
	cfg := SweeperConfig{MonitorIntervalHost: 60 * time.Second, TimerPeriod: time.Second}
	sw := NewSweeper(pool, sm, nil, cfg, nil, newFixedClock(1000))

	sw.Tick(context.Background())

	drivers.mu.Lock()
	defer drivers.mu.Unlock()
	if len(drivers.dispatched) != 0 {
		t.Errorf("host monitored 10s ago should not be due yet, got %d dispatches", len(drivers.dispatched))
	}
}

func TestSweeper_Tick_RedispatchesStuckProbe(t *testing.T) {
	host := types.NewHost(1, "host1")
	host.IMMad = "im_kvm"
	pool := newTestPool(t, host)

	lease, _ := pool.GetExclusive(1)
	lease.Host().LastMonitored = 0
	lease.Host().MonitorInProgress = true
	lease.Release()

	drivers := &fakeDrivers{}
	sm := NewStateMachine(pool, &fakeOrch{}, drivers, nil, nil, nil, newFixedClock(1000))
	cfg := SweeperConfig{
		TimerPeriod:         time.Second,
		MonitorIntervalHost: 60 * time.Second,
		MonitorExpire:       300 * time.Second,
	}
	sw := NewSweeper(pool, sm, nil, cfg, nil, newFixedClock(1000))

	sw.Tick(context.Background())

	drivers.mu.Lock()
	defer drivers.mu.Unlock()
	if len(drivers.dispatched) != 1 {
		t.Errorf("expected stuck probe to be re-dispatched, got %d dispatches", len(drivers.dispatched))
	}
}

func TestSweeper_Tick_LeavesFreshInProgressAlone(t *testing.T) {
	host := types.NewHost(1, "host1")
	pool := newTestPool(t, host)

	lease, _ := pool.GetExclusive(1)
	lease.Host().LastMonitored = 900
	lease.Host().MonitorInProgress = true
	lease.Release()

	drivers := &fakeDrivers{}
	sm := NewStateMachine(pool, &fakeOrch{}, drivers, nil, nil, nil, newFixedClock(1000))
	cfg := SweeperConfig{
		TimerPeriod:         time.Second,
		MonitorIntervalHost: 60 * time.Second,
		MonitorExpire:       300 * time.Second,
	}
	sw := NewSweeper(pool, sm, nil, cfg, nil, newFixedClock(1010))

	sw.Tick(context.Background())

	drivers.mu.Lock()
	defer drivers.mu.Unlock()
	if len(drivers.dispatched) != 0 {
		t.Errorf("in-progress probe well within MonitorExpire should not be re-dispatched, got %d", len(drivers.dispatched))
	}
}

func TestSweeper_Tick_OfflineHostWritesRowWithoutDispatch(t *testing.T) {
	host := types.NewHost(1, "host1")
	pool := newTestPool(t, host)
	lease, _ := pool.GetExclusive(1)
	lease.Host().LastMonitored = 0
	lease.Host().State = types.StateOffline
	lease.Release()

	drivers := &fakeDrivers{}
	st := newFakeStore()
	sm := NewStateMachine(pool, &fakeOrch{}, drivers, st, nil, nil, newFixedClock(1000))
	cfg := SweeperConfig{MonitorIntervalHost: 60 * time.Second, TimerPeriod: time.Second}
	sw := NewSweeper(pool, sm, nil, cfg, nil, newFixedClock(1000))

	sw.Tick(context.Background())

	drivers.mu.Lock()
	if len(drivers.dispatched) != 0 {
		t.Error("OFFLINE host should never be dispatched by the sweeper")
	}
	drivers.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	if _, wrote := st.writes[1]; !wrote {
		t.Error("OFFLINE host should still get a zero-capacity row written each tick")
	}
}

func TestSweeper_Tick_RespectsHostLimit(t *testing.T) {
	pool := newTestPool(t, types.NewHost(1, "host1"))
	doc := `<HOST><ID>2</ID><NAME>host2</NAME><STATE>0</STATE><IM_MAD></IM_MAD><VM_MAD></VM_MAD>` +
		`<LAST_MON_TIME>0</LAST_MON_TIME><CLUSTER_ID>-1</CLUSTER_ID><CLUSTER></CLUSTER>` +
		`<HOST_SHARE><FREE_CPU>0</FREE_CPU><MAX_CPU>0</MAX_CPU><USED_CPU>0</USED_CPU>` +
		`<FREE_MEM>0</FREE_MEM><MAX_MEM>0</MAX_MEM><USED_MEM>0</USED_MEM>` +
		`<RESERVED_CPU></RESERVED_CPU><RESERVED_MEM></RESERVED_MEM><DATASTORES></DATASTORES></HOST_SHARE>` +
		`<TEMPLATE></TEMPLATE><VMS></VMS></HOST>`
	if err := pool.InsertFromXML(doc); err != nil {
		t.Fatalf("seed host2: %v", err)
	}

	drivers := &fakeDrivers{}
	sm := NewStateMachine(pool, &fakeOrch{}, drivers, nil, nil, nil, newFixedClock(1000))
	cfg := SweeperConfig{MonitorIntervalHost: 60 * time.Second, TimerPeriod: time.Second, HostLimit: 1}
	sw := NewSweeper(pool, sm, nil, cfg, nil, newFixedClock(1000))

	sw.Tick(context.Background())

	drivers.mu.Lock()
	defer drivers.mu.Unlock()
	if len(drivers.dispatched) != 1 {
		t.Errorf("HostLimit=1 should cap dispatches to 1, got %d", len(drivers.dispatched))
	}
}
