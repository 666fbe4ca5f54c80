package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/onecloudio/onemonitord/frame"
	"github.com/onecloudio/onemonitord/log"
	"github.com/onecloudio/onemonitord/stream"
)

// writeFakeProbe writes an executable shell script named name into dir,
// running body under /bin/sh; each test's body decides how the fake probe
// answers the INIT handshake and what it does with later input.
func writeFakeProbe(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake probe scripts require a POSIX shell")
	}
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake probe: %v", err)
	}
	return path
}

func newTestManager(t *testing.T, driverDir string) *Manager {
	t.Helper()
	d := stream.NewDispatcher(func(*frame.Frame) {})
	return NewManager(driverDir, d, log.NewNop())
}

func TestManager_Load_RejectsDuplicateNames(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	specs := []Spec{
		{Name: "kvm", Executable: "probe_kvm"},
		{Name: "kvm", Executable: "probe_kvm_2"},
	}
	if err := m.Load(specs); err == nil {
		t.Fatal("expected error loading duplicate driver names")
	}
}

func TestManager_StartAndHandshake(t *testing.T) {
	dir := t.TempDir()
	writeFakeProbe(t, dir, "probe_ok", `
read init_line
printf 'INIT SUCCESS -1 0 -\n'
while read line; do :; done
`)

	m := newTestManager(t, dir)
	if err := m.Load([]Spec{{Name: "kvm", Executable: "probe_ok"}}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	drv, ok := m.Get("kvm")
	if !ok {
		t.Fatal("driver kvm not found after Start")
	}
	status := drv.Status()
	if !status.Healthy {
		t.Errorf("status.Healthy = false, want true after successful handshake")
	}
	m.Stop()
}

func TestManager_Start_FailsOnMissingExecutable(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir)
	if err := m.Load([]Spec{{Name: "ghost", Executable: "does_not_exist"}}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail for a missing executable")
	}
}

func TestManager_Start_FailsOnBadHandshake(t *testing.T) {
	dir := t.TempDir()
	writeFakeProbe(t, dir, "probe_bad", `
read init_line
printf 'INIT FAILURE -1 0 -\n'
`)
	m := newTestManager(t, dir)
	if err := m.Load([]Spec{{Name: "bad", Executable: "probe_bad"}}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail when the handshake reports FAILURE")
	}
}

func TestManager_WriteTo_DropsNonCriticalWhenQueueFull(t *testing.T) {
	dir := t.TempDir()
	writeFakeProbe(t, dir, "probe_slow", `
read init_line
printf 'INIT SUCCESS -1 0 -\n'
sleep 5
`)
	m := newTestManager(t, dir)
	if err := m.Load([]Spec{{Name: "slow", Executable: "probe_slow"}}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	drv, _ := m.Get("slow")
	for i := 0; i < writeQueueCapacity+10; i++ {
		if err := m.WriteTo("slow", "MONITOR_HOST", frame.StatusSuccess, 1, int64(i), nil, ""); err != nil {
			t.Fatalf("WriteTo failed at i=%d: %v", i, err)
		}
	}
	if len(drv.queue) > writeQueueCapacity {
		t.Errorf("queue length = %d, want <= %d", len(drv.queue), writeQueueCapacity)
	}
}

func TestManager_WriteTo_StartMonitorUsesLegacyText(t *testing.T) {
	dir := t.TempDir()
	outFile := filepath.Join(dir, "out.txt")
	writeFakeProbe(t, dir, "probe_echo", fmt.Sprintf(`
read init_line
printf 'INIT SUCCESS -1 0 -\n'
while read line; do printf '%%s\n' "$line" >> %s; done
`, outFile))

	m := newTestManager(t, dir)
	if err := m.Load([]Spec{{Name: "kvm", Executable: "probe_echo"}}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	if err := m.WriteTo("kvm", frame.TypeStartMonitor, frame.StatusNone, 7, 1000, []byte("1"), "host7"); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var content []byte
	for time.Now().Before(deadline) {
		content, _ = os.ReadFile(outFile)
		if len(content) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	want := "MONITOR 7 host7 not_defined 1\n"
	if string(content) != want {
		t.Errorf("driver received %q, want %q — expected legacy MONITOR text, not a framed line", content, want)
	}
}

func TestManager_List_ReturnsAllLoadedDrivers(t *testing.T) {
	dir := t.TempDir()
	writeFakeProbe(t, dir, "probe_a", `
read init_line
printf 'INIT SUCCESS -1 0 -\n'
while read line; do :; done
`)
	writeFakeProbe(t, dir, "probe_b", `
read init_line
printf 'INIT SUCCESS -1 0 -\n'
while read line; do :; done
`)
	m := newTestManager(t, dir)
	if err := m.Load([]Spec{
		{Name: "a", Executable: "probe_a"},
		{Name: "b", Executable: "probe_b"},
	}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(list))
	}
}
