package hostpool

import (
	"context"
	"fmt"
	"testing"

	"github.com/onecloudio/onemonitord/log"
	"github.com/onecloudio/onemonitord/types"
)

const sampleHostXML = `<HOST>
<ID>12</ID>
<NAME>node-a</NAME>
<STATE>MONITORED</STATE>
<IM_MAD>kvm</IM_MAD>
<VM_MAD>kvm</VM_MAD>
<LAST_MON_TIME>1000</LAST_MON_TIME>
<CLUSTER_ID>0</CLUSTER_ID>
<CLUSTER>default</CLUSTER>
<HOST_SHARE>
<FREE_CPU>400</FREE_CPU>
<MAX_CPU>800</MAX_CPU>
<USED_CPU>400</USED_CPU>
<FREE_MEM>4096</FREE_MEM>
<MAX_MEM>8192</MAX_MEM>
<USED_MEM>4096</USED_MEM>
<RESERVED_CPU></RESERVED_CPU>
<RESERVED_MEM></RESERVED_MEM>
<DATASTORES>
<DS><ID>0</ID><FREE_MB>1000</FREE_MB></DS>
</DATASTORES>
</HOST_SHARE>
<TEMPLATE>
<PUBLIC_CLOUD>NO</PUBLIC_CLOUD>
</TEMPLATE>
<VMS>
<ID>5</ID>
<ID>9</ID>
</VMS>
</HOST>`

func TestInsertFromXML_ParsesAllFields(t *testing.T) {
	p := New()
	if err := p.InsertFromXML(sampleHostXML); err != nil {
		t.Fatalf("InsertFromXML failed: %v", err)
	}

	lease, ok := p.GetShared(12)
	if !ok {
		t.Fatal("expected host 12 to be present")
	}
	defer lease.Release()
	h := lease.Host()

	if h.Name != "node-a" || h.IMMad != "kvm" || h.ClusterID != 0 || h.ClusterName != "default" {
		t.Errorf("unexpected host fields: %+v", h)
	}
	if h.Capacity.TotalCPU != 800 || h.Capacity.FreeMemory != 4096 {
		t.Errorf("unexpected capacity: %+v", h.Capacity)
	}
	if len(h.Capacity.Datastores) != 1 || h.Capacity.Datastores[0].ID != 0 {
		t.Errorf("unexpected datastores: %+v", h.Capacity.Datastores)
	}
	if _, ok := h.VMIDs[5]; !ok {
		t.Error("expected VM 5 tracked")
	}
	if _, ok := h.VMIDs[9]; !ok {
		t.Error("expected VM 9 tracked")
	}
}

func TestInsertFromXML_LastWriterWins(t *testing.T) {
	p := New()
	if err := p.InsertFromXML(sampleHostXML); err != nil {
		t.Fatalf("InsertFromXML failed: %v", err)
	}
	updated := `<HOST><ID>12</ID><NAME>node-a-renamed</NAME><STATE>ERROR</STATE></HOST>`
	if err := p.InsertFromXML(updated); err != nil {
		t.Fatalf("second InsertFromXML failed: %v", err)
	}

	lease, ok := p.GetShared(12)
	if !ok {
		t.Fatal("expected host 12 still present")
	}
	defer lease.Release()
	if lease.Host().Name != "node-a-renamed" {
		t.Errorf("Name = %q, want node-a-renamed (last writer should win)", lease.Host().Name)
	}
	if lease.Host().State != types.StateError {
		t.Errorf("State = %q, want ERROR", lease.Host().State)
	}
}

func TestErase_Idempotent(t *testing.T) {
	p := New()
	_ = p.InsertFromXML(sampleHostXML)
	p.Erase(12)
	p.Erase(12) // second erase must not panic
	if _, ok := p.GetShared(12); ok {
		t.Error("expected host 12 to be gone after Erase")
	}
	if p.Len() != 0 {
		t.Errorf("Len() = %d, want 0", p.Len())
	}
}

func TestGetExclusive_BlocksConcurrentSharedAccess(t *testing.T) {
	p := New()
	_ = p.InsertFromXML(sampleHostXML)

	write, ok := p.GetExclusive(12)
	if !ok {
		t.Fatal("expected exclusive lease")
	}
	acquired := make(chan struct{})
	go func() {
		read, ok := p.GetShared(12)
		if ok {
			read.Release()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("shared lease acquired while exclusive lease held")
	default:
	}
	write.Release()
	<-acquired
}

func TestDiscover_OrdersByStalenessAndRotatesOnUpdate(t *testing.T) {
	p := New()
	for i, lm := range []int64{300, 100, 200} {
		oid := i + 1
		_ = p.InsertFromXML(fmt.Sprintf(`<HOST><ID>%d</ID><NAME>h%d</NAME><LAST_MON_TIME>%d</LAST_MON_TIME></HOST>`, oid, oid, lm))
	}

	got := p.Discover(1000, 10)
	want := []int{2, 3, 1} // ascending last_monitored: 100, 200, 300
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	// Advancing host 2's last_monitored should move it to the back.
	lease, _ := p.GetExclusive(2)
	lease.Host().LastMonitored = 5000
	lease.Release()

	got2 := p.Discover(1000, 10)
	if len(got2) != 2 || got2[0] != 3 || got2[1] != 1 {
		t.Errorf("after advancing host 2, got %v, want [3 1]", got2)
	}
}

func TestDiscover_RespectsLimit(t *testing.T) {
	p := New()
	for oid := 1; oid <= 5; oid++ {
		_ = p.InsertFromXML(fmt.Sprintf(`<HOST><ID>%d</ID><NAME>h%d</NAME></HOST>`, oid, oid))
	}
	got := p.Discover(0, 2)
	if len(got) != 2 {
		t.Errorf("len(got) = %d, want 2", len(got))
	}
}

func TestSnapshot_ReturnsIndependentClones(t *testing.T) {
	p := New()
	_ = p.InsertFromXML(sampleHostXML)

	snap := p.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("len(snap) = %d, want 1", len(snap))
	}
	snap[0].Name = "mutated-clone"

	lease, _ := p.GetShared(12)
	defer lease.Release()
	if lease.Host().Name == "mutated-clone" {
		t.Error("mutating a snapshot clone affected the pool's own record")
	}
}

type fakeOrchestratorClient struct {
	xmlDoc   string
	failures int
	calls    int
}

func (f *fakeOrchestratorClient) HostPoolInfo(ctx context.Context) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", fmt.Errorf("fake transient failure")
	}
	return f.xmlDoc, nil
}

func TestBootstrap_SucceedsAfterTransientFailures(t *testing.T) {
	client := &fakeOrchestratorClient{
		xmlDoc:   `<HOST_POOL><HOST><ID>1</ID><NAME>h1</NAME></HOST><HOST><ID>2</ID><NAME>h2</NAME></HOST></HOST_POOL>`,
		failures: 2,
	}
	p := New()
	if err := p.Bootstrap(context.Background(), client, log.NewNop()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if p.Len() != 2 {
		t.Errorf("Len() = %d, want 2", p.Len())
	}
}

func TestBootstrap_FatalAfterExhaustingRetries(t *testing.T) {
	client := &fakeOrchestratorClient{failures: bootstrapRetries + 1}
	p := New()
	if err := p.Bootstrap(context.Background(), client, log.NewNop()); err == nil {
		t.Fatal("expected Bootstrap to fail after exhausting retries")
	}
}
