package protocol

import (
	"strconv"
	"strings"

	"github.com/onecloudio/onemonitord/hostpool"
	"github.com/onecloudio/onemonitord/types"
)

// serializeHostList renders the host table as a small HOST_POOL XML
// document, mirroring the shape hostpool.InsertPoolFromXML parses — a
// bulk refresh pushed to drivers is read back by the same grammar the
// orchestrator's one.hostpool.info reply uses.
func serializeHostList(pool *hostpool.Pool) []byte {
	var b strings.Builder
	b.WriteString("<HOST_POOL>")
	for _, h := range pool.Snapshot() {
		writeHostXML(&b, h)
	}
	b.WriteString("</HOST_POOL>")
	return []byte(b.String())
}

func writeHostXML(b *strings.Builder, h *types.Host) {
	b.WriteString("<HOST><ID>")
	b.WriteString(strconv.Itoa(h.OID))
	b.WriteString("</ID><NAME>")
	b.WriteString(h.Name)
	b.WriteString("</NAME><STATE>")
	b.WriteString(string(h.State.Effective()))
	b.WriteString("</STATE><IM_MAD>")
	b.WriteString(h.IMMad)
	b.WriteString("</IM_MAD><VM_MAD>")
	b.WriteString(h.VMMad)
	b.WriteString("</VM_MAD><LAST_MON_TIME>")
	b.WriteString(strconv.FormatInt(h.LastMonitored, 10))
	b.WriteString("</LAST_MON_TIME><CLUSTER_ID>")
	b.WriteString(strconv.Itoa(h.ClusterID))
	b.WriteString("</CLUSTER_ID><CLUSTER>")
	b.WriteString(h.ClusterName)
	b.WriteString("</CLUSTER></HOST>")
}
