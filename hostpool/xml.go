package hostpool

import (
	"encoding/xml"
	"fmt"

	"github.com/onecloudio/onemonitord/types"
)

// hostXML mirrors the orchestrator's HOST element (HostBase::to_xml /
// init_attributes in the original data model): ID, NAME, STATE, IM_MAD,
// VM_MAD, LAST_MON_TIME, CLUSTER_ID, CLUSTER, a HOST_SHARE capacity block,
// an optional DATASTORES list, a TEMPLATE carrying PUBLIC_CLOUD, and a VMS
// id collection.
type hostXML struct {
	ID          int       `xml:"ID"`
	Name        string    `xml:"NAME"`
	State       string    `xml:"STATE"`
	IMMad       string    `xml:"IM_MAD"`
	VMMad       string    `xml:"VM_MAD"`
	LastMonTime int64     `xml:"LAST_MON_TIME"`
	ClusterID   int       `xml:"CLUSTER_ID"`
	Cluster     string    `xml:"CLUSTER"`
	HostShare   hostShare `xml:"HOST_SHARE"`
	Template    hostTmpl  `xml:"TEMPLATE"`
	VMs         vmIDList  `xml:"VMS"`
}

type hostShare struct {
	FreeCPU     int              `xml:"FREE_CPU"`
	MaxCPU      int              `xml:"MAX_CPU"`
	UsedCPU     int              `xml:"USED_CPU"`
	FreeMem     int              `xml:"FREE_MEM"`
	MaxMem      int              `xml:"MAX_MEM"`
	UsedMem     int              `xml:"USED_MEM"`
	ReservedCPU string           `xml:"RESERVED_CPU"`
	ReservedMem string           `xml:"RESERVED_MEM"`
	Datastores  []datastoreEntry `xml:"DATASTORES>DS"`
}

type datastoreEntry struct {
	ID    int             `xml:"ID"`
	Attrs []datastoreAttr `xml:",any"`
}

// datastoreAttr captures an arbitrary vector attribute under a DS node —
// the grammar is opaque to the core, so any sibling element is carried
// through verbatim by tag name and character content.
type datastoreAttr struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type hostTmpl struct {
	PublicCloud string `xml:"PUBLIC_CLOUD"`
}

type vmIDList struct {
	IDs []int `xml:"ID"`
}

// parseHostXML parses one <HOST>...</HOST> document into a types.Host.
func parseHostXML(text string) (*types.Host, error) {
	var hx hostXML
	if err := xml.Unmarshal([]byte(text), &hx); err != nil {
		return nil, fmt.Errorf("hostpool: parse host xml: %w", err)
	}
	return buildHost(&hx)
}

// buildHost converts an already-parsed hostXML into a types.Host.
func buildHost(hx *hostXML) (*types.Host, error) {
	if hx.ID == 0 && hx.Name == "" {
		return nil, fmt.Errorf("hostpool: host xml missing ID/NAME")
	}

	h := types.NewHost(hx.ID, hx.Name)
	h.ClusterID = hx.ClusterID
	h.ClusterName = hx.Cluster
	h.IMMad = hx.IMMad
	h.VMMad = hx.VMMad
	h.LastMonitored = hx.LastMonTime
	h.PublicCloud = hx.Template.PublicCloud == "1" || hx.Template.PublicCloud == "YES" || hx.Template.PublicCloud == "yes"

	if hx.State != "" {
		h.State = types.State(hx.State)
	}

	h.Capacity = types.Capacity{
		FreeCPU:     hx.HostShare.FreeCPU,
		TotalCPU:    hx.HostShare.MaxCPU,
		UsedCPU:     hx.HostShare.UsedCPU,
		FreeMemory:  hx.HostShare.FreeMem,
		TotalMemory: hx.HostShare.MaxMem,
		UsedMemory:  hx.HostShare.UsedMem,
		Reserved: types.ReservedCapacity{
			CPU:    hx.HostShare.ReservedCPU,
			Memory: hx.HostShare.ReservedMem,
		},
	}
	for _, ds := range hx.HostShare.Datastores {
		attrs := make(map[string]string, len(ds.Attrs))
		for _, a := range ds.Attrs {
			attrs[a.XMLName.Local] = a.Value
		}
		h.Capacity.Datastores = append(h.Capacity.Datastores, types.DatastoreRef{ID: ds.ID, Attrs: attrs})
	}

	for _, id := range hx.VMs.IDs {
		h.VMIDs[id] = struct{}{}
	}

	return h, nil
}

// hostPoolXML mirrors /HOST_POOL/HOST* as returned by one.hostpool.info.
type hostPoolXML struct {
	Hosts []hostXML `xml:"HOST"`
}

// InsertFromXML parses a single <HOST> document and installs it,
// overwriting any prior record under the same oid.
func (p *Pool) InsertFromXML(text string) error {
	h, err := parseHostXML(text)
	if err != nil {
		return err
	}
	p.insert(h)
	return nil
}

// InsertPoolFromXML parses a full <HOST_POOL> document, as returned by
// one.hostpool.info, and installs every <HOST> child.
func (p *Pool) InsertPoolFromXML(text string) (int, error) {
	var hp hostPoolXML
	if err := xml.Unmarshal([]byte(text), &hp); err != nil {
		return 0, fmt.Errorf("hostpool: parse host pool xml: %w", err)
	}
	installed := 0
	for i := range hp.Hosts {
		h, err := buildHost(&hp.Hosts[i])
		if err != nil {
			continue
		}
		p.insert(h)
		installed++
	}
	return installed, nil
}
