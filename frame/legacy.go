package frame

import (
	"fmt"
	"strconv"
	"strings"
)

// DecodeLegacy recognizes the two plain-text commands accepted for
// compatibility with drivers that predate the framed protocol:
//
//	MONITOR <oid> <name> <dsloc> <update_remotes>
//	STOPMONITOR <oid> <name>
//
// It returns ok=false for anything else. Callers try it only after a normal
// framed Decode has failed, and drop the line if this fails too. Unlike
// Decode, a legacy line
// carries no TIMESTAMP or STATUS field; the returned Frame has TS 0 and
// Status StatusNone.
func DecodeLegacy(line []byte) (*Frame, bool) {
	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return nil, false
	}

	switch fields[0] {
	case "MONITOR":
		if len(fields) != 5 {
			return nil, false
		}
		oid, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, false
		}
		updateRemotes := fields[4]
		return &Frame{Type: TypeStartMonitor, Status: StatusNone, OID: oid, Payload: []byte(updateRemotes)}, true

	case "STOPMONITOR":
		if len(fields) != 3 {
			return nil, false
		}
		oid, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, false
		}
		return &Frame{Type: TypeStopMonitor, Status: StatusNone, OID: oid}, true

	default:
		return nil, false
	}
}

// EncodeLegacy builds the plain-text line real IM_MAD drivers expect for
// TypeStartMonitor/TypeStopMonitor, pairing with DecodeLegacy. These two
// types never appear in the driver-protocol framed vocabulary (§6's
// enumeration is UNDEFINED/INIT/FINALIZE/MONITOR_VM/MONITOR_HOST/
// SYSTEM_HOST/STATE_VM/LOG); a driver that received them framed would have
// to treat them as UNDEFINED, so dispatch always goes out as this legacy
// text instead:
//
//	MONITOR <oid> <name> not_defined <update_remotes>
//	STOPMONITOR <oid> <name>
//
// updateRemotes is taken verbatim from payload ("0"/"1"), defaulting to
// "0" for an empty payload. Called with any other type, it panics — no
// other type has a legacy encoding.
func EncodeLegacy(typ Type, oid int, name string, payload []byte) []byte {
	switch typ {
	case TypeStartMonitor:
		updateRemotes := "0"
		if len(payload) > 0 {
			updateRemotes = string(payload)
		}
		return []byte(fmt.Sprintf("MONITOR %d %s not_defined %s", oid, name, updateRemotes))
	case TypeStopMonitor:
		return []byte(fmt.Sprintf("STOPMONITOR %d %s", oid, name))
	default:
		panic(fmt.Sprintf("frame: EncodeLegacy called with non-legacy type %q", typ))
	}
}
