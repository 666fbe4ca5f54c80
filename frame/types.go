package frame

// Known protocol message types. Type remains an open string type — these
// are convenience constants for the vocabulary this daemon actually
// speaks, not a closed enumeration; an unrecognized type on the wire
// still decodes fine and simply has no registered handler.
const (
	TypeInit         Type = "INIT"
	TypeFinalize     Type = "FINALIZE"
	TypeUpdateHost   Type = "UPDATE_HOST"
	TypeDelHost      Type = "DEL_HOST"
	TypeStartMonitor Type = "START_MONITOR"
	TypeStopMonitor  Type = "STOP_MONITOR"
	TypeHostList     Type = "HOST_LIST"
	TypeHostState    Type = "HOST_STATE"
	TypeMonitorHost  Type = "MONITOR_HOST"
	TypeSystemHost   Type = "SYSTEM_HOST"
	TypeMonitorVM    Type = "MONITOR_VM"
	TypeStateVM      Type = "STATE_VM"
	TypeLog          Type = "LOG"
)
