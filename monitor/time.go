package monitor

import "time"

// formatTimestamp renders a unix-seconds timestamp as RFC 3339, the shape
// notify.HostStateEvent.Timestamp documents.
func formatTimestamp(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
