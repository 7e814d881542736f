package session

import (
	"encoding/json"
	"io"

	"time"

	"github.com/srtlabond/bond/snapshot"
)

// SetSnapshotLog arms periodic per-link connection-status logging: one
// JSON-encoded snapshot.Snapshot line per link, appended to w at the end
// of every housekeeping pass. Pass nil (the default) to disable it.
func (s *Session) SetSnapshotLog(w io.Writer) {
	s.snapshotLog = w
}

// writeSnapshots runs after exportMetrics in every housekeeping pass
// when a snapshot log is armed: a side channel for offline analysis via cmd/linkstat, entirely
// separate from the Prometheus gauges exportMetrics maintains.
func (s *Session) writeSnapshots(now time.Time) {
	if s.snapshotLog == nil {
		return
	}
	enc := json.NewEncoder(s.snapshotLog)
	for _, l := range s.links {
		if err := enc.Encode(snapshot.FromLink(l, now)); err != nil {
			s.log.Warn("snapshot log write failed: ", err)
			return
		}
	}
}
