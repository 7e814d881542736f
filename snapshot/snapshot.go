// Package snapshot defines the per-link connection-status record written
// to the JSON-lines snapshot log by package session, and read back by
// cmd/linkstat for offline CSV conversion -- the bonding analogue of the
// teacher's netlink-derived Snapshot struct shared between the collector
// and cmd/csvtool.
package snapshot

import (
	"bufio"
	"encoding/json"
	"io"
	"time"

	"github.com/srtlabond/bond/linkstate"
)

// Snapshot is one link's connection status at a point in time. Struct
// tags double as both the JSON-lines wire format session writes and the
// CSV column names cmd/linkstat produces, mirroring the teacher's
// Snapshot struct serving both netlink decode and gocsv.Marshal from the
// same field set.
type Snapshot struct {
	Timestamp   time.Time `json:"timestamp" csv:"timestamp"`
	LinkID      string    `json:"link_id" csv:"link_id"`
	Interface   string    `json:"interface" csv:"interface"`
	Transport   string    `json:"transport" csv:"transport"`
	RegState    string    `json:"reg_state" csv:"reg_state"`
	WindowPkts  int       `json:"window_packets" csv:"window_packets"`
	InFlight    int       `json:"in_flight" csv:"in_flight"`
	RTTMillis   float64   `json:"rtt_ms" csv:"rtt_ms"`
	Score       float64   `json:"score" csv:"score"`
	BytesSent   uint64    `json:"bytes_sent" csv:"bytes_sent"`
	PacketsSent uint64    `json:"packets_sent" csv:"packets_sent"`
	NAKCount    uint64    `json:"nak_count" csv:"nak_count"`
	ACKCount    uint64    `json:"ack_count" csv:"ack_count"`
}

// FromLink builds a Snapshot from a Link's current exported state. now is
// used both as the Timestamp and to compute Score, matching
// linkstate.Link.Score's own now parameter.
func FromLink(l *linkstate.Link, now time.Time) Snapshot {
	return Snapshot{
		Timestamp:   now,
		LinkID:      l.ID.String(),
		Interface:   l.Handle.Name(),
		Transport:   l.Type.String(),
		RegState:    l.RegState.String(),
		WindowPkts:  l.Window() / linkstate.WindowMult,
		InFlight:    l.InFlightCount(),
		RTTMillis:   float64(l.SmoothedRTT) / float64(time.Millisecond),
		Score:       l.Score(now),
		BytesSent:   l.BytesSent,
		PacketsSent: l.PacketsSent,
		NAKCount:    l.NAKCount,
		ACKCount:    l.ACKCount,
	}
}

// Reader decodes one JSON-encoded Snapshot per line.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r as a line-at-a-time Snapshot source.
func NewReader(r io.Reader) *Reader {
	return &Reader{scanner: bufio.NewScanner(r)}
}

// Next returns the next Snapshot, or io.EOF once the input is exhausted.
func (rdr *Reader) Next() (*Snapshot, error) {
	for rdr.scanner.Scan() {
		line := rdr.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var s Snapshot
		if err := json.Unmarshal(line, &s); err != nil {
			return nil, err
		}
		return &s, nil
	}
	if err := rdr.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// LoadAll reads every Snapshot line from r.
func LoadAll(r io.Reader) ([]*Snapshot, error) {
	rdr := NewReader(r)
	out := make([]*Snapshot, 0, 256)
	for {
		s, err := rdr.Next()
		if err != nil {
			if err == io.EOF {
				return out, nil
			}
			return nil, err
		}
		out = append(out, s)
	}
}
