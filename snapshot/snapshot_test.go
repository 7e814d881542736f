package snapshot_test

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/srtlabond/bond/linkstate"
	"github.com/srtlabond/bond/snapshot"
)

type fakeHandle string

func (f fakeHandle) Name() string { return string(f) }

func TestFromLink(t *testing.T) {
	now := time.Unix(1000, 0)
	l := linkstate.NewLink(fakeHandle("wlan0"), linkstate.TransportWiFi, nil, nil, func() time.Time { return now })
	l.RegState = linkstate.Connected
	l.LastReceived = now
	l.TestTrackSeq(7)
	l.BytesSent = 1500
	l.PacketsSent = 1

	s := snapshot.FromLink(l, now)
	if s.Interface != "wlan0" || s.Transport != "WIFI" {
		t.Errorf("unexpected interface/transport: %+v", s)
	}
	if s.InFlight != 1 {
		t.Errorf("InFlight = %d, want 1", s.InFlight)
	}
	if s.BytesSent != 1500 || s.PacketsSent != 1 {
		t.Errorf("unexpected byte/packet counters: %+v", s)
	}
}

func TestReaderRoundTrip(t *testing.T) {
	now := time.Unix(1000, 0)
	l := linkstate.NewLink(fakeHandle("rmnet0"), linkstate.TransportCellular, nil, nil, func() time.Time { return now })
	l.RegState = linkstate.Connected

	want := []snapshot.Snapshot{snapshot.FromLink(l, now), snapshot.FromLink(l, now.Add(time.Second))}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, s := range want {
		if err := enc.Encode(s); err != nil {
			t.Fatal(err)
		}
	}

	got, err := snapshot.LoadAll(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d snapshots, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Interface != want[i].Interface || !got[i].Timestamp.Equal(want[i].Timestamp) {
			t.Errorf("snapshot %d mismatch: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReaderSkipsBlankLines(t *testing.T) {
	r := snapshot.NewReader(bytes.NewBufferString("\n\n"))
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF for all-blank input, got %v", err)
	}
}
