package linkstate_test

import (
	"net"
	"testing"
	"time"

	"github.com/srtlabond/bond/linkstate"
)

type fakeHandle string

func (f fakeHandle) Name() string { return string(f) }

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

// newTestLink builds a Link already in the Connected state with a fake
// clock, without a real socket -- congestion-control bookkeeping is
// driven directly via TestTrackSeq/HandleNak/HandleSRTAck.
func newTestLink(clock *fakeClock) *linkstate.Link {
	l := linkstate.NewLink(fakeHandle("wlan0"), linkstate.TransportWiFi, nil, nil, clock.Now)
	l.RegState = linkstate.Connected
	return l
}

func TestWindowStaysWithinBounds(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := newTestLink(clock)

	for i := 0; i < 10000; i++ {
		l.HandleNak(uint32(i)) // untracked, so each call is a no-op
		if l.Window() < linkstate.WindowMin*linkstate.WindowMult {
			t.Fatalf("window below floor: %d", l.Window())
		}
		if l.Window() > linkstate.WindowMax*linkstate.WindowMult {
			t.Fatalf("window above ceiling: %d", l.Window())
		}
	}
}

func TestHandleNakNoopWhenNotInFlight(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := newTestLink(clock)
	before := l.Window()
	l.HandleNak(42)
	if l.Window() != before {
		t.Errorf("window changed on an untracked NAK: %d != %d", l.Window(), before)
	}
}

func TestHandleAckNoopWhenNotInFlight(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := newTestLink(clock)
	l.HandleAck(99) // must not panic or alter anything observable
}

func TestHandleNakDecreasesWindowOnlyWhenInFlight(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := newTestLink(clock)
	l.TestTrackSeq(7)
	before := l.Window()
	l.HandleNak(7)
	if l.Window() != before-linkstate.WindowDecr {
		t.Errorf("window = %d, want %d", l.Window(), before-linkstate.WindowDecr)
	}
	// Second NAK for the same, now-untracked sequence is a no-op.
	after := l.Window()
	l.HandleNak(7)
	if l.Window() != after {
		t.Errorf("duplicate NAK changed window: %d != %d", l.Window(), after)
	}
}

func TestScoreZeroWhenNotConnected(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := newTestLink(clock)
	l.RegState = linkstate.AwaitingReg3
	if s := l.Score(clock.Now()); s != 0 {
		t.Errorf("score = %f, want 0", s)
	}
}

func TestScoreZeroWhenTimedOut(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := newTestLink(clock)
	l.LastReceived = clock.Now()
	clock.Advance(5 * time.Second)
	if !l.IsTimedOut(clock.Now()) {
		t.Fatal("expected link to be timed out")
	}
	if s := l.Score(clock.Now()); s != 0 {
		t.Errorf("score = %f, want 0", s)
	}
}

func TestFastRecoveryEntryAndExit(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := newTestLink(clock)
	l.TestSetWindow(5000) // spec.md §8 scenario 4 starts from window = 5,000

	// Drive 50 NAKs for in-flight sequences; the window must descend
	// monotonically to the fast-recovery floor (spec.md §8 scenario 4).
	for i := 0; i < 50; i++ {
		seq := uint32(1000 + i)
		l.TestTrackSeq(seq)
		before := l.Window()
		l.HandleNak(seq)
		if l.Window() > before {
			t.Fatalf("window increased on NAK at iteration %d", i)
		}
	}
	if l.Window() > 2000 {
		t.Errorf("expected window <= 2000 after 50 NAKs, got %d", l.Window())
	}
	if !l.FastRecovery() {
		t.Error("expected fast-recovery mode to be active")
	}

	// Deliver many NAK-free ACKs while keeping the link's in-flight count
	// proportional to its current window capacity (i.e. the link is
	// actually being driven, not idling) so the utilization throttle
	// never starves growth; the window should climb back above the
	// fast-recovery exit watermark.
	seq := uint32(100000)
	for i := 0; i < 2000; i++ {
		capacity := l.Window() / linkstate.WindowMult
		if capacity < 1 {
			capacity = 1
		}
		var last uint32
		for j := 0; j < capacity; j++ {
			l.TestTrackSeq(seq)
			last = seq
			seq++
		}
		clock.Advance(250 * time.Millisecond)
		l.HandleSRTAck(last)
		if l.Window() > 12000 {
			break
		}
	}
	if l.Window() <= 12000 {
		t.Errorf("expected window > 12000 after sustained ACKs, got %d", l.Window())
	}
	if l.FastRecovery() {
		t.Error("expected fast-recovery mode to be disabled")
	}
}

func TestTimeBasedRecoveryAfterMisattribution(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := newTestLink(clock)

	for i := 0; i < 5; i++ {
		seq := uint32(i)
		l.TestTrackSeq(seq)
		l.HandleNak(seq)
	}
	windowAfterNaks := l.Window()

	clock.Advance(7 * time.Second)
	l.PerformWindowRecovery(clock.Now())
	if l.Window() < windowAfterNaks+2*linkstate.WindowIncr {
		t.Errorf("expected recovery by t=7s, got window %d (base %d)", l.Window(), windowAfterNaks)
	}

	windowAt7s := l.Window()
	clock.Advance(4 * time.Second) // total 11s
	l.PerformWindowRecovery(clock.Now())
	if l.Window() <= windowAt7s {
		t.Errorf("expected further recovery by t=11s: %d <= %d", l.Window(), windowAt7s)
	}
}

func TestRTTClampsOutsideRange(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := newTestLink(clock)
	l.UpdateRTT(50 * time.Millisecond)
	if l.SmoothedRTT != 50*time.Millisecond {
		t.Errorf("first sample should seed SmoothedRTT directly, got %v", l.SmoothedRTT)
	}
	l.UpdateRTT(-1)
	if l.SmoothedRTT != 50*time.Millisecond {
		t.Error("negative sample should have been ignored")
	}
	l.UpdateRTT(11 * time.Second)
	if l.SmoothedRTT != 50*time.Millisecond {
		t.Error("sample > 10s should have been ignored")
	}
	l.UpdateRTT(100 * time.Millisecond)
	if l.SmoothedRTT <= 50*time.Millisecond || l.SmoothedRTT >= 100*time.Millisecond {
		t.Errorf("expected smoothed value between samples, got %v", l.SmoothedRTT)
	}
}

func TestNeedsKeepalive(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	l := newTestLink(clock)
	if !l.NeedsKeepalive(clock.Now()) {
		t.Error("a link that never sent a keepalive should need one")
	}
	l.LastKeepalive = clock.Now()
	if l.NeedsKeepalive(clock.Now()) {
		t.Error("should not need a keepalive immediately after sending one")
	}
	clock.Advance(2 * time.Second)
	if !l.NeedsKeepalive(clock.Now()) {
		t.Error("should need a keepalive after the idle window elapses")
	}
}

func TestConnectFailureTransitionsToFailed(t *testing.T) {
	dial := func(h linkstate.InterfaceHandle, addr *net.UDPAddr) (*net.UDPConn, error) {
		return nil, linkstate.ErrNetworkUnavailable
	}
	l := linkstate.NewLink(fakeHandle("wlan0"), linkstate.TransportWiFi, dial, nil, nil)
	err := l.Connect()
	if err == nil {
		t.Fatal("expected error")
	}
	if l.RegState != linkstate.Failed {
		t.Errorf("state = %v, want Failed", l.RegState)
	}
}

func TestSendWithTrackingOverUDP(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatal(err)
	}
	defer serverConn.Close()

	dial := func(h linkstate.InterfaceHandle, addr *net.UDPAddr) (*net.UDPConn, error) {
		return net.DialUDP("udp", nil, addr)
	}
	l := linkstate.NewLink(fakeHandle("wlan0"), linkstate.TransportWiFi, dial, serverConn.LocalAddr().(*net.UDPAddr), nil)
	if err := l.Connect(); err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	if err := l.SendWithTracking([]byte("hello"), 5); err != nil {
		t.Fatal(err)
	}
	if l.InFlightCount() != 1 {
		t.Errorf("InFlightCount = %d, want 1", l.InFlightCount())
	}
	if !l.InFlight(5) {
		t.Error("expected seq 5 to be in-flight")
	}

	buf := make([]byte, 1500)
	n, _, err := serverConn.ReadFromUDP(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("server received %q", buf[:n])
	}
}
