// Package linkstate implements a single bonded path: its UDP socket, its
// congestion window and in-flight sequence log, its registration
// sub-state, and the ACK/NAK feedback loop that adjusts its window.
//
// Every exported method is intended to be called only from the session's
// single event-loop goroutine (spec.md §5): nothing here takes its own
// lock, matching the teacher's convention of pushing all synchronization
// up to the owner (compare saver.Saver's Connections map, which is only
// ever touched from MessageSaverLoop).
package linkstate

import (
	"errors"
	"net"
	"time"

	"github.com/rs/xid"

	"github.com/srtlabond/bond/bonderrors"
)

// Congestion window constants, scaled by WindowMult for finer-grained
// response to each NAK (spec.md §3).
const (
	WindowMin   = 1
	WindowDef   = 20
	WindowMax   = 60
	WindowMult  = 1000
	WindowIncr  = 30
	WindowDecr  = 100

	minWindow = WindowMin * WindowMult
	defWindow = WindowDef * WindowMult
	maxWindow = WindowMax * WindowMult

	// fastRecoveryEnter/Exit are the low/high watermarks from spec.md §4.2.
	fastRecoveryEnter = 2000
	fastRecoveryExit  = 12000

	// increaseCooldown is the minimum time between additive increases.
	increaseCooldown = 200 * time.Millisecond

	// connTimeout is how long a Connected link may go without a receive
	// before it is considered timed out (spec.md §4.2).
	connTimeout = 4 * time.Second

	// idleKeepaliveInterval is how long a link may go without sending a
	// keepalive before needsKeepalive reports true.
	idleKeepaliveInterval = 1 * time.Second

	rttSmoothingFactor = 0.125
)

// ErrNetworkUnavailable and ErrBindFailed re-export the bonderrors
// sentinels for this package's Connect() contract (spec.md §4.2);
// ErrPartialWrite and ErrSendFailed likewise for
// SendWithTracking/SendControl -- ErrPartialWrite for a short write,
// ErrSendFailed wrapping any other write error the underlying socket
// reports. ErrNotConnected is local: it is a precondition error for
// calling a socket method before Connect() succeeded, not one of
// spec.md §7's error kinds.
var (
	ErrNetworkUnavailable = bonderrors.ErrNetworkUnavailable
	ErrBindFailed         = bonderrors.ErrBindFailed
	ErrPartialWrite       = bonderrors.ErrPartialWrite
	ErrSendFailed         = bonderrors.ErrSendFailed
	ErrNotConnected       = errors.New("linkstate: link not connected")
)

// InterfaceHandle is an opaque token identifying an underlying network
// path, supplied by the external InterfaceProvider collaborator.
type InterfaceHandle interface {
	// Name is a short human-readable label, used only for logging and
	// metrics labels.
	Name() string
}

// Dialer creates a UDP socket bound to a specific interface and
// connected to the given server address. This is the seam the external
// InterfaceProvider fills in (spec.md §4.8); linkstate never opens a
// socket itself except through this function.
type Dialer func(handle InterfaceHandle, serverAddr *net.UDPAddr) (*net.UDPConn, error)

// Link is one bonded path: an interface, a socket to the server, and
// the per-path congestion/registration state spec.md §3 requires.
type Link struct {
	ID     xid.ID
	Handle InterfaceHandle
	Type   TransportType

	dial    Dialer
	serverAddr *net.UDPAddr
	sock    *net.UDPConn

	RegState RegState

	window int // scaled by WindowMult

	inFlight inFlightLog

	LastReceived  time.Time
	LastSent      time.Time
	LastKeepalive time.Time

	NAKCount uint64
	ACKCount uint64

	SmoothedRTT     time.Duration
	rttMeasured     bool

	fastRecovery     bool
	consecutiveOKAcks int
	lastIncrease      time.Time
	lastNAK           time.Time
	hasSeenNAK        bool
	burstNAKTimes     []time.Time

	BytesSent   uint64
	PacketsSent uint64

	now func() time.Time
}

// NewLink constructs a Link in the Disconnected state with the default
// window. now is injected for deterministic tests (spec.md §4.8's Clock
// collaborator); pass time.Now in production.
func NewLink(handle InterfaceHandle, typ TransportType, dial Dialer, serverAddr *net.UDPAddr, now func() time.Time) *Link {
	if now == nil {
		now = time.Now
	}
	return &Link{
		ID:         xid.New(),
		Handle:     handle,
		Type:       typ,
		dial:       dial,
		serverAddr: serverAddr,
		RegState:   Disconnected,
		window:     defWindow,
		now:        now,
	}
}

// Connect opens a UDP socket for this Link's interface and transitions
// it to AwaitingReg2. It returns ErrNetworkUnavailable or ErrBindFailed
// on failure, leaving the Link in Failed in either case.
func (l *Link) Connect() error {
	sock, err := l.dial(l.Handle, l.serverAddr)
	if err != nil {
		l.RegState = Failed
		if errors.Is(err, ErrNetworkUnavailable) {
			return err
		}
		return errors.Join(ErrBindFailed, err)
	}
	l.sock = sock
	l.RegState = AwaitingReg2
	l.window = defWindow
	return nil
}

// Close tears down this Link's socket, if any. Safe to call more than
// once and on a Link that never connected.
func (l *Link) Close() error {
	if l.sock == nil {
		return nil
	}
	err := l.sock.Close()
	l.sock = nil
	return err
}

// SendWithTracking performs a non-blocking write of data on this Link's
// socket, recording LastSent and, when seq >= 0, appending seq to the
// in-flight log. A short write is treated as failure (ErrPartialWrite);
// any other write error is wrapped in ErrSendFailed.
func (l *Link) SendWithTracking(data []byte, seq int64) error {
	if l.sock == nil {
		return ErrNotConnected
	}
	n, err := l.sock.Write(data)
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if n != len(data) {
		return ErrPartialWrite
	}
	l.LastSent = l.now()
	l.BytesSent += uint64(n)
	l.PacketsSent++
	if seq >= 0 {
		l.inFlight.add(uint32(seq))
	}
	return nil
}

// SendControl writes a REG/keepalive control frame without touching the
// in-flight log. Errors follow the same ErrPartialWrite/ErrSendFailed
// split as SendWithTracking.
func (l *Link) SendControl(data []byte) error {
	if l.sock == nil {
		return ErrNotConnected
	}
	n, err := l.sock.Write(data)
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if n != len(data) {
		return ErrPartialWrite
	}
	if protocolIsKeepalive(data) {
		l.LastKeepalive = l.now()
	}
	return nil
}

// protocolIsKeepalive is a tiny local check (avoids an import cycle with
// package protocol) mirroring the keepalive type prefix.
func protocolIsKeepalive(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x90 && data[1] == 0x00
}

// Receive performs a non-blocking-in-spirit read (the caller is expected
// to have already waited on socket readiness) into buf, updating
// LastReceived on success.
func (l *Link) Receive(buf []byte) (int, error) {
	if l.sock == nil {
		return 0, ErrNotConnected
	}
	n, err := l.sock.Read(buf)
	if err != nil {
		return 0, err
	}
	l.LastReceived = l.now()
	return n, nil
}

// Socket exposes the underlying connection so the router can register it
// with a readiness primitive. Returns nil if the Link never connected.
func (l *Link) Socket() *net.UDPConn {
	return l.sock
}

// HandleAck removes seq from the in-flight log if present. It is a
// no-op if seq was never tracked (spec.md §8's idempotence property).
func (l *Link) HandleAck(seq uint32) {
	l.inFlight.remove(seq)
}

// HandleSRTAck treats seq as a cumulative SRTLA-style ACK: every
// in-flight sequence number <= seq is considered delivered, removed from
// the log, and counted toward the additive-increase bookkeeping.
func (l *Link) HandleSRTAck(seq uint32) {
	inFlightBefore := l.inFlight.len()
	removed := l.inFlight.removeUpTo(seq)
	if removed == 0 {
		return
	}
	l.ACKCount += uint64(removed)
	l.consecutiveOKAcks++
	l.maybeGrowWindow(inFlightBefore)
}

// HandleNak applies a NAK to this Link if, and only if, seq is present
// in its in-flight log (spec.md §8's idempotence property: otherwise the
// window is left unchanged). On a real hit the window is decreased by
// WindowDecr (clamped at the floor) and the NAK counters are bumped.
func (l *Link) HandleNak(seq uint32) {
	if !l.inFlight.remove(seq) {
		return
	}
	l.NAKCount++
	now := l.now()
	l.recordBurstNAK(now)
	l.lastNAK = now
	l.hasSeenNAK = true
	l.consecutiveOKAcks = 0
	l.window -= WindowDecr
	if l.window < minWindow {
		l.window = minWindow
	}
	if l.window <= fastRecoveryEnter {
		l.fastRecovery = true
	}
}

// recordBurstNAK keeps a short rolling window of recent NAK times, used
// by the scheduler's quality-penalty step to detect NAK bursts.
func (l *Link) recordBurstNAK(now time.Time) {
	cutoff := now.Add(-1 * time.Second)
	kept := l.burstNAKTimes[:0]
	for _, t := range l.burstNAKTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.burstNAKTimes = append(kept, now)
}

// RecentNAKBurst reports whether 2 or more NAKs landed on this link
// within the last second (spec.md §4.5's quality-penalty burst rule).
func (l *Link) RecentNAKBurst() bool {
	return len(l.burstNAKTimes) >= 2
}

// TimeSinceLastNAK reports how long it has been since this Link last saw
// a NAK. If it has never seen one, it returns a very large duration so
// quality-scoring treats "never" as the best possible case.
func (l *Link) TimeSinceLastNAK(now time.Time) time.Duration {
	if !l.hasSeenNAK {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(l.lastNAK)
}

// maybeGrowWindow applies the additive-increase throttles from spec.md
// §4.2: a cooldown between increases, a utilization floor (lower in fast
// recovery), and a minimum run of consecutive NAK-free ACKs.
func (l *Link) maybeGrowWindow(inFlightBefore int) {
	now := l.now()
	if !l.lastIncrease.IsZero() && now.Sub(l.lastIncrease) < increaseCooldown {
		return
	}
	utilizationFloor := 0.85
	minRun := 4
	if l.fastRecovery {
		utilizationFloor = 0.95
		minRun = 2
	}
	if l.consecutiveOKAcks < minRun {
		return
	}
	if l.utilization(inFlightBefore) < utilizationFloor {
		return
	}
	l.growWindow(WindowIncr)
	l.lastIncrease = now
	l.consecutiveOKAcks = 0
}

func (l *Link) growWindow(amount int) {
	l.window += amount
	if l.window > maxWindow {
		l.window = maxWindow
	}
	if l.fastRecovery && l.window > fastRecoveryExit {
		l.fastRecovery = false
	}
}

// utilization is in-flight count (as it stood immediately before the
// triggering ACK was applied) over current window capacity, in
// un-scaled packet units.
func (l *Link) utilization(inFlightBefore int) float64 {
	capacity := l.window / WindowMult
	if capacity <= 0 {
		return 1
	}
	return float64(inFlightBefore) / float64(capacity)
}

// PerformWindowRecovery grants time-based recovery increments when no
// NAK has been observed for a while, per spec.md §4.2's time-based
// recovery rule. It is called once per housekeeping tick.
func (l *Link) PerformWindowRecovery(now time.Time) {
	if !l.hasSeenNAK {
		return
	}
	elapsed := now.Sub(l.lastNAK)
	switch {
	case elapsed >= 10*time.Second:
		l.growWindow(3 * WindowIncr)
	case elapsed >= 7*time.Second:
		l.growWindow(2 * WindowIncr)
	case elapsed >= 5*time.Second:
		l.growWindow(WindowIncr)
	}
}

// Window returns the current scaled congestion window.
func (l *Link) Window() int {
	return l.window
}

// InFlightCount returns the number of sequence numbers currently
// tracked as in-flight on this Link.
func (l *Link) InFlightCount() int {
	return l.inFlight.len()
}

// InFlight reports whether seq is currently tracked as in-flight on this
// Link.
func (l *Link) InFlight(seq uint32) bool {
	return l.inFlight.contains(seq)
}

// FastRecovery reports whether this Link is currently in fast-recovery
// mode.
func (l *Link) FastRecovery() bool {
	return l.fastRecovery
}

// Score returns window / (in_flight + 1), or 0 if this Link is not
// Connected or has timed out (spec.md §4.2, §4.5).
func (l *Link) Score(now time.Time) float64 {
	if l.RegState != Connected || l.isTimedOut(now) {
		return 0
	}
	return float64(l.window) / float64(l.inFlight.len()+1)
}

// NeedsKeepalive reports whether this Link has gone longer than the
// idle-time window without sending a keepalive.
func (l *Link) NeedsKeepalive(now time.Time) bool {
	if l.LastKeepalive.IsZero() {
		return true
	}
	return now.Sub(l.LastKeepalive) >= idleKeepaliveInterval
}

// IsTimedOut reports whether this (previously Connected) Link has gone
// longer than connTimeout without receiving anything.
func (l *Link) IsTimedOut(now time.Time) bool {
	return l.isTimedOut(now)
}

func (l *Link) isTimedOut(now time.Time) bool {
	if l.RegState != Connected {
		return false
	}
	if l.LastReceived.IsZero() {
		return false
	}
	return now.Sub(l.LastReceived) > connTimeout
}

// TestTrackSeq inserts seq into the in-flight log directly, bypassing
// SendWithTracking. It exists only so tests can exercise the congestion
// control state machine without wiring up a real socket; production
// code should never call it.
func (l *Link) TestTrackSeq(seq uint32) {
	l.inFlight.add(seq)
}

// TestSetWindow forces the current scaled congestion window to an
// arbitrary value. Test-only, like TestTrackSeq.
func (l *Link) TestSetWindow(w int) {
	l.window = w
}

// UpdateRTT folds a new RTT sample (derived from a keepalive round trip)
// into the smoothed RTT using an exponential average with factor 0.125,
// seeded by the first sample. Samples outside [0, 10s] are ignored.
func (l *Link) UpdateRTT(sample time.Duration) {
	if sample < 0 || sample > 10*time.Second {
		return
	}
	if !l.rttMeasured {
		l.SmoothedRTT = sample
		l.rttMeasured = true
		return
	}
	l.SmoothedRTT = time.Duration((1-rttSmoothingFactor)*float64(l.SmoothedRTT) + rttSmoothingFactor*float64(sample))
}
