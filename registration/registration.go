// Package registration drives the group-level REG1/REG2/REG3 handshake
// (spec.md §4.3): it owns the locally generated group id, tracks which
// single Link is "pending" until REG2 completes, and rebroadcasts REG2
// whenever the link topology changes.
//
// Like linkstate, every exported method is meant to be called only from
// the session's single event-loop goroutine -- no locking here, mirroring
// the teacher's convention of pushing synchronization up to the owner.
package registration

import (
	"crypto/rand"
	"time"

	"github.com/srtlabond/bond/bonderrors"
	"github.com/srtlabond/bond/linkstate"
	"github.com/srtlabond/bond/protocol"
)

// State is the group-level registration state (spec.md §4.3), distinct
// from a single Link's RegState: the coordinator elects exactly one
// pending Link while working through REG2, then fans the result out to
// every Link.
type State int32

const (
	Idle         State = 0
	AwaitingReg2 State = 1
	AwaitingReg3 State = 2
	Established  State = 3
)

var stateName = map[State]string{
	Idle:         "IDLE",
	AwaitingReg2: "AWAITING_REG2",
	AwaitingReg3: "AWAITING_REG3",
	Established:  "ESTABLISHED",
}

func (s State) String() string {
	name, ok := stateName[s]
	if !ok {
		return "UNKNOWN_REGISTRATION_STATE"
	}
	return name
}

const (
	// reg2Timeout and reg3Timeout bound how long the coordinator waits
	// for the corresponding reply before resetting the pending link
	// (spec.md §4.3, §8 scenario 6).
	reg2Timeout = 4 * time.Second
	reg3Timeout = 4 * time.Second

	// globalTimeout is how long the group may stay entirely
	// disconnected, after having been Connected at least once, before a
	// catastrophic-failure log line fires (spec.md §4.3).
	globalTimeout = 10 * time.Second
)

// Coordinator implements the group-level state machine from spec.md
// §4.3. It does not own Links; it is handed a *linkstate.Link whenever it
// needs to inspect or mutate one, and a slice of all current Links
// whenever it needs to broadcast.
type Coordinator struct {
	State State

	localID  [protocol.GroupIDLen]byte
	groupID  [protocol.GroupIDLen]byte

	pending      *linkstate.Link
	reg2Deadline time.Time
	reg3Deadline time.Time

	everConnected     bool
	activeConnections map[*linkstate.Link]bool

	now func() time.Time
}

// NewCoordinator generates a fresh local half of the group id via
// crypto/rand (spec.md §3's "generated locally with a cryptographic
// random source") and returns an Idle Coordinator. now is injected for
// deterministic tests, matching linkstate.NewLink's Clock seam.
func NewCoordinator(now func() time.Time) (*Coordinator, error) {
	if now == nil {
		now = time.Now
	}
	c := &Coordinator{State: Idle, now: now, activeConnections: map[*linkstate.Link]bool{}}
	if _, err := rand.Read(c.localID[:]); err != nil {
		return nil, err
	}
	c.groupID = c.localID
	return c, nil
}

// GroupID returns the current 256-byte group id: the locally generated
// value until REG2 completes, then the server-provided replacement.
func (c *Coordinator) GroupID() [protocol.GroupIDLen]byte {
	return c.groupID
}

// ActiveConnections returns the number of Links this coordinator
// currently counts as Connected: HandleReg3 adds a newly Connected link,
// and HandleRegErr and LinkDisconnected take one away.
func (c *Coordinator) ActiveConnections() int {
	return len(c.activeConnections)
}

// HandleRegNGP implements the REG_NGP transition (spec.md §4.3): if no
// link is Connected, no REG2 is pending, and the pending-registration
// timer has expired, elect link as pending and send REG1 on it.
func (c *Coordinator) HandleRegNGP(link *linkstate.Link, anyConnected bool) {
	if anyConnected {
		return
	}
	if c.State == AwaitingReg2 || c.State == AwaitingReg3 {
		return
	}
	if !c.reg2Deadline.IsZero() && c.now().Before(c.reg2Deadline) {
		return
	}
	c.beginReg1(link)
}

func (c *Coordinator) beginReg1(link *linkstate.Link) {
	buf := make([]byte, protocol.Reg1Len)
	protocol.EncodeReg1(buf, c.localID[:])
	_ = link.SendControl(buf)
	c.pending = link
	c.State = AwaitingReg2
	c.reg2Deadline = c.now().Add(reg2Timeout)
}

// HandleReg2 implements the REG2 transition: verifies the first half of
// the received id against our locally generated id, and on a match
// copies the full server id in, broadcasts REG2 to every current Link,
// and advances to AwaitingReg3.
//
// It reports whether the frame was accepted from the pending link at
// all (false means the caller should treat the frame as not ours to
// consume, e.g. it arrived on a non-pending link). A non-nil error
// means the frame WAS addressed to the pending link but failed
// validation (a truncated or mismatched id): spec.md §4.3's
// "log and discard" and §7's ProtocolError, surfaced as
// bonderrors.ErrProtocol for the caller to log.
func (c *Coordinator) HandleReg2(from *linkstate.Link, serverID []byte, allLinks []*linkstate.Link) (bool, error) {
	if c.State != AwaitingReg2 || from != c.pending {
		return false, nil
	}
	half := protocol.GroupIDLen / 2
	if len(serverID) < half {
		return false, bonderrors.ErrProtocol
	}
	for i := 0; i < half; i++ {
		if serverID[i] != c.localID[i] {
			// Mismatched id: log-and-discard per spec.md §4.3.
			return false, bonderrors.ErrProtocol
		}
	}
	copy(c.groupID[:], serverID)
	if len(serverID) < protocol.GroupIDLen {
		for i := len(serverID); i < protocol.GroupIDLen; i++ {
			c.groupID[i] = 0
		}
	}

	buf := make([]byte, protocol.Reg2Len)
	protocol.EncodeReg2(buf, c.groupID[:])
	for _, l := range allLinks {
		_ = l.SendControl(buf)
	}

	c.State = AwaitingReg3
	c.reg3Deadline = c.now().Add(reg3Timeout)
	c.reg2Deadline = time.Time{}
	return true, nil
}

// RebroadcastReg2 resends REG2 to every current Link, used whenever the
// topology changes (a new Link joins) while the group already has a
// server-assigned id (spec.md §4.3's "rebroadcasts REG2 on topology
// changes").
func (c *Coordinator) RebroadcastReg2(allLinks []*linkstate.Link) {
	if c.State != AwaitingReg3 && c.State != Established {
		return
	}
	buf := make([]byte, protocol.Reg2Len)
	protocol.EncodeReg2(buf, c.groupID[:])
	for _, l := range allLinks {
		_ = l.SendControl(buf)
	}
}

// HandleReg3 marks link Connected, bumps the active-connection count
// (once per link: a repeated REG3 on an already Connected link is not
// counted again), and clears the pending-registration timer.
func (c *Coordinator) HandleReg3(link *linkstate.Link) {
	c.activeConnections[link] = true
	link.RegState = linkstate.Connected
	c.everConnected = true
	if link == c.pending {
		c.pending = nil
		c.reg2Deadline = time.Time{}
	}
	c.reg3Deadline = time.Time{}
	if c.State == AwaitingReg3 {
		c.State = Established
	}
}

// HandleRegErr fails link and clears pending state if link was pending.
func (c *Coordinator) HandleRegErr(link *linkstate.Link) {
	link.RegState = linkstate.Failed
	delete(c.activeConnections, link)
	if link == c.pending {
		c.pending = nil
		c.reg2Deadline = time.Time{}
		if c.State == AwaitingReg2 {
			c.State = Idle
		}
	}
}

// LinkDisconnected drops a Link's contribution to the active-connection
// count; used when a Link is discovered Failed or timed out during
// housekeeping.
func (c *Coordinator) LinkDisconnected(link *linkstate.Link) {
	delete(c.activeConnections, link)
}

// CheckTimeouts resets the pending link to AwaitingReg1 (Disconnected,
// in linkstate.RegState terms -- the link keeps its socket, and the
// server's next REG_NGP reply to one of its keepalives starts a fresh
// REG1 round) once its REG2 or REG3 deadline has been reached. It
// returns bonderrors.ErrTimeout when a reset fired, so the caller can
// log it (spec.md §7's Timeout kind), or nil otherwise.
func (c *Coordinator) CheckTimeouts(now time.Time) error {
	if c.State == AwaitingReg2 && !c.reg2Deadline.IsZero() && !now.Before(c.reg2Deadline) {
		c.resetPending()
		return bonderrors.ErrTimeout
	}
	if c.State == AwaitingReg3 && !c.reg3Deadline.IsZero() && !now.Before(c.reg3Deadline) {
		c.resetPending()
		return bonderrors.ErrTimeout
	}
	return nil
}

func (c *Coordinator) resetPending() {
	if c.pending != nil {
		c.pending.RegState = linkstate.Disconnected
	}
	c.pending = nil
	c.reg2Deadline = time.Time{}
	c.reg3Deadline = time.Time{}
	c.State = Idle
}

// IsGloballyFailed reports whether the group has gone without a single
// Connected link for globalTimeout, despite having been Connected at
// least once (spec.md §4.3's catastrophic-failure condition). It is
// informational only: the caller decides whether to act on it.
func (c *Coordinator) IsGloballyFailed(now time.Time, lastAnyConnected time.Time) bool {
	if !c.everConnected {
		return false
	}
	if len(c.activeConnections) > 0 {
		return false
	}
	return now.Sub(lastAnyConnected) > globalTimeout
}

// Pending returns the currently pending Link, or nil.
func (c *Coordinator) Pending() *linkstate.Link {
	return c.pending
}

// HandleFrame is the single entry point the router hands every received
// frame to first (spec.md §4.6: "hand the frame to the registration
// coordinator first; if it consumes the frame, stop"). It reports
// whether the frame was a registration control frame addressed to this
// coordinator (false means the caller owns dispatching it further), and
// a non-nil error when a consumed frame failed validation -- the caller
// is expected to log it (spec.md §7's "no packets dropped silently"
// rule), not retry or re-dispatch it.
func (c *Coordinator) HandleFrame(from *linkstate.Link, pkt []byte, allLinks []*linkstate.Link, anyConnected bool) (bool, error) {
	if protocol.Classify(pkt) != protocol.KindAggregationControl {
		return false, nil
	}
	switch protocol.AggregationType(pkt) {
	case protocol.TypeRegNGP:
		c.HandleRegNGP(from, anyConnected)
		return true, nil
	case protocol.TypeReg2:
		id, ok := protocol.DecodeGroupID(pkt)
		if !ok {
			return true, bonderrors.ErrProtocol
		}
		_, err := c.HandleReg2(from, id, allLinks)
		return true, err
	case protocol.TypeReg3:
		c.HandleReg3(from)
		// A REG3 means the server now knows about this link; rebroadcast
		// REG2 to every link so any still-Disconnected sibling (one that
		// lost the initial REG1 race, or joined after the group was
		// already established) gets registered too.
		c.RebroadcastReg2(allLinks)
		return true, nil
	case protocol.TypeRegErr:
		c.HandleRegErr(from)
		return true, nil
	default:
		return false, nil
	}
}
