package session

import (
	"time"

	"github.com/srtlabond/bond/bonderrors"
	"github.com/srtlabond/bond/linkstate"
	"github.com/srtlabond/bond/metrics"
	"github.com/srtlabond/bond/protocol"
)

// pollBudget is the nominal per-iteration time spent waiting on socket
// readiness before housekeeping gets another chance to run, mirroring
// spec.md §4.6's "200 ms timeout so housekeeping runs periodically even
// under silence". It is divided across the source socket and every
// current link so one quiet round of polling costs about pollBudget in
// total, not pollBudget per socket.
const pollBudget = 200 * time.Millisecond

// minPollSlice floors the per-socket deadline so a large link count
// never starves every socket down to an unusably short read window.
const minPollSlice = 5 * time.Millisecond

// Run executes the event loop until Stop is called. It owns every
// mutation to Link state, the registration coordinator, and the
// sequence index (spec.md §5): nothing else touches them concurrently,
// since housekeeping is folded into this same loop rather than given
// its own goroutine.
func (s *Session) Run() error {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return s.shutdown()
		case <-ticker.C:
			s.RunHousekeeping(s.now())
			continue
		default:
		}
		s.Step()
	}
}

func (s *Session) shutdown() error {
	for _, l := range s.links {
		l.Close()
	}
	return s.sourceConn.Close()
}

// Step advances the event loop by one poll round: at most one read each
// from the source socket and every link socket, each bounded by a short
// deadline. Run calls Step in a loop; it is exported separately so tests
// can drive the loop deterministically without a real ticker.
func (s *Session) Step() {
	slice := pollBudget / time.Duration(len(s.links)+1)
	if slice < minPollSlice {
		slice = minPollSlice
	}

	if s.handleSourceReadable(slice) {
		return
	}
	for _, l := range s.links {
		s.handleLinkReadable(l, slice)
	}
}

// handleSourceReadable implements spec.md §4.6's source-socket branch.
// It returns true if a packet was actually processed, so the caller can
// give the next iteration's source read priority under load.
func (s *Session) handleSourceReadable(timeout time.Duration) bool {
	s.sourceConn.SetReadDeadline(time.Now().Add(timeout))
	n, addr, err := s.sourceConn.ReadFromUDP(s.srcBuf)
	if err != nil {
		if !isTimeout(err) {
			s.log.Warn("source socket read error: ", err)
		}
		return false
	}
	if s.sourceAddr == nil {
		s.sourceAddr = addr
		s.log.Info("source address learned: ", addr)
	}

	pkt := s.srcBuf[:n]
	seq := protocol.DataSequenceNumber(pkt)

	link := s.selector.Select()
	if link == nil {
		metrics.NoAvailableLinksTotal.Inc()
		s.log.Warn(bonderrors.ErrNoAvailableLinks, ": dropping outgoing packet")
		return true
	}
	if err := link.SendWithTracking(pkt, int64(seq)); err != nil {
		s.log.Warn("send failed on ", link.Handle.Name(), ": ", err)
		link.RegState = linkstate.Failed
		return true
	}
	if seq >= 0 {
		if evicted := s.seqIdx.Insert(uint32(seq), link, s.now()); evicted {
			s.log.Warn(bonderrors.ErrCapacityExceeded, ": sequence index evicted oldest entry")
		}
	}
	return true
}

// handleLinkReadable implements spec.md §4.6's link-socket branch.
func (s *Session) handleLinkReadable(l *linkstate.Link, timeout time.Duration) {
	sock := l.Socket()
	if sock == nil {
		return
	}
	sock.SetReadDeadline(time.Now().Add(timeout))
	n, err := l.Receive(s.linkBuf)
	if err != nil {
		if !isTimeout(err) {
			s.log.Warn("read error on ", l.Handle.Name(), ": ", err)
			l.RegState = linkstate.Failed
		}
		return
	}
	s.dispatchLinkFrame(l, s.linkBuf[:n])
}

// dispatchLinkFrame hands a received frame to the registration
// coordinator first, then switches on its type (spec.md §4.6).
func (s *Session) dispatchLinkFrame(l *linkstate.Link, pkt []byte) {
	consumed, err := s.coordinator.HandleFrame(l, pkt, s.links, s.anyConnected())
	if err != nil {
		s.log.Warn("registration frame from ", l.Handle.Name(), ": ", err)
	}
	if consumed {
		return
	}

	switch protocol.Classify(pkt) {
	case protocol.KindAggregationControl:
		s.dispatchAggregationControl(l, pkt)
	case protocol.KindSRTControl:
		s.dispatchSRTControl(l, pkt)
	default:
		// Plain SRT data arriving on a link socket, or a too-short
		// packet, should not happen in normal operation; drop it.
	}
}

func (s *Session) dispatchAggregationControl(l *linkstate.Link, pkt []byte) {
	switch protocol.AggregationType(pkt) {
	case protocol.TypeACK:
		for _, ack := range protocol.SRTAckNumbers(pkt) {
			for _, other := range s.links {
				other.HandleSRTAck(ack)
			}
		}
		metrics.AckTotal.With(linkLabels(l)).Inc()
		s.forwardToSource(pkt)
	case protocol.TypeKeepalive:
		s.handleKeepaliveReply(l, pkt)
	}
}

func (s *Session) handleKeepaliveReply(l *linkstate.Link, pkt []byte) {
	ts, ok := protocol.DecodeKeepaliveTimestamp(pkt)
	if !ok {
		return
	}
	now := uint64(s.now().UnixMilli())
	if ts > now {
		return
	}
	l.UpdateRTT(time.Duration(now-ts) * time.Millisecond)
}

func (s *Session) dispatchSRTControl(l *linkstate.Link, pkt []byte) {
	if protocol.SRTControlSubtype(pkt) == protocol.SRTControlNAK {
		now := s.now()
		for _, seq := range protocol.SRTNAKSequences(pkt) {
			target := l
			if ref, ok := s.seqIdx.Lookup(seq, now); ok {
				if lk, ok := ref.(*linkstate.Link); ok {
					target = lk
				}
				metrics.NakAttributedTotal.With(linkLabels(target)).Inc()
			} else {
				metrics.NakFallbackTotal.With(linkLabels(target)).Inc()
			}
			target.HandleNak(seq)
		}
	}
	// ACK, NAK, handshake, and shutdown are all forwarded verbatim; only
	// the NAK branch additionally attributes loss above.
	s.forwardToSource(pkt)
}
