package session

import (
	"time"

	"github.com/srtlabond/bond/iface"
	"github.com/srtlabond/bond/linkstate"
	"github.com/srtlabond/bond/metrics"
	"github.com/srtlabond/bond/protocol"
)

// seqIndexWarnUtilization is the occupancy fraction above which
// housekeeping logs a warning (spec.md §4.7 step 3).
const seqIndexWarnUtilization = 0.8

// RunHousekeeping performs the six ordered duties from spec.md §4.7,
// followed by the observability expansion's metrics/snapshot export and
// a final catastrophic-failure check. Run calls it at most once per
// second from the event loop's ticker; it is exported separately so
// tests can invoke a housekeeping pass directly against an injected
// clock.
func (s *Session) RunHousekeeping(now time.Time) {
	s.advanceRegistration(now)
	s.recoverWindows(now)
	s.sweepSeqIndex(now)
	s.handleFailedLinks(now)
	s.processReconnects(now)
	s.discoverInterfaces()
	s.purgeDeadLinks(now)
	s.exportMetrics(now)
	s.writeSnapshots(now)
	s.checkGlobalFailure(now)
}

// advanceRegistration is duty 1: retry REG1/REG2 on timeout (via
// CheckTimeouts resetting the pending link so the next REG_NGP restarts
// it) and keep every non-Failed link's keepalive cadence current. Every
// keepalive frame also doubles as an RTT probe (its embedded timestamp
// is echoed back by the server), so there is no separate probe cadence
// to track.
func (s *Session) advanceRegistration(now time.Time) {
	if err := s.coordinator.CheckTimeouts(now); err != nil {
		s.log.Warn("registration: ", err)
	}

	var buf [protocol.KeepaliveLen]byte
	for _, l := range s.links {
		if l.RegState == linkstate.Failed {
			continue
		}
		if !l.NeedsKeepalive(now) {
			continue
		}
		protocol.EncodeKeepalive(buf[:], uint64(now.UnixMilli()))
		if err := l.SendControl(buf[:]); err != nil {
			s.log.Warn("keepalive send failed on ", l.Handle.Name(), ": ", err)
		}
	}
}

// recoverWindows is duty 2.
func (s *Session) recoverWindows(now time.Time) {
	for _, l := range s.links {
		if l.RegState == linkstate.Connected {
			l.PerformWindowRecovery(now)
		}
	}
}

// sweepSeqIndex is duty 3.
func (s *Session) sweepSeqIndex(now time.Time) {
	s.seqIdx.EvictExpired(now)
	if util := s.seqIdx.Utilization(); util > seqIndexWarnUtilization {
		s.log.Warn("sequence index utilization above 80%: ", util)
	}
}

// handleFailedLinks is duty 4: identify Failed/timed-out links and
// schedule a reconnection attempt for each, with exponential backoff
// owned by reconnect.Manager.
func (s *Session) handleFailedLinks(now time.Time) {
	for _, l := range s.links {
		if l.RegState == linkstate.Connected && l.IsTimedOut(now) {
			l.RegState = linkstate.Failed
		}
		if l.RegState != linkstate.Failed {
			continue
		}
		s.coordinator.LinkDisconnected(l)
		if _, ok := s.deadSince[l.ID]; !ok {
			s.deadSince[l.ID] = now
		}
		handle, ok := handleOf(l)
		if !ok {
			continue
		}
		if !s.reconnectMgr.Pending(handle.IfaceName) {
			metrics.RegistrationRetryTotal.With(linkLabels(l)).Inc()
			s.scheduleReconnect(handle)
		}
	}
}

// processReconnects drains due reconnection attempts and tries to
// create a fresh Link for each; a failure is rescheduled with the next
// backoff step, a success resets that interface's backoff entirely
// (spec.md §4.7 step 4's "on success the backoff resets").
func (s *Session) processReconnects(now time.Time) {
	for _, action := range s.reconnectMgr.Due(now) {
		ra, ok := action.(reconnectAction)
		if !ok {
			continue
		}
		if err := s.addLink(ra.handle); err != nil {
			s.reconnectMgr.Schedule(ra.handle.IfaceName, ra)
			continue
		}
		s.reconnectMgr.Succeeded(ra.handle.IfaceName)
	}
}

// discoverInterfaces is duty 5: drain any pending change notifications
// from the InterfaceProvider, then fall back to a full List() so an
// interface that appeared without a delivered event is still found.
func (s *Session) discoverInterfaces() {
	s.drainInterfaceChanges()

	current, err := s.ifaces.List()
	if err != nil {
		s.log.Warn("interface discovery failed: ", err)
		return
	}
	for _, h := range current {
		if s.known[h.IfaceName] {
			continue
		}
		if err := s.addLink(h); err != nil {
			s.scheduleReconnect(h)
		}
	}
}

func (s *Session) drainInterfaceChanges() {
	if s.ifaceChanges == nil {
		return
	}
	for {
		select {
		case change := <-s.ifaceChanges:
			switch change.Kind {
			case iface.Added:
				if !s.known[change.Handle.IfaceName] {
					if err := s.addLink(change.Handle); err != nil {
						s.scheduleReconnect(change.Handle)
					}
				}
			case iface.Removed:
				s.markInterfaceGone(change.Handle.IfaceName)
			}
		default:
			return
		}
	}
}

// markInterfaceGone fails every Link riding the named interface so
// handleFailedLinks picks it up on the next tick instead of waiting out
// its connection timeout.
func (s *Session) markInterfaceGone(name string) {
	for _, l := range s.links {
		if l.Handle.Name() == name {
			l.RegState = linkstate.Failed
		}
	}
}

// purgeDeadLinks is duty 6.
func (s *Session) purgeDeadLinks(now time.Time) {
	kept := s.links[:0]
	changed := false
	for _, l := range s.links {
		dead := l.RegState == linkstate.Failed || l.RegState == linkstate.Disconnected
		since, hasSince := s.deadSince[l.ID]
		handle, hasHandle := handleOf(l)
		pending := hasHandle && s.reconnectMgr.Pending(handle.IfaceName)
		if dead && hasSince && now.Sub(since) > deadLinkPurgeAfter && !pending {
			l.Close()
			if hasHandle {
				delete(s.known, handle.IfaceName)
			}
			delete(s.deadSince, l.ID)
			delete(s.lastBytes, l.ID)
			delete(s.lastPackets, l.ID)
			changed = true
			continue
		}
		kept = append(kept, l)
	}
	s.links = kept
	if changed {
		s.selector.SetLinks(s.links)
	}
}

// exportMetrics snapshots every Link's current gauges and folds its
// cumulative byte/packet counts into the corresponding Prometheus
// counters, per-tick rather than per-packet (mirroring collector.Run's
// "log stats roughly once per interval" cadence rather than
// instrumenting the hot send/receive path directly).
func (s *Session) exportMetrics(now time.Time) {
	for _, l := range s.links {
		labels := linkLabels(l)
		metrics.LinkWindowGauge.With(labels).Set(float64(l.Window()))
		metrics.LinkInFlightGauge.With(labels).Set(float64(l.InFlightCount()))
		metrics.LinkRTTGauge.With(labels).Set(l.SmoothedRTT.Seconds())
		metrics.LinkScoreGauge.With(labels).Set(l.Score(now))

		if delta := l.BytesSent - s.lastBytes[l.ID]; delta > 0 {
			metrics.BytesSentTotal.With(labels).Add(float64(delta))
		}
		s.lastBytes[l.ID] = l.BytesSent

		if delta := l.PacketsSent - s.lastPackets[l.ID]; delta > 0 {
			metrics.PacketsSentTotal.With(labels).Add(float64(delta))
		}
		s.lastPackets[l.ID] = l.PacketsSent
	}
}

// checkGlobalFailure logs (but never acts on) the catastrophic-failure
// condition from spec.md §4.3: every link has been out of Connected for
// the global timeout, after having been Connected at least once.
func (s *Session) checkGlobalFailure(now time.Time) {
	if s.anyConnected() {
		s.lastAnyConnected = now
	}
	if s.coordinator.IsGloballyFailed(now, s.lastAnyConnected) {
		s.log.Error("bond group has had no connected link for the global failure timeout; still retrying")
	}
}
