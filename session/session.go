// Package session wires together every other package into one running
// bonded connection: the event loop that moves packets (router.go) and
// the periodic maintenance pass that keeps links, registration, and the
// sequence index healthy (housekeeping.go).
//
// Grounded on main.go's collector-loop-plus-saver-loop shape
// (collector.Run's ticker-driven polling combined with
// saver.Saver.MessageSaverLoop's single-goroutine-owns-all-mutation
// discipline), but collapsed to a single goroutine per spec.md §5's
// "preferred" option of posting housekeeping as a task onto the event
// loop's own wake queue rather than giving it a second thread that would
// need to lock Link internals.
package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/xid"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/srtlabond/bond/bondcfg"
	"github.com/srtlabond/bond/iface"
	"github.com/srtlabond/bond/linkstate"
	"github.com/srtlabond/bond/logbuf"
	"github.com/srtlabond/bond/reconnect"
	"github.com/srtlabond/bond/registration"
	"github.com/srtlabond/bond/scheduler"
	"github.com/srtlabond/bond/seqindex"
)

// maxDatagramSize bounds the reusable receive buffers at the network's
// MTU (spec.md §5's buffer-discipline rule).
const maxDatagramSize = 1500

// deadLinkPurgeAfter is how long a Failed/Disconnected link may sit in
// the link list, with no reconnection pending, before housekeeping
// purges it (spec.md §4.7 step 6).
const deadLinkPurgeAfter = 5 * time.Minute

// reconnectAction is the Action value this package hands to
// reconnect.Manager: enough information to recreate a Link on the named
// interface.
type reconnectAction struct {
	handle iface.Handle
}

// Session is one running bonded connection: a local source-facing
// socket, a set of Links to the aggregation server, and the
// registration/scheduling/sequence-index state that ties them together.
type Session struct {
	id xid.ID

	serverAddr *net.UDPAddr
	sourceConn *net.UDPConn
	sourceAddr *net.UDPAddr

	links []*linkstate.Link

	coordinator  *registration.Coordinator
	selector     *scheduler.Selector
	seqIdx       *seqindex.Index
	reconnectMgr *reconnect.Manager

	ifaces       iface.InterfaceProvider
	ifaceChanges <-chan iface.Change
	known        map[string]bool
	deadSince    map[xid.ID]time.Time

	lastBytes   map[xid.ID]uint64
	lastPackets map[xid.ID]uint64

	log logbuf.Logger
	now func() time.Time

	snapshotLog io.Writer

	srcBuf  []byte
	linkBuf []byte

	lastAnyConnected time.Time

	stopCh  chan struct{}
	stopped bool
}

// New builds a Session bound to cfg.LocalPort and dialing
// cfg.ServerHost:cfg.ServerPort, using ifaces to discover and dial
// network paths. now is injected for deterministic tests; pass nil in
// production to use time.Now.
func New(cfg *bondcfg.Config, ifaces iface.InterfaceProvider, log logbuf.Logger, now func() time.Time) (*Session, error) {
	if now == nil {
		now = time.Now
	}
	serverAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort))
	if err != nil {
		return nil, fmt.Errorf("resolving server address: %w", err)
	}
	sourceConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.LocalPort})
	if err != nil {
		return nil, fmt.Errorf("listening for source: %w", err)
	}
	coordinator, err := registration.NewCoordinator(now)
	if err != nil {
		sourceConn.Close()
		return nil, fmt.Errorf("generating group id: %w", err)
	}

	var changes <-chan iface.Change
	if ch, err := ifaces.Subscribe(); err != nil {
		log.Warn("interface change subscription unavailable, falling back to periodic discovery: ", err)
	} else {
		changes = ch
	}

	s := &Session{
		id:               xid.New(),
		serverAddr:       serverAddr,
		sourceConn:       sourceConn,
		coordinator:      coordinator,
		selector:         scheduler.New(schedulerConfig(cfg), now),
		seqIdx:           seqindex.New(seqindex.DefaultCapacity, seqindex.DefaultAgeCap),
		reconnectMgr:     reconnect.NewManager(now),
		ifaces:           ifaces,
		ifaceChanges:     changes,
		known:            make(map[string]bool),
		deadSince:        make(map[xid.ID]time.Time),
		lastBytes:        make(map[xid.ID]uint64),
		lastPackets:      make(map[xid.ID]uint64),
		log:              log,
		now:              now,
		srcBuf:           make([]byte, maxDatagramSize),
		linkBuf:          make([]byte, maxDatagramSize),
		lastAnyConnected: now(),
		stopCh:           make(chan struct{}),
	}

	if initial, err := ifaces.List(); err != nil {
		log.Warn("initial interface discovery failed: ", err)
	} else {
		for _, h := range initial {
			if err := s.addLink(h); err != nil {
				s.scheduleReconnect(h)
			}
		}
	}

	return s, nil
}

// schedulerConfig translates the configuration table into a
// scheduler.Config, fixing MinSwitchInterval at spec.md §4.5's default
// (500ms) since it is not an exposed configuration knob.
func schedulerConfig(cfg *bondcfg.Config) scheduler.Config {
	return scheduler.Config{
		StickinessEnabled:      cfg.StickinessEnabled,
		QualityScoringEnabled:  cfg.QualityScoringEnabled,
		NetworkPriorityEnabled: cfg.NetworkPriorityEnabled,
		ExplorationEnabled:     cfg.ExplorationEnabled,
		ClassicMode:            cfg.ClassicMode,
		MinSwitchInterval:      500 * time.Millisecond,
	}
}

// Stop signals Run's event loop to exit at its next iteration. Safe to
// call more than once or from a goroutine other than Run's.
func (s *Session) Stop() {
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
}

// addLink dials a fresh socket on handle's interface and, on success,
// adds it to the active link set. On failure the Link is never added;
// the caller is expected to schedule a reconnection attempt instead.
func (s *Session) addLink(handle iface.Handle) error {
	link := linkstate.NewLink(handle, handle.Transport, s.ifaces.Dial, s.serverAddr, s.now)
	if err := link.Connect(); err != nil {
		s.log.Warn("connect failed on ", handle.IfaceName, ": ", err)
		return err
	}
	s.links = append(s.links, link)
	s.selector.SetLinks(s.links)
	s.known[handle.IfaceName] = true
	s.log.Info("link added: ", handle.IfaceName, " (", handle.Transport, ")")
	// A topology change: if the group already has a server-assigned id,
	// hand it to the new link directly rather than waiting for its own
	// REG_NGP/REG1 round (registration.Coordinator.RebroadcastReg2 is a
	// no-op before the group id exists).
	s.coordinator.RebroadcastReg2(s.links)
	return nil
}

func (s *Session) scheduleReconnect(handle iface.Handle) {
	s.reconnectMgr.Schedule(handle.IfaceName, reconnectAction{handle: handle})
}

// anyConnected reports whether at least one Link has reached Connected.
func (s *Session) anyConnected() bool {
	for _, l := range s.links {
		if l.RegState == linkstate.Connected {
			return true
		}
	}
	return false
}

// handleOf recovers the iface.Handle a Link was created with, so it can
// be handed back to the reconnection manager or interface discovery.
func handleOf(l *linkstate.Link) (iface.Handle, bool) {
	h, ok := l.Handle.(iface.Handle)
	return h, ok
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// forwardToSource writes pkt verbatim to the learned source address. A
// no-op before the first source packet has been seen.
func (s *Session) forwardToSource(pkt []byte) {
	if s.sourceAddr == nil {
		return
	}
	if _, err := s.sourceConn.WriteToUDP(pkt, s.sourceAddr); err != nil {
		s.log.Warn("forwarding to source failed: ", err)
	}
}

// ActiveConnections returns the number of Links currently Connected via
// this session's registration coordinator.
func (s *Session) ActiveConnections() int {
	return s.coordinator.ActiveConnections()
}

// LinkCount returns the number of Links currently tracked, regardless
// of registration state.
func (s *Session) LinkCount() int {
	return len(s.links)
}

// SourceAddr returns the learned source address, or nil before the
// first source packet has been seen.
func (s *Session) SourceAddr() *net.UDPAddr {
	return s.sourceAddr
}

// linkLabels builds the transport_type/link_id Prometheus label pair for l.
func linkLabels(l *linkstate.Link) prometheus.Labels {
	return prometheus.Labels{"transport_type": l.Type.String(), "link_id": l.ID.String()}
}
