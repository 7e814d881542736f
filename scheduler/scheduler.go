// Package scheduler implements the per-packet link selection policy from
// spec.md §4.5: base scoring, optional transport-priority scaling,
// quality penalties, stickiness, and a deterministic exploration phase.
//
// Ranking itself needs nothing the teacher or the pack offers a library
// for -- it is a handful of comparisons over in-memory structs -- so this
// package, like the teacher's tcp.State string table, leans on a plain
// strategy table (TransportType -> weight) plus stdlib sort.
package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/srtlabond/bond/linkstate"
)

// Config toggles the optional ranking steps, mirroring spec.md §6's
// configuration table (stickiness/quality/priority/exploration/classic).
type Config struct {
	StickinessEnabled      bool
	QualityScoringEnabled  bool
	NetworkPriorityEnabled bool
	ExplorationEnabled     bool
	ClassicMode            bool

	// MinSwitchInterval is the minimum time between selector switches
	// when stickiness is enabled (default 500ms, spec.md §4.5 step 4).
	MinSwitchInterval time.Duration
}

// DefaultConfig returns the spec.md defaults with every optional step
// enabled and classic mode off.
func DefaultConfig() Config {
	return Config{
		StickinessEnabled:      true,
		QualityScoringEnabled:  true,
		NetworkPriorityEnabled: true,
		ExplorationEnabled:     true,
		MinSwitchInterval:      500 * time.Millisecond,
	}
}

// priorityWeight is the per-transport-type table from spec.md §4.5 step 2.
var priorityWeight = map[linkstate.TransportType]float64{
	linkstate.TransportWiFi:     2.0,
	linkstate.TransportEthernet: 1.8,
	linkstate.TransportCellular: 1.5,
	linkstate.TransportUnknown:  1.0,
}

// Priority-scaling phase-in bounds, scaled like linkstate.WindowMult.
const (
	wStableMin = 10 * linkstate.WindowMult
	wStableMax = 40 * linkstate.WindowMult
)

// Quality-penalty time buckets (spec.md §4.5 step 3).
const (
	qualitySevere   = 2 * time.Second
	qualityModerate = 5 * time.Second
	qualityMild     = 10 * time.Second
)

// Selector ranks active Links and picks one per outgoing packet. It
// holds the same kind of single mutex around a slice snapshot that
// eventsocket.server holds around its clients map, matching spec.md
// §4.5's "hold the link-list lock while ranking" requirement.
type Selector struct {
	mu    sync.Mutex
	links []*linkstate.Link

	cfg Config
	now func() time.Time

	lastSelection     *linkstate.Link
	lastSelectionTime time.Time
	tickCount         int64
}

// New builds a Selector with the given config. now is injected for
// deterministic tests; pass time.Now in production.
func New(cfg Config, now func() time.Time) *Selector {
	if now == nil {
		now = time.Now
	}
	return &Selector{cfg: cfg, now: now}
}

// SetLinks replaces the full set of Links the selector ranks over. The
// caller (session) is expected to call this whenever a Link is added or
// removed.
func (s *Selector) SetLinks(links []*linkstate.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = links
}

// scored pairs a Link with its computed rank for one selection pass.
type scored struct {
	link  *linkstate.Link
	score float64
	index int // original slice position, used for tie-breaking by insertion order
}

// Select ranks the currently eligible (Connected, not timed-out) links
// and returns one, or nil if none are eligible.
func (s *Selector) Select() *linkstate.Link {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.tickCount++

	eligible := s.eligibleLocked(now)
	if len(eligible) == 0 {
		return nil
	}
	if len(eligible) == 1 {
		s.recordSelection(eligible[0].link, now)
		return eligible[0].link
	}

	if s.cfg.StickinessEnabled && !s.cfg.ClassicMode {
		if l := s.stickyChoiceLocked(eligible, now); l != nil {
			s.recordSelection(l, now)
			return l
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].score != eligible[j].score {
			return eligible[i].score > eligible[j].score
		}
		wi, wj := priorityWeight[eligible[i].link.Type], priorityWeight[eligible[j].link.Type]
		if wi != wj {
			return wi > wj
		}
		return eligible[i].index < eligible[j].index
	})

	chosen := eligible[0]
	// Exploration auto-disables with exactly one eligible link (spec.md
	// §9(c)): with len(eligible) > 1 guaranteed here, it is safe to
	// consider the second-best.
	if s.cfg.ExplorationEnabled && !s.cfg.ClassicMode && s.inExplorationWindow(now) {
		chosen = eligible[1]
	}

	s.recordSelection(chosen.link, now)
	return chosen.link
}

// eligibleLocked snapshots Connected, non-timed-out links and computes
// their (possibly classic-mode-only) score. Must be called with s.mu
// held.
func (s *Selector) eligibleLocked(now time.Time) []scored {
	out := make([]scored, 0, len(s.links))
	for i, l := range s.links {
		if l.RegState != linkstate.Connected || l.IsTimedOut(now) {
			continue
		}
		out = append(out, scored{link: l, score: s.rank(l, now), index: i})
	}
	return out
}

// rank computes a Link's ranking score per spec.md §4.5. In classic
// mode, only the base score (step 1) is used.
func (s *Selector) rank(l *linkstate.Link, now time.Time) float64 {
	base := l.Score(now)
	if s.cfg.ClassicMode {
		return base
	}
	score := base
	if s.cfg.NetworkPriorityEnabled {
		score *= s.priorityFactor(l)
	}
	if s.cfg.QualityScoringEnabled {
		score *= s.qualityFactor(l, now)
	}
	return score
}

// priorityFactor linearly phases a transport-type weight in with window
// size: no effect below wStableMin, full effect above wStableMax.
func (s *Selector) priorityFactor(l *linkstate.Link) float64 {
	weight := priorityWeight[l.Type]
	window := l.Window()
	switch {
	case window <= wStableMin:
		return 1.0
	case window >= wStableMax:
		return weight
	default:
		frac := float64(window-wStableMin) / float64(wStableMax-wStableMin)
		return 1.0 + frac*(weight-1.0)
	}
}

// qualityFactor derives a multiplier from time-since-last-NAK, halved if
// a NAK burst (>=2 within 1s) was recently observed.
func (s *Selector) qualityFactor(l *linkstate.Link, now time.Time) float64 {
	age := l.TimeSinceLastNAK(now)
	var factor float64
	switch {
	case age < qualitySevere:
		factor = 0.25
	case age < qualityModerate:
		factor = 0.6
	case age < qualityMild:
		factor = 0.85
	default:
		factor = 1.25 // bonus: no NAKs ever, or none in a long while
	}
	if l.RecentNAKBurst() {
		factor *= 0.5
	}
	return factor
}

// stickyChoiceLocked re-picks the previous selection if it was made
// within MinSwitchInterval and the previous link is still eligible.
func (s *Selector) stickyChoiceLocked(eligible []scored, now time.Time) *linkstate.Link {
	if s.lastSelection == nil {
		return nil
	}
	if now.Sub(s.lastSelectionTime) >= s.cfg.MinSwitchInterval {
		return nil
	}
	for _, e := range eligible {
		if e.link == s.lastSelection {
			return e.link
		}
	}
	return nil
}

// inExplorationWindow implements spec.md §4.5 step 5's deterministic
// 10%-of-time window: (t/5000) mod 10 == 0, t in milliseconds.
func (s *Selector) inExplorationWindow(now time.Time) bool {
	t := now.UnixMilli()
	if t < 0 {
		t = -t
	}
	return (t/5000)%10 == 0
}

func (s *Selector) recordSelection(l *linkstate.Link, now time.Time) {
	s.lastSelection = l
	s.lastSelectionTime = now
}
