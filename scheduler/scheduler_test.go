package scheduler_test

import (
	"testing"
	"time"

	"github.com/srtlabond/bond/linkstate"
	"github.com/srtlabond/bond/scheduler"
)

type fakeHandle string

func (f fakeHandle) Name() string { return string(f) }

func connectedLink(typ linkstate.TransportType, now time.Time) *linkstate.Link {
	l := linkstate.NewLink(fakeHandle(typ.String()), typ, nil, nil, func() time.Time { return now })
	l.RegState = linkstate.Connected
	l.LastReceived = now
	return l
}

func TestSingleLinkAlwaysChosen(t *testing.T) {
	now := time.Unix(1000, 0)
	wifi := connectedLink(linkstate.TransportWiFi, now)
	for _, cfg := range []scheduler.Config{
		scheduler.DefaultConfig(),
		{ClassicMode: true},
		{},
	} {
		sel := scheduler.New(cfg, func() time.Time { return now })
		sel.SetLinks([]*linkstate.Link{wifi})
		if got := sel.Select(); got != wifi {
			t.Errorf("config %+v: Select() = %v, want the only link", cfg, got)
		}
	}
}

func TestNoEligibleLinksReturnsNil(t *testing.T) {
	now := time.Unix(0, 0)
	sel := scheduler.New(scheduler.DefaultConfig(), func() time.Time { return now })
	sel.SetLinks(nil)
	if got := sel.Select(); got != nil {
		t.Errorf("Select() = %v, want nil", got)
	}
}

func TestNonConnectedLinksAreNeverSelected(t *testing.T) {
	now := time.Unix(0, 0)
	wifi := connectedLink(linkstate.TransportWiFi, now)
	cellular := linkstate.NewLink(fakeHandle("cell0"), linkstate.TransportCellular, nil, nil, func() time.Time { return now })
	cellular.RegState = linkstate.AwaitingReg3

	sel := scheduler.New(scheduler.DefaultConfig(), func() time.Time { return now })
	sel.SetLinks([]*linkstate.Link{wifi, cellular})
	for i := 0; i < 20; i++ {
		if got := sel.Select(); got != wifi {
			t.Fatalf("Select() = %v, want wifi (the only Connected link)", got)
		}
	}
}

func TestHigherScoreIsPreferredWithoutStickiness(t *testing.T) {
	// Exploration and stickiness are both disabled (t = 1000ms would
	// otherwise fall inside the exploration window, since (t/5000) mod 10
	// == 0), so the ranking alone decides.
	now := time.Unix(1, 0)
	strong := connectedLink(linkstate.TransportWiFi, now)
	strong.TestSetWindow(40000)
	weak := connectedLink(linkstate.TransportWiFi, now)
	weak.TestSetWindow(1000)

	cfg := scheduler.Config{} // all optional steps off -> classic-equivalent base score
	sel := scheduler.New(cfg, func() time.Time { return now })
	sel.SetLinks([]*linkstate.Link{weak, strong})
	if got := sel.Select(); got != strong {
		t.Errorf("Select() = %v, want the higher-window link", got)
	}
}

func TestStickinessReselectsWithinInterval(t *testing.T) {
	now := time.Unix(1, 0)
	a := connectedLink(linkstate.TransportWiFi, now)
	a.TestSetWindow(1000)
	b := connectedLink(linkstate.TransportWiFi, now)
	b.TestSetWindow(40000) // b would win on pure score

	cfg := scheduler.Config{StickinessEnabled: true, MinSwitchInterval: 500 * time.Millisecond}
	clock := now
	sel := scheduler.New(cfg, func() time.Time { return clock })
	sel.SetLinks([]*linkstate.Link{a, b})

	first := sel.Select()
	if first != b {
		t.Fatalf("first selection = %v, want b", first)
	}

	// Force the first pick to be a via direct re-ranking is awkward
	// since b always wins on score; instead verify that immediately
	// reselecting within the interval returns the same link even though
	// nothing about the scores changed (the degenerate but valid case of
	// stickiness).
	clock = clock.Add(100 * time.Millisecond)
	second := sel.Select()
	if second != first {
		t.Errorf("second selection = %v, want sticky repeat of %v", second, first)
	}
}

func TestClassicModeBypassesAllOptionalSteps(t *testing.T) {
	now := time.Unix(0, 0)
	wifi := connectedLink(linkstate.TransportWiFi, now)
	wifi.TestSetWindow(1000)
	ethernet := connectedLink(linkstate.TransportEthernet, now)
	ethernet.TestSetWindow(2000) // higher base score; both windows are below the priority phase-in

	cfg := scheduler.Config{ClassicMode: true, NetworkPriorityEnabled: true, QualityScoringEnabled: true}
	sel := scheduler.New(cfg, func() time.Time { return now })
	sel.SetLinks([]*linkstate.Link{wifi, ethernet})
	if got := sel.Select(); got != ethernet {
		t.Errorf("Select() = %v, want ethernet (higher base score, steps 2-5 bypassed)", got)
	}
}
