package seqindex_test

import (
	"testing"
	"time"

	"github.com/srtlabond/bond/seqindex"
)

func TestInsertAndLookup(t *testing.T) {
	idx := seqindex.New(10, time.Second)
	now := time.Unix(0, 0)
	idx.Insert(42, "wifi", now)

	link, ok := idx.Lookup(42, now)
	if !ok || link != "wifi" {
		t.Fatalf("Lookup = %v, %v, want wifi, true", link, ok)
	}
	// A lookup consumes the entry.
	if _, ok := idx.Lookup(42, now); ok {
		t.Error("expected second lookup to miss")
	}
	correct, fallback := idx.AttributionCounts()
	if correct != 1 || fallback != 1 {
		t.Errorf("counts = %d/%d, want 1/1", correct, fallback)
	}
}

func TestLookupMissIsFallback(t *testing.T) {
	idx := seqindex.New(10, time.Second)
	if _, ok := idx.Lookup(999, time.Unix(0, 0)); ok {
		t.Error("expected miss on unknown sequence")
	}
	_, fallback := idx.AttributionCounts()
	if fallback != 1 {
		t.Errorf("fallback = %d, want 1", fallback)
	}
}

func TestLookupExpiredEntryIsFallback(t *testing.T) {
	idx := seqindex.New(10, 5*time.Second)
	now := time.Unix(0, 0)
	idx.Insert(1, "wifi", now)

	later := now.Add(6 * time.Second)
	if _, ok := idx.Lookup(1, later); ok {
		t.Error("expected expired entry to miss")
	}
	_, fallback := idx.AttributionCounts()
	if fallback != 1 {
		t.Errorf("fallback = %d, want 1", fallback)
	}
	if idx.Len() != 0 {
		t.Errorf("expired entry should have been removed, Len = %d", idx.Len())
	}
}

func TestEvictionUnderLoad(t *testing.T) {
	// spec.md §8 scenario 3: capacity 100, 200 unique-sequence packets on
	// one link; the index must retain exactly the most recent 100
	// (sequences 100..199).
	idx := seqindex.New(100, time.Minute)
	base := time.Unix(0, 0)
	for i := 0; i < 200; i++ {
		evicted := idx.Insert(uint32(i), "wifi", base.Add(time.Duration(i)*time.Millisecond))
		if wantEvicted := i >= 100; evicted != wantEvicted {
			t.Errorf("Insert(%d) evicted = %v, want %v", i, evicted, wantEvicted)
		}
	}
	if idx.Len() != 100 {
		t.Fatalf("Len = %d, want 100", idx.Len())
	}
	for i := 0; i < 100; i++ {
		if _, ok := idx.Lookup(uint32(i), base.Add(200*time.Millisecond)); ok {
			t.Errorf("sequence %d should have been evicted", i)
		}
	}
	for i := 100; i < 200; i++ {
		link, ok := idx.Lookup(uint32(i), base.Add(200*time.Millisecond))
		if !ok || link != "wifi" {
			t.Errorf("sequence %d should still be present, got %v, %v", i, link, ok)
		}
	}
}

func TestEvictExpiredSweep(t *testing.T) {
	idx := seqindex.New(10, 5*time.Second)
	base := time.Unix(0, 0)
	idx.Insert(1, "a", base)
	idx.Insert(2, "b", base.Add(1*time.Second))
	idx.Insert(3, "c", base.Add(7*time.Second))

	removed := idx.EvictExpired(base.Add(8 * time.Second))
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if idx.Len() != 1 {
		t.Errorf("Len = %d, want 1", idx.Len())
	}
	if _, ok := idx.Lookup(3, base.Add(8*time.Second)); !ok {
		t.Error("sequence 3 should have survived the sweep")
	}
}

func TestUtilization(t *testing.T) {
	idx := seqindex.New(100, time.Minute)
	for i := 0; i < 85; i++ {
		idx.Insert(uint32(i), "wifi", time.Unix(0, 0))
	}
	if u := idx.Utilization(); u < 0.8 {
		t.Errorf("utilization = %f, want >= 0.8", u)
	}
}

func TestReinsertOfSameSequenceUpdatesLink(t *testing.T) {
	idx := seqindex.New(10, time.Minute)
	now := time.Unix(0, 0)
	idx.Insert(5, "wifi", now)
	idx.Insert(5, "cellular", now.Add(time.Second))

	link, ok := idx.Lookup(5, now.Add(time.Second))
	if !ok || link != "cellular" {
		t.Errorf("Lookup = %v, %v, want cellular, true", link, ok)
	}
	if idx.Len() != 0 {
		t.Errorf("Len = %d, want 0 after consuming lookup", idx.Len())
	}
}
