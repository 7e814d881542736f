package linkstate

// inFlightCap is the hardware-chosen cap on the number of outstanding
// sequence numbers a single Link remembers (spec.md §3).
const inFlightCap = 256

// inFlightLog is a bounded log of sequence numbers a Link has
// transmitted and not yet had acknowledged or NAK-ed. It is a simple
// ring buffer: once full, the oldest entry is overwritten. Lookups are
// linear, matching spec.md §4.2's "linear (or set) search" contract --
// the cap keeps that search cheap.
type inFlightLog struct {
	seqs  [inFlightCap]uint32
	valid [inFlightCap]bool
	next  int
	count int
}

func (l *inFlightLog) add(seq uint32) {
	wasValid := l.valid[l.next]
	l.seqs[l.next] = seq
	l.valid[l.next] = true
	l.next = (l.next + 1) % inFlightCap
	if !wasValid {
		l.count++
	}
}

// remove deletes seq from the log if present, reporting whether it was
// found.
func (l *inFlightLog) remove(seq uint32) bool {
	for i := range l.seqs {
		if l.valid[i] && l.seqs[i] == seq {
			l.valid[i] = false
			l.count--
			return true
		}
	}
	return false
}

// contains reports whether seq is currently tracked.
func (l *inFlightLog) contains(seq uint32) bool {
	for i := range l.seqs {
		if l.valid[i] && l.seqs[i] == seq {
			return true
		}
	}
	return false
}

// removeUpTo removes every tracked sequence number <= seq (used for
// SRTLA-style ACK handling, which acknowledges everything up to a
// cumulative point) and reports how many were removed.
func (l *inFlightLog) removeUpTo(seq uint32) int {
	removed := 0
	for i := range l.seqs {
		if l.valid[i] && l.seqs[i] <= seq {
			l.valid[i] = false
			l.count--
			removed++
		}
	}
	return removed
}

// len reports the number of sequence numbers currently tracked.
func (l *inFlightLog) len() int {
	return l.count
}
