// Package logbuf implements the Logger external collaborator from
// spec.md §4.8: leveled logging (Error/Warn/Info/Debug/Trace) with a
// per-process ring buffer for postmortem inspection.
//
// It wraps github.com/sirupsen/logrus (promoted here from an indirect
// dependency of the retrieval pack's sockstats/conniver repos to direct
// use) with a custom logrus.Hook that appends every formatted line to a
// bounded FIFO buffer guarded by a sync.RWMutex, the same lock shape
// eventsocket.server uses around its clients map (spec.md §5: "the
// ring-buffer logger uses a read/write lock").
package logbuf

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the ring buffer's line capacity (spec.md §4.8: "~2,000 lines").
const DefaultCapacity = 2000

// Logger is the leveled logging contract spec.md §4.8 requires.
type Logger interface {
	Error(args ...interface{})
	Warn(args ...interface{})
	Info(args ...interface{})
	Debug(args ...interface{})
	Trace(args ...interface{})
	// Dump returns a snapshot of the ring buffer's contents, oldest first.
	Dump() []string
}

// ringHook is a logrus.Hook that appends every formatted entry to a
// bounded FIFO buffer, evicting the oldest line once capacity is
// reached.
type ringHook struct {
	mu       sync.RWMutex
	lines    []string
	capacity int
	next     int
	full     bool
}

func newRingHook(capacity int) *ringHook {
	return &ringHook{lines: make([]string, capacity), capacity: capacity}
}

func (h *ringHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *ringHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines[h.next] = line
	h.next = (h.next + 1) % h.capacity
	if h.next == 0 {
		h.full = true
	}
	return nil
}

func (h *ringHook) dump() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.full {
		out := make([]string, h.next)
		copy(out, h.lines[:h.next])
		return out
	}
	out := make([]string, h.capacity)
	copy(out, h.lines[h.next:])
	copy(out[h.capacity-h.next:], h.lines[:h.next])
	return out
}

// logrusLogger adapts *logrus.Logger to the Logger interface above.
type logrusLogger struct {
	*logrus.Logger
	hook *ringHook
}

// New builds a Logger at the given capacity (DefaultCapacity if <= 0)
// writing structured (text-formatted) entries, with every entry also
// captured in the ring buffer.
func New(capacity int) Logger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := logrus.New()
	l.SetLevel(logrus.TraceLevel)
	hook := newRingHook(capacity)
	l.AddHook(hook)
	return &logrusLogger{Logger: l, hook: hook}
}

func (l *logrusLogger) Dump() []string {
	return l.hook.dump()
}
