// Package benchmark implements the fixed-capacity latency-tracing timeline
// spec §4.8 describes.
//
// Grounded on original_source/include/benchmark.h (timeline_entry_t,
// timeline_t<N>, fixed_timeline_t = timeline_t<2048>) and its
// mark_timepoint free function. REDESIGN FLAGS §9 applies: the source
// dispatches through an implicit thread-local singleton looked up under a
// global mutex; here a Tracer is an explicit handle constructed once per
// goroutine that wants tracing and passed down explicitly to whatever it
// spawns, so its lifetime is observable rather than hidden in TLS.
package benchmark

import "time"

// Capacity matches the source's fixed_timeline_t = timeline_t<2048>.
const Capacity = 2048

// Entry is one recorded timepoint: a timestamp and a short name.
type Entry struct {
	Time time.Time
	Name string
}

// Tracer is a fixed-capacity, append-only timeline. Mark silently drops
// once Capacity entries have been recorded — exactly the source's
// append() returning false once cur_index >= N, except Go's Tracer embeds
// the drop inside Mark rather than exposing a separate boolean return,
// since no caller in this domain inspects it.
type Tracer struct {
	entries []Entry
}

// NewTracer constructs an explicit tracer handle. Callers that want
// per-goroutine tracing construct one and pass it down explicitly — there
// is no global registry to look up implicitly.
func NewTracer() *Tracer {
	return &Tracer{entries: make([]Entry, 0, Capacity)}
}

// Mark records name at the current time, truncating name to 15 bytes to
// mirror the source's NAME_LENGTH=15 fixed buffer. Once Capacity entries
// have been recorded, further marks are silently dropped.
func (t *Tracer) Mark(name string) {
	if len(t.entries) >= Capacity {
		return
	}
	if len(name) > 15 {
		name = name[:15]
	}
	t.entries = append(t.entries, Entry{Time: time.Now(), Name: name})
}

// Entries returns the recorded timeline in insertion order.
func (t *Tracer) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries recorded so far.
func (t *Tracer) Len() int {
	return len(t.entries)
}
