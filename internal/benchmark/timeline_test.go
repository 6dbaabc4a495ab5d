package benchmark

import "testing"

func TestTracerDropsSilentlyOnceFull(t *testing.T) {
	tr := NewTracer()
	for i := 0; i < Capacity+10; i++ {
		tr.Mark("tick")
	}
	if tr.Len() != Capacity {
		t.Fatalf("expected len capped at %d, got %d", Capacity, tr.Len())
	}
}

func TestTracerTruncatesLongNames(t *testing.T) {
	tr := NewTracer()
	tr.Mark("this-name-is-way-too-long-for-the-fixed-buffer")
	entries := tr.Entries()
	if len(entries[0].Name) > 15 {
		t.Fatalf("expected name truncated to 15 bytes, got %q (%d)", entries[0].Name, len(entries[0].Name))
	}
}

func TestTracersAreIndependent(t *testing.T) {
	a := NewTracer()
	b := NewTracer()
	a.Mark("x")
	if b.Len() != 0 {
		t.Fatal("expected independent tracer handles, not a shared singleton")
	}
}
