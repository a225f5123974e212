package metadata

import (
	"bytes"
	"strings"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	c := New()
	c.SetInt(GapKey(0), 2)
	c.SetInt(GapKey(1), 0)
	c.SetInt(GroupCountKey(), 3)
	c.Set(VariantKey("highlight"), "braced")
	c.Set(SourceHashKey(), "deadbeef")

	part := c.MarshalPart()
	decoded, err := ParsePart(part)
	if err != nil {
		t.Fatalf("ParsePart failed: %v", err)
	}

	if got := decoded.GetInt(GapKey(0), -1); got != 2 {
		t.Errorf("gap 0 = %d, want 2", got)
	}
	if got := decoded.GetInt(GapKey(1), -1); got != 0 {
		t.Errorf("gap 1 = %d, want 0", got)
	}
	if got := decoded.GetInt(GroupCountKey(), -1); got != 3 {
		t.Errorf("group count = %d, want 3", got)
	}
	if v, _ := decoded.Get(VariantKey("highlight")); v != "braced" {
		t.Errorf("variant = %q, want braced", v)
	}
	if v, _ := decoded.Get(SourceHashKey()); v != "deadbeef" {
		t.Errorf("source hash = %q", v)
	}
}

func TestCodecChunkedValue(t *testing.T) {
	// A value well over the per-entry limit must be chunked on write and
	// reassembled on read.
	large := strings.Repeat(`{"id":"smith2020","locator":"20"},`, 64)
	c := New()
	c.Set(CiteKey(0), large)
	c.SetInt(GapKey(0), 1)

	part := c.MarshalPart()
	if !bytes.Contains(part, []byte(`#len`)) {
		t.Fatal("expected chunk-count entry for oversized value")
	}
	if !bytes.Contains(part, []byte(`#0`)) {
		t.Fatal("expected first chunk entry for oversized value")
	}

	decoded, err := ParsePart(part)
	if err != nil {
		t.Fatalf("ParsePart failed: %v", err)
	}
	got, ok := decoded.Get(CiteKey(0))
	if !ok {
		t.Fatal("chunked value missing after reassembly")
	}
	if got != large {
		t.Errorf("chunked value corrupted: got %d bytes, want %d", len(got), len(large))
	}
	if decoded.GetInt(GapKey(0), -1) != 1 {
		t.Error("small entry lost alongside chunked one")
	}
}

func TestCodecDeterministicOutput(t *testing.T) {
	build := func() []byte {
		c := New()
		c.SetInt(GapKey(2), 3)
		c.SetInt(GapKey(0), 1)
		c.Set(VariantKey("italic"), "underscore")
		return c.MarshalPart()
	}
	if !bytes.Equal(build(), build()) {
		t.Error("identical entries must serialize byte-identically")
	}
}

func TestCodecMissingEntryDefaults(t *testing.T) {
	c := New()
	c.Set(GapKey(0), "not a number")
	part := c.MarshalPart()
	decoded, err := ParsePart(part)
	if err != nil {
		t.Fatalf("ParsePart failed: %v", err)
	}
	// Malformed entry degrades to the caller's default.
	if got := decoded.GetInt(GapKey(0), 1); got != 1 {
		t.Errorf("malformed gap = %d, want default 1", got)
	}
	if got := decoded.GetInt(GapKey(9), 1); got != 1 {
		t.Errorf("missing gap = %d, want default 1", got)
	}
}

func TestCodecMissingChunkDegrades(t *testing.T) {
	large := strings.Repeat("x", 1000)
	c := New()
	c.Set(CiteKey(0), large)
	part := string(c.MarshalPart())

	// Drop the first chunk entry entirely.
	start := strings.Index(part, `name="`+CiteKey(0)+`#0"`)
	if start < 0 {
		t.Fatal("chunk entry not found in part")
	}
	open := strings.LastIndex(part[:start], "<property")
	end := strings.Index(part[start:], "</property>") + start + len("</property>")
	mutilated := part[:open] + part[end:]

	decoded, err := ParsePart([]byte(mutilated))
	if err != nil {
		t.Fatalf("ParsePart failed: %v", err)
	}
	if _, ok := decoded.Get(CiteKey(0)); ok {
		t.Error("incomplete chunk set should leave the entry absent")
	}
}

func TestCodecEscaping(t *testing.T) {
	c := New()
	c.Set(VariantKey("weird"), `a <b> & "c"`)
	decoded, err := ParsePart(c.MarshalPart())
	if err != nil {
		t.Fatalf("ParsePart failed: %v", err)
	}
	if v, _ := decoded.Get(VariantKey("weird")); v != `a <b> & "c"` {
		t.Errorf("escaped value = %q", v)
	}
}
