package stream

import (
	"encoding/base64"
	"encoding/binary"
	"strings"
	"testing"
)

func decodeB64Int(t *testing.T, s string) int64 {
	t.Helper()
	b, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("bad base64 field %q: %v", s, err)
	}
	if len(b) != 8 {
		t.Fatalf("want 8 bytes, got %d", len(b))
	}
	return int64(binary.BigEndian.Uint64(b))
}

// S1: minimal v2 tick - one chart, one dimension, wall clock equal to
// point_end_time (compressed to "#"), value unchanged from
// last_collected (also compressed to "#").
func TestS1MinimalV2Tick(t *testing.T) {
	caps := INTERPOLATED | IEEE754 | V2
	buf := NewStreamBuffer(caps)
	f := NewFramer(caps)

	const pointEnd = int64(1700000000)
	f.WriteBeginV2(buf, 0, "cpu.user", 1, pointEnd, pointEnd)
	f.WriteSetV2(buf, 0, "user", 42, 42, FlagExists)
	f.WriteEndV2(buf)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), lines)
	}

	beginFields := strings.Fields(lines[0])
	if beginFields[0] != "BEGIN_V2" || beginFields[1] != "'cpu.user'" {
		t.Fatalf("bad BEGIN_V2 header: %q", lines[0])
	}
	if got := decodeB64Int(t, beginFields[3]); got != pointEnd {
		t.Errorf("point_end_time = %d, want %d", got, pointEnd)
	}
	if beginFields[4] != sameAsPrevious {
		t.Errorf("wall_clock field = %q, want %q (equal to point_end_time)", beginFields[4], sameAsPrevious)
	}

	setFields := strings.Fields(lines[1])
	if setFields[0] != "SET_V2" || setFields[1] != "'user'" {
		t.Fatalf("bad SET_V2 header: %q", lines[1])
	}
	if got := decodeB64Int(t, setFields[2]); got != 42 {
		t.Errorf("last_collected = %d, want 42", got)
	}
	if setFields[3] != sameAsPrevious {
		t.Errorf("unchanged value should compress to %q, got %q", sameAsPrevious, setFields[3])
	}
	if setFields[4] != `"A"` {
		t.Errorf("flag field = %q, want %q", setFields[4], `"A"`)
	}

	if lines[2] != "END_V2" {
		t.Errorf("expected END_V2, got %q", lines[2])
	}
}

// value compresses to "#" only against this same row's last_collected,
// not against a value from a previous SET_V2 call (rrdpush.c:462).
func TestSetV2ChangedValueNotCompressed(t *testing.T) {
	caps := INTERPOLATED
	buf := NewStreamBuffer(caps)
	f := NewFramer(caps)
	f.WriteSetV2(buf, 0, "user", 10, 20, FlagExists)
	if strings.Contains(buf.String(), sameAsPrevious) {
		t.Errorf("last_collected != value must not compress to %q: %q", sameAsPrevious, buf.String())
	}
	buf.Reset()
	f.WriteSetV2(buf, 0, "user", 20, 20, FlagExists)
	fields := strings.Fields(buf.String())
	if fields[3] != sameAsPrevious {
		t.Errorf("last_collected == value must compress, got %q", buf.String())
	}
}

func TestQuoteEscapesEmbeddedQuotes(t *testing.T) {
	got := quote(`he said "hi"`)
	want := `"he said \"hi\""`
	if got != want {
		t.Errorf("quote() = %q, want %q", got, want)
	}
}

func TestEncodeIntHexFallback(t *testing.T) {
	if got := encodeInt(255, false); got != "ff" {
		t.Errorf("encodeInt hex = %q, want ff", got)
	}
}

// P2: BEGIN_V2 ... END_V2 groups are balanced.
func TestBeginEndV2Balanced(t *testing.T) {
	caps := INTERPOLATED
	buf := NewStreamBuffer(caps)
	f := NewFramer(caps)
	f.WriteBeginV2(buf, 0, "x", 1, 10, 10)
	f.WriteSetV2(buf, 0, "d", 1, 1, FlagExists)
	f.WriteEndV2(buf)
	begins := strings.Count(buf.String(), "BEGIN_V2")
	ends := strings.Count(buf.String(), "END_V2")
	if begins != ends {
		t.Fatalf("unbalanced BEGIN_V2(%d)/END_V2(%d)", begins, ends)
	}
}
