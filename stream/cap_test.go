package stream

import "testing"

func TestFromVersion(t *testing.T) {
	cases := []struct {
		in   int
		want Capability
	}{
		{0, V1},
		{-1, V1},
		{1, V1},
		{2, V1 | HLABELS},
		{3, V1 | HLABELS | CLAIM},
		{4, V1 | HLABELS | CLAIM | CLABELS},
		{5, V1 | HLABELS | CLAIM | CLABELS | CompLZ4},
		{99, V1 | HLABELS | CLAIM | CLABELS | CompLZ4},
	}
	for _, c := range cases {
		if got := FromVersion(c.in); got != c.want {
			t.Errorf("FromVersion(%d) = %s, want %s", c.in, got, c.want)
		}
	}
}

// P5: both peers compute the same mask = advertised_child ∩
// advertised_parent ∩ local_support.
func TestReduceSymmetric(t *testing.T) {
	child := LocalSupported
	parent := V1 | V2 | HLABELS | CLAIM | CompLZ4 | INTERPOLATED | IEEE754
	a := Reduce(child, child, parent, 0)
	b := Reduce(parent, parent, child, 0)
	if a != b {
		t.Fatalf("asymmetric negotiation: child-side=%s parent-side=%s", a, b)
	}
}

func TestReduceStripsLowerVersions(t *testing.T) {
	caps := Reduce(LocalSupported, LocalSupported, V1|V2|VCAPS, 0)
	if caps.Has(V1) || caps.Has(V2) {
		t.Fatalf("VCAPS should strip V1/V2, got %s", caps)
	}
	if !caps.Has(VCAPS) {
		t.Fatalf("expected VCAPS to survive, got %s", caps)
	}
}

// S4: child advertises VCAPS|INTERPOLATED|DATA_WITH_ML, parent lacks
// INTERPOLATED -> both strip DATA_WITH_ML, falls back to v1 framing.
func TestS4CapabilityDegradation(t *testing.T) {
	childAdv := VCAPS | INTERPOLATED | DATA_WITH_ML
	parentAdv := VCAPS // no INTERPOLATED
	negotiated := Reduce(LocalSupported, childAdv, parentAdv, 0)
	if negotiated.Has(DATA_WITH_ML) {
		t.Fatalf("DATA_WITH_ML must be stripped when INTERPOLATED absent, got %s", negotiated)
	}
	if negotiated.Has(INTERPOLATED) {
		t.Fatalf("INTERPOLATED should not have survived, got %s", negotiated)
	}
	if negotiated.UsesV2() {
		t.Fatalf("expected v1 framing fallback, got v2-capable %s", negotiated)
	}
}

func TestDisabledMaskAppliesLast(t *testing.T) {
	caps := Reduce(LocalSupported, LocalSupported, LocalSupported, DATA_WITH_ML)
	if caps.Has(DATA_WITH_ML) {
		t.Fatalf("disabled mask should have stripped DATA_WITH_ML, got %s", caps)
	}
}

func TestCompressorsPreferenceOrder(t *testing.T) {
	caps := CompGZIP | CompLZ4 | CompBROTLI
	got := caps.Compressors()
	want := []Capability{CompLZ4, CompBROTLI, CompGZIP}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %s want %s", i, got[i], want[i])
		}
	}
}
