// Package stream implements the Stream Core: capability negotiation (C1),
// the destination registry (C2), the Sender (C3), the Receiver (C4), and
// the per-chart publication protocol (C5) of the streaming subsystem.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stream

// Capability is the bitfield both peers advertise and intersect during
// handshake (§4.1). Framing-version bits are mutually exclusive in the
// *negotiated* result (post-reduction); a peer may advertise several at
// once to describe its full range of support.
type Capability uint64

const (
	V1 Capability = 1 << iota
	V2
	VN
	VCAPS

	HLABELS      // host labels
	CLABELS      // chart labels
	CLAIM        // claim-id propagation
	DYNCFG       // dynamic configuration
	FUNCTIONS    // exposed functions
	REPLICATION  // replication handshake
	BINARY       // binary metric encoding
	INTERPOLATED // interpolated v2 framing (BEGIN_V2/SET_V2/END_V2)
	IEEE754      // IEEE-754 float encoding (BASE64) vs DECIMAL/HEX
	DATA_WITH_ML // anomaly-info-with-data
	SLOTS        // slot indices shorten chart/dim references

	CompLZ4
	CompZSTD
	CompGZIP
	CompBROTLI
)

// compressionBits is every compressor capability bit, used to carry the
// negotiated set through to codec selection (see compress.go).
const compressionBits = CompLZ4 | CompZSTD | CompGZIP | CompBROTLI

// LocalSupported is everything this implementation knows how to speak.
// A real daemon would trim this per build (e.g. drop BROTLI if the
// codec wasn't compiled in); Stream Core callers pass their own value
// rather than relying on a package global (DESIGN NOTES §9).
const LocalSupported = V1 | V2 | VN | VCAPS |
	HLABELS | CLABELS | CLAIM | DYNCFG | FUNCTIONS | REPLICATION |
	BINARY | INTERPOLATED | IEEE754 | DATA_WITH_ML | SLOTS |
	CompLZ4 | CompZSTD | CompGZIP | CompBROTLI

// versionRanges implements §4.1's "lowest version maps to V1; successive
// ranges add host-labels, claim, chart-labels, LZ4" integer-to-capability
// mapping for peers that present a bare protocol integer instead of a
// raw mask.
var versionRanges = []struct {
	min  int
	caps Capability
}{
	{1, V1},
	{2, V1 | HLABELS},
	{3, V1 | HLABELS | CLAIM},
	{4, V1 | HLABELS | CLAIM | CLABELS},
	{5, V1 | HLABELS | CLAIM | CLABELS | CompLZ4},
}

// FromVersion maps an advertised protocol integer to a capability set.
// An integer that maps to nothing recognized (<=0, or newer than any
// known range is still handled: the highest known range applies)
// degrades to bare V1 - §4.1 "Failure" case, and not an error.
func FromVersion(n int) Capability {
	if n <= 0 {
		return V1
	}
	caps := versionRanges[0].caps
	for _, r := range versionRanges {
		if n >= r.min {
			caps = r.caps
		}
	}
	return caps
}

// Reduce computes the negotiated capability set from what each side
// advertises and this side's own support, applying the §4.1
// post-reduction rules in order, then stripping any host-scoped
// disabled bits (e.g. a parent configured to never stream ML data).
func Reduce(localSupported, advertisedLocal, advertisedPeer, disabled Capability) Capability {
	caps := localSupported & advertisedLocal & advertisedPeer

	switch {
	case caps&VCAPS != 0:
		caps &^= V1 | V2 | VN
	case caps&VN != 0:
		caps &^= V1 | V2
	case caps&V2 != 0:
		caps &^= V1
	}
	caps &^= disabled
	if caps&INTERPOLATED == 0 {
		// covers both a peer that never advertised INTERPOLATED and a
		// host-scoped disable mask that stripped it just above
		caps &^= DATA_WITH_ML
	}
	return caps
}

// NegotiateVersion is the common case: the peer presented a bare
// protocol integer (legacy handshake) rather than a capability mask.
func NegotiateVersion(localSupported Capability, peerVersion int, disabled Capability) Capability {
	return Reduce(localSupported, localSupported, FromVersion(peerVersion), disabled)
}

// NegotiateMask is used when the peer presents a raw capability mask
// (VCAPS-capable peers exchange masks directly rather than versions).
func NegotiateMask(localSupported, peerMask, disabled Capability) Capability {
	return Reduce(localSupported, localSupported, peerMask, disabled)
}

func (c Capability) Has(bit Capability) bool { return c&bit != 0 }

// UsesV2 reports whether the negotiated set selects BEGIN_V2/SET_V2/END_V2
// framing over legacy BEGIN/SET/END. Gated on INTERPOLATED, not the
// version bits: a peer can negotiate VCAPS/VN without INTERPOLATED and
// must still speak v1 framing (§4.3, rrdpush.c:570, S4).
func (c Capability) UsesV2() bool { return c.Has(INTERPOLATED) }

// Compressors returns the subset of c that names a compressor, in the
// preference order LZ4 > ZSTD > BROTLI > GZIP (lightest CPU cost first;
// matches the order the teacher's transport.Extra.Compression enum is
// usually tried in practice).
func (c Capability) Compressors() []Capability {
	order := []Capability{CompLZ4, CompZSTD, CompBROTLI, CompGZIP}
	out := make([]Capability, 0, 4)
	for _, bit := range order {
		if c.Has(bit) {
			out = append(out, bit)
		}
	}
	return out
}

func (c Capability) String() string {
	names := []struct {
		bit  Capability
		name string
	}{
		{V1, "V1"}, {V2, "V2"}, {VN, "VN"}, {VCAPS, "VCAPS"},
		{HLABELS, "HLABELS"}, {CLABELS, "CLABELS"}, {CLAIM, "CLAIM"},
		{DYNCFG, "DYNCFG"}, {FUNCTIONS, "FUNCTIONS"}, {REPLICATION, "REPLICATION"},
		{BINARY, "BINARY"}, {INTERPOLATED, "INTERPOLATED"}, {IEEE754, "IEEE754"},
		{DATA_WITH_ML, "DATA_WITH_ML"}, {SLOTS, "SLOTS"},
		{CompLZ4, "LZ4"}, {CompZSTD, "ZSTD"}, {CompGZIP, "GZIP"}, {CompBROTLI, "BROTLI"},
	}
	s := ""
	for _, n := range names {
		if c.Has(n.bit) {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return "none"
	}
	return s
}
