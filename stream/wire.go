// Wire encoding (§4.3, §6): v1 BEGIN/SET/END and v2 BEGIN_V2/SET_V2/END_V2
// framing, field quoting, and the BASE64/HEX/DECIMAL integer and float
// encodings the negotiated capability set selects between.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stream

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"strconv"
	"strings"
)

// sameAsPrevious is the v2 "#" compression marker (§4.3): a field equal
// to the previous record's value (or, for wall-clock, equal to
// point_end_time) is replaced with a bare "#" rather than re-sent.
const sameAsPrevious = "#"

// quote wraps s in double quotes, escaping any embedded quote or
// backslash - used for v1 CHART/DIMENSION/BEGIN/SET string fields.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// squote is the v2 framing's single-quote variant (§4.3 BEGIN_V2/SET_V2
// examples quote the chart/dim id with single quotes).
func squote(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		if r == '\'' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('\'')
	return b.String()
}

// encodeInt renders an integer per §4.3: BASE64 of its big-endian bytes
// when the IEEE754 capability was negotiated (the v2 framing's compact
// numeric form), else plain HEX.
func encodeInt(v int64, base64Form bool) string {
	if base64Form {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		return base64.RawStdEncoding.EncodeToString(buf[:])
	}
	return strconv.FormatInt(v, 16)
}

// encodeFloat renders a float per §4.3: BASE64 of its IEEE-754 bit
// pattern when negotiated, else plain decimal.
func encodeFloat(v float64, base64Form bool) string {
	if base64Form {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
		return base64.RawStdEncoding.EncodeToString(buf[:])
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SetFlag is the single-letter v2 SET_V2 flag (§4.3's "flag_string"):
// 'A' marks a normally collected, exists/updated point; other letters
// cover the reset/overflow/gap cases a collector can hit.
type SetFlag byte

const (
	FlagExists   SetFlag = 'A'
	FlagReset    SetFlag = 'R'
	FlagOverflow SetFlag = 'O'
	FlagEmpty    SetFlag = 'E'
)

// Framer writes one commit's worth of CHART/DIMENSION/value records into
// a StreamBuffer, choosing v1 or v2 framing from the negotiated
// Capability (§4.3).
type Framer struct {
	caps          Capability
	useBase64     bool // IEEE754 negotiated
	useSlots      bool // SLOTS negotiated
	lastWallClock int64
}

func NewFramer(caps Capability) *Framer {
	return &Framer{
		caps:      caps,
		useBase64: caps.Has(IEEE754),
		useSlots:  caps.Has(SLOTS),
	}
}

// WriteChartDef emits the CHART record and its DIMENSION children (§4.3
// "Chart definition emission"), in the fixed field order the protocol
// table lists.
func (f *Framer) WriteChartDef(buf *StreamBuffer, c *Chart) {
	buf.WriteString("CHART ")
	buf.WriteString(quote(c.ID))
	buf.WriteByte(' ')
	buf.WriteString(quote(c.Name))
	buf.WriteByte(' ')
	buf.WriteString(quote(c.Title))
	buf.WriteByte(' ')
	buf.WriteString(quote(c.Units))
	buf.WriteByte(' ')
	buf.WriteString(quote(c.Family))
	buf.WriteByte(' ')
	buf.WriteString(quote(c.Context))
	buf.WriteByte(' ')
	buf.WriteString(quote(string(c.Type)))
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(c.Priority))
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(c.UpdateEvery))
	buf.WriteByte(' ')
	buf.WriteString(quote(chartFlagString(c)))
	buf.WriteByte('\n')

	for _, d := range c.Dimensions {
		buf.WriteString("DIMENSION ")
		buf.WriteString(quote(d.ID))
		buf.WriteByte(' ')
		buf.WriteString(quote(d.Name))
		buf.WriteByte(' ')
		buf.WriteString(quote(algoString(d.Algorithm)))
		buf.WriteByte(' ')
		buf.WriteString(strconv.FormatInt(d.Multiplier, 10))
		buf.WriteByte(' ')
		buf.WriteString(strconv.FormatInt(d.Divisor, 10))
		buf.WriteByte(' ')
		buf.WriteString(quote(dimFlagString(d)))
		buf.WriteByte('\n')
	}
}

// WriteChartDefinitionEnd emits CHART_DEFINITION_END (§4.3), only valid
// when REPLICATION was negotiated - callers gate this on that bit.
func (f *Framer) WriteChartDefinitionEnd(buf *StreamBuffer, dbFirst, dbLast, now int64) {
	buf.WriteString("CHART_DEFINITION_END ")
	buf.WriteString(strconv.FormatInt(dbFirst, 10))
	buf.WriteByte(' ')
	buf.WriteString(strconv.FormatInt(dbLast, 10))
	buf.WriteByte(' ')
	buf.WriteString(strconv.FormatInt(now, 10))
	buf.WriteByte('\n')
}

// WriteBeginV1/WriteSetV1/WriteEndV1 implement the legacy per-point
// framing (§4.3 "v1").
func (f *Framer) WriteBeginV1(buf *StreamBuffer, c *Chart, usecSinceLast int64, resyncing bool) {
	buf.WriteString("BEGIN ")
	buf.WriteString(quote(c.ID))
	buf.WriteByte(' ')
	if resyncing {
		buf.WriteString("0")
	} else {
		buf.WriteString(strconv.FormatInt(usecSinceLast, 10))
	}
	buf.WriteByte('\n')
}

func (f *Framer) WriteSetV1(buf *StreamBuffer, dimID string, value int64) {
	buf.WriteString("SET ")
	buf.WriteString(quote(dimID))
	buf.WriteString(" = ")
	buf.WriteString(strconv.FormatInt(value, 10))
	buf.WriteByte('\n')
}

func (f *Framer) WriteEndV1(buf *StreamBuffer) { buf.WriteString("END\n") }

// WriteBeginV2 emits BEGIN_V2 (§4.3 "v2"). The wall-clock field is
// compressed to "#" when it equals pointEndTime, matching the S1
// example. slot is ignored unless SLOTS was negotiated.
func (f *Framer) WriteBeginV2(buf *StreamBuffer, slot int, chartID string, updateEvery int, pointEndTime, wallClock int64) {
	buf.WriteString("BEGIN_V2 ")
	if f.useSlots {
		buf.WriteString("SLOT:")
		buf.WriteString(strconv.Itoa(slot))
		buf.WriteByte(' ')
	}
	buf.WriteString(squote(chartID))
	buf.WriteByte(' ')
	buf.WriteString(encodeInt(int64(updateEvery), f.useBase64))
	buf.WriteByte(' ')
	buf.WriteString(encodeInt(pointEndTime, f.useBase64))
	buf.WriteByte(' ')
	if wallClock == pointEndTime {
		buf.WriteString(sameAsPrevious)
	} else {
		buf.WriteString(encodeInt(wallClock, f.useBase64))
	}
	buf.WriteByte('\n')
	f.lastWallClock = wallClock
}

// WriteSetV2 emits one SET_V2 row. value==lastCollected (the dimension's
// own collector.last_collected_value, carried in this same row) signals
// an unchanged reading and is compressed to "#" (§4.3, rrdpush.c:462).
func (f *Framer) WriteSetV2(buf *StreamBuffer, slot int, dimID string, lastCollected, value int64, flag SetFlag) {
	buf.WriteString("SET_V2 ")
	if f.useSlots {
		buf.WriteString("SLOT:")
		buf.WriteString(strconv.Itoa(slot))
		buf.WriteByte(' ')
	}
	buf.WriteString(squote(dimID))
	buf.WriteByte(' ')
	buf.WriteString(encodeInt(lastCollected, f.useBase64))
	buf.WriteByte(' ')
	if value == lastCollected {
		buf.WriteString(sameAsPrevious)
	} else {
		buf.WriteString(encodeInt(value, f.useBase64))
	}
	buf.WriteByte(' ')
	buf.WriteString(quote(string(flag)))
	buf.WriteByte('\n')
}

func (f *Framer) WriteEndV2(buf *StreamBuffer) { buf.WriteString("END_V2\n") }

func chartFlagString(c *Chart) string {
	var parts []string
	if c.Obsolete {
		parts = append(parts, "obsolete")
	}
	if c.Detail {
		parts = append(parts, "detail")
	}
	if c.StoreFirst {
		parts = append(parts, "store_first")
	}
	if c.Hidden {
		parts = append(parts, "hidden")
	}
	return strings.Join(parts, " ")
}

func dimFlagString(d *Dimension) string {
	var parts []string
	if d.Obsolete {
		parts = append(parts, "obsolete")
	}
	if d.Hidden {
		parts = append(parts, "hidden")
	}
	if d.NoResetDetect {
		parts = append(parts, "noresetdetect")
	}
	return strings.Join(parts, " ")
}

func algoString(a Algorithm) string {
	switch a {
	case AlgoIncremental:
		return "incremental"
	case AlgoPctOverRow:
		return "percentage-of-absolute-row"
	case AlgoPctOverDiff:
		return "percentage-of-incremental-row"
	default:
		return "absolute"
	}
}
