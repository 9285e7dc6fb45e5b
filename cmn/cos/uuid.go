// Package cos provides common low-level types and utilities shared across
// the Stream Core.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"fmt"

	"github.com/OneOfOne/xxhash"
	"github.com/candlerb/netdata/cmn/atomic"
	"github.com/teris-io/shortid"
)

// Alphabet for generating short tie-breaker tags, similar to
// shortid.DEFAULT_ABC. NOTE: len(uuidABC) > 0x3f - see GenTie().
const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

const tooLongID = 40 // generous enough for a UUID-format API key

var (
	sid  *shortid.Shortid
	rtie atomic.Uint32
)

func InitShortID(seed uint64) {
	sid = shortid.MustNew(4 /*worker*/, uuidABC, seed)
}

// GenTie mints a 3-character, process-local tie-breaker used to
// disambiguate two log lines that would otherwise look identical - e.g.
// two duplicate-receiver rejections arriving in the same microsecond.
func GenTie() string {
	tie := rtie.Add(1)
	b0 := uuidABC[tie&0x3f]
	b1 := uuidABC[^tie&0x3f]
	b2 := uuidABC[(tie>>2)&0x3f]
	return string([]byte{b0, b1, b2})
}

// SlotHash deterministically maps a chart or dimension id to a small
// integer slot index when the SLOTS capability shortens wire references.
func SlotHash(id string, nslots int) int {
	if nslots <= 0 {
		return 0
	}
	return int(xxhash.Checksum64(UnsafeB(id)) % uint64(nslots))
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// IsValidID reports whether s looks like a well-formed API key or machine
// identifier: letters/digits plus internal '-'/'_', bounded length, no
// leading/trailing separator.
func IsValidID(s string) bool {
	l := len(s)
	if l == 0 || l > tooLongID {
		return false
	}
	for i := 0; i < l; i++ {
		c := s[i]
		if isAlpha(c) || (c >= '0' && c <= '9') {
			continue
		}
		if c != '-' && c != '_' {
			return false
		}
		if i == 0 || i == l-1 {
			return false
		}
	}
	return true
}

func ValidateID(tag, id string) error {
	if !IsValidID(id) {
		return fmt.Errorf("%s %q is invalid: must be a short alphanumeric identifier", tag, id)
	}
	return nil
}
