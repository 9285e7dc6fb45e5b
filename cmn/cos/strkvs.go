// Package cos provides common low-level types and utilities shared across
// the Stream Core.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"strconv"
	"strings"
	"unsafe"
)

// StrKVs is a string/string map. Labels and parsed query parameters in
// the Stream Core use other types.
type StrKVs map[string]string

// JoinWords joins non-empty path segments with "/", e.g. for building
// the streaming endpoint URL path.
func JoinWords(words ...string) string {
	var sb strings.Builder
	for _, w := range words {
		if w == "" {
			continue
		}
		sb.WriteByte('/')
		sb.WriteString(w)
	}
	return sb.String()
}

// ParseBool accepts the handful of spellings a config file or query
// string is likely to use ("yes"/"no", "on"/"off", "1"/"0", ...).
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "y", "yes", "true", "on", "enabled":
		return true, true
	case "0", "n", "no", "false", "off", "disabled", "":
		return false, true
	default:
		if v, err := strconv.ParseBool(s); err == nil {
			return v, true
		}
		return false, false
	}
}

// UnsafeB/UnsafeS avoid a copy when a []byte is known not to be mutated
// for the lifetime of the returned string (or vice versa) - UnsafeB is
// used by SlotHash to hash an id without copying it.
func UnsafeB(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func UnsafeS(b []byte) string {
	return unsafe.String(unsafe.SliceData(b), len(b))
}
