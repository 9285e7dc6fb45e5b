// Pattern implements the "simple pattern" matching rrdpush.c uses for
// `send charts matching` and the per-API-key `allow from` lists:
// space-separated glob terms, evaluated left to right, a leading '!'
// negates a term, and the first matching term (positive or negative)
// decides the outcome (SPEC_FULL.md supplemented feature, grounded on
// streaming/rrdpush.c's simple_pattern_matches_string call sites).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stream

import (
	"path/filepath"
	"strings"
)

type patternTerm struct {
	glob   string
	negate bool
}

// Pattern is a compiled simple-pattern matcher.
type Pattern struct {
	terms []patternTerm
}

// CompilePattern parses a space-separated pattern string. An empty
// string matches nothing; "*" matches everything.
func CompilePattern(s string) Pattern {
	fields := strings.Fields(s)
	p := Pattern{terms: make([]patternTerm, 0, len(fields))}
	for _, f := range fields {
		if strings.HasPrefix(f, "!") {
			p.terms = append(p.terms, patternTerm{glob: f[1:], negate: true})
		} else {
			p.terms = append(p.terms, patternTerm{glob: f})
		}
	}
	return p
}

// MatchAny reports whether any of the given candidate strings matches,
// honoring negation precedence term-by-term (used to test a chart
// against both its id and its display name, per §4.5 step 2).
func (p Pattern) MatchAny(candidates ...string) bool {
	for _, t := range p.terms {
		for _, c := range candidates {
			if ok, _ := filepath.Match(t.glob, c); ok {
				return !t.negate
			}
		}
	}
	return false
}

func (p Pattern) Empty() bool { return len(p.terms) == 0 }
