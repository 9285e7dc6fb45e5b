package stream

import "testing"

func TestPatternMatchAny(t *testing.T) {
	p := CompilePattern("!cpu.iowait cpu.* disk.*")
	if !p.MatchAny("cpu.user", "CPU display name") {
		t.Error("expected cpu.user to match cpu.*")
	}
	if p.MatchAny("cpu.iowait") {
		t.Error("expected cpu.iowait to be excluded by !cpu.iowait")
	}
	if !p.MatchAny("disk.sda", "disk sda display") {
		t.Error("expected disk.sda to match disk.*")
	}
	if p.MatchAny("mem.used") {
		t.Error("mem.used should not match any term")
	}
}

func TestPatternEmptyAndWildcard(t *testing.T) {
	if !CompilePattern("").Empty() {
		t.Error("expected empty pattern for empty string")
	}
	star := CompilePattern("*")
	if !star.MatchAny("anything.at.all") {
		t.Error("'*' should match everything")
	}
}
