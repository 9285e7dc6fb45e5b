package stream

import (
	"context"
	"testing"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	h := NewHost(GenMachineGUID(), "test-host")
	h.Flags.SenderReadyForMetrics.Store(true)
	return h
}

func newTestPublisher(h *Host, cfg Config) *Publisher {
	s := NewSender(h, cfg, h.Destinations, nil)
	s.caps.Store(uint64(V1 | V2 | INTERPOLATED | REPLICATION))
	return NewPublisher(s, cfg)
}

// I5 / §4.5 step 2: classification is sticky - a chart that matched
// once stays published even if the pattern changes later.
func TestClassifyIsSticky(t *testing.T) {
	h := newTestHost(t)
	cfg := DefaultConfig()
	cfg.SendChartsMatching = "cpu.*"
	p := newTestPublisher(h, cfg)

	c := h.EnsureChart("cpu.user", 1)
	p.classify(c)
	if c.class_() != classPublished {
		t.Fatalf("expected classPublished, got %v", c.class_())
	}

	p.Config.SendChartsMatching = "disk.*" // change after the fact
	p.classify(c)
	if c.class_() != classPublished {
		t.Fatalf("classification should be sticky, got %v", c.class_())
	}
}

func TestClassifySuppressedWhenNoMatch(t *testing.T) {
	h := newTestHost(t)
	cfg := DefaultConfig()
	cfg.SendChartsMatching = "disk.*"
	p := newTestPublisher(h, cfg)

	c := h.EnsureChart("cpu.user", 1)
	p.classify(c)
	if c.class_() != classSuppressed {
		t.Fatalf("expected classSuppressed, got %v", c.class_())
	}
}

// P6: value records are not emitted while sender_replication_in_progress.
func TestTickSuppressesValuesWhileReplicating(t *testing.T) {
	h := newTestHost(t)
	cfg := DefaultConfig()
	cfg.SendChartsMatching = "*"
	p := newTestPublisher(h, cfg)

	c := h.EnsureChart("cpu.user", 1)
	c.Dimensions = append(c.Dimensions, &Dimension{ID: "user"})

	ctx := context.Background()
	if err := p.Tick(ctx, c, map[string]int64{"user": 10}, 100, 100); err != nil {
		t.Fatalf("first tick (definition): %v", err)
	}
	if c.class_() != classReplicating {
		t.Fatalf("expected classReplicating after definition commit, got %v", c.class_())
	}

	before := p.Sender.commitCount()
	if err := p.Tick(ctx, c, map[string]int64{"user": 20}, 101, 101); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if p.Sender.commitCount() != before {
		t.Fatalf("no bytes should be committed while replicating: before=%d after=%d", before, p.Sender.commitCount())
	}

	c.FinishReplication()
	if c.class_() != classStreaming {
		t.Fatalf("expected classStreaming after FinishReplication, got %v", c.class_())
	}
	if err := p.Tick(ctx, c, map[string]int64{"user": 30}, 102, 102); err != nil {
		t.Fatalf("third tick: %v", err)
	}
	if p.Sender.commitCount() <= before {
		t.Fatalf("expected value bytes committed once streaming, got %d (was %d)", p.Sender.commitCount(), before)
	}
}

// I4 / P1: definition is sent before any value record for the same
// chart during the current connection.
func TestDefinitionPrecedesValues(t *testing.T) {
	h := newTestHost(t)
	cfg := DefaultConfig()
	cfg.SendChartsMatching = "*"
	p := newTestPublisher(h, cfg)
	p.Sender.caps.Store(uint64(V1)) // no REPLICATION: chart goes straight to streaming

	c := h.EnsureChart("cpu.user", 1)
	c.Dimensions = append(c.Dimensions, &Dimension{ID: "user"})

	ctx := context.Background()
	if err := p.Tick(ctx, c, map[string]int64{"user": 1}, 1, 1); err != nil {
		t.Fatal(err)
	}
	buf := p.Sender.buf
	if buf == nil || buf.Len() == 0 {
		t.Fatal("expected a CHART definition to have been written")
	}
	first := buf.String()
	if first[:5] != "CHART" {
		t.Fatalf("first record must be CHART, got %q", first[:min(20, len(first))])
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
