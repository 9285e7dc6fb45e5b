// Chart Publication Protocol (C5, §4.5): per-chart classification,
// definition exposure, and value emission on each collection tick.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stream

import (
	"context"
	"time"

	"github.com/candlerb/netdata/cmn/debug"
	"github.com/candlerb/netdata/stats"
)

// Publisher drives one chart's per-tick decision (§4.5). It is cheap to
// construct and holds no state of its own; all persistent state lives
// on the Chart (classification) and the Sender (connection).
type Publisher struct {
	Sender *Sender
	Config Config
}

func NewPublisher(s *Sender, cfg Config) *Publisher {
	return &Publisher{Sender: s, Config: cfg}
}

// Tick implements §4.5 steps 1-5 for one chart at one collection
// instant. updated carries the dimension id -> newly collected raw
// value pairs for this tick; wallClock/pointEndTime are in epoch
// seconds.
func (p *Publisher) Tick(ctx context.Context, c *Chart, updated map[string]int64, wallClock, pointEndTime int64) error {
	if !p.Sender.host.Flags.SenderReadyForMetrics.Load() {
		p.Sender.Spawn(ctx)
		return nil // no-op this tick, per §4.5 step 1
	}

	p.classify(c)

	class := c.class_()
	if class == classSuppressed {
		return nil // step 3
	}

	buf := p.Sender.Start()
	var defined bool
	defer func() {
		if err := p.Sender.Commit(buf, p.trafficFor(class)); err == nil && defined {
			for _, d := range c.Dimensions {
				d.setExposed(true)
			}
		}
	}()

	if class == classUndecided || class == classPublished {
		debug.Assert(class != classStreaming)
		p.emitDefinition(buf, c)
		defined = true
		return nil
	}

	if class == classReplicating {
		return nil // step 4: suppressed while catch-up is outstanding
	}

	// classStreaming: step 5, emit values
	p.emitValues(buf, c, updated, wallClock, pointEndTime)
	c.mu.Lock()
	c.lastCollected = wallClock
	c.mu.Unlock()
	return nil
}

// classify implements §4.5 step 2: the decision is made once per
// connection and is sticky (I5) - repeat calls are a cheap no-op.
func (p *Publisher) classify(c *Chart) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.class != classUndecided {
		return
	}
	var send bool
	if c.Anomaly {
		send = p.Config.MLStreamingEnabled == nil || p.Config.MLStreamingEnabled(c.ID)
	} else {
		pattern := CompilePattern(p.Config.SendChartsMatching)
		send = pattern.Empty() || pattern.MatchAny(c.ID, c.Name)
	}
	if send {
		c.class = classPublished
	} else {
		c.class = classSuppressed
	}
}

func (p *Publisher) trafficFor(class chartClass) TrafficType {
	if class == classPublished {
		return TrafficMetadata
	}
	return TrafficData
}

// emitDefinition writes CHART/DIMENSION (and, if REPLICATION was
// negotiated, CHART_DEFINITION_END) per §4.3 "Chart definition
// emission". exposed_upstream markers are set only after the caller's
// deferred Commit succeeds (§4.3's race-safety ordering).
func (p *Publisher) emitDefinition(buf *StreamBuffer, c *Chart) {
	framer := NewFramer(buf.Caps)
	framer.WriteChartDef(buf, c)

	if buf.Caps.Has(REPLICATION) {
		var dbFirst, dbLast int64
		if p.Config.RetentionLookup != nil {
			dbFirst, dbLast = p.Config.RetentionLookup(c.ID)
		}
		framer.WriteChartDefinitionEnd(buf, dbFirst, dbLast, time.Now().Unix())
		c.setClass(classReplicating)
		p.Sender.stats.Inc(stats.ReplicationInFlightCount)
	} else {
		// no replication handshake: the chart is immediately live
		c.setClass(classStreaming)
	}
}

func (p *Publisher) emitValues(buf *StreamBuffer, c *Chart, updated map[string]int64, wallClock, pointEndTime int64) {
	framer := p.Sender.framer
	if buf.Caps.UsesV2() {
		framer.WriteBeginV2(buf, 0, c.ID, c.UpdateEvery, pointEndTime, wallClock)
		for _, d := range c.Dimensions {
			v, ok := updated[d.ID]
			if !ok {
				continue
			}
			framer.WriteSetV2(buf, 0, d.ID, d.LastCollected, v, FlagExists)
			d.LastCollected = v
		}
		framer.WriteEndV2(buf)
		return
	}

	resyncing := time.Now().Unix() >= c.resyncTime()
	var usec int64
	if !resyncing && c.lastCollected > 0 {
		usec = (wallClock - c.lastCollected) * 1_000_000
	}
	framer.WriteBeginV1(buf, c, usec, resyncing)
	for _, d := range c.Dimensions {
		v, ok := updated[d.ID]
		if !ok {
			continue
		}
		framer.WriteSetV1(buf, d.ID, v)
		d.LastCollected = v
	}
	framer.WriteEndV1(buf)
}
