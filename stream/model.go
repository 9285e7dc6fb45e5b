// Data model (§3): Host, Destination, Chart, Dimension, StreamBuffer.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stream

import (
	"sync"

	"github.com/candlerb/netdata/cmn/atomic"
	"github.com/google/uuid"
)

// Label carries a key/value plus its provenance, mirroring the
// original's label-source bits (SPEC_FULL.md "supplemented features").
type Label struct {
	Name, Value string
	Source      LabelSource
}

type LabelSource int

const (
	LabelSourceAuto LabelSource = iota
	LabelSourceConfig
	LabelSourceK8s
	LabelSourceEnv
)

// Algorithm is a dimension's collection algorithm (§3).
type Algorithm int

const (
	AlgoAbsolute Algorithm = iota
	AlgoIncremental
	AlgoPctOverRow
	AlgoPctOverDiff
)

// GenMachineGUID mints a fresh 128-bit machine identifier (§3 "Host ...
// 128-bit machine identifier").
func GenMachineGUID() string { return uuid.NewString() }

// ValidMachineGUID reports whether s parses as a UUID - the Receiver
// rejects handshakes whose machine_guid doesn't (§4.4.2).
func ValidMachineGUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Dimension is one time-series child of a Chart (§3).
type Dimension struct {
	ID, Name      string
	Algorithm     Algorithm
	Multiplier    int64
	Divisor       int64
	Obsolete      bool
	Hidden        bool
	NoResetDetect bool

	LastCollected int64 // last collected raw integer value

	mu             sync.Mutex
	exposedUpstream bool // sender "exposed" generation marker (§3)
}

func (d *Dimension) setExposed(v bool) {
	d.mu.Lock()
	d.exposedUpstream = v
	d.mu.Unlock()
}

func (d *Dimension) isExposed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exposedUpstream
}

// ChartType mirrors the handful of presentation kinds a chart carries on
// the wire; the renderer/UI meaning of each is out of scope (§1).
type ChartType string

// chartClass is the per-connection classification state machine (§4.5,
// DESIGN NOTES "tagged variant"), kept per-connection rather than as
// sticky booleans baked into Chart so that a reconnect naturally resets
// it (§4.5 "disconnect -> UNDECIDED (next conn)").
type chartClass int

const (
	classUndecided chartClass = iota
	classPublished
	classReplicating
	classStreaming
	classSuppressed
)

// Chart is a metric group (§3). Flags that are sticky for the process
// lifetime (Obsolete, Hidden, ...) live as plain fields; flags that are
// scoped to "this connection" (classification, replication progress)
// live in the unexported fields below, reset on every (re)connect by
// resetConnState.
type Chart struct {
	ID, Name, Title, Units, Family, Context string
	Type                                     ChartType
	Priority                                 int
	UpdateEvery                              int // seconds
	Plugin, Module                           string
	Labels                                   []Label

	Obsolete   bool
	Detail     bool
	StoreFirst bool
	Hidden     bool
	Anomaly    bool // this chart carries ML/anomaly series (§4.5 step 2)

	Dimensions []*Dimension

	mu             sync.Mutex
	class          chartClass
	lastCollected  int64 // wall-clock seconds of last commit, for v1 resync_time
	lastPointEnd   int64 // v2 BEGIN_V2 compression marker (§4.3)
}

func NewChart(id string, updateEvery int) *Chart {
	return &Chart{ID: id, UpdateEvery: updateEvery}
}

func (c *Chart) Dimension(id string) *Dimension {
	for _, d := range c.Dimensions {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func (c *Chart) class_() chartClass {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.class
}

func (c *Chart) setClass(cl chartClass) {
	c.mu.Lock()
	c.class = cl
	c.mu.Unlock()
}

// resync_time per §4.3: the microsecond field is zero-suppressed once
// this much time has passed since the last collection.
func (c *Chart) resyncTime() int64 {
	return c.lastCollected + int64(60*c.UpdateEvery)
}

// FinishReplication is called (by the out-of-scope replication
// subsystem, §4.5/§9) once the peer has caught the chart up; only then
// does the chart become eligible for live value emission.
func (c *Chart) FinishReplication() {
	c.mu.Lock()
	if c.class == classReplicating {
		c.class = classStreaming
	}
	c.mu.Unlock()
}

// resetConnState clears every per-connection flag - called on reconnect
// (§4.5 "disconnect -> UNDECIDED (next conn)", §3 I3/I4).
func (c *Chart) resetConnState() {
	c.mu.Lock()
	c.class = classUndecided
	c.lastPointEnd = 0
	c.mu.Unlock()
	for _, d := range c.Dimensions {
		d.setExposed(false)
	}
}

// HostFlags are the §3 per-host sticky booleans.
type HostFlags struct {
	SenderSpawned          atomic.Bool
	SenderReadyForMetrics  atomic.Bool
	SenderLogEmitted       atomic.Bool
	GlobalFunctionsUpdated atomic.Bool
	ReceiverDisconnected   atomic.Bool
	Archived               atomic.Bool
}

// Host is identified by its 128-bit machine identifier (§3).
type Host struct {
	MachineGUID string
	Hostname    string
	Labels      []Label

	Destinations *Registry
	Flags        HostFlags

	mu       sync.RWMutex
	sender   *Sender
	receiver *Receiver
	charts   map[string]*Chart
}

func NewHost(machineGUID, hostname string) *Host {
	return &Host{
		MachineGUID: machineGUID,
		Hostname:    hostname,
		Destinations: NewRegistry(),
		charts:       make(map[string]*Chart, 64),
	}
}

func (h *Host) Chart(id string) *Chart {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.charts[id]
}

func (h *Host) EnsureChart(id string, updateEvery int) *Chart {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.charts[id]; ok {
		return c
	}
	c := NewChart(id, updateEvery)
	h.charts[id] = c
	return c
}

func (h *Host) Charts() []*Chart {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Chart, 0, len(h.charts))
	for _, c := range h.charts {
		out = append(out, c)
	}
	return out
}

// Sender/Receiver ownership (§3 I1/I2): at most one of each per Host.

func (h *Host) Sender() *Sender {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sender
}

func (h *Host) setSender(s *Sender) {
	h.mu.Lock()
	h.sender = s
	h.mu.Unlock()
}

func (h *Host) Receiver() *Receiver {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.receiver
}

func (h *Host) setReceiver(r *Receiver) {
	h.mu.Lock()
	h.receiver = r
	h.mu.Unlock()
}
