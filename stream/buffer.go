// StreamBuffer is the per-commit scratch buffer (§3).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stream

import "bytes"

// StreamBuffer is a per-commit scratch carrying the writable byte
// buffer plus the snapshot of negotiation state that framing decisions
// were made against (§3): the capability mask in force, whether v2
// framing is active, and the wall-clock second this commit is stamped
// with.
type StreamBuffer struct {
	bytes.Buffer

	Caps         Capability
	V2Framing    bool
	WallClock    int64
	LastPointEnd int64 // last BEGIN_V2 point_end_time, for "#" compression
}

func NewStreamBuffer(caps Capability) *StreamBuffer {
	return &StreamBuffer{Caps: caps, V2Framing: caps.UsesV2()}
}

// TrafficType classifies a commit for Sender.Commit's backpressure
// decisions.
type TrafficType string

// traffic_type values (§4.3 "Commit protocol"), used for per-class
// accounting and backpressure shaping.
const (
	TrafficMetadata    TrafficType = "metadata"
	TrafficData        TrafficType = "data"
	TrafficFunctions   TrafficType = "functions"
	TrafficDyncfg      TrafficType = "dyncfg"
	TrafficReplication TrafficType = "replication"
)
