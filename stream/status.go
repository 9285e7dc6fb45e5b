// JSON status snapshots for a diagnostics endpoint, grounded on the
// teacher's jsoniter usage for wire-facing structs (cmn/cos/fs.go,
// api/authn.go).
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stream

import (
	jsoniter "github.com/json-iterator/go"
)

// HostStatus is a point-in-time, JSON-marshalable view of a Host for a
// status/health endpoint (out of scope per §1, but the Stream Core
// exposes the snapshot so an HTTP layer can render it).
type HostStatus struct {
	MachineGUID           string           `json:"machine_guid"`
	Hostname              string           `json:"hostname"`
	SenderSpawned         bool             `json:"sender_spawned"`
	SenderReadyForMetrics bool             `json:"sender_ready_for_metrics"`
	ReceiverConnected     bool             `json:"receiver_connected"`
	Destinations          []Destination    `json:"destinations"`
	Charts                int              `json:"charts_n"`
	SenderStats           map[string]int64 `json:"sender_stats,omitempty"`
	ReceiverStats         map[string]int64 `json:"receiver_stats,omitempty"`
}

func (h *Host) Status() HostStatus {
	st := HostStatus{
		MachineGUID:           h.MachineGUID,
		Hostname:              h.Hostname,
		SenderSpawned:         h.Flags.SenderSpawned.Load(),
		SenderReadyForMetrics: h.Flags.SenderReadyForMetrics.Load(),
		ReceiverConnected:     h.Receiver() != nil,
		Destinations:          h.Destinations.Snapshot(),
		Charts:                len(h.Charts()),
	}
	if s := h.Sender(); s != nil {
		st.SenderStats = s.stats.Snapshot()
	}
	if r := h.Receiver(); r != nil {
		st.ReceiverStats = r.stats.Snapshot()
	}
	return st
}

// MarshalJSON lets HostStatus serialize through jsoniter's
// ConfigCompatibleWithStandardLibrary, matching the teacher's
// MarshalJSON convention for status/API response types.
func (st HostStatus) MarshalJSON() ([]byte, error) {
	type alias HostStatus
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(alias(st))
}
