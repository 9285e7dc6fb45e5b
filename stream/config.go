// Config is the explicit, caller-constructed configuration value that
// replaces the source's process-wide global config and "capabilities
// disabled" mask (DESIGN NOTES §9) - passed into Sender/Receiver/Registry
// constructors so a test (or a process hosting more than one Stream Core,
// e.g. a multi-tenant parent) can instantiate several independently.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stream

import (
	"crypto/tls"
	"time"
)

// Config is per-host streaming configuration (§6 "Environment/config
// keys consumed").
type Config struct {
	Enabled            bool
	Destination        string // whitespace-separated "endpoint[:SSL] ..." (§4.2)
	APIKey             string
	SendChartsMatching string // glob-ish pattern, consulted by C5 classification

	EnableCompression bool
	CompressionLevel  map[Capability]int // per-algorithm level, keyed by Comp* bits

	TLS                   *tls.Config
	SkipCertificateVerify bool

	ConnectTimeout   time.Duration
	SendTimeout      time.Duration
	ReceiveTimeout   time.Duration
	ReconnectDelay   time.Duration
	StreamingRate    time.Duration // §4.4.3 streaming_rate_t: min gap between accepted receiver connections
	ReceiverStaleAge time.Duration // §3 I2: 30s default

	DisabledCapabilities Capability // host-scoped disable mask (e.g. parent w/o ML)

	// MLStreamingEnabled consults whatever local policy decides if
	// anomaly-series charts may stream - out of scope here (§1), so this
	// is injected rather than hard-coded.
	MLStreamingEnabled func(chartID string) bool

	// RetentionLookup answers CHART_DEFINITION_END's db_first/db_last -
	// the on-disk time-series database is an external collaborator (§1).
	RetentionLookup func(chartID string) (dbFirst, dbLast int64)
}

// APIKeySection models a `[api key]`-style config block (§6).
type APIKeySection struct {
	Key       string
	Type      string // e.g. "api"
	Enabled   bool
	AllowFrom []string // glob patterns matched against the client IP; CIDR notation is not interpreted
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		ConnectTimeout:   5 * time.Second,
		SendTimeout:      10 * time.Second,
		ReceiveTimeout:   10 * time.Second,
		ReconnectDelay:   5 * time.Second,
		StreamingRate:    1 * time.Second,
		ReceiverStaleAge: 30 * time.Second,
		MLStreamingEnabled: func(string) bool { return true },
	}
}
