// Sender (C3, §4.3): owns one outbound connection per Host, serializes
// commits from many collector goroutines into one framed byte stream,
// and reconnects on failure. Grounded on aistore's transport package:
// the single-writer send loop fed by a channel of pending work
// (transport/bundle/stream_bundle.go's per-stream goroutine) and the
// round-robin destination dial (adapted in dest.go); the mutex-held
// "contiguous commit" protocol is this package's own, per §4.3.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stream

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/candlerb/netdata/cmn/atomic"
	"github.com/candlerb/netdata/cmn/debug"
	"github.com/candlerb/netdata/cmn/mono"
	"github.com/candlerb/netdata/cmn/nlog"
	"github.com/candlerb/netdata/stats"
	"golang.org/x/sync/singleflight"
)

// high-water marks (§4.3 "Backpressure"), expressed as buffered-byte
// thresholds; which commits they reject depends on the traffic_type.
// Config has no fields to change them.
const (
	softHighWater = 1 << 20 // 1MiB: pause replication traffic
	hardHighWater = 4 << 20 // 4MiB: drop to metadata-only
)

var spawnGroup singleflight.Group

// Sender owns at most one outbound connection for its Host (§3, I1).
type Sender struct {
	host     *Host
	cfg      Config
	registry *Registry
	dialer   Dialer
	stats    *stats.Tracker

	caps     atomic.Uint64 // Capability, negotiated this connection
	disabled Capability

	mu       sync.Mutex // commit mutex (§4.3 "Commit protocol")
	buf      *StreamBuffer
	framer   *Framer
	pending  chan struct{} // 1-buffered "bytes pending" signal

	connMu sync.Mutex
	conn   net.Conn
	dest   *Destination
	compr  Compressor

	tid      atomic.Int64 // 1 while the run goroutine is alive
	exitOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	exitKind ErrKind
}

func NewSender(host *Host, cfg Config, registry *Registry, dialer Dialer) *Sender {
	if dialer == nil {
		dialer = DefaultDialer()
	}
	return &Sender{
		host:     host,
		cfg:      cfg,
		registry: registry,
		dialer:   dialer,
		stats:    stats.NewTracker(),
		disabled: cfg.DisabledCapabilities,
		pending:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Spawn implements the §4.3 spawn gate: a Sender goroutine is started
// at most once per Host, on first metric-emit attempt, guarded by
// singleflight keyed on the host's machine GUID so concurrent collector
// goroutines racing to spawn only start one run loop.
func (s *Sender) Spawn(ctx context.Context) {
	if s.host.Flags.ReceiverDisconnected.Load() {
		return
	}
	if !s.host.Flags.SenderSpawned.CAS(false, true) {
		return
	}
	key := s.host.MachineGUID
	go func() {
		_, _, _ = spawnGroup.Do(key, func() (any, error) {
			s.tid.Store(1)
			s.run(ctx)
			s.tid.Store(0)
			s.host.Flags.SenderSpawned.Store(false)
			close(s.doneCh)
			return nil, nil
		})
	}()
}

// Start is sender_start(host): acquires the commit mutex for the
// duration of one logical commit so records for the same chart land
// contiguously on the wire (§4.3, §5 "Ordering").
func (s *Sender) Start() *StreamBuffer {
	s.mu.Lock()
	caps := Capability(s.caps.Load())
	if s.buf == nil {
		s.buf = NewStreamBuffer(caps)
		s.framer = NewFramer(caps)
	}
	return s.buf
}

// Commit is sender_commit(host, wb, traffic_type): releases the commit
// mutex and signals the send loop. Backpressure (§4.3): past the soft
// high-water mark, replication commits are rejected so the caller
// retries later; past hard, only metadata commits are accepted.
func (s *Sender) Commit(buf *StreamBuffer, traffic TrafficType) error {
	defer s.mu.Unlock()
	n := buf.Len()
	switch {
	case n >= hardHighWater && traffic != TrafficMetadata:
		nlog.Warningf("stream: sender for %s dropping %s commit, hard high-water (%d bytes buffered)",
			s.host.MachineGUID, traffic, n)
		s.stats.Inc(stats.DroppedCount)
		return NewError(ErrBusyTryLater, s.host.MachineGUID, nil)
	case n >= softHighWater && traffic == TrafficReplication:
		return NewError(ErrBusyTryLater, s.host.MachineGUID, nil)
	}
	select {
	case s.pending <- struct{}{}:
	default:
	}
	return nil
}

// commitCount lets a test observe backlog without racing the mutex.
func (s *Sender) commitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf == nil {
		return 0
	}
	return s.buf.Len()
}

// Stop is sender_stop(host, reason, wait): sets the shutdown flag and
// cancels the run loop; when wait is true it blocks until tid==0 (P4).
func (s *Sender) Stop(reason ErrKind, wait bool) {
	s.exitOnce.Do(func() {
		s.exitKind = reason
		close(s.stopCh)
	})
	if wait {
		<-s.doneCh
	}
}

func (s *Sender) run(ctx context.Context) {
	defer s.releaseConn()
	delay := s.cfg.ReconnectDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		if err := s.connectOnce(ctx); err != nil {
			nlog.Warningf("stream: sender for %s: %v", s.host.MachineGUID, err)
			s.releaseConn()
			select {
			case <-s.stopCh:
				return
			case <-time.After(delay):
				continue
			}
		}
		s.reconnectHandshake()
		s.sendLoop(ctx)
		s.releaseConn()
		s.host.Flags.SenderReadyForMetrics.Store(false)
		for _, c := range s.host.Charts() {
			c.mu.Lock()
			if c.class == classStreaming {
				c.class = classPublished
			}
			c.mu.Unlock()
		}
	}
}

func (s *Sender) connectOnce(ctx context.Context) error {
	conn, dest, err := s.registry.ConnectToOneOf(ctx, s.dialer, s.cfg.ConnectTimeout)
	if err != nil {
		return err
	}
	if dest.TLSRequired && s.cfg.TLS != nil {
		tlsConf := s.cfg.TLS.Clone()
		tlsConf.InsecureSkipVerify = s.cfg.SkipCertificateVerify
		conn = tls.Client(conn, tlsConf)
	}
	s.connMu.Lock()
	s.conn = conn
	s.dest = dest
	s.connMu.Unlock()
	return s.negotiate(conn)
}

// negotiate performs the §6 "connection establishment" exchange: issue
// the HTTP GET /stream request with this side's protocol version and
// machine identity, then parse the parent's first reply line: "OK VCAPS
// <mask>" (negotiated against that mask), "OK V<n>" (negotiated from
// the version integer) or a legacy bare "OK" (treated as version 1).
func (s *Sender) negotiate(conn net.Conn) error {
	req := fmt.Sprintf("GET /stream?key=%s&hostname=%s&machine_guid=%s&ver=%d HTTP/1.1\r\nHost: %s\r\n\r\n",
		url.QueryEscape(s.cfg.APIKey), url.QueryEscape(s.host.Hostname), url.QueryEscape(s.host.MachineGUID),
		protocolVersion, s.dest.Endpoint)
	conn.SetWriteDeadline(time.Now().Add(s.cfg.ConnectTimeout))
	if _, err := conn.Write([]byte(req)); err != nil {
		return NewError(ErrBadHandshake, s.dest.Endpoint, err)
	}

	conn.SetReadDeadline(time.Now().Add(s.cfg.ConnectTimeout))
	reply := make([]byte, 256)
	n, err := conn.Read(reply)
	if err != nil {
		return NewError(ErrBadHandshake, s.dest.Endpoint, err)
	}
	line := string(reply[:n])

	var peerVer int
	var peerMask uint64
	switch {
	case strings.HasPrefix(line, "OK VCAPS "):
		fmt.Sscanf(line[len("OK VCAPS "):], "%d", &peerMask)
		s.caps.Store(uint64(NegotiateMask(LocalSupported, Capability(peerMask), s.disabled)))
	case strings.HasPrefix(line, "OK V"):
		fmt.Sscanf(line[len("OK V"):], "%d", &peerVer)
		s.caps.Store(uint64(NegotiateVersion(LocalSupported, peerVer, s.disabled)))
	case strings.HasPrefix(line, "OK"):
		s.caps.Store(uint64(NegotiateVersion(LocalSupported, 1, s.disabled)))
	default:
		return NewError(ErrBadHandshake, s.dest.Endpoint, nil)
	}
	return nil
}

// protocolVersion is the highest version this side presents when
// offering a bare integer rather than a capability mask (§4.1).
const protocolVersion = 5

func (s *Sender) releaseConn() {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
}

// reconnectHandshake implements §4.3 "Reconnect": reset postpone-times,
// reset every chart's per-connection state (so each chart sends its
// definition again before any values), set up the compressor and mark
// the host ready for metrics. It writes no records itself: host labels,
// claim id, global functions and dynamic-config snapshots are not sent
// on reconnect.
func (s *Sender) reconnectHandshake() {
	s.registry.ResetPostpone()
	for _, c := range s.host.Charts() {
		c.resetConnState()
	}
	caps := Capability(s.caps.Load())
	compr, err := NewCompressor(caps, s.cfg.CompressionLevel)
	if err != nil {
		nlog.Warningf("stream: compressor setup for %s: %v", s.host.MachineGUID, err)
		compr = nil
	}
	s.connMu.Lock()
	s.compr = compr
	s.connMu.Unlock()
	s.host.Flags.SenderReadyForMetrics.Store(true)
	s.stats.Inc(stats.ReconnectCount)
}

// sendLoop is the single writer: it drains whatever commits have
// accumulated in s.buf onto the socket, optionally compressed, until
// the connection breaks or the sender is asked to stop.
func (s *Sender) sendLoop(ctx context.Context) {
	timeout := s.cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.pending:
		case <-time.After(timeout):
		}

		s.mu.Lock()
		if s.buf == nil || s.buf.Len() == 0 {
			s.mu.Unlock()
			continue
		}
		payload := append([]byte(nil), s.buf.Bytes()...)
		s.buf.Reset()
		s.mu.Unlock()

		if err := s.flush(payload, timeout); err != nil {
			nlog.Warningf("stream: flush to %s: %v", s.host.MachineGUID, err)
			s.stats.Inc(stats.DroppedCount)
			return
		}
		debug.Assert(len(payload) > 0)
	}
}

func (s *Sender) flush(payload []byte, timeout time.Duration) error {
	s.connMu.Lock()
	conn, compr := s.conn, s.compr
	s.connMu.Unlock()
	if conn == nil {
		return NewError(ErrCantConnect, s.host.MachineGUID, nil)
	}
	if compr != nil {
		compressed, err := compr.Compress(nil, payload)
		if err != nil {
			return err
		}
		payload = compressed
	}
	conn.SetWriteDeadline(time.Now().Add(timeout))
	_, err := conn.Write(payload)
	if err != nil {
		return NewError(ErrSendTimeout, s.host.MachineGUID, err)
	}
	s.stats.Add(stats.TxBytesSize, int64(len(payload)))
	s.stats.Inc(stats.TxRecordsCount)
	return nil
}

// lastMsgAge is used by the Receiver side's duplicate-detection (§4.4.4)
// via mono.NanoTime() rather than wall-clock, to stay monotonic across
// NTP steps.
func lastMsgAge(lastMsgMono int64) time.Duration {
	return time.Duration(mono.NanoTime() - lastMsgMono)
}
