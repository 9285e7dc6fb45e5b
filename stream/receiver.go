// Receiver (C4, §4.4): the HTTP upgrade endpoint that authenticates an
// inbound child, resolves or creates the mirrored Host, and hands the
// raw socket off to a parser goroutine.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stream

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/candlerb/netdata/cmn/atomic"
	"github.com/candlerb/netdata/cmn/cos"
	"github.com/candlerb/netdata/cmn/mono"
	"github.com/candlerb/netdata/cmn/nlog"
	"github.com/candlerb/netdata/stats"
	"golang.org/x/time/rate"
)

// netdataSystemRemap maps the legacy NETDATA_SYSTEM_* query keys a child
// sends to the NETDATA_HOST_* keys this side stores under, preserving
// backward compatibility with older children (§4.4 step 1).
var netdataSystemRemap = map[string]string{
	"NETDATA_SYSTEM_OS_NAME":        "NETDATA_HOST_OS_NAME",
	"NETDATA_SYSTEM_OS_ID":          "NETDATA_HOST_OS_ID",
	"NETDATA_SYSTEM_OS_ID_LIKE":     "NETDATA_HOST_OS_ID_LIKE",
	"NETDATA_SYSTEM_OS_VERSION":     "NETDATA_HOST_OS_VERSION",
	"NETDATA_SYSTEM_OS_VERSION_ID":  "NETDATA_HOST_OS_VERSION_ID",
	"NETDATA_SYSTEM_OS_DETECTION":   "NETDATA_HOST_OS_DETECTION",
	"NETDATA_SYSTEM_KERNEL_NAME":    "NETDATA_HOST_KERNEL_NAME",
	"NETDATA_SYSTEM_KERNEL_VERSION": "NETDATA_HOST_KERNEL_VERSION",
	"NETDATA_SYSTEM_ARCHITECTURE":   "NETDATA_HOST_ARCHITECTURE",
	"NETDATA_SYSTEM_VIRTUALIZATION": "NETDATA_HOST_VIRTUALIZATION",
	"NETDATA_SYSTEM_CONTAINER":      "NETDATA_HOST_CONTAINER",
}

// sameLocalhostBody is the plain-text sentinel a parent returns when a
// child's machine_guid equals the parent's own (§4.4 step 2, S6).
const sameLocalhostBody = "I am the same host I am supposed to stream to\n"

// HandshakeParams is the parsed `/stream` query string (§4.4 step 1).
type HandshakeParams struct {
	APIKey            string
	Hostname          string
	RegistryHostname  string
	MachineGUID       string
	UpdateEvery       int
	OS                string
	Timezone          string
	AbbrevTimezone    string
	UTCOffset         int
	Hops              int
	Tags              string
	Ver               int
	MLCapable         bool
	MLEnabled         bool
	MCVersion         int
	SystemInfo        map[string]string
}

// ParseHandshake extracts HandshakeParams from a URL query (§4.4 step
// 1). Absent `ver` yields capability set V1 downstream (FromVersion
// already handles n<=0); NETDATA_SYSTEM_* keys are remapped to their
// NETDATA_HOST_* equivalents.
func ParseHandshake(q map[string][]string) HandshakeParams {
	get := func(k string) string {
		if v, ok := q[k]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	atoi := func(k string) int {
		n, _ := strconv.Atoi(get(k))
		return n
	}

	p := HandshakeParams{
		APIKey:           get("key"),
		Hostname:         get("hostname"),
		RegistryHostname: get("registry_hostname"),
		MachineGUID:      get("machine_guid"),
		UpdateEvery:      atoi("update_every"),
		OS:               get("os"),
		Timezone:         get("timezone"),
		AbbrevTimezone:   get("abbrev_timezone"),
		UTCOffset:        atoi("utc_offset"),
		Hops:             atoi("hops"),
		Tags:             get("tags"),
		Ver:              atoi("ver"),
		MLCapable:        get("ml_capable") == "1",
		MLEnabled:        get("ml_enabled") == "1",
		MCVersion:        atoi("mc_version"),
		SystemInfo:       make(map[string]string),
	}
	for k, v := range q {
		if len(v) == 0 {
			continue
		}
		if !strings.HasPrefix(k, "NETDATA_SYSTEM_") {
			continue
		}
		name := k
		if mapped, ok := netdataSystemRemap[k]; ok {
			name = mapped
		}
		p.SystemInfo[name] = v[0]
	}
	return p
}

// Receiver is the per-connection streaming session on the parent side
// (§3).
type Receiver struct {
	Conn            net.Conn
	ClientIP        string
	ClientPort      string
	APIKey          string
	Hostname        string
	MachineGUID     string
	Caps            Capability
	Hops            int
	ProgramName     string
	ProgramVersion  string
	SystemInfo      map[string]string

	host *Host
	cfg  Config
	stats *stats.Tracker

	lastMsgMono atomic.Int64
	stopping    atomic.Bool
	doneCh      chan struct{}
}

// Registrar resolves a machine_guid to its mirrored Host, creating one
// on first contact; it is the out-of-scope metrics-store collaborator's
// narrow interface into the Stream Core (§1).
type Registrar interface {
	Resolve(machineGUID, hostname string) *Host
}

// Server is the C4 entry point: the HTTP handler an outer router
// mounts at the configured `/stream` path, plus the bookkeeping
// (rate limiter, per-host receiver slots) §4.4 requires.
type Server struct {
	cfg       Config
	registrar Registrar
	localGUID string
	keys      map[string]APIKeySection

	limiterMu sync.Mutex
	limiter   *rate.Limiter

	stats *stats.Tracker
}

func NewServer(cfg Config, registrar Registrar, localMachineGUID string, keys map[string]APIKeySection) *Server {
	rateInterval := cfg.StreamingRate
	if rateInterval <= 0 {
		rateInterval = time.Second
	}
	return &Server{
		cfg:       cfg,
		registrar: registrar,
		localGUID: localMachineGUID,
		keys:      keys,
		limiter:   rate.NewLimiter(rate.Every(rateInterval), 1),
		stats:     stats.NewTracker(),
	}
}

// ServeHTTP implements the §4.4 pre-handshake duties in order:
// parameter parsing, validation, rate limiting, duplicate detection,
// and socket hand-off.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params := ParseHandshake(r.URL.Query())

	if err := s.validate(params, r.RemoteAddr); err != nil {
		if err.Kind == ErrLocalhostLoopback {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, sameLocalhostBody)
			return
		}
		http.Error(w, err.Error(), httpStatus(err.Kind))
		return
	}

	if !s.limiter.Allow() {
		http.Error(w, "busy, try later: rate limit exceeded", http.StatusServiceUnavailable)
		return
	}

	host := s.registrar.Resolve(params.MachineGUID, params.Hostname)

	if existing := host.Receiver(); existing != nil {
		age := lastMsgAge(existing.lastMsgMono.Load())
		if age < s.cfg.ReceiverStaleAge {
			http.Error(w, "already streaming", http.StatusConflict)
			return
		}
		existing.stopping.Store(true)
		<-existing.doneCh
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "internal error: hijack unsupported", http.StatusInternalServerError)
		return
	}
	conn, buf, err := hj.Hijack()
	if err != nil {
		http.Error(w, "internal error: "+err.Error(), http.StatusInternalServerError)
		return
	}

	negotiated := NegotiateVersion(LocalSupported, params.Ver, s.cfg.DisabledCapabilities)
	writeHandshakeReply(buf, negotiated)

	recv := &Receiver{
		Conn:        conn,
		ClientIP:    clientIP(r.RemoteAddr),
		APIKey:      params.APIKey,
		Hostname:    params.Hostname,
		MachineGUID: params.MachineGUID,
		Caps:        negotiated,
		Hops:        params.Hops,
		SystemInfo:  params.SystemInfo,
		host:        host,
		cfg:         s.cfg,
		stats:       s.stats,
		doneCh:      make(chan struct{}),
	}
	recv.lastMsgMono.Store(mono.NanoTime())
	host.setReceiver(recv)

	go recv.run(buf)
}

// validate implements §4.4 step 2's HTTP 401 checks plus the same-host
// sentinel (S6).
func (s *Server) validate(p HandshakeParams, remoteAddr string) *Error {
	if p.APIKey == "" || p.Hostname == "" || p.MachineGUID == "" {
		return NewError(ErrDenied, remoteAddr, fmt.Errorf("missing key/hostname/machine_guid"))
	}
	if err := cos.ValidateID("api key", p.APIKey); err != nil {
		return NewError(ErrDenied, remoteAddr, err)
	}
	if !ValidMachineGUID(p.MachineGUID) {
		return NewError(ErrDenied, remoteAddr, fmt.Errorf("invalid machine_guid"))
	}
	if p.MachineGUID == s.localGUID {
		return NewError(ErrLocalhostLoopback, remoteAddr, nil)
	}
	if sec, ok := s.keys[p.APIKey]; ok {
		if !sec.Enabled {
			return NewError(ErrDenied, remoteAddr, fmt.Errorf("api key disabled"))
		}
		if len(sec.AllowFrom) > 0 {
			ip := clientIP(remoteAddr)
			allowed := CompilePattern(strings.Join(sec.AllowFrom, " ")).MatchAny(ip)
			if !allowed {
				return NewError(ErrDenied, remoteAddr, fmt.Errorf("client ip not in allow from"))
			}
		}
	}
	return nil
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func httpStatus(k ErrKind) int {
	switch k {
	case ErrDenied:
		return http.StatusUnauthorized
	case ErrAlreadyConnected:
		return http.StatusConflict
	case ErrBusyTryLater:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeHandshakeReply emits a one-line reply and flushes it before the
// socket is handed off: "OK VCAPS <mask>\n" when VCAPS was negotiated,
// else "OK V<protocolVersion>\n". The V<n> form carries no capability
// mask line, and the legacy bare "OK\n" reply is never written.
func writeHandshakeReply(buf *bufio.ReadWriter, negotiated Capability) {
	if negotiated.Has(VCAPS) {
		fmt.Fprintf(buf, "OK VCAPS %d\n", uint64(negotiated))
	} else {
		fmt.Fprintf(buf, "OK V%d\n", protocolVersion)
	}
	buf.Flush()
}

// run is the worker goroutine: parses records line-by-line, updates
// last_msg_monotonic, and dispatches to the metrics store until the
// socket closes or this receiver is preempted (§4.4 "worker thread").
func (r *Receiver) run(buf *bufio.ReadWriter) {
	defer close(r.doneCh)
	defer r.Conn.Close()
	defer r.host.Flags.ReceiverDisconnected.Store(true)
	defer func() {
		if r.host.Receiver() == r {
			r.host.setReceiver(nil)
		}
	}()

	timeout := r.cfg.ReceiveTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	for {
		if r.stopping.Load() {
			return
		}
		r.Conn.SetReadDeadline(time.Now().Add(timeout))
		line, err := buf.ReadString('\n')
		if err != nil {
			if line == "" {
				return
			}
		}
		r.lastMsgMono.Store(mono.NanoTime())
		r.stats.Inc(stats.RxRecordsCount)
		r.stats.Add(stats.RxBytesSize, int64(len(line)))
		if !r.dispatch(strings.TrimRight(line, "\r\n")) {
			nlog.Warningf("stream: receiver for %s: parser failed on %q", r.MachineGUID, line)
			return
		}
		if err != nil {
			return
		}
	}
}

// dispatch handles one parsed verb. The actual metrics-store write is
// out of scope (§1); this only checks the verb against the known set
// and logs unknown ones. Payloads are not parsed or stored, and every
// line is accepted (it always returns true).
func (r *Receiver) dispatch(line string) bool {
	if line == "" {
		return true
	}
	verb, _, _ := strings.Cut(line, " ")
	switch verb {
	case "CHART", "DIMENSION", "CLABEL", "CLABEL_COMMIT", "LABEL", "OVERWRITE",
		"BEGIN", "SET", "END", "BEGIN_V2", "SET_V2", "END_V2",
		"CHART_DEFINITION_END", "CLAIMED_ID",
		"REPORT_JOB_STATUS", "DELETE_JOB":
		return true
	default:
		if strings.HasPrefix(verb, "DYNCFG_") || strings.HasPrefix(verb, "REPLAY_") {
			return true
		}
		nlog.Infoln("stream: unknown verb", verb, "ignored")
		return true
	}
}
