package stream

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/candlerb/netdata/cmn/mono"
)

type fakeRegistrar struct{ hosts map[string]*Host }

func (r *fakeRegistrar) Resolve(machineGUID, hostname string) *Host {
	if h, ok := r.hosts[machineGUID]; ok {
		return h
	}
	h := NewHost(machineGUID, hostname)
	r.hosts[machineGUID] = h
	return h
}

// hijackableRecorder wraps httptest.ResponseRecorder with Hijack support
// backed by an in-memory net.Pipe, since the stdlib recorder doesn't
// implement http.Hijacker.
type hijackableRecorder struct {
	*httptest.ResponseRecorder
	serverConn net.Conn
	clientConn net.Conn
}

func newHijackableRecorder() *hijackableRecorder {
	c1, c2 := net.Pipe()
	return &hijackableRecorder{
		ResponseRecorder: httptest.NewRecorder(),
		serverConn:       c1,
		clientConn:       c2,
	}
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw := bufio.NewReadWriter(bufio.NewReader(h.serverConn), bufio.NewWriter(h.serverConn))
	return h.serverConn, rw, nil
}

func newTestServer(localGUID string) (*Server, *fakeRegistrar) {
	reg := &fakeRegistrar{hosts: make(map[string]*Host)}
	cfg := DefaultConfig()
	cfg.StreamingRate = time.Hour // effectively disable the limiter for single-request tests
	cfg.ReceiverStaleAge = 30 * time.Second
	srv := NewServer(cfg, reg, localGUID, nil)
	return srv, reg
}

func TestValidateRejectsMissingFields(t *testing.T) {
	srv, _ := newTestServer(GenMachineGUID())
	err := srv.validate(HandshakeParams{}, "1.2.3.4:5555")
	if err == nil || err.Kind != ErrDenied {
		t.Fatalf("expected ErrDenied, got %v", err)
	}
}

func TestValidateRejectsInvalidMachineGUID(t *testing.T) {
	srv, _ := newTestServer(GenMachineGUID())
	err := srv.validate(HandshakeParams{APIKey: "valid-key-1", Hostname: "h", MachineGUID: "not-a-uuid"}, "1.2.3.4:5555")
	if err == nil || err.Kind != ErrDenied {
		t.Fatalf("expected ErrDenied for bad machine_guid, got %v", err)
	}
}

// S6: same-host detection.
func TestValidateSameLocalhost(t *testing.T) {
	local := GenMachineGUID()
	srv, _ := newTestServer(local)
	err := srv.validate(HandshakeParams{APIKey: "valid-key-1", Hostname: "h", MachineGUID: local}, "1.2.3.4:5555")
	if err == nil || err.Kind != ErrLocalhostLoopback {
		t.Fatalf("expected ErrLocalhostLoopback, got %v", err)
	}
}

// S2: duplicate receiver within the stale-age window is rejected with 409.
func TestServeHTTPDuplicateReceiver(t *testing.T) {
	srv, reg := newTestServer(GenMachineGUID())
	guid := GenMachineGUID()
	host := reg.Resolve(guid, "child")
	existing := &Receiver{doneCh: make(chan struct{})}
	existing.lastMsgMono.Store(mono.NanoTime())
	host.setReceiver(existing)

	req := httptest.NewRequest(http.MethodGet, "/stream?key=valid-key-1&hostname=child&machine_guid="+guid, nil)
	rec := newHijackableRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}
