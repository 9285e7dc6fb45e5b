package stream

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

type fakeDialer struct {
	fail map[string]bool
}

func (d *fakeDialer) DialContext(_ context.Context, _, address string) (net.Conn, error) {
	if d.fail[address] {
		return nil, errors.New("refused")
	}
	c1, c2 := net.Pipe()
	c2.Close()
	return c1, nil
}

func TestParseDestinations(t *testing.T) {
	dests := ParseDestinations("parent1:19999 parent2.example:20000:SSL  parent3")
	if len(dests) != 3 {
		t.Fatalf("got %d destinations, want 3", len(dests))
	}
	if dests[1].Endpoint != "parent2.example:20000" || !dests[1].TLSRequired {
		t.Errorf("dest[1] = %+v, want TLS endpoint parent2.example:20000", dests[1])
	}
	if dests[0].TLSRequired || dests[2].TLSRequired {
		t.Errorf("non-SSL destinations incorrectly marked TLS: %+v %+v", dests[0], dests[2])
	}
}

func TestConnectToOneOfMovesToTail(t *testing.T) {
	r := NewRegistryFromConfig("a b c")
	dialer := &fakeDialer{}
	_, chosen, err := r.ConnectToOneOf(context.Background(), dialer, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chosen.Endpoint != "a" {
		t.Fatalf("expected first candidate 'a', got %s", chosen.Endpoint)
	}
	snap := r.Snapshot()
	if snap[len(snap)-1].Endpoint != "a" {
		t.Fatalf("successful destination should move to tail, got order %+v", snap)
	}
}

func TestConnectToOneOfSkipsPostponed(t *testing.T) {
	r := NewRegistryFromConfig("a b")
	r.mu.Lock()
	r.list[0].PostponeUntil = time.Now().Add(time.Hour)
	r.mu.Unlock()

	dialer := &fakeDialer{}
	_, chosen, err := r.ConnectToOneOf(context.Background(), dialer, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chosen.Endpoint != "b" {
		t.Fatalf("expected postponed 'a' to be skipped in favor of 'b', got %s", chosen.Endpoint)
	}
}

func TestConnectToOneOfExhausted(t *testing.T) {
	r := NewRegistryFromConfig("a b")
	dialer := &fakeDialer{fail: map[string]bool{"a": true, "b": true}}
	_, _, err := r.ConnectToOneOf(context.Background(), dialer, time.Second)
	if err == nil {
		t.Fatal("expected error when every destination fails")
	}
	var se *Error
	if !errors.As(err, &se) || se.Kind != ErrCantConnect {
		t.Fatalf("expected ErrCantConnect, got %v", err)
	}
}

func TestResetPostpone(t *testing.T) {
	r := NewRegistryFromConfig("a")
	r.Postpone(r.list[0], time.Hour)
	if !r.list[0].postponed(time.Now()) {
		t.Fatal("expected destination to be postponed")
	}
	r.ResetPostpone()
	if r.list[0].postponed(time.Now()) {
		t.Fatal("expected postpone to be cleared")
	}
}
