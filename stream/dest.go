// Destination registry (C2, §4.2): an ordered list of candidate parents
// per host, round-robin on failure, with postpone-based back-off.
// Grounded on the round-robin dial loop in aistore's transport/bundle
// stream_bundle.go (try each node in turn, rotate past a failed one)
// adapted from a fixed cluster membership map to an ordered, mutable
// destination list per §4.2.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stream

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/candlerb/netdata/cmn/cos"
)

// Destination is one candidate parent endpoint (§3).
type Destination struct {
	Endpoint      string
	TLSRequired   bool
	Attempts      int64
	LastAttempt   time.Time
	PostponeUntil time.Time
}

func (d *Destination) postponed(now time.Time) bool {
	return d.PostponeUntil.After(now)
}

// Registry is a host's ordered destination list (§3, §4.2). Mutated
// only by the Sender goroutine that owns it (§5 "Shared resources").
type Registry struct {
	mu   sync.Mutex
	list []*Destination
}

func NewRegistry() *Registry { return &Registry{} }

// ParseDestinations splits a whitespace-separated `destination` config
// value into an ordered Destination list; a trailing ":SSL" token marks
// that endpoint as requiring TLS (§4.2).
func ParseDestinations(s string) []*Destination {
	fields := strings.Fields(s)
	out := make([]*Destination, 0, len(fields))
	for _, f := range fields {
		d := &Destination{Endpoint: f}
		if strings.HasSuffix(strings.ToUpper(f), ":SSL") {
			d.TLSRequired = true
			d.Endpoint = f[:len(f)-len(":SSL")]
		}
		out = append(out, d)
	}
	return out
}

func NewRegistryFromConfig(destination string) *Registry {
	return &Registry{list: ParseDestinations(destination)}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.list)
}

func (r *Registry) Snapshot() []Destination {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Destination, len(r.list))
	for i, d := range r.list {
		out[i] = *d
	}
	return out
}

// ResetPostpone clears postpone_until on every entry (§4.2 "global
// reset-postpone"), used right after a successful reconnect so the next
// failure doesn't immediately skip every destination the agent just
// proved are reachable.
func (r *Registry) ResetPostpone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.list {
		d.PostponeUntil = time.Time{}
	}
}

// Dialer abstracts the socket connect so tests can substitute a fake
// without opening real network connections.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type netDialer struct{ d net.Dialer }

func (n *netDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return n.d.DialContext(ctx, network, address)
}

// DefaultDialer wraps net.Dialer.
func DefaultDialer() Dialer { return &netDialer{} }

// connect_to_one_of (§4.2): scan from head, skip postponed entries,
// dial with a caller-supplied timeout, and on success move the winner
// to the tail so the next cycle advances past it. Returns a
// stream.Error{Kind: ErrCantConnect} when every candidate is postponed or
// unreachable; its cause is cos.ErrNotFound only when no destination is
// configured, else the last dial error.
func (r *Registry) ConnectToOneOf(ctx context.Context, dialer Dialer, timeout time.Duration) (net.Conn, *Destination, error) {
	r.mu.Lock()
	candidates := make([]*Destination, len(r.list))
	copy(candidates, r.list)
	r.mu.Unlock()

	if len(candidates) == 0 {
		return nil, nil, NewError(ErrCantConnect, "", cos.NewErrNotFound("no configured destinations"))
	}

	now := time.Now()
	var lastErr error
	for _, d := range candidates {
		if d.postponed(now) {
			continue
		}
		r.mu.Lock()
		d.LastAttempt = now
		d.Attempts++
		r.mu.Unlock()

		dctx, cancel := context.WithTimeout(ctx, timeout)
		conn, err := dialer.DialContext(dctx, "tcp", d.Endpoint)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		r.moveToTail(d)
		return conn, d, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all %d destinations postponed", len(candidates))
	}
	return nil, nil, NewError(ErrCantConnect, "", lastErr)
}

func (r *Registry) moveToTail(target *Destination) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, d := range r.list {
		if d == target {
			r.list = append(r.list[:i], r.list[i+1:]...)
			r.list = append(r.list, d)
			return
		}
	}
}

// Postpone sets postpone_until = now + delay on the given destination.
// ConnectToOneOf does not postpone a destination whose dial failed, and
// the Sender does not call Postpone.
func (r *Registry) Postpone(target *Destination, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	target.PostponeUntil = time.Now().Add(delay)
}
