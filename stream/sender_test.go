package stream

import (
	"context"
	"testing"
	"time"
)

func newTestSender() *Sender {
	h := NewHost(GenMachineGUID(), "child")
	return NewSender(h, DefaultConfig(), h.Destinations, nil)
}

func TestCommitBackpressureHardHighWater(t *testing.T) {
	s := newTestSender()
	buf := s.Start()
	buf.Write(make([]byte, hardHighWater))
	err := s.Commit(buf, TrafficData)
	if err == nil {
		t.Fatal("expected hard high-water to reject a data commit")
	}
	var se *Error
	if !asStreamError(err, &se) || se.Kind != ErrBusyTryLater {
		t.Fatalf("expected ErrBusyTryLater, got %v", err)
	}
}

func TestCommitMetadataSurvivesHardHighWater(t *testing.T) {
	s := newTestSender()
	buf := s.Start()
	buf.Write(make([]byte, hardHighWater))
	if err := s.Commit(buf, TrafficMetadata); err != nil {
		t.Fatalf("metadata commits must not be dropped at hard high-water: %v", err)
	}
}

// P4: stop_and_wait(sender) returns only after sender.tid == 0.
func TestStopAndWait(t *testing.T) {
	s := newTestSender()
	s.tid.Store(1)
	close(s.doneCh)
	s.tid.Store(0)
	s.Stop(ErrDisconnectShutdown, true)
	if s.tid.Load() != 0 {
		t.Fatalf("expected tid==0 after Stop(wait=true), got %d", s.tid.Load())
	}
}

func TestSpawnGateSingleSpawn(t *testing.T) {
	s := newTestSender()
	s.cfg.ReconnectDelay = time.Millisecond
	s.Spawn(context.Background())
	if !s.host.Flags.SenderSpawned.Load() {
		t.Fatal("expected sender_spawned to be set after Spawn")
	}
	// a second Spawn before the first completes must be a no-op (I1)
	before := s.host.Flags.SenderSpawned.Load()
	s.Spawn(context.Background())
	if s.host.Flags.SenderSpawned.Load() != before {
		t.Fatal("second Spawn must not disturb the flag while the first is in-flight")
	}
	s.Stop(ErrDisconnectShutdown, true)
}

func asStreamError(err error, target **Error) bool {
	se, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = se
	return true
}
