// Package hk provides a mechanism for registering cleanup/sweep functions
// which are invoked at specified intervals - used by cmd/stream-agent to
// drive its collector tick. Intervals are measured with time.Now.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"
)

// UnregInterval, returned by a registered callback, unregisters it.
const UnregInterval = time.Duration(-1)

type (
	// CleanupFunc runs at (roughly) its registered interval; its return
	// value becomes the next interval, or UnregInterval to stop.
	CleanupFunc func() time.Duration

	request struct {
		f        CleanupFunc
		name     string
		interval time.Duration
		initTime time.Time
	}

	Housekeeper struct {
		mu       sync.Mutex
		items    []*request // min-heap by initTime
		byName   map[string]*request
		workCh   chan *request
		unregCh  chan string
		stopCh   chan struct{}
		started  chan struct{}
		startOne sync.Once
		stopOne  sync.Once
	}
)

// DefaultHK is the process-wide housekeeper, matching the teacher's
// `hk.DefaultHK` / `hk.Reg` / `hk.Unreg` convention.
var DefaultHK = New()

func New() *Housekeeper {
	return &Housekeeper{
		byName:  make(map[string]*request, 16),
		workCh:  make(chan *request, 64),
		unregCh: make(chan string, 16),
		stopCh:  make(chan struct{}),
		started: make(chan struct{}),
	}
}

// TestInit resets DefaultHK for a fresh test run.
func TestInit() { DefaultHK = New() }

// Reg registers f to run first after `interval`, and thereafter at
// whatever interval f itself returns.
func Reg(name string, f CleanupFunc, interval time.Duration) { DefaultHK.Reg(name, f, interval) }
func Unreg(name string)                                      { DefaultHK.Unreg(name) }
func WaitStarted()                                           { <-DefaultHK.started }

func (hk *Housekeeper) Reg(name string, f CleanupFunc, interval time.Duration) {
	r := &request{f: f, name: name, interval: interval, initTime: time.Now().Add(interval)}
	hk.workCh <- r
}

func (hk *Housekeeper) Unreg(name string) { hk.unregCh <- name }

func (hk *Housekeeper) Stop() {
	hk.stopOne.Do(func() { close(hk.stopCh) })
}

// Run drives the housekeeper loop; call it in its own goroutine.
func (hk *Housekeeper) Run() {
	hk.startOne.Do(func() { close(hk.started) })
	heap.Init((*reqHeap)(&hk.items))

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		hk.resched(timer)
		select {
		case r := <-hk.workCh:
			hk.add(r)
		case name := <-hk.unregCh:
			hk.remove(name)
		case <-timer.C:
			hk.fire()
		case <-hk.stopCh:
			return
		}
	}
}

func (hk *Housekeeper) add(r *request) {
	hk.mu.Lock()
	defer hk.mu.Unlock()
	if old, ok := hk.byName[r.name]; ok {
		hk.removeLocked(old)
	}
	hk.byName[r.name] = r
	heap.Push((*reqHeap)(&hk.items), r)
}

func (hk *Housekeeper) remove(name string) {
	hk.mu.Lock()
	defer hk.mu.Unlock()
	if r, ok := hk.byName[name]; ok {
		hk.removeLocked(r)
	}
}

func (hk *Housekeeper) removeLocked(r *request) {
	delete(hk.byName, r.name)
	for i, it := range hk.items {
		if it == r {
			heap.Remove((*reqHeap)(&hk.items), i)
			return
		}
	}
}

func (hk *Housekeeper) resched(timer *time.Timer) {
	hk.mu.Lock()
	defer hk.mu.Unlock()
	if len(hk.items) == 0 {
		return
	}
	d := time.Until(hk.items[0].initTime)
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

func (hk *Housekeeper) fire() {
	now := time.Now()
	for {
		hk.mu.Lock()
		if len(hk.items) == 0 || hk.items[0].initTime.After(now) {
			hk.mu.Unlock()
			break
		}
		r := heap.Pop((*reqHeap)(&hk.items)).(*request)
		delete(hk.byName, r.name)
		hk.mu.Unlock()

		next := r.f()
		if next == UnregInterval {
			continue
		}
		r.interval = next
		r.initTime = now.Add(next)
		hk.mu.Lock()
		hk.byName[r.name] = r
		heap.Push((*reqHeap)(&hk.items), r)
		hk.mu.Unlock()
	}
}

// reqHeap: min-heap by initTime.
type reqHeap []*request

func (h reqHeap) Len() int            { return len(h) }
func (h reqHeap) Less(i, j int) bool  { return h[i].initTime.Before(h[j].initTime) }
func (h reqHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *reqHeap) Push(x any)         { *h = append(*h, x.(*request)) }
func (h *reqHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
