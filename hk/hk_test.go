// Package hk provides a mechanism for registering cleanup/sweep functions
// which are invoked at specified intervals.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package hk_test

import (
	"testing"
	"time"

	"github.com/candlerb/netdata/hk"
)

func TestHousekeeper(t *testing.T) {
	hk.TestInit()
	go hk.DefaultHK.Run()
	hk.WaitStarted()
	defer hk.DefaultHK.Stop()

	fired := make(chan struct{}, 8)
	hk.Reg("probe", func() time.Duration {
		fired <- struct{}{}
		return hk.UnregInterval
	}, 10*time.Millisecond)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("registered callback never fired")
	}
}

func TestHousekeeperUnreg(t *testing.T) {
	hk.TestInit()
	go hk.DefaultHK.Run()
	hk.WaitStarted()
	defer hk.DefaultHK.Stop()

	var calls int
	hk.Reg("repeat", func() time.Duration {
		calls++
		return time.Hour
	}, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	hk.Unreg("repeat")
	time.Sleep(20 * time.Millisecond)

	if calls == 0 {
		t.Fatal("expected at least one invocation before Unreg")
	}
}
