//go:build debug

// Package debug provides assert/trace helpers that compile to no-ops
// unless built with `-tags debug`.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"
	"sync"

	"github.com/candlerb/netdata/cmn/nlog"
)

func ON() bool { return true }

func Infof(format string, args ...any) { nlog.InfoDepth(1, fmt.Sprintf(format, args...)) }

func Func(f func()) { f() }

func Assert(cond bool, args ...any) {
	if !cond {
		panic(fmt.Sprintln(append([]any{"assertion failed:"}, args...)...))
	}
}

func AssertFunc(f func() bool, args ...any) { Assert(f(), args...) }

func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// AssertMutexLocked cannot actually inspect lock state via sync.Mutex;
// kept as a documentation-only hook so call sites read the same in both
// build modes.
func AssertMutexLocked(_ *sync.Mutex)      {}
func AssertRWMutexLocked(_ *sync.RWMutex)  {}
func AssertRWMutexRLocked(_ *sync.RWMutex) {}
