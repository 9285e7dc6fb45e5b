//go:build !mono

// Package mono provides a monotonic nanosecond clock, independent of
// wall-clock adjustments - used for staleness checks (receiver idle
// detection, destination back-off) where NTP jumps must not matter.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds elapsed since an arbitrary, process-local
// epoch. Only differences between two NanoTime() calls are meaningful.
func NanoTime() int64 { return time.Since(start).Nanoseconds() }
