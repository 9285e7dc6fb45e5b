// Package cos provides common low-level types and utilities shared across
// the Stream Core.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"

	"github.com/candlerb/netdata/cmn/debug"
	"github.com/candlerb/netdata/cmn/nlog"
)

type (
	ErrNotFound struct {
		what string
	}
	// Errs accumulates up to maxErrs distinct errors, e.g. across a fan-in of
	// collector commits, and joins them into one on demand.
	Errs struct {
		errs []error
		cnt  int64
		mu   sync.Mutex
	}
)

// ErrNotFound

func NewErrNotFound(format string, a ...any) *ErrNotFound {
	return &ErrNotFound{fmt.Sprintf(format, a...)}
}

func (e *ErrNotFound) Error() string { return e.what + " does not exist" }

func IsErrNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}

// Errs

const maxErrs = 4

func (e *Errs) Add(err error) {
	debug.Assert(err != nil)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
		e.cnt++
	}
}

func (e *Errs) Cnt() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int(e.cnt)
}

func (e *Errs) JoinErr() (cnt int, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cnt = int(e.cnt); cnt > 0 {
		err = errors.Join(e.errs...)
	}
	return
}

func (e *Errs) Error() (s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return ""
	}
	err := e.errs[0]
	if n := len(e.errs); n > 1 {
		err = fmt.Errorf("%w (and %d more error%s)", err, n-1, Plural(n-1))
	}
	return err.Error()
}

// Plural returns "s" unless n == 1 - used for log/error messages.
func Plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

//
// connection-error classification (no caller in the Stream Core's
// reconnect or back-off paths uses these).
//

func IsErrConnectionRefused(err error) bool { return errors.Is(err, syscall.ECONNREFUSED) }
func IsErrConnectionReset(err error) bool   { return errors.Is(err, syscall.ECONNRESET) }
func IsErrBrokenPipe(err error) bool        { return errors.Is(err, syscall.EPIPE) }

func IsRetriableConnErr(err error) bool {
	return IsErrConnectionRefused(err) || IsErrConnectionReset(err) || IsErrBrokenPipe(err)
}

func isErrDNSLookup(err error) bool {
	var e *net.DNSError
	return errors.As(err, &e)
}

// IsUnreachable reports whether err/status indicates the peer is (for now)
// unreachable rather than rejecting the connection for cause.
func IsUnreachable(err error, status int) bool {
	return IsErrConnectionRefused(err) ||
		isErrDNSLookup(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		status == http.StatusRequestTimeout ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusBadGateway
}

// ExitLogf logs a fatal startup error and exits - the cmd/ convention
// for configuration/initialization failures that have no recovery path.
func ExitLogf(format string, a ...any) {
	nlog.Errorf(format, a...)
	os.Exit(1)
}
