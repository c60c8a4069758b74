// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package workerrors holds the sentinel/typed errors the Work Manager Loop
// switches on (spec §7's error kinds not already represented as a result
// value: grammar errors surface as *compiler.CompileError, extractor input
// errors surface as an Object with an error result, neither belongs here).
package workerrors

import (
	"errors"
	"fmt"
)

// ErrSoftTransient marks a failure that should requeue the current job for
// another delivery attempt (backend crash mid-request, AV timeout, type
// detection failure, DB disconnect — spec §7 "soft transient").
var ErrSoftTransient = errors.New("workerrors: soft transient failure")

// ErrHardTransient marks a failure the manager cannot recover from in
// place; the current job is rejected and the process exits for its
// supervisor to restart (broker lost, backend died, partial child-creation
// side effects — spec §7 "hard transient").
var ErrHardTransient = errors.New("workerrors: hard transient failure")

// ErrExpired means the job's TTL (spec §3 "expiration_ts") had already
// elapsed by the time it was considered; the caller force-completes with
// "Time out" and never invokes the backend.
var ErrExpired = errors.New("workerrors: job expired")

// ErrLimitsReached marks a user-visible size/recursion/child-count limit
// (spec §7 "never fail the job for limits alone" — a LimitsReached error
// is carried as context for the LIMITS_REACHED/MAX_<X>_REACHED symbols the
// caller adds to the result, not as a reason to abandon the job).
var ErrLimitsReached = errors.New("workerrors: limit reached")

// SoftTransient wraps cause as an ErrSoftTransient, preserving both for
// errors.Is/As.
func SoftTransient(cause error) error {
	return fmt.Errorf("%w: %w", ErrSoftTransient, cause)
}

// HardTransient wraps cause as an ErrHardTransient.
func HardTransient(cause error) error {
	return fmt.Errorf("%w: %w", ErrHardTransient, cause)
}

// LimitReached names which limit (size, recursion, children, ...) was hit,
// producing the MAX_<X>_REACHED symbol name the caller attaches to the result.
type LimitReached struct {
	Limit string // e.g. "size", "recursion", "children"
}

func (e *LimitReached) Error() string {
	return fmt.Sprintf("workerrors: limit reached: %s", e.Limit)
}

func (e *LimitReached) Unwrap() error { return ErrLimitsReached }

// Symbol returns the MAX_<X>_REACHED symbol spec §7 names, X being the
// upper-cased limit name.
func (e *LimitReached) Symbol() string {
	upper := make([]byte, len(e.Limit))
	for i := 0; i < len(e.Limit); i++ {
		c := e.Limit[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper[i] = c
	}
	return "MAX_" + string(upper) + "_REACHED"
}
