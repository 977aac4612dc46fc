// Copyright 2026 The OCR Core Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package comptarget implements the compute target: the thread-of-execution
// abstraction a worker spins up to run its loop. original_source's
// hc-comp-target.h keeps this deliberately thin (a routine function pointer
// plus its argument); this package mirrors that, spawning the routine as a
// goroutine rather than an OS thread, the way the teacher spawns one
// long-lived goroutine per monitored unit (runsc/boot/loader.go's
// startGoferMonitor: `go func() { ... }()`, completion observed rather than
// the routine tracked by OS thread) instead of mapping tasks to OS threads 1:1.
//
// spec.md assumes exactly one compute target per worker in this core
// (§4.4's "owned array of compute targets (assumed length 1)"); message
// helpers (sendMessage/pollMessage/waitMessage) delegate here under that
// precondition.
package comptarget

import (
	"context"
	"fmt"
	"sync"

	"github.com/talismancer/ocr-core/pkg/ocr/message"
)

// Bus is the subset of the policy domain a compute target needs to route
// messages through. Kept as an interface (rather than a concrete
// *policydomain.PolicyDomain) so comptarget has no import-cycle dependency
// on the package that owns it.
type Bus interface {
	Process(ctx context.Context, msg *message.Message, await bool) error
}

// Target is a single compute target. A worker owns exactly one in this
// core.
type Target struct {
	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// New constructs an idle Target.
func New() *Target {
	return &Target{}
}

// SpinUp starts routine on a fresh goroutine. It is the Go analogue of the
// original's thread-creation call inside worker start().
func (t *Target) SpinUp(routine func()) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return fmt.Errorf("comptarget: already running")
	}
	t.running = true
	t.done = make(chan struct{})
	t.mu.Unlock()

	done := t.done
	go func() {
		defer close(done)
		routine()
	}()
	return nil
}

// Join blocks until the routine started by SpinUp returns, then marks the
// target idle. Join on a target that was never spun up returns immediately.
func (t *Target) Join() {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done == nil {
		return
	}
	<-done
	t.mu.Lock()
	t.running = false
	t.done = nil
	t.mu.Unlock()
}

// Running reports whether the target's routine is currently executing.
func (t *Target) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// SendMessage submits msg for processing without waiting for a response,
// the fire-and-forget call shape WORK_DESTROY and GUID_DESTROY use during
// steady-state operation (spec.md §4.4.c).
func (t *Target) SendMessage(ctx context.Context, bus Bus, msg *message.Message) error {
	return bus.Process(ctx, msg, false)
}

// WaitMessage submits msg and blocks until a response is recorded on it,
// the call shape COMM_TAKE uses, and WORK_DESTROY when the worker's
// ForceSynchronousDestroy option is on
// (spec.md §5's "the only blocking operation is the synchronous
// processMessage call with awaitResponse=true").
func (t *Target) WaitMessage(ctx context.Context, bus Bus, msg *message.Message) error {
	return bus.Process(ctx, msg, true)
}

// PollMessage is an alias for WaitMessage kept distinct at the call site so
// worker code reads the way spec.md §4.3 names the three helpers
// (sendMessage, pollMessage, waitMessage), even though this implementation
// has no separate non-blocking-poll primitive to offer beyond SendMessage.
func (t *Target) PollMessage(ctx context.Context, bus Bus, msg *message.Message) error {
	return t.WaitMessage(ctx, bus, msg)
}
