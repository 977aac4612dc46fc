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

// Package worker implements the worker lifecycle (spec.md §4.4): begin,
// start, run, stop, finish, plus the master/slave bootstrap asymmetry.
//
// The master's "secondStart" boolean toggle (original_source's
// hc-worker.c: `worker->secondStart`) is re-architected per spec.md §9's
// DESIGN NOTES into an explicit phase state machine (Created → EarlyBound →
// Running → Stopped), matching the teacher's preference for named states
// over boolean flags (runsc/boot/controller.go's SignalDeliveryMode enum).
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/talismancer/ocr-core/pkg/log"
	"github.com/talismancer/ocr-core/pkg/ocr/comptarget"
	"github.com/talismancer/ocr-core/pkg/ocr/datablock"
	"github.com/talismancer/ocr-core/pkg/ocr/edt"
	"github.com/talismancer/ocr-core/pkg/ocr/guid"
	"github.com/talismancer/ocr-core/pkg/ocr/message"
	"github.com/talismancer/ocr-core/pkg/ocr/scheduler"
)

// Type distinguishes the master (id 0, performs mainEDT bootstrap) from
// slave workers.
type Type int

const (
	Slave Type = iota
	Master
)

func (t Type) String() string {
	if t == Master {
		return "MASTER"
	}
	return "SLAVE"
}

// phase is the master's explicit bootstrap state machine (spec.md §9).
// Slaves never leave phaseCreated until their single Start call moves them
// straight to phaseRunning.
type phase int

const (
	phaseCreated phase = iota
	phaseEarlyBound
	phaseRunning
	phaseStopped
)

// Deps bundles the policy-domain-owned subsystems a worker needs direct
// read access to, in addition to the message bus it routes every
// state-changing operation through. Passing these in (rather than reaching
// through the bus for every lookup) mirrors spec.md's framing of take/give
// as "consumed by the policy domain, not by workers directly" for mutation,
// while allowing the worker to resolve a COMM_TAKE response's GUID to the
// concrete *edt.Task it must execute (the message bus only carries the
// identity; the Go object it resolves to is not itself wire-shaped).
type Deps struct {
	Provider  *guid.Provider
	Tasks     *edt.Store
	DataBlock *datablock.Store
	Scheduler *scheduler.Scheduler

	// ForceSynchronousDestroy selects which of the two awaitResponse values
	// original_source/runtime/ocr-x86/src/worker/hc/hc-worker.c's two
	// documented WORK_DESTROY call-sites this worker uses for its
	// post-execution destroy (spec.md §9 DESIGN NOTES: "the source uses
	// true for awaitResponse on WORK_DESTROY in some paths and false in
	// others ... surface this to the implementer as a configurable
	// policy"). false (the default) matches the call-site retrieved in
	// this pack's original_source slice, which is fire-and-forget.
	ForceSynchronousDestroy bool
}

// Worker is one OCR worker thread.
type Worker struct {
	ID   int
	Type Type
	deps Deps
	bus  comptarget.Bus

	target *comptarget.Target

	mu       sync.Mutex
	phase    phase
	fguid    guid.FatGuid
	mainFn   edt.Func
	argsBlob []byte

	running atomic.Bool
	curTask atomic.Pointer[edt.Task]
}

// NewSlave constructs a slave worker.
func NewSlave(id int, deps Deps) *Worker {
	if id == 0 {
		panic("worker: slave worker cannot have id 0 (P8: id 0 is reserved for MASTER)")
	}
	return &Worker{ID: id, Type: Slave, deps: deps, fguid: guid.FatGuid{Guid: guid.UninitializedGUID}}
}

// NewMaster constructs the master worker (id 0), which bootstraps mainFn
// from argsBlob on its first loop entry (spec.md §4.4's master bootstrap).
// With a nil argsBlob no bootstrap is performed and the master goes straight
// into the common loop.
func NewMaster(deps Deps, mainFn edt.Func, argsBlob []byte) *Worker {
	return &Worker{
		ID: 0, Type: Master, deps: deps, mainFn: mainFn, argsBlob: argsBlob,
		fguid: guid.FatGuid{Guid: guid.UninitializedGUID},
	}
}

// thread-local "current environment" binding (spec.md §4.4's begin():
// "binds the compute target's thread-local current environment to this
// policy and worker"). Keyed by *comptarget.Target since that is the
// stable per-worker handle a goroutine can look itself up by.
var currentBindings sync.Map // *comptarget.Target -> *Worker

// BindCurrent binds t's thread-local current worker to w.
func BindCurrent(t *comptarget.Target, w *Worker) {
	currentBindings.Store(t, w)
}

// Current resolves the worker bound to t, if any.
func Current(t *comptarget.Target) (*Worker, bool) {
	v, ok := currentBindings.Load(t)
	if !ok {
		return nil, false
	}
	return v.(*Worker), true
}

// Begin initializes the worker's compute target and binds bus as the
// message route every subsequent phase uses.
func (w *Worker) Begin(bus comptarget.Bus) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.target != nil {
		return fmt.Errorf("worker %d: Begin called twice", w.ID)
	}
	w.target = comptarget.New()
	w.bus = bus
	if w.Type == Master {
		BindCurrent(w.target, w)
	}
	return nil
}

// Start advances the worker toward running. For the master, the first call
// is the documented no-op (phaseCreated → phaseEarlyBound); the second call
// performs the real start. Slave workers fully start on their only call.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.Type == Master {
		switch w.phase {
		case phaseCreated:
			w.phase = phaseEarlyBound
			w.mu.Unlock()
			return nil
		case phaseEarlyBound:
			w.mu.Unlock()
			return w.doStart(ctx)
		default:
			w.mu.Unlock()
			return fmt.Errorf("worker %d: Start called in phase %d", w.ID, w.phase)
		}
	}
	if w.phase != phaseCreated {
		w.mu.Unlock()
		return fmt.Errorf("worker %d: Start called in phase %d", w.ID, w.phase)
	}
	w.mu.Unlock()
	return w.doStart(ctx)
}

func (w *Worker) doStart(ctx context.Context) error {
	g, err := w.deps.Provider.GetGuid(uint64(w.ID), guid.KindWorker)
	if err != nil {
		return fmt.Errorf("worker %d: assigning guid: %w", w.ID, err)
	}

	w.mu.Lock()
	w.fguid = guid.FatGuid{Guid: g}
	w.phase = phaseRunning
	w.mu.Unlock()
	w.running.Store(true)

	return w.target.SpinUp(func() { w.run(ctx) })
}

// run is the compute target's routine: for a master given an args blob,
// perform the mainEDT bootstrap first; then both master and slaves enter the
// common take/execute/destroy loop.
func (w *Worker) run(ctx context.Context) {
	if w.Type == Master && w.argsBlob != nil {
		if err := w.bootstrap(ctx); err != nil {
			log.Warningf("worker %d: mainEDT bootstrap failed: %v", w.ID, err)
			return
		}
	}
	w.loop(ctx)
}

// bootstrap implements spec.md §4.4's master bootstrap: unpack the
// user-argument blob, create a data block for it, wrap the user main
// function in a template with paramc=0/depc=1, instantiate it with the data
// block as its single dependency, and give it to the scheduler so the
// common loop picks it up like any other task.
func (w *Worker) bootstrap(ctx context.Context) error {
	args, err := datablock.UnpackArgsBlob(w.argsBlob)
	if err != nil {
		return fmt.Errorf("unpacking args blob: %w", err)
	}
	db, err := w.deps.DataBlock.Create(uint64(len(args)))
	if err != nil {
		return fmt.Errorf("creating args data block: %w", err)
	}
	copy(w.deps.DataBlock.Bytes(db), args)

	tmpl, err := w.deps.Tasks.NewTemplate(w.mainFn, 0, 1)
	if err != nil {
		return fmt.Errorf("creating mainEDT template: %w", err)
	}
	task, err := w.deps.Tasks.NewTask(tmpl, nil, []guid.GUID{db.Fguid.Guid})
	if err != nil {
		return fmt.Errorf("instantiating mainEDT: %w", err)
	}
	if err := w.deps.Scheduler.Give(w.ID, task.Fguid.Guid); err != nil {
		return fmt.Errorf("scheduling mainEDT: %w", err)
	}
	log.Debugf("worker %d: mainEDT %d bootstrapped from %d-byte args", w.ID, task.Fguid.Guid, len(args))
	return nil
}

// loop is the common take/execute/destroy loop (spec.md §4.4): while
// running, issue a synchronous COMM_TAKE; on a miss, retry; on a hit,
// execute the resolved task and issue a WORK_DESTROY (fire-and-forget, or
// awaited when Deps.ForceSynchronousDestroy is set).
func (w *Worker) loop(ctx context.Context) {
	for w.running.Load() {
		req := message.NewRequest(message.TypeCommTake)
		req.Flags |= message.FlagAwaitResponse
		req.CommTake = &message.CommTake{WorkerID: w.ID}

		if err := w.target.WaitMessage(ctx, w.bus, req); err != nil {
			// Shutdown race (spec.md §8 scenario 6) or any other non-zero
			// status: treated as a spurious miss, re-check running.
			continue
		}
		ct := req.CommTake
		if ct.Err != nil || !ct.Found {
			continue
		}

		taskGuid := guid.GUID(ct.TaskGuid)
		task, ok := w.deps.Tasks.Lookup(taskGuid)
		if !ok {
			panic(fmt.Sprintf("worker %d: COMM_TAKE returned unknown task guid %d", w.ID, taskGuid))
		}

		w.curTask.Store(task)
		if err := task.Execute(); err != nil {
			log.Warningf("worker %d: task %d execution failed: %v", w.ID, taskGuid, err)
		}
		w.curTask.Store(nil)

		destroy := message.NewRequest(message.TypeWorkDestroy)
		destroy.WorkDestroy = &message.WorkDestroy{TaskGuid: uint64(taskGuid)}
		if w.deps.ForceSynchronousDestroy {
			destroy.Flags |= message.FlagAwaitResponse
			if err := w.target.WaitMessage(ctx, w.bus, destroy); err != nil {
				log.Warningf("worker %d: synchronous WORK_DESTROY for task %d failed: %v", w.ID, taskGuid, err)
			}
		} else {
			_ = w.target.SendMessage(ctx, w.bus, destroy) // fire-and-forget; failures ignored
		}
	}
}

// Stop flips running false, waits for the loop to observe it and return,
// issues a fire-and-forget GUID_DESTROY for the worker's own GUID, and
// clears it to UninitializedGUID. Failures during this path are ignored
// (spec.md §7's shutdown-race recovery policy).
func (w *Worker) Stop(ctx context.Context) error {
	w.running.Store(false)
	if w.target != nil {
		w.target.Join()
	}

	w.mu.Lock()
	g := w.fguid
	w.fguid = guid.FatGuid{Guid: guid.UninitializedGUID}
	w.phase = phaseStopped
	w.mu.Unlock()

	if g.Guid != guid.UninitializedGUID && w.bus != nil {
		destroy := message.NewRequest(message.TypeGuidDestroy)
		destroy.GuidDestroy = &message.GuidDestroy{Guid: message.GUIDRef(g.Guid)}
		_ = w.target.SendMessage(ctx, w.bus, destroy)
	}
	return nil
}

// Finish performs final compute-target teardown.
func (w *Worker) Finish() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.target = nil
	return nil
}

// Running reports the worker's current running flag, for tests and
// diagnostics (invariant P7).
func (w *Worker) Running() bool { return w.running.Load() }

// Guid returns the worker's currently bound GUID (UninitializedGUID before
// Start or after Stop).
func (w *Worker) Guid() guid.GUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fguid.Guid
}
