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

// Package policydomain implements the message-bus dispatcher and the
// lifecycle orchestrator that drives every subsystem through
// begin → start → run → stop → finish (spec.md §4.5). It is the
// "top-level container that owns workers, scheduler, allocators, and the
// GUID provider" of the GLOSSARY, grounded on the teacher's
// runsc/boot/loader.go bring-up sequencing (construct every component, then
// bring them up in a fixed order, then tear down in reverse) and
// runsc/sandbox/sandbox.go's use of backoff around a polling loop.
package policydomain

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	multierror "github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/talismancer/ocr-core/pkg/log"
	"github.com/talismancer/ocr-core/pkg/ocr/datablock"
	"github.com/talismancer/ocr-core/pkg/ocr/edt"
	"github.com/talismancer/ocr-core/pkg/ocr/guid"
	"github.com/talismancer/ocr-core/pkg/ocr/mem"
	"github.com/talismancer/ocr-core/pkg/ocr/message"
	"github.com/talismancer/ocr-core/pkg/ocr/scheduler"
	"github.com/talismancer/ocr-core/pkg/ocr/worker"
)

// ErrShuttingDown is returned by Process once the domain has begun
// teardown; worker.loop treats it (like mem.ErrShuttingDown) as benign per
// spec.md §9's "dedicated ShuttingDown error" redesign of the original's
// "shutdown by ignoring errors".
var ErrShuttingDown = fmt.Errorf("policydomain: %w", mem.ErrShuttingDown)

// Config tunes optional, non-semantic behavior.
type Config struct {
	// ForceSynchronousDestroy selects which awaitResponse value every
	// worker uses for its post-execution WORK_DESTROY: false (default)
	// fires it and moves on immediately, matching the call-site retrieved
	// in this pack's original_source slice; true blocks until the
	// response is recorded before the worker loop continues. spec.md §9
	// DESIGN NOTES documents that the original source uses both values
	// across call-sites this pack's retrieval doesn't include, and directs
	// that the choice be "surfaced to the implementer as a configurable
	// policy" — this field is that policy, threaded into every worker's
	// Deps by New.
	ForceSynchronousDestroy bool

	// IdleBackoff, if non-zero, is applied by PollIdle between empty
	// COMM_TAKE attempts. spec.md §4.4.d explicitly permits but does not
	// require this ("No sleep, no backoff is mandated; an implementation
	// may add one without breaking the contract"); it defaults to zero so
	// spec.md §8 scenario 3's exact "200 COMM_TAKE requests" iteration
	// count is reproducible under test.
	IdleBackoff time.Duration
}

// PolicyDomain is the top-level container: it owns the GUID provider, the
// memory allocator, the task store, the data-block store, the scheduler,
// and the worker set, and dispatches every Message those subsystems
// exchange.
type PolicyDomain struct {
	cfg Config

	Alloc     *mem.Allocator
	Provider  *guid.Provider
	Tasks     *edt.Store
	DataBlock *datablock.Store
	Scheduler *scheduler.Scheduler
	Workers   []*worker.Worker

	shuttingDown atomic.Bool
}

// New constructs a PolicyDomain with workerCount workers (id 0 is MASTER,
// 1..workerCount-1 are SLAVE), mainFn/argsBlob for the master's bootstrap,
// and one workpile per worker.
func New(cfg Config, workerCount int, pools []scheduler.Pool, mainFn edt.Func, argsBlob []byte) (*PolicyDomain, error) {
	if workerCount <= 0 {
		return nil, fmt.Errorf("policydomain: workerCount must be positive, got %d", workerCount)
	}
	sched, err := scheduler.New(0, workerCount-1, pools)
	if err != nil {
		return nil, fmt.Errorf("policydomain: %w", err)
	}

	alloc := mem.NewAllocator()
	provider := guid.NewProvider(alloc)
	tasks := edt.NewStore(provider)
	dbStore := datablock.NewStore(alloc, provider)

	deps := worker.Deps{
		Provider:                provider,
		Tasks:                   tasks,
		DataBlock:               dbStore,
		Scheduler:               sched,
		ForceSynchronousDestroy: cfg.ForceSynchronousDestroy,
	}

	workers := make([]*worker.Worker, workerCount)
	workers[0] = worker.NewMaster(deps, mainFn, argsBlob)
	for i := 1; i < workerCount; i++ {
		workers[i] = worker.NewSlave(i, deps)
	}

	return &PolicyDomain{
		cfg: cfg, Alloc: alloc, Provider: provider, Tasks: tasks,
		DataBlock: dbStore, Scheduler: sched, Workers: workers,
	}, nil
}

// Process dispatches msg per its Type, the sole point where the reified
// message protocol (spec.md §4.2, §6) meets concrete subsystem calls. It is
// the Bus implementation every worker's compute target routes through
// (pkg/ocr/comptarget.Bus, pkg/ocr/worker.Deps's sibling).
func (d *PolicyDomain) Process(ctx context.Context, msg *message.Message, await bool) error {
	if d.shuttingDown.Load() {
		return ErrShuttingDown
	}

	switch msg.Type {
	case message.TypeMemAlloc:
		return d.processMemAlloc(msg)
	case message.TypeMemUnalloc:
		return d.processMemUnalloc(msg)
	case message.TypeCommTake:
		return d.processCommTake(msg)
	case message.TypeWorkDestroy:
		return d.processWorkDestroy(msg)
	case message.TypeGuidDestroy:
		return d.processGuidDestroy(msg)
	default:
		return fmt.Errorf("policydomain: unknown message type %v", msg.Type)
	}
}

func (d *PolicyDomain) processMemAlloc(msg *message.Message) error {
	req := msg.MemAlloc
	addr, err := d.Alloc.Alloc(req.Size, mem.MemType(req.MemType))
	req.Addr = addr
	req.Err = err
	msg.Respond()
	return err
}

func (d *PolicyDomain) processMemUnalloc(msg *message.Message) error {
	req := msg.MemUnalloc
	err := d.Alloc.Free(req.Addr, mem.MemType(req.MemType))
	req.Err = err
	msg.Respond()
	return err
}

func (d *PolicyDomain) processCommTake(msg *message.Message) error {
	req := msg.CommTake
	g, found, err := d.Scheduler.Take(req.WorkerID, 0)
	req.Found = found
	req.TaskGuid = uint64(g)
	req.Err = err
	msg.Respond()
	return err
}

func (d *PolicyDomain) processWorkDestroy(msg *message.Message) error {
	req := msg.WorkDestroy
	task, ok := d.Tasks.Lookup(guid.GUID(req.TaskGuid))
	if !ok {
		// Already destroyed, or a stale GUID from a shutdown race: benign.
		msg.Respond()
		return nil
	}
	err := d.Tasks.Destroy(task)
	req.Err = err
	msg.Respond()
	return err
}

func (d *PolicyDomain) processGuidDestroy(msg *message.Message) error {
	req := msg.GuidDestroy
	err := d.Provider.ReleaseGuid(guid.FatGuid{Guid: guid.GUID(req.Guid)}, false)
	req.Err = err
	msg.Respond()
	return err
}

// Begin runs begin(policy) on every worker, concurrently, via errgroup —
// grounded on the teacher's pattern of fanning out independent component
// bring-up with golang.org/x/sync/errgroup (runsc/boot/loader.go's
// concurrent device/FD setup) rather than a hand-rolled WaitGroup.
func (d *PolicyDomain) Begin(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for _, w := range d.Workers {
		w := w
		g.Go(func() error { return w.Begin(d) })
	}
	return g.Wait()
}

// Start runs start(policy) on every worker in the order spec.md §4.5
// requires: the master twice (its bootstrap no-op, then its real start)
// before any slave, "to guarantee the policy domain is wired" before slaves
// enter run() (spec.md §5's bootstrap barrier). Slaves start concurrently
// with each other once the master barrier has passed.
func (d *PolicyDomain) Start(ctx context.Context) error {
	master := d.Workers[0]
	if err := master.Start(ctx); err != nil { // no-op phase
		return fmt.Errorf("policydomain: master early start: %w", err)
	}
	if err := master.Start(ctx); err != nil { // real start; spins the loop
		return fmt.Errorf("policydomain: master start: %w", err)
	}

	g, _ := errgroup.WithContext(ctx)
	for _, w := range d.Workers[1:] {
		w := w
		g.Go(func() error { return w.Start(ctx) })
	}
	return g.Wait()
}

// PollIdle is a convenience wrapper around a single worker's COMM_TAKE
// cycle's spin behavior: when cfg.IdleBackoff is non-zero, callers driving
// a worker manually (e.g. a custom scheduler loop, or tests) can use this
// to avoid busy-spinning. Production workers built via Begin/Start manage
// their own loop and do not call this; it exists because
// golang.org/x/sync/errgroup's bounded fan-out has no notion of pacing, and
// the teacher reaches for github.com/cenkalti/backoff wherever it polls an
// external process for readiness (runsc/sandbox/sandbox.go's
// waitForStopped).
func (d *PolicyDomain) PollIdle(ctx context.Context, attempt func() (done bool, err error)) error {
	if d.cfg.IdleBackoff <= 0 {
		for {
			done, err := attempt()
			if err != nil || done {
				return err
			}
		}
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(d.cfg.IdleBackoff), ctx)
	return backoff.Retry(func() error {
		done, err := attempt()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !done {
			return fmt.Errorf("policydomain: not yet done")
		}
		return nil
	}, b)
}

// Stop flips shuttingDown, then runs stop() on every worker concurrently,
// aggregating any failures with hashicorp/go-multierror (the teacher's
// preferred shape for "tear down N things, report everything that went
// wrong" — runsc/boot/loader.go's destroy path). Per spec.md §7, individual
// worker stop failures are expected during shutdown races and are
// aggregated for visibility, not treated as fatal.
func (d *PolicyDomain) Stop(ctx context.Context) error {
	d.shuttingDown.Store(true)

	var errs *multierror.Error
	results := make(chan error, len(d.Workers))
	for _, w := range d.Workers {
		w := w
		go func() { results <- w.Stop(ctx) }()
	}
	for range d.Workers {
		if err := <-results; err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs != nil {
		log.Warningf("policydomain: stop reported errors: %v", errs)
	}
	return errs.ErrorOrNil()
}

// Finish runs finish() on every worker, then closes the memory allocator,
// in reverse of start order (spec.md §4.3: "it destroys them in reverse of
// start order during teardown").
func (d *PolicyDomain) Finish() error {
	var errs *multierror.Error
	for i := len(d.Workers) - 1; i >= 0; i-- {
		if err := d.Workers[i].Finish(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	d.Alloc.Close()
	return errs.ErrorOrNil()
}

// Shutdown runs Stop then Finish, the common teardown sequence.
func (d *PolicyDomain) Shutdown(ctx context.Context) error {
	var errs *multierror.Error
	if err := d.Stop(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := d.Finish(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}
