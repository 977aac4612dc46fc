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

package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/talismancer/ocr-core/pkg/ocr/datablock"
	"github.com/talismancer/ocr-core/pkg/ocr/edt"
	"github.com/talismancer/ocr-core/pkg/ocr/guid"
	"github.com/talismancer/ocr-core/pkg/ocr/mem"
	"github.com/talismancer/ocr-core/pkg/ocr/message"
	"github.com/talismancer/ocr-core/pkg/ocr/scheduler"
	"github.com/talismancer/ocr-core/pkg/ocr/workpile"
)

// testBus is a minimal stand-in for the policy domain's message dispatch,
// scoped to exactly what worker.loop/bootstrap send. policydomain's own
// tests exercise the real dispatcher; this harness isolates worker's
// lifecycle logic from that package.
type testBus struct {
	sched *scheduler.Scheduler
	tasks *edt.Store

	mu            sync.Mutex
	takeCount     int
	destroyCount  int
	destroyAwaits []bool
	stopped       atomic.Bool
}

func (b *testBus) Process(ctx context.Context, msg *message.Message, await bool) error {
	if b.stopped.Load() {
		return context.Canceled
	}
	switch msg.Type {
	case message.TypeCommTake:
		b.mu.Lock()
		b.takeCount++
		b.mu.Unlock()
		g, found, err := b.sched.Take(msg.CommTake.WorkerID, 0)
		msg.CommTake.Found = found
		msg.CommTake.TaskGuid = uint64(g)
		msg.CommTake.Err = err
		return err
	case message.TypeWorkDestroy:
		b.mu.Lock()
		b.destroyCount++
		b.destroyAwaits = append(b.destroyAwaits, await)
		b.mu.Unlock()
		task, ok := b.tasks.Lookup(guid.GUID(msg.WorkDestroy.TaskGuid))
		if !ok {
			return nil
		}
		return b.tasks.Destroy(task)
	case message.TypeGuidDestroy:
		return nil
	}
	return nil
}

func newHarness(t *testing.T, n int) (*testBus, []scheduler.Pool, Deps) {
	t.Helper()
	alloc := mem.NewAllocator()
	provider := guid.NewProvider(alloc)
	tasks := edt.NewStore(provider)
	dbStore := datablock.NewStore(alloc, provider)

	pools := make([]scheduler.Pool, n)
	for i := range pools {
		pools[i] = workpile.New()
	}
	sched, err := scheduler.New(0, n-1, pools)
	assert.NilError(t, err)

	bus := &testBus{sched: sched, tasks: tasks}
	deps := Deps{Provider: provider, Tasks: tasks, DataBlock: dbStore, Scheduler: sched}
	return bus, pools, deps
}

// TestSingleWorkerLoopback is spec.md §8 scenario 1.
func TestSingleWorkerLoopback(t *testing.T) {
	bus, _, deps := newHarness(t, 1)

	var flag atomic.Int32
	executed := make(chan struct{})
	tmpl, err := deps.Tasks.NewTemplate(func(tk *edt.Task) error {
		flag.Store(7)
		close(executed)
		return nil
	}, 0, 0)
	assert.NilError(t, err)
	task, err := deps.Tasks.NewTask(tmpl, nil, nil)
	assert.NilError(t, err)
	assert.NilError(t, deps.Scheduler.Give(0, task.Fguid.Guid))

	master := NewMaster(deps, func(tk *edt.Task) error { return nil }, nil)
	assert.NilError(t, master.Begin(bus))
	assert.NilError(t, master.Start(context.Background())) // first call: no-op
	assert.NilError(t, master.Start(context.Background())) // second call: real start, spins the loop

	select {
	case <-executed:
	case <-time.After(2 * time.Second):
		t.Fatal("pre-seeded EDT never executed")
	}

	assert.Equal(t, flag.Load(), int32(7))
	assert.Assert(t, master.Running())

	assert.NilError(t, master.Stop(context.Background()))
	assert.NilError(t, master.Finish())
	assert.Equal(t, bus.destroyCount, 1)
	assert.Equal(t, bus.destroyAwaits[0], false)
}

// TestForceSynchronousDestroyAwaitsResponse proves
// Deps.ForceSynchronousDestroy actually changes the awaitResponse value the
// worker loop passes to Process for its post-execution WORK_DESTROY call,
// per spec.md §9 DESIGN NOTES' configurable-policy directive.
func TestForceSynchronousDestroyAwaitsResponse(t *testing.T) {
	bus, _, deps := newHarness(t, 1)
	deps.ForceSynchronousDestroy = true

	executed := make(chan struct{})
	tmpl, err := deps.Tasks.NewTemplate(func(tk *edt.Task) error {
		close(executed)
		return nil
	}, 0, 0)
	assert.NilError(t, err)
	task, err := deps.Tasks.NewTask(tmpl, nil, nil)
	assert.NilError(t, err)
	assert.NilError(t, deps.Scheduler.Give(0, task.Fguid.Guid))

	master := NewMaster(deps, func(tk *edt.Task) error { return nil }, nil)
	assert.NilError(t, master.Begin(bus))
	assert.NilError(t, master.Start(context.Background()))
	assert.NilError(t, master.Start(context.Background()))

	select {
	case <-executed:
	case <-time.After(2 * time.Second):
		t.Fatal("pre-seeded EDT never executed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for bus.destroyCount == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.NilError(t, master.Stop(context.Background()))

	assert.Equal(t, bus.destroyCount, 1)
	assert.Equal(t, bus.destroyAwaits[0], true)
}

// TestTwoWorkerStealExecutesAllFour is spec.md §8 scenario 2, at the
// worker-lifecycle level (scheduler package covers the pure algorithm).
func TestTwoWorkerStealExecutesAllFour(t *testing.T) {
	bus, pools, deps := newHarness(t, 2)

	var executions atomic.Int32
	tmpl, err := deps.Tasks.NewTemplate(func(tk *edt.Task) error {
		executions.Add(1)
		return nil
	}, 0, 0)
	assert.NilError(t, err)
	for i := 0; i < 4; i++ {
		task, err := deps.Tasks.NewTask(tmpl, nil, nil)
		assert.NilError(t, err)
		assert.NilError(t, deps.Scheduler.Give(0, task.Fguid.Guid))
	}

	w0 := NewMaster(deps, func(tk *edt.Task) error { return nil }, nil)
	assert.NilError(t, w0.Begin(bus))
	assert.NilError(t, w0.Start(context.Background()))
	assert.NilError(t, w0.Start(context.Background()))

	w1 := NewSlave(1, deps)
	assert.NilError(t, w1.Begin(bus))
	assert.NilError(t, w1.Start(context.Background()))

	deadline := time.Now().Add(2 * time.Second)
	for executions.Load() < 4 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, executions.Load(), int32(4))
	assert.Equal(t, pools[0].(interface{ Len() int }).Len(), 0)
	assert.Equal(t, pools[1].(interface{ Len() int }).Len(), 0)

	assert.NilError(t, w0.Stop(context.Background()))
	assert.NilError(t, w1.Stop(context.Background()))
}

// TestEmptySystemNoExecutionsCleanShutdown is spec.md §8 scenario 3.
func TestEmptySystemNoExecutionsCleanShutdown(t *testing.T) {
	bus, _, deps := newHarness(t, 2)

	w0 := NewMaster(deps, func(tk *edt.Task) error { return nil }, nil)
	w1 := NewSlave(1, deps)
	assert.NilError(t, w0.Begin(bus))
	assert.NilError(t, w1.Begin(bus))
	assert.NilError(t, w0.Start(context.Background()))
	assert.NilError(t, w0.Start(context.Background()))
	assert.NilError(t, w1.Start(context.Background()))

	time.Sleep(20 * time.Millisecond)

	assert.NilError(t, w0.Stop(context.Background()))
	assert.NilError(t, w1.Stop(context.Background()))

	assert.Equal(t, bus.destroyCount, 0)
	assert.Assert(t, bus.takeCount > 0)
}

// TestMasterMustHaveIDZero is invariant P8, enforced at construction.
func TestMasterMustHaveIDZero(t *testing.T) {
	_, _, deps := newHarness(t, 1)
	defer func() {
		r := recover()
		assert.Assert(t, r != nil)
	}()
	_ = NewSlave(0, deps)
}

// TestBootstrapBuildsOneDBOneTemplateOneTask is spec.md §8 scenario 4.
func TestBootstrapBuildsOneDBOneTemplateOneTask(t *testing.T) {
	bus, _, deps := newHarness(t, 1)

	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	blob := make([]byte, 8+16)
	blob[0] = 16
	copy(blob[8:], payload)

	var gotPayload []byte
	verify := make(chan struct{})
	mainFn := func(tk *edt.Task) error {
		assert.Equal(t, len(tk.DepV), 1)
		db, err := deps.DataBlock.Lookup(tk.DepV[0])
		assert.NilError(t, err)
		gotPayload = append([]byte(nil), deps.DataBlock.Bytes(db)...)
		close(verify)
		return nil
	}

	master := NewMaster(deps, mainFn, blob)
	assert.NilError(t, master.Begin(bus))
	assert.NilError(t, master.Start(context.Background()))
	assert.NilError(t, master.Start(context.Background()))

	select {
	case <-verify:
	case <-time.After(2 * time.Second):
		t.Fatal("mainEDT never ran")
	}
	assert.DeepEqual(t, gotPayload, payload)
	assert.NilError(t, master.Stop(context.Background()))
}
