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

// Package edt defines the event-driven task (EDT) and template types
// (spec.md §3), and the Store that binds them to GUIDs.
//
// Grounded on original_source's hc-worker.c task invocation
// (executeFunc(worker->curTask)) and on the teacher's
// runsc/boot/controller.go CreateArgs/StartArgs shape: a template
// separates the executable body and its arity from any particular
// instantiation, and NewTask (here, Store.NewTask) binds a fresh GUID atop
// caller-owned configuration.
package edt

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/talismancer/ocr-core/pkg/log"
	"github.com/talismancer/ocr-core/pkg/ocr/guid"
)

// Func is an EDT body. It returns a non-zero-equivalent error on failure;
// per spec.md §7.5, an execution failure is recorded but does not terminate
// the worker, and the task's WORK_DESTROY is still issued.
type Func func(t *Task) error

// ErrAlreadyExecuted is returned by Task.Execute if called more than once,
// enforcing invariant P1 (at-most-once execution) at the task level as a
// backstop to the workpile's pop/steal exclusivity (spec.md §5).
var ErrAlreadyExecuted = errors.New("edt: task already executed")

// ErrAlreadyDestroyed is returned by Store.Destroy if called more than once
// for the same task, enforcing invariant P2 (at-most-once destruction).
var ErrAlreadyDestroyed = errors.New("edt: task already destroyed")

// Template is an EDT template: an executable body plus its declared arity,
// independent of any particular instantiation's arguments or dependencies.
type Template struct {
	Fguid  guid.FatGuid
	Func   Func
	ParamC uint32
	DepC   uint32
}

// Task is a scheduled unit of work: a template instantiation bound to a
// concrete parameter vector and dependency slot array (spec.md §3).
type Task struct {
	Fguid    guid.FatGuid
	Template *Template
	ParamV   []uint64
	DepV     []guid.GUID

	executed atomic.Bool
}

// Execute invokes the task body exactly once. Calling it a second time
// returns ErrAlreadyExecuted without re-invoking the body.
func (t *Task) Execute() error {
	if !t.executed.CompareAndSwap(false, true) {
		return ErrAlreadyExecuted
	}
	return t.Template.Func(t)
}

// Store binds Templates and Tasks to GUIDs, and is the lookup table the
// message bus's COMM_TAKE response and WORK_DESTROY request resolve GUIDs
// through (spec.md §4.2: "the returned task's metadata pointer ... packed
// into the response").
type Store struct {
	provider *guid.Provider

	mu        sync.RWMutex
	templates map[guid.GUID]*Template
	tasks     map[guid.GUID]*Task
}

// NewStore constructs an empty Store backed by provider.
func NewStore(provider *guid.Provider) *Store {
	return &Store{
		provider:  provider,
		templates: make(map[guid.GUID]*Template),
		tasks:     make(map[guid.GUID]*Task),
	}
}

// NewTemplate creates an EDT template from fn with the given declared
// parameter and dependency counts (spec.md §4.4's "paramc=0, depc=1" for the
// mainEDT bootstrap is one instance of this general constructor).
func (s *Store) NewTemplate(fn Func, paramc, depc uint32) (*Template, error) {
	fg, err := s.provider.CreateGuid(0, guid.KindEDTTemplate)
	if err != nil {
		return nil, fmt.Errorf("edt: creating template guid: %w", err)
	}
	tmpl := &Template{Fguid: fg, Func: fn, ParamC: paramc, DepC: depc}
	s.mu.Lock()
	s.templates[fg.Guid] = tmpl
	s.mu.Unlock()
	return tmpl, nil
}

// NewTask instantiates tmpl into a schedulable Task bound to a fresh GUID,
// and registers it for later GUID-based lookup (used when a message bus
// take/destroy dispatch only has the GUID in hand).
//
// NewTask does not place the task on any workpile; the caller (the master
// bootstrap, for the mainEDT) does that with Scheduler.Give once Fguid is
// populated.
func (s *Store) NewTask(tmpl *Template, paramv []uint64, depv []guid.GUID) (*Task, error) {
	if uint32(len(paramv)) != tmpl.ParamC {
		return nil, fmt.Errorf("edt: template declares paramc=%d, got %d params", tmpl.ParamC, len(paramv))
	}
	if uint32(len(depv)) != tmpl.DepC {
		return nil, fmt.Errorf("edt: template declares depc=%d, got %d deps", tmpl.DepC, len(depv))
	}
	fg, err := s.provider.CreateGuid(0, guid.KindEDT)
	if err != nil {
		return nil, fmt.Errorf("edt: creating task guid: %w", err)
	}
	t := &Task{Fguid: fg, Template: tmpl, ParamV: paramv, DepV: depv}
	s.mu.Lock()
	s.tasks[fg.Guid] = t
	s.mu.Unlock()
	log.Debugf("edt: created task %d from template %d", fg.Guid, tmpl.Fguid.Guid)
	return t, nil
}

// Lookup resolves a task GUID to its Task, as the message bus must when
// dispatching a WORK_DESTROY request that only carries a FatGuid.
func (s *Store) Lookup(g guid.GUID) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[g]
	return t, ok
}

// Destroy releases a task's GUID and removes it from the store. It is the
// Store-side implementation of the WORK_DESTROY message (spec.md §4.2); it
// must be called at most once per task (P2) and only after the task's
// execution attempt (spec.md §4.4.c calls it immediately after Execute
// returns).
func (s *Store) Destroy(t *Task) error {
	s.mu.Lock()
	if _, ok := s.tasks[t.Fguid.Guid]; !ok {
		s.mu.Unlock()
		return ErrAlreadyDestroyed
	}
	delete(s.tasks, t.Fguid.Guid)
	s.mu.Unlock()

	if err := s.provider.ReleaseGuid(t.Fguid, true); err != nil {
		return fmt.Errorf("edt: destroying task %d: %w", t.Fguid.Guid, err)
	}
	log.Debugf("edt: destroyed task %d", t.Fguid.Guid)
	return nil
}
