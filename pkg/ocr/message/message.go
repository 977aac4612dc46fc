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

// Package message implements the single reified message type that mediates
// every worker/policy-domain interaction (spec.md §4.2): memory allocation,
// work-stealing take, and destruction all travel over one envelope type
// rather than distinct RPCs, mirroring original_source's ocrPolicyMsg_t and
// its PD_MSG_* discriminated union.
package message

import (
	"fmt"

	"github.com/mohae/deepcopy"
)

// Type discriminates the payload carried by a Message, matching the
// PD_MSG_MEM_ALLOC / PD_MSG_MEM_UNALLOC / PD_MSG_COMM_TAKE / PD_MSG_WORK_DESTROY
// / PD_MSG_GUID_DESTROY message kinds of spec.md §4.2.
type Type int

const (
	TypeMemAlloc Type = iota
	TypeMemUnalloc
	TypeCommTake
	TypeWorkDestroy
	TypeGuidDestroy
)

func (t Type) String() string {
	switch t {
	case TypeMemAlloc:
		return "MEM_ALLOC"
	case TypeMemUnalloc:
		return "MEM_UNALLOC"
	case TypeCommTake:
		return "COMM_TAKE"
	case TypeWorkDestroy:
		return "WORK_DESTROY"
	case TypeGuidDestroy:
		return "GUID_DESTROY"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Flags carries the request/response bit and any per-message modifiers, the
// way ocrPolicyMsg_t packs PD_MSG_REQUEST / PD_MSG_RESPONSE into a single
// word alongside the message type.
type Flags uint32

const (
	// FlagRequest marks a message as an outbound request awaiting a
	// response. Cleared (and FlagResponse set) when the bus turns it around.
	FlagRequest Flags = 1 << iota
	// FlagResponse marks a message as a completed response to a prior
	// request.
	FlagResponse
	// FlagAwaitResponse marks a request whose sender blocks until the
	// response arrives. The worker loop sets it on every COMM_TAKE, and on
	// its post-execution WORK_DESTROY only when the worker's
	// ForceSynchronousDestroy option is on (DESIGN.md's Open Question
	// resolution); otherwise that WORK_DESTROY is fire-and-forget.
	FlagAwaitResponse
)

func (f Flags) IsRequest() bool       { return f&FlagRequest != 0 }
func (f Flags) IsResponse() bool      { return f&FlagResponse != 0 }
func (f Flags) AwaitsResponse() bool  { return f&FlagAwaitResponse != 0 }

// Properties is an opaque, caller-defined bag of values carried alongside a
// message's typed payload (e.g. MEM_ALLOC's allocation hints). It supports
// Clone so the bus can hand each recipient an independent copy rather than
// aliasing caller state, the way the teacher's vfs layer deep-copies
// extended attribute maps before returning them across a boundary.
type Properties map[string]any

// Clone returns a deep copy of p. A nil Properties clones to nil.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	return deepcopy.Copy(p).(Properties)
}

// MemAlloc is the PD_MSG_MEM_ALLOC payload: a request names a size and
// memory type; the response carries the allocated address.
type MemAlloc struct {
	Size    uint64
	MemType int
	Addr    uint64
	Err     error
}

// MemUnalloc is the PD_MSG_MEM_UNALLOC payload.
type MemUnalloc struct {
	Addr    uint64
	MemType int
	Err     error
}

// CommTake is the PD_MSG_COMM_TAKE payload (spec.md §4.2, §5): a worker asks
// its policy domain to resolve one runnable task. TaskGuid and Found are
// filled in on response. VictimID and HasVictim are carried on the message,
// but the policy domain's COMM_TAKE dispatch does not read them: steal
// victims always follow the scheduler's iterator order.
type CommTake struct {
	WorkerID   int
	VictimID   int
	HasVictim  bool
	TaskGuid   uint64
	Found      bool
	Err        error
}

// WorkDestroy is the PD_MSG_WORK_DESTROY payload: tears down a completed
// task's GUID and store entry.
type WorkDestroy struct {
	TaskGuid uint64
	Err      error
}

// GuidDestroy is the PD_MSG_GUID_DESTROY payload: a standalone GUID
// teardown not tied to a specific task (e.g. destroying an EDT template or
// event GUID directly).
type GuidDestroy struct {
	Guid GUIDRef
	Err  error
}

// GUIDRef avoids an import of pkg/ocr/guid here, keeping message a leaf
// package with no dependency on the identity system it carries references
// to; callers convert to/from guid.GUID at the policy-domain boundary.
type GUIDRef uint64

// Message is the single envelope type every worker/policy-domain exchange
// travels in. Exactly one of the typed payload fields is non-nil, matching
// Type.
type Message struct {
	Type       Type
	Flags      Flags
	Props      Properties
	MemAlloc   *MemAlloc
	MemUnalloc *MemUnalloc
	CommTake   *CommTake
	WorkDestroy *WorkDestroy
	GuidDestroy *GuidDestroy
}

// NewRequest builds a request-flagged Message of the given type. The caller
// still must populate the appropriate typed payload field.
func NewRequest(t Type) *Message {
	return &Message{Type: t, Flags: FlagRequest}
}

// Respond flips m from a request to a response in place and returns it, the
// way the original runtime turns a message around in its own buffer rather
// than allocating a fresh one.
func (m *Message) Respond() *Message {
	m.Flags = (m.Flags &^ FlagRequest) | FlagResponse
	return m
}

// Clone returns a deep copy of m, including an independent copy of Props.
// Used when a message must be handed to more than one goroutine (e.g.
// broadcast teardown) without aliasing mutable state.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Props = m.Props.Clone()
	if m.MemAlloc != nil {
		v := *m.MemAlloc
		cp.MemAlloc = &v
	}
	if m.MemUnalloc != nil {
		v := *m.MemUnalloc
		cp.MemUnalloc = &v
	}
	if m.CommTake != nil {
		v := *m.CommTake
		cp.CommTake = &v
	}
	if m.WorkDestroy != nil {
		v := *m.WorkDestroy
		cp.WorkDestroy = &v
	}
	if m.GuidDestroy != nil {
		v := *m.GuidDestroy
		cp.GuidDestroy = &v
	}
	return &cp
}
