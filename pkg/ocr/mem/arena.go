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

// Package mem implements the concrete memory manager behind the policy
// domain's MEM_ALLOC/MEM_UNALLOC messages (spec.md §4.2, §6). spec.md treats
// the allocator as an external black box; this is the default implementation
// the policy domain wires so the GUID provider and data-block create path
// have something real to allocate from.
//
// The design is grounded in pkg/sentry/pgalloc's region-tracking shape
// (reserve a page-granular slot, track it until freed) but intentionally
// drops pgalloc's ordered-segment-set machinery: the GUID provider needs
// O(1) field reads off an address (spec.md §4.1), not range queries over a
// sparse address space, so each reservation here gets its own dedicated
// backing slice ("slot") addressed by an opaque slot index, rather than
// living at an arbitrary byte offset in one shared buffer. This also keeps
// freed-and-reused slots from ever aliasing a still-live caller's slice.
package mem

import (
	"errors"
	"fmt"
	"sync"

	"github.com/talismancer/ocr-core/pkg/log"
)

// MemType distinguishes the pool an allocation is tagged with. The
// allocator does not currently size pools differently per MemType; the tag
// is carried through so call sites and diagnostics can distinguish GUID
// metadata allocations from data-block payloads, as spec.md §4.2 requires
// the field to exist on MEM_ALLOC/MEM_UNALLOC.
type MemType int

const (
	// GUIDMemType tags allocations made by pkg/ocr/guid.
	GUIDMemType MemType = iota
	// DBMemType tags allocations made by pkg/ocr/datablock.
	DBMemType
)

func (t MemType) String() string {
	switch t {
	case GUIDMemType:
		return "GUID_MEMTYPE"
	case DBMemType:
		return "DB_MEMTYPE"
	default:
		return fmt.Sprintf("MemType(%d)", int(t))
	}
}

// ErrAllocFailed is returned when an allocation cannot be satisfied. It is
// the error taxonomy's "allocation failure" case (spec.md §7.1).
var ErrAllocFailed = errors.New("mem: allocation failed")

// ErrShuttingDown is returned by Alloc/Free once the allocator has been
// stopped; the worker loop and teardown path treat it as benign (spec.md
// §7.3, §9's "dedicated ShuttingDown error").
var ErrShuttingDown = errors.New("mem: allocator is shutting down")

const slotAddrShift = 32

// slotRegion is a freed slot kept around for size-class reuse.
type slotRegion struct {
	idx  uint64
	size uint64
}

// Allocator is the default MEM_ALLOC/MEM_UNALLOC backing store: a set of
// independently-addressed byte slots, free-listed by exact size for reuse.
type Allocator struct {
	mu sync.Mutex

	slots  [][]byte
	free   map[uint64][]slotRegion // size -> freed slot indices of that size
	live   map[uint64]MemType      // slot index -> tag, for Free's type check
	closed bool

	// failNext, when > 0, makes the next N Alloc calls return
	// ErrAllocFailed without consuming a slot. It exists so tests (and
	// spec.md §8 scenario 5) can exercise allocation-failure propagation
	// without needing to actually exhaust memory.
	failNext int
}

// NewAllocator constructs an empty Allocator.
func NewAllocator() *Allocator {
	return &Allocator{
		free: make(map[uint64][]slotRegion),
		live: make(map[uint64]MemType),
	}
}

// FailNext arranges for the next n calls to Alloc to fail with
// ErrAllocFailed, regardless of available memory. Used by tests to exercise
// the allocation-failure propagation path (spec.md §8 scenario 5).
func (a *Allocator) FailNext(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failNext = n
}

// Alloc reserves size bytes tagged with memType and returns an opaque
// address. The low 32 bits of the address are always zero; the slot's
// payload occupies [addr, addr+size).
func (a *Allocator) Alloc(size uint64, memType MemType) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, ErrShuttingDown
	}
	if a.failNext > 0 {
		a.failNext--
		log.Warningf("mem: injected allocation failure (type=%s, size=%d)", memType, size)
		return 0, ErrAllocFailed
	}

	if regions, ok := a.free[size]; ok && len(regions) > 0 {
		r := regions[len(regions)-1]
		a.free[size] = regions[:len(regions)-1]
		a.live[r.idx] = memType
		addr := r.idx << slotAddrShift
		log.Debugf("mem: alloc reused slot %d (type=%s, size=%d) -> addr=%d", r.idx, memType, size, addr)
		return addr, nil
	}

	idx := uint64(len(a.slots))
	a.slots = append(a.slots, make([]byte, size))
	a.live[idx] = memType
	addr := idx << slotAddrShift
	log.Debugf("mem: alloc new slot %d (type=%s, size=%d) -> addr=%d", idx, memType, size, addr)
	return addr, nil
}

// Bytes returns the payload view for a previously-allocated address. The
// returned slice is backed directly by the arena; writes are visible to
// subsequent Bytes calls over the same address.
func (a *Allocator) Bytes(addr uint64, size uint64) []byte {
	idx := addr >> slotAddrShift
	off := addr &^ (^uint64(0) << slotAddrShift)
	a.mu.Lock()
	slot := a.slots[idx]
	a.mu.Unlock()
	end := off + size
	if end > uint64(len(slot)) {
		panic(fmt.Sprintf("mem: Bytes(%d, %d) out of range for slot %d (len=%d)", addr, size, idx, len(slot)))
	}
	return slot[off:end]
}

// Free releases a reservation previously returned by Alloc for the same
// memType, making its slot eligible for reuse by a future same-size Alloc.
func (a *Allocator) Free(addr uint64, memType MemType) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrShuttingDown
	}
	idx := addr >> slotAddrShift
	if int(idx) >= len(a.slots) {
		panic(fmt.Sprintf("mem: Free(%d): slot %d never allocated", addr, idx))
	}
	tag, ok := a.live[idx]
	if !ok {
		panic(fmt.Sprintf("mem: Free(%d): double free of slot %d", addr, idx))
	}
	if tag != memType {
		panic(fmt.Sprintf("mem: Free(%d): memType mismatch, allocated %s, freed as %s", addr, tag, memType))
	}
	delete(a.live, idx)
	size := uint64(len(a.slots[idx]))
	a.free[size] = append(a.free[size], slotRegion{idx: idx, size: size})
	log.Debugf("mem: free slot %d (type=%s, size=%d)", idx, memType, size)
	return nil
}

// Close marks the allocator as shutting down. Subsequent Alloc/Free calls
// return ErrShuttingDown, which callers on the worker loop's shutdown path
// treat as benign (spec.md §7.3).
func (a *Allocator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}

// Len reports the size in bytes of the slot backing addr, letting a caller
// that only has an address (no separately-carried size, as with a data
// block resolved purely from its GUID) recover a full-slot view via Bytes.
func (a *Allocator) Len(addr uint64) uint64 {
	idx := addr >> slotAddrShift
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint64(len(a.slots[idx]))
}

// InUse reports the number of live (unreleased) allocations, for tests and
// diagnostics.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}
