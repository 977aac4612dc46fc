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

// Package guid implements the OCR core's identity provider: it mints opaque
// 64-bit GUIDs bound to caller-supplied or freshly allocated metadata, and
// resolves a GUID back to (value, kind).
//
// All allocations are routed through a *mem.Allocator using memory type
// GUID_MEMTYPE; the provider never touches memory directly. This mirrors
// original_source's ptr-guid.c, which routes every
// getGuid/createGuid/releaseGuid through PD_MSG_MEM_ALLOC / PD_MSG_MEM_UNALLOC
// rather than calling a raw allocator.
package guid

import (
	"encoding/binary"
	"fmt"

	"github.com/talismancer/ocr-core/pkg/log"
	"github.com/talismancer/ocr-core/pkg/ocr/mem"
)

// GUID is an opaque 64-bit identity. Every runtime-visible entity (worker,
// task, data block, event, template) has one.
type GUID uint64

const (
	// NullGUID is the sentinel "none" value. It never appears in a workpile.
	NullGUID GUID = 0

	// UninitializedGUID marks an allocated slot not yet bound to an identity.
	UninitializedGUID GUID = ^GUID(0)
)

// FatGuid pairs a GUID with a direct pointer to its metadata, used to avoid
// re-resolution on hot paths. The pointer is advisory: it must agree with
// the GUID's bound metadata when both are present, but callers that only
// have the GUID can always re-derive it via Provider.GetVal.
type FatGuid struct {
	Guid        GUID
	MetaDataPtr uintptr
}

// Kind is a closed enumeration of the kinds of entity a GUID can name.
type Kind int

const (
	KindEDT Kind = iota
	KindDB
	KindEvent
	KindWorker
	KindEDTTemplate
)

func (k Kind) String() string {
	switch k {
	case KindEDT:
		return "EDT"
	case KindDB:
		return "DB"
	case KindEvent:
		return "EVENT"
	case KindWorker:
		return "WORKER"
	case KindEDTTemplate:
		return "EDT_TEMPLATE"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// header is the fixed-size record every GUID allocation is prefixed with.
// Its layout is what makes the header/payload adjacency invariant (P6)
// meaningful: a createGuid allocation is header+payload in one chunk, and
// the GUID is the chunk's base address.
type header struct {
	identity GUID
	kind     Kind
}

// HeaderSize is the number of bytes a header occupies in the backing arena.
// createGuid's FatGuid.MetaDataPtr is always exactly guid + HeaderSize.
const HeaderSize = 16 // identity (8 bytes) + kind (8 bytes, padded)

func encodeHeader(h header) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.identity))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.kind))
	return buf
}

func decodeHeader(buf []byte) header {
	return header{
		identity: GUID(binary.LittleEndian.Uint64(buf[0:8])),
		kind:     Kind(binary.LittleEndian.Uint64(buf[8:16])),
	}
}

// Provider is the GUID provider described in spec.md §4.1.
type Provider struct {
	alloc *mem.Allocator
}

// NewProvider constructs a Provider backed by the given allocator.
func NewProvider(alloc *mem.Allocator) *Provider {
	return &Provider{alloc: alloc}
}

// GetGuid allocates a header binding identity val and kind, and returns the
// header's own address as the GUID (self-referential, per
// original_source/ptr-guid.c's ptrGetGuid: guidInst->guid = val is the
// *payload* the caller supplied, while the returned GUID is the header
// address itself).
func (p *Provider) GetGuid(val uint64, kind Kind) (GUID, error) {
	addr, err := p.alloc.Alloc(uint64(HeaderSize), mem.GUIDMemType)
	if err != nil {
		return NullGUID, fmt.Errorf("guid: allocating header: %w", err)
	}
	h := header{identity: GUID(val), kind: kind}
	copy(p.alloc.Bytes(addr, uint64(HeaderSize)), encodeHeader(h))
	g := GUID(addr)
	log.Debugf("guid: getGuid -> %d (kind=%s, val=%d)", g, kind, val)
	return g, nil
}

// CreateGuid allocates header+size in one chunk, binds the GUID's identity
// to the payload start immediately following the header (forward-referential,
// so GetVal resolves it to guid + HeaderSize, unlike GetGuid whose identity
// is the caller-supplied val), and returns both the GUID (the chunk's base
// address) and a pointer to that payload.
func (p *Provider) CreateGuid(size uint64, kind Kind) (FatGuid, error) {
	addr, err := p.alloc.Alloc(uint64(HeaderSize)+size, mem.GUIDMemType)
	if err != nil {
		return FatGuid{}, fmt.Errorf("guid: allocating header+payload: %w", err)
	}
	g := GUID(addr)
	h := header{identity: GUID(addr + uint64(HeaderSize)), kind: kind}
	copy(p.alloc.Bytes(addr, uint64(HeaderSize)), encodeHeader(h))
	fg := FatGuid{
		Guid:        g,
		MetaDataPtr: uintptr(addr) + uintptr(HeaderSize),
	}
	log.Debugf("guid: createGuid -> %d (kind=%s, size=%d)", g, kind, size)
	return fg, nil
}

// GetVal resolves guid back to its bound identity value and kind.
func (p *Provider) GetVal(g GUID) (val uint64, kind Kind) {
	h := decodeHeader(p.alloc.Bytes(uint64(g), uint64(HeaderSize)))
	return uint64(h.identity), h.kind
}

// GetKind resolves guid to its kind only.
func (p *Provider) GetKind(g GUID) Kind {
	h := decodeHeader(p.alloc.Bytes(uint64(g), uint64(HeaderSize)))
	return h.kind
}

// Payload returns the payload bytes for a FatGuid created via CreateGuid,
// given the payload size originally requested.
func (p *Provider) Payload(fg FatGuid, size uint64) []byte {
	return p.alloc.Bytes(uint64(fg.Guid)+uint64(HeaderSize), size)
}

// ReleaseGuid tears down a GUID's allocation. If releaseVal is true, the
// caller is asserting this FatGuid came from CreateGuid; ReleaseGuid
// enforces the header/payload adjacency invariant (P6) before freeing.
//
// Invariant violation (a malformed FatGuid passed with releaseVal=true) is
// fatal per spec.md §7.4: the implementation panics rather than silently
// corrupting the arena.
func (p *Provider) ReleaseGuid(fg FatGuid, releaseVal bool) error {
	if releaseVal {
		if fg.MetaDataPtr == 0 {
			panic("guid: ReleaseGuid(releaseVal=true) with nil MetaDataPtr")
		}
		if fg.MetaDataPtr != uintptr(fg.Guid)+uintptr(HeaderSize) {
			panic(fmt.Sprintf("guid: header/payload adjacency violated: guid=%d metaDataPtr=%d", fg.Guid, fg.MetaDataPtr))
		}
	}
	if err := p.alloc.Free(uint64(fg.Guid), mem.GUIDMemType); err != nil {
		return fmt.Errorf("guid: releasing %d: %w", fg.Guid, err)
	}
	log.Debugf("guid: releaseGuid %d (releaseVal=%v)", fg.Guid, releaseVal)
	return nil
}
