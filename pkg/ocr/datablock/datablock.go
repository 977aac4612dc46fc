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

// Package datablock implements data-block creation, the runtime's only
// user-visible memory abstraction (spec.md §4.4's master bootstrap: "Create
// a data block of totalLength bytes via the runtime's data-block API; copy
// the packed args into it"). A data block is a GUID of kind KindDB whose
// payload is a plain byte buffer backed by the same mem.Allocator the GUID
// provider itself uses, tagged DBMemType instead of GUIDMemType so the two
// concerns stay distinguishable in allocator diagnostics.
package datablock

import (
	"fmt"

	"github.com/talismancer/ocr-core/pkg/ocr/guid"
	"github.com/talismancer/ocr-core/pkg/ocr/mem"
)

// DataBlock is a runtime data block: a GUID-addressed byte buffer.
type DataBlock struct {
	Fguid guid.FatGuid
	Size  uint64
}

// Store creates and destroys data blocks, routing their backing storage
// through mem.Allocator (DBMemType) rather than the GUID header/payload
// allocation guid.Provider uses for its own metadata — a data block's
// payload is its entire content, not a fixed-size struct trailing a header.
type Store struct {
	alloc    *mem.Allocator
	provider *guid.Provider
}

// NewStore constructs a Store over alloc and provider. Both must be the
// same instances the rest of the policy domain uses, so a data block's GUID
// resolves through the same identity space as every other GUID kind.
func NewStore(alloc *mem.Allocator, provider *guid.Provider) *Store {
	return &Store{alloc: alloc, provider: provider}
}

// Create allocates a size-byte data block, binds it a fresh GUID of kind
// KindDB, and returns it. The payload is zeroed.
func (s *Store) Create(size uint64) (*DataBlock, error) {
	addr, err := s.alloc.Alloc(size, mem.DBMemType)
	if err != nil {
		return nil, fmt.Errorf("datablock: allocating payload: %w", err)
	}
	payload := s.alloc.Bytes(addr, size)
	for i := range payload {
		payload[i] = 0
	}
	g, err := s.provider.GetGuid(addr, guid.KindDB)
	if err != nil {
		if ferr := s.alloc.Free(addr, mem.DBMemType); ferr != nil {
			return nil, fmt.Errorf("datablock: binding guid: %w (cleanup also failed: %v)", err, ferr)
		}
		return nil, fmt.Errorf("datablock: binding guid: %w", err)
	}
	return &DataBlock{
		Fguid: guid.FatGuid{Guid: g, MetaDataPtr: uintptr(addr)},
		Size:  size,
	}, nil
}

// Bytes returns the data block's payload view. Writes are visible to
// subsequent Bytes calls on the same DataBlock.
func (s *Store) Bytes(db *DataBlock) []byte {
	val, _ := s.provider.GetVal(db.Fguid.Guid)
	return s.alloc.Bytes(val, db.Size)
}

// Lookup resolves a bare data-block GUID (e.g. a task's dependency slot,
// which carries only the GUID across the wire) back to a *DataBlock. It
// exists because a task body only ever receives dependency GUIDs, never a
// DataBlock struct pointer directly.
func (s *Store) Lookup(g guid.GUID) (*DataBlock, error) {
	if s.provider.GetKind(g) != guid.KindDB {
		return nil, fmt.Errorf("datablock: guid %d is not a data block", g)
	}
	val, _ := s.provider.GetVal(g)
	return &DataBlock{
		Fguid: guid.FatGuid{Guid: g, MetaDataPtr: uintptr(val)},
		Size:  s.alloc.Len(val),
	}, nil
}

// Destroy releases a data block's backing storage and GUID.
func (s *Store) Destroy(db *DataBlock) error {
	val, _ := s.provider.GetVal(db.Fguid.Guid)
	if err := s.alloc.Free(val, mem.DBMemType); err != nil {
		return fmt.Errorf("datablock: freeing payload: %w", err)
	}
	if err := s.provider.ReleaseGuid(db.Fguid, false); err != nil {
		return fmt.Errorf("datablock: releasing guid: %w", err)
	}
	return nil
}

// UnpackArgsBlob parses the master bootstrap's user-argument blob
// (spec.md §6): an 8-byte little-endian total length L followed by exactly
// L bytes of opaque user data.
func UnpackArgsBlob(blob []byte) ([]byte, error) {
	if len(blob) < 8 {
		return nil, fmt.Errorf("datablock: args blob shorter than length prefix (%d bytes)", len(blob))
	}
	l := uint64(blob[0]) | uint64(blob[1])<<8 | uint64(blob[2])<<16 | uint64(blob[3])<<24 |
		uint64(blob[4])<<32 | uint64(blob[5])<<40 | uint64(blob[6])<<48 | uint64(blob[7])<<56
	rest := blob[8:]
	if uint64(len(rest)) != l {
		return nil, fmt.Errorf("datablock: args blob declares length %d, got %d trailing bytes", l, len(rest))
	}
	return rest, nil
}
