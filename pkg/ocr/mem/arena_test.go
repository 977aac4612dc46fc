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

package mem

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestAllocWriteReadRoundTrip(t *testing.T) {
	a := NewAllocator()
	addr, err := a.Alloc(16, DBMemType)
	assert.NilError(t, err)

	view := a.Bytes(addr, 16)
	copy(view, []byte("0123456789abcdef"))

	got := a.Bytes(addr, 16)
	assert.Equal(t, string(got), "0123456789abcdef")
}

func TestFreeThenReuseSameSizeClass(t *testing.T) {
	a := NewAllocator()
	addr1, err := a.Alloc(32, GUIDMemType)
	assert.NilError(t, err)
	assert.NilError(t, a.Free(addr1, GUIDMemType))
	assert.Equal(t, a.InUse(), 0)

	addr2, err := a.Alloc(32, GUIDMemType)
	assert.NilError(t, err)
	assert.Equal(t, addr1, addr2, "freed slot of matching size should be reused")
}

func TestFailNextInjectsFailure(t *testing.T) {
	a := NewAllocator()
	a.FailNext(2)

	_, err := a.Alloc(8, GUIDMemType)
	assert.ErrorIs(t, err, ErrAllocFailed)
	_, err = a.Alloc(8, GUIDMemType)
	assert.ErrorIs(t, err, ErrAllocFailed)

	// Third call succeeds: the failure injection was exactly two deep.
	_, err = a.Alloc(8, GUIDMemType)
	assert.NilError(t, err)
}

func TestFreeWrongMemTypePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on memType mismatch")
		}
	}()
	a := NewAllocator()
	addr, err := a.Alloc(8, GUIDMemType)
	assert.NilError(t, err)
	_ = a.Free(addr, DBMemType)
}

func TestDoubleFreePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	a := NewAllocator()
	addr, err := a.Alloc(8, GUIDMemType)
	assert.NilError(t, err)
	assert.NilError(t, a.Free(addr, GUIDMemType))
	_ = a.Free(addr, GUIDMemType)
}

func TestCloseRejectsFurtherAllocation(t *testing.T) {
	a := NewAllocator()
	a.Close()
	_, err := a.Alloc(8, GUIDMemType)
	assert.ErrorIs(t, err, ErrShuttingDown)
}
