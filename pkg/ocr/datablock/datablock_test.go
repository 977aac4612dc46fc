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

package datablock

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/talismancer/ocr-core/pkg/ocr/guid"
	"github.com/talismancer/ocr-core/pkg/ocr/mem"
)

func newStore() *Store {
	a := mem.NewAllocator()
	return NewStore(a, guid.NewProvider(a))
}

// TestBootstrapBlobRoundTrip is spec.md §8 scenario 4's data shape: a
// totalLength=16 blob with bytes 0x01..0x10 unpacks to exactly those bytes,
// and a data block created from it carries them verbatim.
func TestBootstrapBlobRoundTrip(t *testing.T) {
	s := newStore()

	blob := make([]byte, 8+16)
	blob[0] = 16 // little-endian length = 16
	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	copy(blob[8:], payload)

	unpacked, err := UnpackArgsBlob(blob)
	assert.NilError(t, err)
	assert.DeepEqual(t, unpacked, payload)

	db, err := s.Create(uint64(len(unpacked)))
	assert.NilError(t, err)
	assert.Equal(t, db.Size, uint64(16))
	copy(s.Bytes(db), unpacked)
	assert.DeepEqual(t, s.Bytes(db), payload)
	assert.Equal(t, s.provider.GetKind(db.Fguid.Guid), guid.KindDB)
}

func TestUnpackArgsBlobRejectsLengthMismatch(t *testing.T) {
	_, err := UnpackArgsBlob([]byte{4, 0, 0, 0, 0, 0, 0, 0, 1, 2})
	assert.ErrorContains(t, err, "declares length 4")
}

func TestCreateAndDestroyRoundTrip(t *testing.T) {
	s := newStore()
	db, err := s.Create(8)
	assert.NilError(t, err)
	assert.NilError(t, s.Destroy(db))
}
