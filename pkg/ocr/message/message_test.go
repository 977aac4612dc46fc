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

package message

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestRespondFlipsFlags(t *testing.T) {
	m := NewRequest(TypeCommTake)
	assert.Assert(t, m.Flags.IsRequest())
	assert.Assert(t, !m.Flags.IsResponse())

	m.Respond()
	assert.Assert(t, !m.Flags.IsRequest())
	assert.Assert(t, m.Flags.IsResponse())
}

func TestCloneDeepCopiesPayloadAndProps(t *testing.T) {
	m := NewRequest(TypeCommTake)
	m.CommTake = &CommTake{WorkerID: 1}
	m.Props = Properties{"hint": "lifo"}

	cp := m.Clone()
	cp.CommTake.WorkerID = 99
	cp.Props["hint"] = "fifo"

	assert.Equal(t, m.CommTake.WorkerID, 1, "clone must not alias the original payload")
	assert.Equal(t, m.Props["hint"], "lifo", "clone must not alias the original props")
}

func TestCloneNilPropsStaysNil(t *testing.T) {
	m := NewRequest(TypeMemAlloc)
	cp := m.Clone()
	assert.Assert(t, cp.Props == nil)
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, TypeWorkDestroy.String(), "WORK_DESTROY")
}
