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

package ocrconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestLoadParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ocrd.toml")
	contents := `
worker_count = 4
steal_cost = 2
idle_backoff_millis = 10
force_synchronous_destroy = true
`
	assert.NilError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := Load(path)
	assert.NilError(t, err)
	assert.Equal(t, cfg.WorkerCount, 4)
	assert.Equal(t, cfg.StealCost, 2)
	assert.Equal(t, cfg.IdleBackoff(), 10*time.Millisecond)
	assert.Assert(t, cfg.ForceSynchronousDestroy)
}

func TestValidateRejectsNonPositiveWorkerCount(t *testing.T) {
	cfg := Default()
	cfg.WorkerCount = 0
	assert.ErrorContains(t, cfg.Validate(), "worker_count")
}

func TestDefaultIsValid(t *testing.T) {
	assert.NilError(t, Default().Validate())
}
