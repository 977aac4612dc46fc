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

// Package ocrconfig holds the TOML-backed configuration the ocrd binary
// loads at startup, grounded on runsc/config's flag-and-file-backed
// Config and the teacher's general preference for BurntSushi/toml wherever
// a file-backed config is read (this pack carries no zero-dependency TOML
// reimplementation for any component to fall back to).
package ocrconfig

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full set of knobs the runtime's bring-up needs.
type Config struct {
	// WorkerCount is the number of workers in the pool (worker 0 is
	// MASTER). Must be at least 1.
	WorkerCount int `toml:"worker_count"`

	// StealCost is a cost hint for Pop/Steal. It is parsed but not passed
	// on: the policy domain's COMM_TAKE dispatch calls Scheduler.Take with
	// cost 0, and the workpile ignores its cost argument.
	StealCost int `toml:"steal_cost"`

	// IdleBackoffMillis paces PollIdle's retry loop, in milliseconds. Zero
	// (the default) disables backoff entirely; production workers
	// busy-spin on COMM_TAKE misses per spec.md §4.4.d, which permits but
	// does not mandate a delay. Kept as a plain integer rather than
	// time.Duration: the stdlib time.Duration type has no TOML-native
	// string encoding BurntSushi/toml can decode into without a custom
	// UnmarshalText, and this core has no use for one beyond this field.
	IdleBackoffMillis int `toml:"idle_backoff_millis"`

	// ForceSynchronousDestroy mirrors policydomain.Config's field of the
	// same name; see its doc comment for the Open Question it resolves.
	ForceSynchronousDestroy bool `toml:"force_synchronous_destroy"`
}

// IdleBackoff returns the configured idle backoff as a time.Duration.
func (c Config) IdleBackoff() time.Duration {
	return time.Duration(c.IdleBackoffMillis) * time.Millisecond
}

// Default returns a single-worker configuration with no backoff, matching
// the simplest valid bring-up.
func Default() Config {
	return Config{WorkerCount: 1}
}

// Load reads and validates a Config from a TOML file at path.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("ocrconfig: decoding %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the Config for values the runtime cannot start with.
func (c Config) Validate() error {
	if c.WorkerCount <= 0 {
		return fmt.Errorf("ocrconfig: worker_count must be positive, got %d", c.WorkerCount)
	}
	if c.IdleBackoffMillis < 0 {
		return fmt.Errorf("ocrconfig: idle_backoff_millis must not be negative, got %d", c.IdleBackoffMillis)
	}
	return nil
}
