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

// Package ocrdcmd implements ocrd's subcommands, grounded on
// runsc/cmd's one-command-per-file, subcommands.Command-implementing shape.
package ocrdcmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/subcommands"

	"github.com/talismancer/ocr-core/internal/ocrconfig"
	"github.com/talismancer/ocr-core/pkg/log"
	"github.com/talismancer/ocr-core/pkg/ocr/edt"
	"github.com/talismancer/ocr-core/pkg/ocr/policydomain"
	"github.com/talismancer/ocr-core/pkg/ocr/scheduler"
	"github.com/talismancer/ocr-core/pkg/ocr/workpile"
)

// Run implements subcommands.Command for the "run" command: it brings up a
// policy domain from a TOML config, bootstraps the configured mainEDT, and
// blocks until SIGINT.
type Run struct {
	configPath string
	argsPath   string
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string { return "run" }

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string { return "bring up the OCR core and run until interrupted" }

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] - start the worker pool and block until interrupted.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.configPath, "config", "", "path to a TOML config file (defaults to a single-worker configuration)")
	f.StringVar(&r.argsPath, "args", "", "path to the raw bytes to pass as the mainEDT's user-argument payload")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	cfg := ocrconfig.Default()
	if r.configPath != "" {
		var err error
		cfg, err = ocrconfig.Load(r.configPath)
		if err != nil {
			log.Warningf("ocrd: %v", err)
			return subcommands.ExitFailure
		}
	}

	var userArgs []byte
	if r.argsPath != "" {
		b, err := os.ReadFile(r.argsPath)
		if err != nil {
			log.Warningf("ocrd: reading args file: %v", err)
			return subcommands.ExitFailure
		}
		userArgs = b
	}
	blob := packArgsBlob(userArgs)

	pools := make([]scheduler.Pool, cfg.WorkerCount)
	for i := range pools {
		pools[i] = workpile.New()
	}

	d, err := policydomain.New(policydomain.Config{
		ForceSynchronousDestroy: cfg.ForceSynchronousDestroy,
		IdleBackoff:             cfg.IdleBackoff(),
	}, cfg.WorkerCount, pools, logMainEdt, blob)
	if err != nil {
		log.Warningf("ocrd: %v", err)
		return subcommands.ExitFailure
	}

	if err := d.Begin(ctx); err != nil {
		log.Warningf("ocrd: begin: %v", err)
		return subcommands.ExitFailure
	}
	if err := d.Start(ctx); err != nil {
		log.Warningf("ocrd: start: %v", err)
		return subcommands.ExitFailure
	}
	log.Infof("ocrd: running with %d worker(s)", cfg.WorkerCount)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	<-sigCh

	log.Infof("ocrd: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Shutdown(shutdownCtx); err != nil {
		log.Warningf("ocrd: shutdown: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// logMainEdt is the default mainEDT: it logs the GUID of the data block it
// was bootstrapped with and returns. A real deployment would register its
// own entry point here instead.
func logMainEdt(t *edt.Task) error {
	if len(t.DepV) != 1 {
		return fmt.Errorf("ocrd: mainEDT expected exactly 1 dependency, got %d", len(t.DepV))
	}
	log.Infof("ocrd: mainEDT invoked, args data block guid=%d", t.DepV[0])
	return nil
}

// packArgsBlob wraps user payload in the length-prefixed shape
// datablock.UnpackArgsBlob expects (spec.md §6).
func packArgsBlob(payload []byte) []byte {
	blob := make([]byte, 8+len(payload))
	l := uint64(len(payload))
	for i := 0; i < 8; i++ {
		blob[i] = byte(l >> (8 * i))
	}
	copy(blob[8:], payload)
	return blob
}
