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

// Command ocrd is the OCR core's standalone entrypoint: it wires a policy
// domain from a TOML config and runs it until interrupted. Grounded on
// runsc/cli/main.go's Main(): register every subcommand, parse once, and
// dispatch.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/talismancer/ocr-core/internal/ocrdcmd"
	"github.com/talismancer/ocr-core/pkg/log"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(ocrdcmd.Run), "")
	subcommands.Register(new(ocrdcmd.VersionCmd), "")

	logLevel := flag.String("log-level", "info", "log level: debug, info, warning")
	flag.Parse()
	log.SetLevel(*logLevel)

	os.Exit(int(subcommands.Execute(context.Background())))
}
