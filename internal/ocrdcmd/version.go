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

package ocrdcmd

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
)

// Version is the build identifier reported by the "version" subcommand. Set
// via -ldflags at build time; left as a placeholder otherwise.
var Version = "dev"

// VersionCmd implements subcommands.Command for the "version" command.
type VersionCmd struct{}

// Name implements subcommands.Command.Name.
func (*VersionCmd) Name() string { return "version" }

// Synopsis implements subcommands.Command.Synopsis.
func (*VersionCmd) Synopsis() string { return "print ocrd's version" }

// Usage implements subcommands.Command.Usage.
func (*VersionCmd) Usage() string { return "version - print ocrd's version.\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (*VersionCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*VersionCmd) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	fmt.Println("ocrd version", Version)
	return subcommands.ExitSuccess
}
