// Copyright 2025 The portal-evm-rpc Authors
// This file is part of portal-evm-rpc.
//
// portal-evm-rpc is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// portal-evm-rpc is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with portal-evm-rpc. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"runtime"

	"github.com/urfave/cli/v2"

	"github.com/subsquid-labs/portal-evm-rpc/internal/version"
)

var versionCommand = &cli.Command{
	Action:    printVersion,
	Name:      "version",
	Usage:     "Print version numbers",
	ArgsUsage: " ",
	Description: `
The output of this command is supposed to be machine-readable.
`,
}

func printVersion(*cli.Context) error {
	fmt.Println("portal-evm-rpc")
	fmt.Println("Version:", version.WithMeta)
	if vcs, ok := version.VCS(); ok {
		fmt.Println("Git Commit:", vcs.Commit)
		fmt.Println("Git Commit Date:", vcs.Date)
	}
	fmt.Println("Architecture:", runtime.GOARCH)
	fmt.Println("Go Version:", runtime.Version())
	fmt.Println("Operating System:", runtime.GOOS)
	return nil
}
