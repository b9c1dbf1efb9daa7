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
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/subsquid-labs/portal-evm-rpc/chains"
)

var chainsCommand = &cli.Command{
	Action:    listChains,
	Name:      "chains",
	Usage:     "List the chains this deployment can serve",
	ArgsUsage: " ",
	Flags: []cli.Flag{
		configFileFlag,
		portalDatasetMapFlag,
		portalDefaultDatasetsFlag,
	},
	Description: `Prints the chain registry: the built-in table overlaid with any configured dataset overrides.`,
}

func listChains(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	entries, err := cfg.RegistryEntries()
	if err != nil {
		return err
	}
	registry, err := chains.NewRegistry(entries)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Chain ID", "Name", "Dataset"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, c := range registry.All() {
		table.Append([]string{strconv.FormatUint(c.ID, 10), c.Name, c.Dataset})
	}
	table.Render()
	return nil
}
