/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/meshtime/clocksync/control"
)

func init() {
	RootCmd.AddCommand(statusCmd)
}

var okString = color.GreenString("synced")
var unsyncedString = color.YellowString("unsynced")
var offString = color.New(color.Faint).Sprint("off")

func syncedCell(enabled, synced bool) string {
	if !enabled {
		return offString
	}
	if synced {
		return okString
	}
	return unsyncedString
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current clock and protocol sync status of a running clocksync daemon",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()

		s, err := control.FetchStatus(rootAddrFlag)
		if err != nil {
			log.Fatal(err)
		}

		table := tablewriter.NewTable(os.Stdout)
		table.Header([]string{"field", "value"})
		table.Append([]string{"node", fmt.Sprintf("%d", s.NodeID)})
		table.Append([]string{"local", fmt.Sprintf("%d", s.Local)})
		table.Append([]string{"global", fmt.Sprintf("%d", s.Global)})
		table.Append([]string{"rate (ppb)", fmt.Sprintf("%.2f", s.RatePPB)})
		table.Append([]string{"ftsp", syncedCell(s.FTSPEnabled, s.FTSPSynced)})
		table.Append([]string{"gtsp", fmt.Sprintf("%s (%d neighbors)", syncedCell(s.GTSPEnabled, s.GTSPSynced), s.GTSPNeighbors)})
		table.Append([]string{"pulsesync", syncedCell(s.PulseSyncEnabled, s.PulseSyncSynced)})
		_ = table.Render()
	},
}
