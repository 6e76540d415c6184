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
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/meshtime/clocksync/control"
)

func init() {
	RootCmd.AddCommand(gtspCmd)
	gtspCmd.AddCommand(gtspTriggerCmd)
}

var gtspCmd = &cobra.Command{
	Use:       "gtsp on|off",
	Short:     "Pause or resume the GTSP engine on a running clocksync daemon",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()
		on, err := parseOnOff(args[0])
		if err != nil {
			log.Fatal(err)
		}
		if err := control.PostToggle(rootAddrFlag, "gtsp", on); err != nil {
			log.Fatal(err)
		}
	},
}

// gtspTriggerCmd implements "gtsp trigger add|rm <addr>": pin or drop a
// neighbor-table slot for testing convergence without waiting for that
// neighbor to beacon on its own.
var gtspTriggerCmd = &cobra.Command{
	Use:   "trigger add|rm <addr>",
	Short: "Force a GTSP neighbor-table entry into or out of existence",
	Args:  cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()
		op := args[0]
		if op != "add" && op != "rm" {
			log.Fatal(fmt.Errorf("expected \"add\" or \"rm\", got %q", op))
		}
		addr, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			log.Fatal(fmt.Errorf("invalid neighbor address %q: %w", args[1], err))
		}
		if err := control.PostTrigger(rootAddrFlag, op, uint16(addr)); err != nil {
			log.Fatal(err)
		}
	},
}
