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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/meshtime/clocksync/control"
)

func init() {
	RootCmd.AddCommand(ftspCmd)
}

var ftspCmd = &cobra.Command{
	Use:       "ftsp on|off",
	Short:     "Pause or resume the FTSP engine on a running clocksync daemon",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()
		on, err := parseOnOff(args[0])
		if err != nil {
			log.Fatal(err)
		}
		if err := control.PostToggle(rootAddrFlag, "ftsp", on); err != nil {
			log.Fatal(err)
		}
	},
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("expected \"on\" or \"off\", got %q", s)
	}
}
