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

// Package cmd implements clocksync's shell surface: spec.md §6.4's
// "ftsp on|off", "gtsp on|off|trigger [add|rm] <addr>", "pulsesync on|off",
// plus "run" (start the daemon) and "status" (print the current snapshot).
// Every subcommand but "run" is a thin HTTP client against a running
// daemon's control API (package control) — the same split ptpcheck uses
// against ptp4l's management socket or sptp's stats endpoint.
package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd is clocksync's entry point.
var RootCmd = &cobra.Command{
	Use:   "clocksync",
	Short: "Wireless sensor network clock synchronization (FTSP/GTSP/PulseSync)",
}

var (
	rootVerboseFlag bool
	rootAddrFlag    string
)

const defaultControlAddr = "localhost:9476"

func init() {
	RootCmd.PersistentFlags().BoolVarP(&rootVerboseFlag, "verbose", "v", false, "verbose output")
	RootCmd.PersistentFlags().StringVarP(&rootAddrFlag, "addr", "a", defaultControlAddr, "control address of a running clocksync daemon (host:port)")
}

// ConfigureVerbosity applies rootVerboseFlag to logrus's global level. Every
// subcommand calls this before doing any work.
func ConfigureVerbosity() {
	log.SetLevel(log.InfoLevel)
	if rootVerboseFlag {
		log.SetLevel(log.DebugLevel)
	}
}

// Execute runs the CLI, exiting the process on error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
