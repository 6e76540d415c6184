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

package config

import (
	"fmt"

	"github.com/go-ini/ini"
)

// TransceiverProfile is one named radio's calibrated transmission delay
// (spec.md §4.3's transmission_delay, in microseconds), as configured by
// an operator for a specific piece of hardware.
type TransceiverProfile struct {
	Name         string
	PropagationUs uint64
}

// defaultProfiles ship even if no profile file is configured, matching the
// two delays spec.md §4.3 itself names.
var defaultProfiles = map[string]uint64{
	"native": 1500,
	"cc1100": 2220,
}

// LoadTransceiverProfiles reads operator-supplied calibration profiles
// from an INI file, one section per named transceiver:
//
//	[cc1100]
//	propagation_us = 2220
//
//	[native]
//	propagation_us = 1500
//
// The two defaultProfiles entries are always present; a file may override
// them or add new named profiles.
func LoadTransceiverProfiles(path string) (map[string]TransceiverProfile, error) {
	profiles := make(map[string]TransceiverProfile, len(defaultProfiles))
	for name, us := range defaultProfiles {
		profiles[name] = TransceiverProfile{Name: name, PropagationUs: us}
	}

	if path == "" {
		return profiles, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load transceiver profiles %s: %w", path, err)
	}

	for _, section := range f.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		us, err := section.Key("propagation_us").Uint64()
		if err != nil {
			return nil, fmt.Errorf("config: profile %q: propagation_us: %w", section.Name(), err)
		}
		profiles[section.Name()] = TransceiverProfile{Name: section.Name(), PropagationUs: us}
	}
	return profiles, nil
}

// ResolveTransceiverProfile looks up name among profiles, falling back to
// "native" if name is empty.
func ResolveTransceiverProfile(profiles map[string]TransceiverProfile, name string) (TransceiverProfile, error) {
	if name == "" {
		name = "native"
	}
	p, ok := profiles[name]
	if !ok {
		return TransceiverProfile{}, fmt.Errorf("config: unknown transceiver profile %q", name)
	}
	return p, nil
}
