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
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadTransceiverProfilesDefaultsOnly(t *testing.T) {
	profiles, err := LoadTransceiverProfiles("")
	require.NoError(t, err)
	require.Equal(t, uint64(1500), profiles["native"].PropagationUs)
	require.Equal(t, uint64(2220), profiles["cc1100"].PropagationUs)
}

func TestLoadTransceiverProfilesOverridesAndAdds(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "profiles-*.ini")
	require.NoError(t, err)
	_, err = f.WriteString("[native]\npropagation_us = 1600\n\n[custom]\npropagation_us = 3000\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	profiles, err := LoadTransceiverProfiles(f.Name())
	require.NoError(t, err)
	require.Equal(t, uint64(1600), profiles["native"].PropagationUs)
	require.Equal(t, uint64(3000), profiles["custom"].PropagationUs)
	require.Equal(t, uint64(2220), profiles["cc1100"].PropagationUs) // untouched default survives
}

func TestResolveTransceiverProfileDefaultsToNative(t *testing.T) {
	profiles, err := LoadTransceiverProfiles("")
	require.NoError(t, err)
	p, err := ResolveTransceiverProfile(profiles, "")
	require.NoError(t, err)
	require.Equal(t, "native", p.Name)
}

func TestResolveTransceiverProfileUnknownErrors(t *testing.T) {
	profiles, err := LoadTransceiverProfiles("")
	require.NoError(t, err)
	_, err = ResolveTransceiverProfile(profiles, "does-not-exist")
	require.Error(t, err)
}
