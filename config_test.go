// Copyright 2024 The Cockroach Authors
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

package identity

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigFlags(t *testing.T) {
	var cfg Config
	f := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(f)
	require.EqualValues(t, 0, cfg.InitialCapacity)
	require.EqualValues(t, DefaultMaxCapacity, cfg.MaxCapacity)
	require.NoError(t, cfg.Validate())

	require.NoError(t, f.Parse([]string{
		"-identity-registry.initial-capacity=100",
		"-identity-registry.max-capacity=4096",
	}))
	require.Equal(t, Config{InitialCapacity: 100, MaxCapacity: 4096}, cfg)
}

func TestConfigYAML(t *testing.T) {
	var cfg Config
	cfg.RegisterFlagsWithPrefix("", flag.NewFlagSet("test", flag.ContinueOnError))

	require.NoError(t, yaml.Unmarshal([]byte("initial_capacity: 64\n"), &cfg))
	require.Equal(t, Config{InitialCapacity: 64, MaxCapacity: DefaultMaxCapacity}, cfg)

	out, err := yaml.Marshal(&cfg)
	require.NoError(t, err)
	require.Contains(t, string(out), "initial_capacity: 64")
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		cfg Config
		err string
	}{
		{Config{InitialCapacity: 0, MaxCapacity: 1}, ""},
		{Config{InitialCapacity: 16, MaxCapacity: DefaultMaxCapacity}, ""},
		{Config{InitialCapacity: -1, MaxCapacity: 16}, "invalid initial capacity -1"},
		{Config{InitialCapacity: 0, MaxCapacity: 0}, "invalid max capacity 0"},
		{Config{InitialCapacity: 0, MaxCapacity: DefaultMaxCapacity + 1}, "invalid max capacity"},
		{Config{InitialCapacity: 32, MaxCapacity: 16}, "initial capacity 32 exceeds max capacity 16"},
	}
	for _, c := range testCases {
		t.Run("", func(t *testing.T) {
			err := c.cfg.Validate()
			if c.err == "" {
				require.NoError(t, err)
			} else {
				require.ErrorContains(t, err, c.err)
			}
		})
	}
}

func TestNewFromConfig(t *testing.T) {
	r, err := NewFromConfig[object](Config{InitialCapacity: 3, MaxCapacity: 8})
	require.NoError(t, err)
	require.EqualValues(t, 4, r.Capacity())

	for i, o := range newObjects(50) {
		r.Add(o, int64(i))
	}
	require.EqualValues(t, 8, r.Capacity())
	require.EqualValues(t, 50, r.Len())

	_, err = NewFromConfig[object](Config{InitialCapacity: -1, MaxCapacity: 8})
	require.ErrorContains(t, err, "identity registry config")
}
