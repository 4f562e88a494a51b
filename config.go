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

	"github.com/pkg/errors"
)

// Config configures the sizing of a Registry.
type Config struct {
	// InitialCapacity is the number of entries to size the table for up
	// front.
	InitialCapacity int `yaml:"initial_capacity"`
	// MaxCapacity caps the number of buckets the table grows to.
	MaxCapacity int `yaml:"max_capacity"`
}

// RegisterFlags adds the flags required to config this to the given FlagSet.
func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	cfg.RegisterFlagsWithPrefix("identity-registry.", f)
}

// RegisterFlagsWithPrefix adds the flags required to config this to the
// given FlagSet with a specified prefix.
func (cfg *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.IntVar(&cfg.InitialCapacity, prefix+"initial-capacity", 0, "Number of entries to size the registry for on creation.")
	f.IntVar(&cfg.MaxCapacity, prefix+"max-capacity", DefaultMaxCapacity, "Maximum number of buckets. Rounded up to a power of two.")
}

// Validate returns an error if the config is invalid.
func (cfg *Config) Validate() error {
	if cfg.InitialCapacity < 0 {
		return errors.Errorf("invalid initial capacity %d: must not be negative", cfg.InitialCapacity)
	}
	if cfg.MaxCapacity < 1 || cfg.MaxCapacity > DefaultMaxCapacity {
		return errors.Errorf("invalid max capacity %d: must be in [1, %d]", cfg.MaxCapacity, DefaultMaxCapacity)
	}
	if cfg.InitialCapacity > cfg.MaxCapacity {
		return errors.Errorf("initial capacity %d exceeds max capacity %d", cfg.InitialCapacity, cfg.MaxCapacity)
	}
	return nil
}

// NewFromConfig validates cfg and constructs a Registry from it. Options are
// applied after those derived from cfg.
func NewFromConfig[T any](cfg Config, options ...option[T]) (*Registry[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "identity registry config")
	}
	opts := append([]option[T]{WithMaxCapacity[T](cfg.MaxCapacity)}, options...)
	return New[T](cfg.InitialCapacity, opts...), nil
}
