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

import "github.com/go-kit/log"

// option provide an interface to do work on Registry while it is being
// created.
type option[T any] interface {
	apply(r *Registry[T])
}

type hashOption[T any] struct {
	hash hashFn[T]
}

func (op hashOption[T]) apply(r *Registry[T]) {
	r.hash = op.hash
}

// WithHash is an option to specify the identity hash function to use for a
// Registry[T]. The function must return the same value for a given pointer
// for as long as that pointer is tracked. It need not, and generally should
// not, look at the pointed-to value.
func WithHash[T any](hash func(key *T, seed uintptr) uintptr) option[T] {
	return hashOption[T]{hash}
}

// Allocator specifies an interface for allocating and releasing the bucket
// arrays used by a Registry. The default allocator utilizes Go's builtin
// make() and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that bucket
// arrays be freed then Registry.Close must be called in order to ensure
// FreeBuckets is called for the last array.
type Allocator[T any] interface {
	// AllocBuckets should return a slice equivalent to make([]*Entry[T], n).
	// Every element must be nil.
	AllocBuckets(n int) []*Entry[T]

	// FreeBuckets can optionally release the memory associated with the
	// supplied slice that is guaranteed to have been allocated by
	// AllocBuckets. All of its elements have been set to nil.
	FreeBuckets(v []*Entry[T])
}

type defaultAllocator[T any] struct{}

func (defaultAllocator[T]) AllocBuckets(n int) []*Entry[T] {
	return make([]*Entry[T], n)
}

func (defaultAllocator[T]) FreeBuckets(v []*Entry[T]) {
}

type allocatorOption[T any] struct {
	allocator Allocator[T]
}

func (op allocatorOption[T]) apply(r *Registry[T]) {
	r.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a
// Registry[T].
func WithAllocator[T any](allocator Allocator[T]) option[T] {
	return allocatorOption[T]{allocator}
}

type maxCapacityOption[T any] struct {
	maxCapacity int
}

func (op maxCapacityOption[T]) apply(r *Registry[T]) {
	r.maxCapacity = nextCapacity(op.maxCapacity, DefaultMaxCapacity)
}

// WithMaxCapacity is an option to cap the number of buckets a Registry[T]
// will grow to. The value is rounded up to a power of two and is itself
// capped at DefaultMaxCapacity. Once the cap is reached the table stops
// growing and chains get longer.
func WithMaxCapacity[T any](maxCapacity int) option[T] {
	return maxCapacityOption[T]{maxCapacity}
}

type loggerOption[T any] struct {
	logger log.Logger
}

func (op loggerOption[T]) apply(r *Registry[T]) {
	r.logger = op.logger
}

// WithLogger is an option to specify the logger a Registry[T] reports
// rebuilds to. Events are logged at debug level.
func WithLogger[T any](logger log.Logger) option[T] {
	return loggerOption[T]{logger}
}

type metricsOption[T any] struct {
	metrics *Metrics
}

func (op metricsOption[T]) apply(r *Registry[T]) {
	r.metrics = op.metrics
}

// WithMetrics is an option to instrument a Registry[T]. Several registries
// may share one Metrics.
func WithMetrics[T any](metrics *Metrics) option[T] {
	return metricsOption[T]{metrics}
}
