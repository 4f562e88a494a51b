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

// Package identity implements a registry mapping object references to 64-bit
// ids where keys are compared by identity (pointer equality) rather than by
// value. Two distinct objects holding equal values are two independent keys.
//
// # Layout
//
// The registry is a chained hash table. The table is an array of buckets
// whose length is always a power of two, N, so that a bucket index is
// computed as hash(key) & (N-1). Each bucket is the head of a singly-linked
// chain of entries. New entries are prepended at the head of their chain.
//
// # Growth
//
// After an insertion brings the number of entries up to N-1 the table is
// rebuilt at twice the size. A rebuild allocates a fresh bucket array and
// relinks every existing entry into it; entries are moved, never copied.
// Because each entry is prepended to its new chain while the old chain is
// walked front to back, the order of entries within a bucket is reversed by
// every rebuild. Iteration order is therefore unspecified.
//
// The table never shrinks on its own. Optimize recomputes the smallest
// power-of-two size that holds the current entries and rebuilds into it if
// that differs from the current size. Clear drops all entries but retains
// the bucket array.
//
// # Ids
//
// Lookup and Swap report a missing mapping with the id 0, which is also a
// legal id. Get and the loaded result of Swap are the unambiguous
// alternatives.
package identity

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// DefaultMaxCapacity is the largest number of buckets a Registry grows to
// unless configured otherwise with WithMaxCapacity.
const DefaultMaxCapacity = 1 << 30

// ErrNilKey is returned by Lookup when passed a nil key.
var ErrNilKey = errors.New("identity: nil key")

// Entry is a single key/id mapping in a bucket chain.
type Entry[T any] struct {
	id   int64
	key  *T
	next *Entry[T]
}

// Registry maps pointers to int64 ids, comparing keys by identity. By
// default the address of a key is hashed with xxhash, though a different
// hash function can be specified using the WithHash option.
//
// A Registry is NOT goroutine-safe.
type Registry[T any] struct {
	hash hashFn[T]
	seed uintptr
	// The allocator to use for the bucket arrays.
	allocator Allocator[T]
	logger    log.Logger
	metrics   *Metrics
	// table holds the head of each bucket chain. len(table) == mask+1.
	table []*Entry[T]
	// mask is len(table)-1 and is used to compute hash%len(table).
	mask uintptr
	// count is the number of entries in the registry.
	count int
	// maxCapacity bounds len(table) during growth.
	maxCapacity uintptr
}

// New constructs a new Registry with room for initialCapacity entries. The
// number of buckets is initialCapacity rounded up to a power of two; if
// initialCapacity is 0 or 1 the registry starts with a single bucket and
// grows on the first insert.
func New[T any](initialCapacity int, options ...option[T]) *Registry[T] {
	r := &Registry[T]{
		hash:        identityHash[T],
		seed:        randSeed(),
		allocator:   defaultAllocator[T]{},
		logger:      log.NewNopLogger(),
		maxCapacity: DefaultMaxCapacity,
	}

	for _, op := range options {
		op.apply(r)
	}

	capacity := nextCapacity(initialCapacity, r.maxCapacity)
	r.table = r.allocator.AllocBuckets(int(capacity))
	r.mask = capacity - 1
	r.metrics.addBuckets(int(capacity))

	r.checkInvariants()
	return r
}

// Close closes the registry, releasing the bucket array back to its
// configured allocator. It is unnecessary to close a registry using the
// default allocator and no shared Metrics. It is invalid to use a Registry
// after it has been closed, though Close itself is idempotent.
func (r *Registry[T]) Close() {
	if r.table != nil {
		clear(r.table)
		r.allocator.FreeBuckets(r.table)
		r.metrics.addEntries(-r.count)
		r.metrics.addBuckets(-len(r.table))
		r.table = nil
		r.mask = 0
		r.count = 0
	}

	r.allocator = nil
}

// Add inserts key with the specified id if key is not already present. It
// returns true if an entry was inserted. An existing entry is left untouched.
func (r *Registry[T]) Add(key *T, id int64) bool {
	i := r.bucket(key)
	for e := r.table[i]; e != nil; e = e.next {
		if e.key == key {
			return false
		}
	}
	r.insert(i, key, id)
	return true
}

// Put inserts key with the specified id, overwriting the id of an existing
// entry for the same key. It returns true if an entry was inserted and false
// if an existing entry was updated.
func (r *Registry[T]) Put(key *T, id int64) bool {
	i := r.bucket(key)
	for e := r.table[i]; e != nil; e = e.next {
		if e.key == key {
			e.id = id
			return false
		}
	}
	r.insert(i, key, id)
	return true
}

// Swap behaves like Put but returns the id previously associated with key.
// If key was not present, previous is 0 and loaded is false.
func (r *Registry[T]) Swap(key *T, id int64) (previous int64, loaded bool) {
	i := r.bucket(key)
	for e := r.table[i]; e != nil; e = e.next {
		if e.key == key {
			previous, e.id = e.id, id
			return previous, true
		}
	}
	r.insert(i, key, id)
	return 0, false
}

// Get retrieves the id for the specified key, returning ok=false if the key
// is not present. A nil key is looked up like any other.
func (r *Registry[T]) Get(key *T) (id int64, ok bool) {
	for e := r.table[r.bucket(key)]; e != nil; e = e.next {
		if e.key == key {
			return e.id, true
		}
	}
	return 0, false
}

// Lookup retrieves the id for the specified key, returning 0 if the key is
// not present. It returns ErrNilKey if key is nil.
func (r *Registry[T]) Lookup(key *T) (int64, error) {
	if key == nil {
		return 0, errors.WithStack(ErrNilKey)
	}
	id, _ := r.Get(key)
	return id, nil
}

// Keys returns the keys in the registry in unspecified order.
func (r *Registry[T]) Keys() []*T {
	return r.AppendKeys(make([]*T, 0, r.count))
}

// AppendKeys appends the keys in the registry to dst and returns the
// extended slice.
func (r *Registry[T]) AppendKeys(dst []*T) []*T {
	for _, head := range r.table {
		for e := head; e != nil; e = e.next {
			dst = append(dst, e.key)
		}
	}
	return dst
}

// IDs returns the ids in the registry in unspecified order.
func (r *Registry[T]) IDs() []int64 {
	return r.AppendIDs(make([]int64, 0, r.count))
}

// AppendIDs appends the ids in the registry to dst and returns the extended
// slice.
func (r *Registry[T]) AppendIDs(dst []int64) []int64 {
	for _, head := range r.table {
		for e := head; e != nil; e = e.next {
			dst = append(dst, e.id)
		}
	}
	return dst
}

// EachKey calls fn for each key in the registry and returns the number of
// keys visited. fn must not mutate the registry.
func (r *Registry[T]) EachKey(fn func(key *T)) int {
	var n int
	for _, head := range r.table {
		for e := head; e != nil; e = e.next {
			fn(e.key)
			n++
		}
	}
	return n
}

// EachID calls fn for each id in the registry and returns the number of ids
// visited. fn must not mutate the registry.
func (r *Registry[T]) EachID(fn func(id int64)) int {
	var n int
	for _, head := range r.table {
		for e := head; e != nil; e = e.next {
			fn(e.id)
			n++
		}
	}
	return n
}

// All calls yield sequentially for each key and id present in the registry.
// If yield returns false, iteration stops. The signature conforms to
// range-over-func:
//
//	for key, id := range r.All {
//	  fmt.Printf("%p: %d\n", key, id)
//	}
//
// The registry must not be mutated during iteration.
func (r *Registry[T]) All(yield func(key *T, id int64) bool) {
	for _, head := range r.table {
		for e := head; e != nil; e = e.next {
			if !yield(e.key, e.id) {
				return
			}
		}
	}
}

// Optimize resizes the table to the smallest power of two that holds the
// current entries, if that differs from the current size. The set of
// mappings is unchanged. It returns the number of entries.
func (r *Registry[T]) Optimize() int {
	if capacity := nextCapacity(r.count, r.maxCapacity); capacity != r.mask+1 {
		r.rebuild(capacity, "optimize")
	}
	return r.count
}

// Clear removes all entries from the registry. The bucket array is retained.
func (r *Registry[T]) Clear() {
	clear(r.table)
	r.metrics.addEntries(-r.count)
	level.Debug(r.logger).Log("msg", "cleared identity registry", "entries", r.count, "buckets", len(r.table))
	r.count = 0
	r.checkInvariants()
}

// Len returns the number of entries in the registry.
func (r *Registry[T]) Len() int {
	return r.count
}

// Empty returns true if the registry holds no entries.
func (r *Registry[T]) Empty() bool {
	return r.count == 0
}

// Capacity returns the number of buckets in the table. It is always a power
// of two.
func (r *Registry[T]) Capacity() int {
	return len(r.table)
}

// bucket returns the index of the bucket for key.
func (r *Registry[T]) bucket(key *T) uintptr {
	return r.hash(key, r.seed) & r.mask
}

// insert prepends a new entry for a key known not to be in the table to
// bucket i, growing the table if the load factor has reached 1.
func (r *Registry[T]) insert(i uintptr, key *T, id int64) {
	r.table[i] = &Entry[T]{id: id, key: key, next: r.table[i]}
	r.count++
	r.metrics.addEntries(1)
	if uintptr(r.count) >= r.mask && r.mask+1 < r.maxCapacity {
		r.rebuild(2*(r.mask+1), "grow")
	}
	r.checkInvariants()
}

// rebuild moves every entry into a new table with the specified number of
// buckets, which must be a power of two. Each old chain is walked front to
// back and its entries are prepended to their new chains, so the relative
// order of entries sharing a bucket is reversed.
func (r *Registry[T]) rebuild(capacity uintptr, reason string) {
	oldTable := r.table
	newMask := capacity - 1
	newTable := r.allocator.AllocBuckets(int(capacity))

	for i, e := range oldTable {
		for e != nil {
			next := e.next
			j := r.hash(e.key, r.seed) & newMask
			e.next = newTable[j]
			newTable[j] = e
			e = next
		}
		oldTable[i] = nil
	}

	r.table = newTable
	r.mask = newMask
	r.allocator.FreeBuckets(oldTable)

	r.metrics.observeRebuild(reason, len(newTable)-len(oldTable))
	level.Debug(r.logger).Log("msg", "rebuilt identity registry", "reason", reason,
		"from", len(oldTable), "to", len(newTable), "entries", r.count)
	r.checkInvariants()
}

// nextCapacity returns the smallest power of two >= requested, with a
// minimum of 1 and a maximum of limit. limit must be a power of two.
func nextCapacity(requested int, limit uintptr) uintptr {
	if requested <= 1 {
		return 1
	}
	if uint64(requested) >= uint64(limit) {
		return limit
	}
	return uintptr(1) << bits.Len(uint(requested-1))
}

func (r *Registry[T]) checkInvariants() {
	if invariants {
		capacity := uintptr(len(r.table))
		if capacity == 0 || capacity&(capacity-1) != 0 {
			panic(fmt.Sprintf("invariant failed: capacity %d is not a power of two\n%s", capacity, r.debugString()))
		}
		if r.mask != capacity-1 {
			panic(fmt.Sprintf("invariant failed: mask %d does not match capacity %d\n%s", r.mask, capacity, r.debugString()))
		}

		// Every entry must reside in the bucket its key hashes to, and no
		// key may appear twice.
		seen := make(map[*T]struct{}, r.count)
		var count int
		for i, head := range r.table {
			for e := head; e != nil; e = e.next {
				if j := r.bucket(e.key); j != uintptr(i) {
					panic(fmt.Sprintf("invariant failed: key %p in bucket %d, expected %d\n%s", e.key, i, j, r.debugString()))
				}
				if _, ok := seen[e.key]; ok {
					panic(fmt.Sprintf("invariant failed: duplicate key %p\n%s", e.key, r.debugString()))
				}
				seen[e.key] = struct{}{}
				count++
			}
		}
		if count != r.count {
			panic(fmt.Sprintf("invariant failed: found %d entries, but count is %d\n%s", count, r.count, r.debugString()))
		}
		// Growth keeps count <= mask; Optimize may leave count == mask+1.
		// Only a table capped at maxCapacity may hold more.
		if uintptr(r.count) > capacity && capacity < r.maxCapacity {
			panic(fmt.Sprintf("invariant failed: %d entries overload %d buckets\n%s", r.count, capacity, r.debugString()))
		}
	}
}

func (r *Registry[T]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  count=%d\n", len(r.table), r.count)
	for i, head := range r.table {
		if head == nil {
			continue
		}
		fmt.Fprintf(&buf, "  %4d:", i)
		for e := head; e != nil; e = e.next {
			fmt.Fprintf(&buf, " %p=%d", e.key, e.id)
		}
		buf.WriteString("\n")
	}
	return buf.String()
}
