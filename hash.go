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
	"encoding/binary"
	"math/rand/v2"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

type hashFn[T any] func(key *T, seed uintptr) uintptr

// identityHash hashes the address of key, never the value it points to. The
// Go heap does not move objects and a tracked key is kept reachable by the
// registry, so the address is stable for as long as the key is tracked.
//
// NB: the Go language permits pointers to distinct zero-size variables to be
// equal. Such pointers hash identically and are treated as a single key.
func identityHash[T any](key *T, seed uintptr) uintptr {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(uintptr(unsafe.Pointer(key))))
	binary.LittleEndian.PutUint64(buf[8:], uint64(seed))
	return uintptr(xxhash.Sum64(buf[:]))
}

func randSeed() uintptr {
	return uintptr(rand.Uint64())
}
