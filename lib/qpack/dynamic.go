/*
Copyright 2026 The QuicFuscate Authors

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

package qpack

import "sync"

// DynamicTable is the insertion-ordered deque of entries shared by an
// encoder/decoder pair (spec §3). Entries are addressed by an absolute
// index assigned at insertion time (0, 1, 2, ...); eviction only ever
// removes from the front, so a surviving entry keeps its absolute index
// for its whole lifetime.
type DynamicTable struct {
	mu                 sync.Mutex
	capacity           int
	size               int
	entries            []Field
	insertCount        uint64
	knownReceivedCount uint64
}

// NewDynamicTable builds a table with the given starting capacity.
func NewDynamicTable(capacity int) *DynamicTable {
	return &DynamicTable{capacity: capacity}
}

// SetCapacity changes the table's capacity, evicting oldest entries
// until the new capacity is satisfied.
func (t *DynamicTable) SetCapacity(capacity int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.capacity = capacity
	t.evictLocked()
}

func (t *DynamicTable) evictLocked() {
	for t.size > t.capacity && len(t.entries) > 0 {
		oldest := t.entries[0]
		t.entries = t.entries[1:]
		t.size -= entrySize(oldest.Name, oldest.Value)
	}
}

// Insert adds a new entry as the newest, evicting oldest entries to
// make room. If the entry alone exceeds capacity it is silently
// dropped, but the insertion is still counted (spec §4.3: "the sender is
// still credited with an insertion").
func (t *DynamicTable) Insert(name, value string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	sz := entrySize(name, value)
	for t.size+sz > t.capacity && len(t.entries) > 0 {
		oldest := t.entries[0]
		t.entries = t.entries[1:]
		t.size -= entrySize(oldest.Name, oldest.Value)
	}

	idx := t.insertCount
	t.insertCount++
	if sz <= t.capacity {
		t.entries = append(t.entries, Field{Name: name, Value: value})
		t.size += sz
	}
	return idx
}

// Duplicate re-inserts a copy of the entry at the given absolute index
// as the newest entry (the DUPLICATE encoder-stream instruction).
func (t *DynamicTable) Duplicate(absoluteIndex uint64) (uint64, bool) {
	t.mu.Lock()
	f, ok := t.entryLocked(absoluteIndex)
	t.mu.Unlock()
	if !ok {
		return 0, false
	}
	return t.Insert(f.Name, f.Value), true
}

func (t *DynamicTable) entryLocked(absoluteIndex uint64) (Field, bool) {
	oldest := t.insertCount - uint64(len(t.entries))
	if absoluteIndex < oldest || absoluteIndex >= t.insertCount {
		return Field{}, false
	}
	return t.entries[absoluteIndex-oldest], true
}

// EntryByAbsolute looks up a still-live entry by its absolute index.
func (t *DynamicTable) EntryByAbsolute(absoluteIndex uint64) (Field, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entryLocked(absoluteIndex)
}

// InsertCount returns the total number of insertions ever performed.
func (t *DynamicTable) InsertCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertCount
}

// KnownReceivedCount returns how many insertions the remote encoder
// knows this decoder has observed (advanced by decoder-stream
// instructions: SECTION_ACK, INSERT_COUNT_INCREMENT).
func (t *DynamicTable) KnownReceivedCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.knownReceivedCount
}

// AdvanceKnownReceived bumps the known-received count, clamped at the
// current insert count.
func (t *DynamicTable) AdvanceKnownReceived(by uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.knownReceivedCount += by
	if t.knownReceivedCount > t.insertCount {
		t.knownReceivedCount = t.insertCount
	}
}

// Size and Capacity report current accounting for diagnostics/tests.
func (t *DynamicTable) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

func (t *DynamicTable) Capacity() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.capacity
}

// lookupExact finds an absolute index for an exact (name, value) or
// name-only hit, preferring exact matches; used by the encoder.
func (t *DynamicTable) lookupExact(name, value string) (idx uint64, exact bool, found bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	oldest := t.insertCount - uint64(len(t.entries))
	nameOnly, nameOnlyFound := uint64(0), false
	for i := len(t.entries) - 1; i >= 0; i-- {
		f := t.entries[i]
		abs := oldest + uint64(i)
		if f.Name == name && f.Value == value {
			return abs, true, true
		}
		if f.Name == name && !nameOnlyFound {
			nameOnly, nameOnlyFound = abs, true
		}
	}
	if nameOnlyFound {
		return nameOnly, false, true
	}
	return 0, false, false
}
