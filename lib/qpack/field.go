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

// Package qpack implements the HTTP/3 header-compression scheme used by
// the masquerading pipeline (spec §4.3): a static table, an
// insertion-ordered dynamic table shared between encoder and decoder
// streams, and RFC 7541 Huffman string coding.
package qpack

// Field is a single (name, value) header field.
type Field struct {
	Name  string
	Value string
}

// entryOverhead is the fixed per-entry accounting overhead (spec §3:
// "each with a 32-byte-per-entry overhead for size accounting").
const entryOverhead = 32

func entrySize(name, value string) int {
	return len(name) + len(value) + entryOverhead
}
