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

// StaticTable holds the fixed (name, value) pairs every QPACK endpoint
// agrees on without negotiation (spec §3, §4.3). The full IANA-assigned
// QPACK static table runs to 99 entries; this module carries the subset
// the masquerading pipeline (spec §4.8) actually emits — synthetic
// pseudo-headers and the cosmetic headers attached by fingerprint
// profiles. Index 2 is pinned to (":method", "GET") to match spec §8
// scenario 3 exactly (encoding the singleton list {(":method", "GET")}
// must yield the indexed byte 0xC2).
var StaticTable = []Field{
	{":authority", ""},
	{":path", "/"},
	{":method", "GET"},
	{":method", "POST"},
	{":scheme", "http"},
	{":scheme", "https"},
	{":status", "200"},
	{":status", "304"},
	{":status", "404"},
	{":status", "503"},
	{"accept", "*/*"},
	{"accept-encoding", "gzip, deflate, br"},
	{"accept-language", ""},
	{"access-control-allow-origin", "*"},
	{"cache-control", ""},
	{"content-encoding", ""},
	{"content-length", "0"},
	{"content-type", "application/octet-stream"},
	{"cookie", ""},
	{"date", ""},
	{"etag", ""},
	{"user-agent", ""},
	{"vary", "accept-encoding"},
	{"x-content-type-options", "nosniff"},
	{"x-frame-options", "deny"},
}

// staticIndexExact and staticIndexByName support encode-side lookups:
// prefer an exact (name, value) hit, then an exact name-only hit.
var (
	staticIndexExact = map[Field]int{}
	staticIndexByName = map[string]int{}
)

func init() {
	for i, f := range StaticTable {
		staticIndexExact[f] = i
		if _, ok := staticIndexByName[f.Name]; !ok {
			staticIndexByName[f.Name] = i
		}
	}
}
