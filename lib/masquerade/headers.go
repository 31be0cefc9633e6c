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

package masquerade

import (
	"sort"

	"github.com/quicfuscate/quicsand/lib/fingerprint"
	"github.com/quicfuscate/quicsand/lib/qpack"
)

// Request describes the pseudo-headers synthesized for a newly opened
// request stream (spec §4.8: ":method", ":scheme", ":authority",
// ":path", plus browser-profile cosmetic headers).
type Request struct {
	Method    string
	Scheme    string
	Authority string
	Path      string

	// Front, when set, is the domain-fronting authority: the real host
	// that appears in ":authority" while the TLS SNI carries Front
	// instead (spec §4.8: "for fronting, :authority is the real host and
	// the SNI carries the front host"). Front itself is not placed in the
	// header list; it documents the intended wire shape for the caller
	// applying lib/sni.Front to the ClientHello.
	Front string
}

// SynthesizeHeaders builds the pseudo-header + cosmetic-header list for
// a request, shaped by the active fingerprint profile.
func SynthesizeHeaders(profile fingerprint.Profile, req Request) []qpack.Field {
	fields := []qpack.Field{
		{Name: ":method", Value: req.Method},
		{Name: ":scheme", Value: req.Scheme},
		{Name: ":authority", Value: req.Authority},
		{Name: ":path", Value: req.Path},
	}

	names := make([]string, 0, len(profile.CosmeticHeaders))
	for name := range profile.CosmeticHeaders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fields = append(fields, qpack.Field{Name: name, Value: profile.CosmeticHeaders[name]})
	}
	return fields
}
