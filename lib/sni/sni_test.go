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

package sni

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildClientHello constructs a minimal TLS 1.2-shaped ClientHello
// record carrying a single server_name extension for hostname, with no
// other extensions, for use as test fixtures.
func buildClientHello(hostname string) []byte {
	sniData := make([]byte, 0, 2+1+2+len(hostname))
	sniData = append(sniData, 0, 0) // server_name_list length, fixed up below
	sniData = append(sniData, nameTypeHostName)
	nameLen := make([]byte, 2)
	binary.BigEndian.PutUint16(nameLen, uint16(len(hostname)))
	sniData = append(sniData, nameLen...)
	sniData = append(sniData, []byte(hostname)...)
	listLen := 1 + 2 + len(hostname)
	binary.BigEndian.PutUint16(sniData[0:2], uint16(listLen))

	sniExt := make([]byte, 0, 4+len(sniData))
	sniExt = append(sniExt, 0x00, 0x00) // extension type: server_name
	extDataLen := make([]byte, 2)
	binary.BigEndian.PutUint16(extDataLen, uint16(len(sniData)))
	sniExt = append(sniExt, extDataLen...)
	sniExt = append(sniExt, sniData...)

	extBlockLen := make([]byte, 2)
	binary.BigEndian.PutUint16(extBlockLen, uint16(len(sniExt)))

	body := make([]byte, 0, 64)
	body = append(body, 0x03, 0x03) // client_version
	body = append(body, make([]byte, 32)...) // random
	body = append(body, 0x00)                // session_id length
	body = append(body, 0x00, 0x02)          // cipher_suites length
	body = append(body, 0x13, 0x01)          // one cipher suite
	body = append(body, 0x01)                // compression_methods length
	body = append(body, 0x00)                // null compression
	body = append(body, extBlockLen...)
	body = append(body, sniExt...)

	handshake := make([]byte, 0, 4+len(body))
	handshake = append(handshake, 0x01) // ClientHello
	hsLen := len(body)
	handshake = append(handshake, byte(hsLen>>16), byte(hsLen>>8), byte(hsLen))
	handshake = append(handshake, body...)

	record := make([]byte, 0, 5+len(handshake))
	record = append(record, 0x16, 0x03, 0x01) // handshake, TLS 1.0 record version
	recLen := make([]byte, 2)
	binary.BigEndian.PutUint16(recLen, uint16(len(handshake)))
	record = append(record, recLen...)
	record = append(record, handshake...)
	return record
}

func TestExtractHostnameRoundTrip(t *testing.T) {
	t.Parallel()

	ch := buildClientHello("example.com")
	got, err := ExtractHostname(ch)
	require.NoError(t, err)
	require.Equal(t, "example.com", got)

	has, err := HasSNI(ch)
	require.NoError(t, err)
	require.True(t, has)
}

func TestSplitMatchesScenario(t *testing.T) {
	t.Parallel()

	ch := buildClientHello("example.com")
	before, _ := parseRecord(ch)
	beforeRecordLen := binary.BigEndian.Uint16(ch[before.recordLengthOff : before.recordLengthOff+2])
	beforeHsLen := int(ch[before.handshakeLengthOff])<<16 | int(ch[before.handshakeLengthOff+1])<<8 | int(ch[before.handshakeLengthOff+2])

	split, err := Split(ch)
	require.NoError(t, err)

	layout, err := parseRecord(split)
	require.NoError(t, err)

	name := split[layout.sniNameStart:layout.sniNameEnd]
	require.Len(t, name, 12)
	require.Equal(t, 1, strings.Count(string(name), "\x00"))

	listLen := binary.BigEndian.Uint16(split[layout.sniListLengthOff : layout.sniListLengthOff+2])
	require.Equal(t, uint16(15), listLen)

	extDataLen := binary.BigEndian.Uint16(split[layout.sniExtDataLengthOff : layout.sniExtDataLengthOff+2])
	require.Equal(t, uint16(17), extDataLen)

	extBlockLen := binary.BigEndian.Uint16(split[layout.extBlockLengthOff : layout.extBlockLengthOff+2])
	beforeExtBlockLen := binary.BigEndian.Uint16(ch[before.extBlockLengthOff : before.extBlockLengthOff+2])
	require.Equal(t, beforeExtBlockLen+1, extBlockLen)

	afterHsLen := int(split[layout.handshakeLengthOff])<<16 | int(split[layout.handshakeLengthOff+1])<<8 | int(split[layout.handshakeLengthOff+2])
	require.Equal(t, beforeHsLen+1, afterHsLen)

	afterRecordLen := binary.BigEndian.Uint16(split[layout.recordLengthOff : layout.recordLengthOff+2])
	require.Equal(t, beforeRecordLen+1, afterRecordLen)
}

func TestOmitRemovesExtension(t *testing.T) {
	t.Parallel()

	ch := buildClientHello("example.com")
	omitted, err := Omit(ch)
	require.NoError(t, err)

	has, err := HasSNI(omitted)
	require.NoError(t, err)
	require.False(t, has)

	_, err = parseRecord(omitted) // still a structurally valid record
	require.NoError(t, err)
}

func TestFrontReplacesHostnameAndFixesLengths(t *testing.T) {
	t.Parallel()

	ch := buildClientHello("example.com")
	fronted, err := Front(ch, "cdn.front-provider.example")
	require.NoError(t, err)

	got, err := ExtractHostname(fronted)
	require.NoError(t, err)
	require.Equal(t, "cdn.front-provider.example", got)

	_, err = parseRecord(fronted)
	require.NoError(t, err)
}

func TestPadAddsPaddingExtensionAndFixesLengths(t *testing.T) {
	t.Parallel()

	ch := buildClientHello("example.com")
	before, _ := parseRecord(ch)
	beforeRecordLen := binary.BigEndian.Uint16(ch[before.recordLengthOff : before.recordLengthOff+2])

	padded, err := Pad(ch, 16)
	require.NoError(t, err)

	layout, err := parseRecord(padded)
	require.NoError(t, err)
	afterRecordLen := binary.BigEndian.Uint16(padded[layout.recordLengthOff : layout.recordLengthOff+2])
	require.Equal(t, beforeRecordLen+20, afterRecordLen) // 4-byte ext header + 16 bytes payload

	host, err := ExtractHostname(padded)
	require.NoError(t, err)
	require.Equal(t, "example.com", host)
}

func TestPadZeroIsNoop(t *testing.T) {
	t.Parallel()

	ch := buildClientHello("example.com")
	padded, err := Pad(ch, 0)
	require.NoError(t, err)
	require.Equal(t, ch, padded)
}
