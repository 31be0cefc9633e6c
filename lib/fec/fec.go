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

// Package fec defines the block-coder interface the connection core
// consumes for forward error correction (spec §4.11, "external
// collaborator interface") plus a reference XOR-based implementation.
// The connection core treats FEC as a pluggable collaborator: any type
// satisfying Coder can replace the reference coder, including a
// Galois-field sliding-window coder for higher recovery ratios.
package fec

import (
	"encoding/binary"
	"sync"

	"github.com/quicfuscate/quicsand/lib/errkind"
)

// Coder is the interface the connection core drives FEC through (spec
// §4.11). Index values are absolute source-packet sequence numbers
// within the coder's lifetime, not positions within a single block.
type Coder interface {
	// AddSource buffers a source packet in the current block (encoder
	// side) and returns its assigned absolute index.
	AddSource(packet []byte) (index int, err error)

	// GenerateRepair emits one repair packet for the current block.
	// Repeatable up to the configured redundancy budget; returns
	// (nil, false, nil) once that budget is exhausted for the block.
	GenerateRepair() (repair []byte, ok bool, err error)

	// OnSource ingests a received source packet at the decoder side.
	OnSource(packet []byte, index int) error

	// OnRepair ingests a received repair packet at the decoder side.
	OnRepair(repair []byte) error

	// Recover returns a reconstructed source packet for index if
	// feasible from buffered sources and repairs, and whether recovery
	// succeeded.
	Recover(index int) (packet []byte, ok bool)
}

// Params configures an XORCoder.
type Params struct {
	// BlockSize is the upper bound for Redundancy and the base that
	// ScaleForLoss scales against. XORCoder does not cut blocks at
	// BlockSize packets: a block holds every source packet added since
	// the previous block's last repair was emitted.
	BlockSize int
	// Redundancy is the number of interleaved parity groups per block;
	// each group can recover exactly one missing packet from that
	// group, so higher redundancy tolerates more simultaneous losses
	// at the cost of one repair packet per group.
	Redundancy int
}

// DefaultParams returns a conservative starting point: an 8-packet
// block with 2 parity groups (one loss recoverable per 4 packets).
func DefaultParams() Params {
	return Params{BlockSize: 8, Redundancy: 2}
}

// ScaleForLoss adjusts redundancy in proportion to an observed loss
// rate in [0,1], within [1, BlockSize]. The connection core calls this
// as loss samples arrive (spec §4.11: "the connection core monitors
// observed loss rate and adjusts the target ratio").
func (p Params) ScaleForLoss(lossRate float64) Params {
	if lossRate < 0 {
		lossRate = 0
	}
	if lossRate > 1 {
		lossRate = 1
	}
	target := int(lossRate*float64(p.BlockSize)) + 1
	if target < 1 {
		target = 1
	}
	if target > p.BlockSize {
		target = p.BlockSize
	}
	p.Redundancy = target
	return p
}

// ScaleForEnergyEfficiency scales the redundancy down by factor (e.g.
// 0.5 halves it), clamped to at least 1 (spec §4.11: "in
// energy-efficient operating modes the ratio is scaled down by a fixed
// factor").
func (p Params) ScaleForEnergyEfficiency(factor float64) Params {
	if factor <= 0 || factor >= 1 {
		return p
	}
	scaled := int(float64(p.Redundancy) * factor)
	if scaled < 1 {
		scaled = 1
	}
	p.Redundancy = scaled
	return p
}

const lengthPrefixSize = 2

// XORCoder is a reference Coder: source packets are grouped into
// blocks that close once GenerateRepair has emitted `Redundancy`
// repairs, and within each block packets are assigned to `Redundancy`
// interleaved parity groups by their offset in the block modulo
// `Redundancy`; the
// repair packet for a group is the XOR of every length-prefixed,
// zero-padded source packet in that group, which lets the decoder
// recover any single missing packet per group by XOR-cancelling the
// known members out of the repair.
type XORCoder struct {
	params Params

	mu sync.Mutex

	// encoder side
	nextIndex        int
	blockSources     map[int][]byte // absolute index -> raw packet, current block only
	blockStart       int
	maxLen           int
	repairsEmitted   int

	// decoder side
	knownSources map[int][]byte
	repairGroups map[repairKey]repairEntry
}

type repairKey struct {
	blockStart int
	group      int
}

type repairEntry struct {
	members map[int][]byte // index -> packet, for members already known when the repair arrived or recovered later
	missing map[int]bool   // indices asserted to be part of the group but not yet known
	payload []byte         // XOR accumulator, length-prefixed/padded to maxLen+lengthPrefixSize
	maxLen  int
}

// NewXORCoder validates params and builds an XORCoder.
func NewXORCoder(params Params) (*XORCoder, error) {
	if params.BlockSize <= 0 {
		return nil, errkind.New(errkind.KindInvalidArgument, "fec: block size must be positive")
	}
	if params.Redundancy <= 0 || params.Redundancy > params.BlockSize {
		return nil, errkind.New(errkind.KindInvalidArgument, "fec: redundancy must be in [1, block size]")
	}
	return &XORCoder{
		params:       params,
		blockSources: make(map[int][]byte),
		knownSources: make(map[int][]byte),
		repairGroups: make(map[repairKey]repairEntry),
	}, nil
}

func padLengthPrefixed(packet []byte, maxLen int) []byte {
	out := make([]byte, lengthPrefixSize+maxLen)
	binary.BigEndian.PutUint16(out[:lengthPrefixSize], uint16(len(packet)))
	copy(out[lengthPrefixSize:], packet)
	return out
}

func xorInto(dst, src []byte) {
	for i := range dst {
		if i < len(src) {
			dst[i] ^= src[i]
		}
	}
}

// AddSource buffers packet in the current encoder-side block.
func (c *XORCoder) AddSource(packet []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.blockSources) == 0 {
		c.blockStart = c.nextIndex
		c.maxLen = 0
		c.repairsEmitted = 0
	}
	index := c.nextIndex
	c.nextIndex++
	c.blockSources[index] = append([]byte(nil), packet...)
	if len(packet) > c.maxLen {
		c.maxLen = len(packet)
	}

	if len(c.blockSources) >= c.params.BlockSize {
		// a block past BlockSize is not closed here; it keeps taking
		// packets until GenerateRepair has emitted all its repairs.
	}
	return index, nil
}

// groupMembers returns the indices in this block assigned to group.
func (c *XORCoder) groupMembers(group int) []int {
	var members []int
	for idx := range c.blockSources {
		if (idx-c.blockStart)%c.params.Redundancy == group {
			members = append(members, idx)
		}
	}
	return members
}

// GenerateRepair emits the next interleaved-parity repair packet for
// the current block. Wire format: groupID(2) blockStart(4) maxLen(2)
// memberCount(2) [memberIndex(4)]... payload(maxLen+2).
func (c *XORCoder) GenerateRepair() ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.blockSources) == 0 || c.repairsEmitted >= c.params.Redundancy {
		return nil, false, nil
	}
	group := c.repairsEmitted
	c.repairsEmitted++

	members := c.groupMembers(group)
	payload := make([]byte, lengthPrefixSize+c.maxLen)
	for _, idx := range members {
		xorInto(payload, padLengthPrefixed(c.blockSources[idx], c.maxLen))
	}

	out := make([]byte, 0, 2+4+2+2+4*len(members)+len(payload))
	out = appendUint16(out, uint16(group))
	out = appendUint32(out, uint32(c.blockStart))
	out = appendUint16(out, uint16(c.maxLen))
	out = appendUint16(out, uint16(len(members)))
	for _, idx := range members {
		out = appendUint32(out, uint32(idx))
	}
	out = append(out, payload...)

	if c.repairsEmitted >= c.params.Redundancy {
		c.blockSources = make(map[int][]byte)
	}
	return out, true, nil
}

func appendUint16(dst []byte, v uint16) []byte {
	return append(dst, byte(v>>8), byte(v))
}

func appendUint32(dst []byte, v uint32) []byte {
	return append(dst, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// OnSource records a received source packet at the given absolute
// index, and folds it into any repair group already buffered for that
// index so Recover can use it.
func (c *XORCoder) OnSource(packet []byte, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.knownSources[index] = append([]byte(nil), packet...)
	for key, entry := range c.repairGroups {
		if !entry.missing[index] {
			continue
		}
		delete(entry.missing, index)
		entry.members[index] = c.knownSources[index]
		c.repairGroups[key] = entry
	}
	return nil
}

// OnRepair parses and records a received repair packet.
func (c *XORCoder) OnRepair(repair []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(repair) < 10 {
		return errkind.New(errkind.KindFrameError, "fec: truncated repair header")
	}
	group := int(binary.BigEndian.Uint16(repair[0:2]))
	blockStart := int(binary.BigEndian.Uint32(repair[2:6]))
	maxLen := int(binary.BigEndian.Uint16(repair[6:8]))
	memberCount := int(binary.BigEndian.Uint16(repair[8:10]))

	off := 10
	if len(repair) < off+4*memberCount {
		return errkind.New(errkind.KindFrameError, "fec: truncated repair member list")
	}
	members := make([]int, memberCount)
	for i := 0; i < memberCount; i++ {
		members[i] = int(binary.BigEndian.Uint32(repair[off : off+4]))
		off += 4
	}
	payload := append([]byte(nil), repair[off:]...)
	if len(payload) != lengthPrefixSize+maxLen {
		return errkind.New(errkind.KindFrameError, "fec: repair payload length mismatch")
	}

	entry := repairEntry{
		members: make(map[int][]byte),
		missing: make(map[int]bool),
		payload: payload,
		maxLen:  maxLen,
	}
	for _, idx := range members {
		if known, ok := c.knownSources[idx]; ok {
			entry.members[idx] = known
		} else {
			entry.missing[idx] = true
		}
	}
	c.repairGroups[repairKey{blockStart: blockStart, group: group}] = entry
	return nil
}

// Recover attempts to reconstruct the source packet at index from any
// buffered repair group that names it as a member and has exactly one
// missing member (index itself).
func (c *XORCoder) Recover(index int) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if known, ok := c.knownSources[index]; ok {
		return known, true
	}

	for key, entry := range c.repairGroups {
		if len(entry.missing) != 1 || !entry.missing[index] {
			continue
		}
		recovered := append([]byte(nil), entry.payload...)
		for _, pkt := range entry.members {
			xorInto(recovered, padLengthPrefixed(pkt, entry.maxLen))
		}
		length := int(binary.BigEndian.Uint16(recovered[:lengthPrefixSize]))
		if length > entry.maxLen {
			continue // corrupt recovery, do not surface garbage
		}
		packet := recovered[lengthPrefixSize : lengthPrefixSize+length]
		c.knownSources[index] = packet
		delete(entry.missing, index)
		entry.members[index] = packet
		c.repairGroups[key] = entry
		return packet, true
	}
	return nil, false
}
