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

package fec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSingleLossPerGroupRecovers(t *testing.T) {
	t.Parallel()

	enc, err := NewXORCoder(Params{BlockSize: 4, Redundancy: 2})
	require.NoError(t, err)
	dec, err := NewXORCoder(Params{BlockSize: 4, Redundancy: 2})
	require.NoError(t, err)

	packets := [][]byte{
		[]byte("alpha"),
		[]byte("beta-longer-payload"),
		[]byte("g"),
		[]byte("delta!!"),
	}
	var indices []int
	for _, p := range packets {
		idx, err := enc.AddSource(p)
		require.NoError(t, err)
		indices = append(indices, idx)
	}

	var repairs [][]byte
	for {
		r, ok, err := enc.GenerateRepair()
		require.NoError(t, err)
		if !ok {
			break
		}
		repairs = append(repairs, r)
	}
	require.Len(t, repairs, 2)

	for _, r := range repairs {
		require.NoError(t, dec.OnRepair(r))
	}

	// Drop index[0] (group 0, paired with index[2]) and index[3] (group
	// 1, paired with index[1]); feed everything else.
	lost := map[int]bool{indices[0]: true, indices[3]: true}
	for i, idx := range indices {
		if lost[idx] {
			continue
		}
		require.NoError(t, dec.OnSource(packets[i], idx))
	}

	got0, ok := dec.Recover(indices[0])
	require.True(t, ok)
	require.Equal(t, packets[0], got0)

	got3, ok := dec.Recover(indices[3])
	require.True(t, ok)
	require.Equal(t, packets[3], got3)
}

func TestRecoverFailsWhenGroupHasTwoLosses(t *testing.T) {
	t.Parallel()

	enc, err := NewXORCoder(Params{BlockSize: 4, Redundancy: 1})
	require.NoError(t, err)
	dec, err := NewXORCoder(Params{BlockSize: 4, Redundancy: 1})
	require.NoError(t, err)

	var indices []int
	for _, p := range [][]byte{[]byte("a"), []byte("bb"), []byte("ccc"), []byte("dddd")} {
		idx, _ := enc.AddSource(p)
		indices = append(indices, idx)
	}
	r, ok, err := enc.GenerateRepair()
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, dec.OnRepair(r))

	// Feed two of four packets; two losses in a single redundancy=1
	// group (which spans the whole block) cannot be recovered.
	require.NoError(t, dec.OnSource([]byte("a"), indices[0]))
	require.NoError(t, dec.OnSource([]byte("ccc"), indices[2]))

	_, ok = dec.Recover(indices[1])
	require.False(t, ok)
}

func TestRecoverReturnsKnownSourceDirectly(t *testing.T) {
	t.Parallel()

	dec, err := NewXORCoder(DefaultParams())
	require.NoError(t, err)
	require.NoError(t, dec.OnSource([]byte("payload"), 42))

	got, ok := dec.Recover(42)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), got)
}

func TestScaleForLoss(t *testing.T) {
	t.Parallel()

	p := Params{BlockSize: 10, Redundancy: 1}
	require.Equal(t, 1, p.ScaleForLoss(0).Redundancy)
	require.Equal(t, 6, p.ScaleForLoss(0.5).Redundancy)
	require.Equal(t, 10, p.ScaleForLoss(1.0).Redundancy)
}

func TestScaleForEnergyEfficiency(t *testing.T) {
	t.Parallel()

	p := Params{BlockSize: 10, Redundancy: 8}
	require.Equal(t, 4, p.ScaleForEnergyEfficiency(0.5).Redundancy)
	require.Equal(t, 1, Params{BlockSize: 10, Redundancy: 1}.ScaleForEnergyEfficiency(0.1).Redundancy)
}

func TestNewXORCoderRejectsInvalidParams(t *testing.T) {
	t.Parallel()

	_, err := NewXORCoder(Params{BlockSize: 0, Redundancy: 1})
	require.Error(t, err)

	_, err = NewXORCoder(Params{BlockSize: 4, Redundancy: 5})
	require.Error(t, err)
}
