// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package waveform

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendVarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

func fstBlock(blockType byte, payload []byte) []byte {
	out := []byte{blockType}
	var l [8]byte
	binary.BigEndian.PutUint64(l[:], uint64(len(payload))+9)
	out = append(out, l[:]...)
	return append(out, payload...)
}

// fstHeaderPayload builds a header block payload: start/end in native
// units (little endian) and the timescale exponent at offset 16.
func fstHeaderPayload(start, end uint64, exp int8) []byte {
	p := make([]byte, 24)
	binary.LittleEndian.PutUint64(p[0:8], start)
	binary.LittleEndian.PutUint64(p[8:16], end)
	p[16] = byte(exp)
	return p
}

// fstSampleHierarchy declares scope top with clk (1 bit, handle 1) and
// bus (4 bits, handle 2).
func fstSampleHierarchy() []byte {
	var h []byte
	h = append(h, fstTagScope)
	h = appendVarint(h, 0) // scope type
	h = append(h, "top\x00"...)
	h = append(h, "\x00"...) // component

	declare := func(name string, width uint64) {
		h = append(h, fstTagVarBegin)
		h = appendVarint(h, 0) // direction
		h = append(h, name...)
		h = append(h, 0)
		h = appendVarint(h, width)
		h = appendVarint(h, 0) // alias handle
	}
	declare("clk", 1)
	declare("bus", 4)

	h = append(h, fstTagUpscope)
	return h
}

// fstSampleChain records clk toggling at 0/10/20 and bus going unknown
// at 0 then settling at 11, all offsets relative to chain start 0.
func fstSampleChain() []byte {
	var v []byte
	v = append(v, make([]byte, 8)...) // chain start time 0
	v = appendVarint(v, 5)            // record count

	rec := func(handle, offset uint64, val string) {
		v = appendVarint(v, handle)
		v = appendVarint(v, offset)
		v = appendVarint(v, uint64(len(val)))
		v = append(v, val...)
	}
	rec(1, 0, "0")
	rec(2, 0, "xxxx")
	rec(1, 10, "1")
	rec(2, 11, "0101")
	rec(1, 20, "0")
	return v
}

func writeTempFST(t *testing.T, blocks ...[]byte) string {
	t.Helper()
	var data []byte
	for _, b := range blocks {
		data = append(data, b...)
	}
	path := filepath.Join(t.TempDir(), "sample.fst")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func sampleFST(t *testing.T) string {
	t.Helper()
	return writeTempFST(t,
		fstBlock(fstBlockHeader, fstHeaderPayload(0, 20, -9)),
		fstBlock(fstBlockHierarchy, fstSampleHierarchy()),
		fstBlock(fstBlockValueChain, fstSampleChain()),
	)
}

func TestParseFSTHeaderBuildsScopeTreeAndBounds(t *testing.T) {
	path := sampleFST(t)

	h, err := parseFSTHeader(path)
	require.NoError(t, err)
	assert.Equal(t, FormatFST, h.Format)
	assert.EqualValues(t, 0, h.Bounds.Min)
	assert.EqualValues(t, 20, h.Bounds.Max)

	top := h.Scopes.Find([]string{"top"})
	require.NotNil(t, top)
	vars := top.Variables()
	require.Len(t, vars, 2)
	assert.Equal(t, "clk", vars[0].Name)
	assert.Equal(t, uint32(1), vars[0].WidthBits)
	assert.Equal(t, "bus", vars[1].Name)
	assert.Equal(t, uint32(4), vars[1].WidthBits)
}

func TestParseFSTBodyDecodesValueChain(t *testing.T) {
	path := sampleFST(t)

	h, err := parseFSTHeader(path)
	require.NoError(t, err)
	series, err := parseFSTBody(path, h)
	require.NoError(t, err)

	clk := series[NewVariableID(path, "top", "clk")]
	require.NotNil(t, clk)
	require.Len(t, clk.Transitions, 3)
	assert.EqualValues(t, 0, clk.Transitions[0].TimeNs)
	assert.Equal(t, "0", clk.Transitions[0].Value.Bits)
	assert.EqualValues(t, 10, clk.Transitions[1].TimeNs)
	assert.Equal(t, "1", clk.Transitions[1].Value.Bits)
	assert.EqualValues(t, 20, clk.Transitions[2].TimeNs)

	bus := series[NewVariableID(path, "top", "bus")]
	require.NotNil(t, bus)
	require.Len(t, bus.Transitions, 2)
	assert.Equal(t, SpecialUnknown, bus.Transitions[0].Value.Special)
	assert.EqualValues(t, 11, bus.Transitions[1].TimeNs)
	assert.Equal(t, "0101", bus.Transitions[1].Value.Bits)
}

func TestParseFSTBodyRejectsPackedChains(t *testing.T) {
	path := writeTempFST(t,
		fstBlock(fstBlockHeader, fstHeaderPayload(0, 20, -9)),
		fstBlock(fstBlockHierarchy, fstSampleHierarchy()),
		fstBlock(fstBlockValuePacked, []byte{0xde, 0xad}),
	)

	h, err := parseFSTHeader(path)
	require.NoError(t, err, "the header pass skips blocks it does not need")

	_, err = parseFSTBody(path, h)
	require.Error(t, err)
	pe, ok := err.(*ParseError)
	require.True(t, ok)
	assert.Equal(t, ErrParseFailed, pe.Kind)
	assert.Contains(t, pe.Detail, "packed")
}

func TestParseFSTHeaderRejectsTruncatedHeaderBlock(t *testing.T) {
	path := writeTempFST(t, fstBlock(fstBlockHeader, make([]byte, 10)))

	_, err := parseFSTHeader(path)
	require.Error(t, err)
	pe, ok := err.(*ParseError)
	require.True(t, ok)
	assert.Equal(t, ErrParseFailed, pe.Kind)
}

func TestParseFSTBodyRejectsUndeclaredHandle(t *testing.T) {
	var v []byte
	v = append(v, make([]byte, 8)...)
	v = appendVarint(v, 1)
	v = appendVarint(v, 9) // only handles 1 and 2 are declared
	v = appendVarint(v, 0)
	v = appendVarint(v, 1)
	v = append(v, '0')

	path := writeTempFST(t,
		fstBlock(fstBlockHeader, fstHeaderPayload(0, 20, -9)),
		fstBlock(fstBlockHierarchy, fstSampleHierarchy()),
		fstBlock(fstBlockValueChain, v),
	)

	h, err := parseFSTHeader(path)
	require.NoError(t, err)
	_, err = parseFSTBody(path, h)
	require.Error(t, err)
}
