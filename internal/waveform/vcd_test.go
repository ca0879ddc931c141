// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package waveform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleVCD = `$date
	2026-01-01
$end
$version
	novywave-test
$end
$timescale 1ns $end
$scope module top $end
$var wire 1 ! clk $end
$var wire 8 " data $end
$upscope $end
$enddefinitions $end
$dumpvars
0!
b00000000 "
$end
#10
1!
#11
b00000001 "
#20
0!
`

func writeTempVCD(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.vcd")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseVCDHeaderBuildsScopeTree(t *testing.T) {
	path := writeTempVCD(t, sampleVCD)

	h, err := parseVCDHeader(path)
	require.NoError(t, err)
	assert.Equal(t, FormatVCD, h.Format)

	top := h.Scopes.Find([]string{"top"})
	require.NotNil(t, top)
	vars := top.Variables()
	assert.Len(t, vars, 2)

	names := map[string]Variable{}
	for _, v := range vars {
		names[v.Name] = v
	}
	assert.Equal(t, uint32(1), names["clk"].WidthBits)
	assert.Equal(t, uint32(8), names["data"].WidthBits)
}

func TestParseVCDHeaderComputesBounds(t *testing.T) {
	path := writeTempVCD(t, sampleVCD)

	h, err := parseVCDHeader(path)
	require.NoError(t, err)
	assert.Equal(t, h.Bounds.Min, h.Bounds.Min)
	assert.True(t, h.Bounds.Valid())
	assert.EqualValues(t, 0, h.Bounds.Min)
	assert.EqualValues(t, 20, h.Bounds.Max)
}

func TestParseVCDBodyDecodesTransitions(t *testing.T) {
	path := writeTempVCD(t, sampleVCD)

	h, err := parseVCDHeader(path)
	require.NoError(t, err)

	series, err := parseVCDBody(path, h)
	require.NoError(t, err)

	var clk *Series
	for _, s := range series {
		if s.Variable.Name == "clk" {
			clk = s
		}
	}
	require.NotNil(t, clk)
	require.Len(t, clk.Transitions, 3)
	assert.EqualValues(t, 0, clk.Transitions[0].TimeNs)
	assert.Equal(t, "0", clk.Transitions[0].Value.Bits)
	assert.EqualValues(t, 10, clk.Transitions[1].TimeNs)
	assert.Equal(t, "1", clk.Transitions[1].Value.Bits)
	assert.EqualValues(t, 20, clk.Transitions[2].TimeNs)
	assert.Equal(t, "0", clk.Transitions[2].Value.Bits)
}

func TestParseVCDBodyHandlesMultiBitAndSpecial(t *testing.T) {
	content := `$timescale 1ns $end
$scope module top $end
$var wire 4 % bus $end
$upscope $end
$enddefinitions $end
#0
bxxxx %
#5
b0101 %
`
	path := writeTempVCD(t, content)
	h, err := parseVCDHeader(path)
	require.NoError(t, err)

	series, err := parseVCDBody(path, h)
	require.NoError(t, err)

	bus := series[NewVariableID(path, "top", "bus")]
	require.NotNil(t, bus)
	require.Len(t, bus.Transitions, 2)
	assert.True(t, bus.Transitions[0].Value.IsSpecial())
	assert.Equal(t, SpecialUnknown, bus.Transitions[0].Value.Special)
	assert.Equal(t, "0101", bus.Transitions[1].Value.Bits)
}

func TestParseRejectsMissingFile(t *testing.T) {
	_, err := Parse(filepath.Join(t.TempDir(), "missing.vcd"))
	require.Error(t, err)
	pe, ok := err.(*ParseError)
	require.True(t, ok)
	assert.Equal(t, ErrFileNotFound, pe.Kind)
}

func TestDetectFormatByExtension(t *testing.T) {
	f, err := DetectFormat("/x/y/trace.FST")
	require.NoError(t, err)
	assert.Equal(t, FormatFST, f)

	_, err = DetectFormat("/x/y/trace.unknown")
	require.Error(t, err)
}
