// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package timeline

import (
	"testing"

	"github.com/novywave/novywave-core/internal/waveform"
	"github.com/stretchr/testify/assert"
)

func TestFormatValueCoversEveryFormatter(t *testing.T) {
	v := waveform.Value{Bits: "11111011"} // 0xFB, 251, -5 as signed 8-bit

	tests := []struct {
		name string
		f    waveform.Formatter
		want string
	}{
		{"hex", waveform.FormatterHex, "fb"},
		{"bin", waveform.FormatterBin, "11111011"},
		{"bin_grouped_4", waveform.FormatterBinGrouped4, "1111 1011"},
		{"oct", waveform.FormatterOct, "373"},
		{"unsigned", waveform.FormatterUnsigned, "251"},
		{"signed", waveform.FormatterSigned, "-5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(v, tt.f))
		})
	}
}

func TestFormatValueASCII(t *testing.T) {
	// "Hi" = 0x48 0x69
	v := waveform.Value{Bits: "0100100001101001"}
	assert.Equal(t, "Hi", FormatValue(v, waveform.FormatterASCII))

	// Unprintable bytes become dots.
	nul := waveform.Value{Bits: "00000000"}
	assert.Equal(t, ".", FormatValue(nul, waveform.FormatterASCII))
}

func TestFormatValueSignedGrouping(t *testing.T) {
	// Ungrouped widths pad from the MSB side: 6 bits grouped by 4 reads
	// "10 1101", not "1011 01".
	v := waveform.Value{Bits: "101101"}
	assert.Equal(t, "10 1101", FormatValue(v, waveform.FormatterBinGrouped4))

	// A positive signed value stays positive.
	pos := waveform.Value{Bits: "0101"}
	assert.Equal(t, "5", FormatValue(pos, waveform.FormatterSigned))
}

func TestFormatValueSpecialStatesIgnoreFormatter(t *testing.T) {
	for _, f := range []waveform.Formatter{waveform.FormatterHex, waveform.FormatterASCII, waveform.FormatterSigned} {
		assert.Equal(t, "Z", FormatValue(waveform.Value{Special: waveform.SpecialHighZ}, f))
		assert.Equal(t, "X", FormatValue(waveform.Value{Special: waveform.SpecialUnknown}, f))
		assert.Equal(t, "U", FormatValue(waveform.Value{Special: waveform.SpecialUninitialized}, f))
		assert.Equal(t, "N/A", FormatValue(waveform.Value{Special: waveform.SpecialNoData}, f))
	}
}

func TestFormatValuePassesRealLiteralsThrough(t *testing.T) {
	v := waveform.Value{Bits: "3.14"}
	assert.Equal(t, "3.14", FormatValue(v, waveform.FormatterHex))
}
