// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package timeline

import (
	"math/big"
	"strings"

	"github.com/novywave/novywave-core/internal/waveform"
)

// FormatValue renders a transition value for display inside its rectangle
// using the variable's selected formatter. Special states always render as
// their state letter regardless of formatter, since "Z" formatted as hex
// is meaningless.
func FormatValue(v waveform.Value, f waveform.Formatter) string {
	if v.IsSpecial() {
		return v.Special.String()
	}
	bits := v.Bits
	if bits == "" {
		return ""
	}
	if !isBinary(bits) {
		// Real-number literals (VCD "r" changes) and anything else that
		// isn't a bitstring pass through untouched; re-encoding them would
		// invent precision the dump doesn't carry.
		return bits
	}

	switch f {
	case waveform.FormatterBin:
		return bits
	case waveform.FormatterBinGrouped4:
		return groupBits(bits, 4)
	case waveform.FormatterOct:
		return baseFromBits(bits, 8)
	case waveform.FormatterUnsigned:
		n := new(big.Int)
		n.SetString(bits, 2)
		return n.String()
	case waveform.FormatterSigned:
		return signedFromBits(bits)
	case waveform.FormatterASCII:
		return asciiFromBits(bits)
	default: // FormatterHex
		return baseFromBits(bits, 16)
	}
}

func isBinary(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] != '0' && s[i] != '1' {
			return false
		}
	}
	return true
}

// groupBits splits bits into groups of n, counted from the LSB end, so
// "101101" grouped by 4 reads "10 1101".
func groupBits(bits string, n int) string {
	var groups []string
	for len(bits) > n {
		groups = append([]string{bits[len(bits)-n:]}, groups...)
		bits = bits[:len(bits)-n]
	}
	groups = append([]string{bits}, groups...)
	return strings.Join(groups, " ")
}

func baseFromBits(bits string, base int) string {
	n := new(big.Int)
	n.SetString(bits, 2)
	return n.Text(base)
}

// signedFromBits interprets bits as a two's-complement integer of exactly
// len(bits) width.
func signedFromBits(bits string) string {
	n := new(big.Int)
	n.SetString(bits, 2)
	if bits[0] == '1' {
		shift := new(big.Int).Lsh(big.NewInt(1), uint(len(bits)))
		n.Sub(n, shift)
	}
	return n.String()
}

// asciiFromBits decodes the bitstring as a sequence of 8-bit characters,
// MSB-aligned, replacing unprintable bytes with '.'.
func asciiFromBits(bits string) string {
	if pad := len(bits) % 8; pad != 0 {
		bits = strings.Repeat("0", 8-pad) + bits
	}
	var sb strings.Builder
	for i := 0; i+8 <= len(bits); i += 8 {
		var b byte
		for j := 0; j < 8; j++ {
			b <<= 1
			if bits[i+j] == '1' {
				b |= 1
			}
		}
		if b >= 0x20 && b < 0x7f {
			sb.WriteByte(b)
		} else {
			sb.WriteByte('.')
		}
	}
	return sb.String()
}
