// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package waveform holds the data model for ingested waveform files:
// format, scope hierarchy, variables, transitions, and signal series.
package waveform

import (
	"fmt"
	"sort"

	"github.com/novywave/novywave-core/pkg/wavetime"
)

// Format is the waveform file format.
type Format int

const (
	FormatVCD Format = iota
	FormatFST
	FormatGHW
)

func (f Format) String() string {
	switch f {
	case FormatVCD:
		return "vcd"
	case FormatFST:
		return "fst"
	case FormatGHW:
		return "ghw"
	default:
		return "unknown"
	}
}

// State is the file's ingest lifecycle: Parsing -> HeaderLoaded ->
// BodyLoaded, with Error reachable from any of them; a reload returns
// the file to Parsing.
type State int

const (
	StateParsing State = iota
	StateHeaderLoaded
	StateBodyLoaded
	StateError
)

func (s State) String() string {
	switch s {
	case StateParsing:
		return "parsing"
	case StateHeaderLoaded:
		return "header_loaded"
	case StateBodyLoaded:
		return "body_loaded"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Value is a signal's logical value at a transition: either a bitstring or
// one of the closed set of special states.
type Value struct {
	Special SpecialState // SpecialNone if Bits holds a real value
	Bits    string       // logical bitstring, MSB first, e.g. "1011"
}

// SpecialState is the closed sum of non-binary logic values.
type SpecialState int

const (
	SpecialNone SpecialState = iota // Bits holds an ordinary value
	SpecialHighZ
	SpecialUnknown
	SpecialUninitialized
	SpecialNoData
)

func (s SpecialState) String() string {
	switch s {
	case SpecialHighZ:
		return "Z"
	case SpecialUnknown:
		return "X"
	case SpecialUninitialized:
		return "U"
	case SpecialNoData:
		return "N/A"
	default:
		return ""
	}
}

// IsSpecial reports whether v holds a dominant special state that must
// never be collapsed away by downsampling.
func (v Value) IsSpecial() bool { return v.Special != SpecialNone }

func (v Value) String() string {
	if v.IsSpecial() {
		return v.Special.String()
	}
	return v.Bits
}

// logicValue classifies a textual bit literal: any 'x' makes the whole
// sample Unknown, else any 'z' HighZ, else any 'u' Uninitialized,
// otherwise an ordinary bitstring. Downstream consumers care whether a
// sample is special, not which individual bit is.
func logicValue(bits string) Value {
	hasX, hasZ, hasU := false, false, false
	for _, c := range bits {
		switch c {
		case 'x', 'X':
			hasX = true
		case 'z', 'Z':
			hasZ = true
		case 'u', 'U':
			hasU = true
		}
	}
	switch {
	case hasX:
		return Value{Special: SpecialUnknown}
	case hasZ:
		return Value{Special: SpecialHighZ}
	case hasU:
		return Value{Special: SpecialUninitialized}
	}
	return Value{Bits: bits}
}

// Transition is a single (time, value) sample of one variable.
type Transition struct {
	TimeNs wavetime.TimeNs
	Value  Value
}

// normalizeTransitions sorts ts ascending by time and collapses
// same-instant duplicates, keeping the last value recorded for any
// instant. Decoders whose input interleaves per-signal streams use this
// to restore the strict ordering a Series guarantees.
func normalizeTransitions(ts []Transition) []Transition {
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].TimeNs < ts[j].TimeNs })
	out := ts[:0]
	for _, t := range ts {
		if n := len(out); n > 0 && out[n-1].TimeNs == t.TimeNs {
			out[n-1].Value = t.Value
			continue
		}
		out = append(out, t)
	}
	return out
}

// VariableID uniquely identifies a variable across reloads:
// "file|scope_path|variable_name".
type VariableID string

// NewVariableID builds the canonical identity string for a variable.
func NewVariableID(canonicalPath, scopePath, name string) VariableID {
	return VariableID(fmt.Sprintf("%s|%s|%s", canonicalPath, scopePath, name))
}

// CanonicalPath extracts the file portion of a "file|scope_path|name"
// VariableID.
func (id VariableID) CanonicalPath() string {
	s := string(id)
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			return s[:i]
		}
	}
	return s
}

// Variable describes one signal within a scope.
type Variable struct {
	ID        VariableID
	Name      string
	ScopePath string
	WidthBits uint32
	TypeLabel string
}

// Bounds is the [Min, Max] time extent of a file, or the union of several.
type Bounds struct {
	Min wavetime.TimeNs
	Max wavetime.TimeNs
}

// Union returns the smallest bounds containing both b and other.
func (b Bounds) Union(other Bounds) Bounds {
	out := b
	if other.Min < out.Min {
		out.Min = other.Min
	}
	if other.Max > out.Max {
		out.Max = other.Max
	}
	return out
}

// Valid reports whether Min <= Max.
func (b Bounds) Valid() bool { return b.Min <= b.Max }

// Timescale is the file's native time unit, recorded only for diagnostics;
// every parser converts to nanoseconds once at ingest, so nothing
// downstream ever re-interprets it.
type Timescale struct {
	UnitPerNs float64
	Label     string // e.g. "1ns", "10ps", as found in the source file
}

// Formatter is how a selected variable's value is rendered.
type Formatter int

const (
	FormatterHex Formatter = iota // default
	FormatterBin
	FormatterOct
	FormatterSigned
	FormatterUnsigned
	FormatterASCII
	FormatterBinGrouped4
)
