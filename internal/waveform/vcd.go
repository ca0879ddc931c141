// Copyright (C) NovyWave contributors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package waveform

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/novywave/novywave-core/pkg/wavetime"
)

// VCD (Value Change Dump, IEEE 1364) parsing: a whitespace-tokenized,
// scan-token-then-dispatch decoder built on the standard library.

// parseVCDHeader scans the declarations section (everything up to and
// including "$enddefinitions $end") and builds the scope tree. It does not
// touch the value-change section.
func parseVCDHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, &ParseError{Kind: ErrParseFailed, Path: path, Detail: err.Error()}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	scanner.Split(bufio.ScanWords)

	root := NewScopeTree(path)
	var scopeStack []string
	timescale := Timescale{UnitPerNs: 1, Label: "1ns"}

	next := func() (string, bool) {
		if scanner.Scan() {
			return scanner.Text(), true
		}
		return "", false
	}

	skipToEnd := func() {
		for {
			tok, ok := next()
			if !ok || tok == "$end" {
				return
			}
		}
	}

	for {
		tok, ok := next()
		if !ok {
			break
		}
		switch tok {
		case "$date", "$version", "$comment":
			skipToEnd()
		case "$timescale":
			var parts []string
			for {
				t, ok := next()
				if !ok || t == "$end" {
					break
				}
				parts = append(parts, t)
			}
			ts, err := parseVCDTimescale(strings.Join(parts, " "))
			if err == nil {
				timescale = ts
			}
		case "$scope":
			next() // scope type: module/task/function/...
			name, ok := next()
			if !ok {
				return Header{}, &ParseError{Kind: ErrParseFailed, Path: path, Detail: "truncated $scope"}
			}
			scopeStack = append(scopeStack, name)
			skipToEnd()
		case "$upscope":
			if len(scopeStack) > 0 {
				scopeStack = scopeStack[:len(scopeStack)-1]
			}
			skipToEnd()
		case "$var":
			varType, ok := next()
			if !ok {
				return Header{}, &ParseError{Kind: ErrParseFailed, Path: path, Detail: "truncated $var"}
			}
			sizeStr, _ := next()
			id, _ := next()
			name, ok := next()
			if !ok {
				return Header{}, &ParseError{Kind: ErrParseFailed, Path: path, Detail: "truncated $var"}
			}
			// Optional bit-range/index tokens (e.g. "[7:0]") precede $end.
			for {
				t, ok := next()
				if !ok || t == "$end" {
					break
				}
				name += t
			}
			width, _ := strconv.ParseUint(sizeStr, 10, 32)
			scopePath := strings.Join(scopeStack, ".")
			vid := NewVariableID(path, scopePath, name)
			node := root.FindOrCreate(scopeStack)
			node.AddVariable(Variable{
				ID:        vid,
				Name:      name,
				ScopePath: scopePath,
				WidthBits: uint32(width),
				TypeLabel: varType,
			})
			_ = id // id->variable mapping is rebuilt during body parse (needs scope context again)
		case "$enddefinitions":
			skipToEnd()
			bounds := scanVCDBounds(scanner, timescale)
			return Header{
				CanonicalPath: path,
				Format:        FormatVCD,
				Scopes:        root,
				Bounds:        bounds,
				Timescale:     timescale,
			}, nil
		default:
			// Unknown/ignored declaration command; be lenient.
		}
	}

	return Header{}, &ParseError{Kind: ErrParseFailed, Path: path, Detail: "missing $enddefinitions"}
}

// scanVCDBounds consumes the rest of an already-open scanner (positioned
// just past "$enddefinitions $end") looking only for "#<n>" time markers,
// so the header pass can report Bounds without decoding every value change.
func scanVCDBounds(scanner *bufio.Scanner, ts Timescale) Bounds {
	var b Bounds
	// The initial $dumpvars section (if present) implicitly occurs at
	// time 0, even though no "#0" marker appears in the file.
	first := false
	for scanner.Scan() {
		tok := scanner.Text()
		if len(tok) < 2 || tok[0] != '#' {
			continue
		}
		n, err := strconv.ParseUint(tok[1:], 10, 64)
		if err != nil {
			continue
		}
		t := wavetime.TimeNs(float64(n) * ts.UnitPerNs)
		if first {
			b.Min, b.Max = t, t
			first = false
			continue
		}
		if t < b.Min {
			b.Min = t
		}
		if t > b.Max {
			b.Max = t
		}
	}
	return b
}

func parseVCDTimescale(s string) (Timescale, error) {
	s = strings.TrimSpace(s)
	var numStr, unit string
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9') {
		i++
	}
	numStr, unit = s[:i], strings.TrimSpace(s[i:])
	if numStr == "" {
		numStr = "1"
	}
	n, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return Timescale{}, err
	}
	var unitNs float64
	switch unit {
	case "s":
		unitNs = 1e9
	case "ms":
		unitNs = 1e6
	case "us":
		unitNs = 1e3
	case "ns":
		unitNs = 1
	case "ps":
		unitNs = 1e-3
	case "fs":
		unitNs = 1e-6
	default:
		unitNs = 1
	}
	return Timescale{UnitPerNs: n * unitNs, Label: s}, nil
}

// parseVCDBody re-scans the whole file (declarations are cheap to skip a
// second time) and decodes the value-change section into per-variable
// transition vectors, converting to nanoseconds exactly once using the
// timescale recorded in the header.
func parseVCDBody(path string, h Header) (map[VariableID]*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Kind: ErrParseFailed, Path: path, Detail: err.Error()}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	scanner.Split(bufio.ScanWords)

	// Rebuild id -> VariableID by re-walking declarations the same way the
	// header pass did, so both passes agree even if called independently.
	idToVar := map[string]VariableID{}
	var scopeStack []string
	inDefs := true

	series := map[VariableID]*Series{}

	var curTime wavetime.TimeNs

	recordTransition := func(vid VariableID, val Value) {
		s := series[vid]
		if s == nil {
			return
		}
		n := len(s.Transitions)
		if n > 0 && s.Transitions[n-1].TimeNs == curTime {
			s.Transitions[n-1].Value = val
			return
		}
		s.Transitions = append(s.Transitions, Transition{TimeNs: curTime, Value: val})
	}

	next := func() (string, bool) {
		if scanner.Scan() {
			return scanner.Text(), true
		}
		return "", false
	}
	skipToEnd := func() {
		for {
			tok, ok := next()
			if !ok || tok == "$end" {
				return
			}
		}
	}

	for {
		tok, ok := next()
		if !ok {
			break
		}
		if inDefs {
			switch tok {
			case "$date", "$version", "$comment", "$timescale":
				skipToEnd()
				continue
			case "$scope":
				next()
				name, _ := next()
				scopeStack = append(scopeStack, name)
				skipToEnd()
				continue
			case "$upscope":
				if len(scopeStack) > 0 {
					scopeStack = scopeStack[:len(scopeStack)-1]
				}
				skipToEnd()
				continue
			case "$var":
				varType, _ := next()
				_ = varType
				sizeStr, _ := next()
				id, _ := next()
				name, _ := next()
				for {
					t, ok := next()
					if !ok || t == "$end" {
						break
					}
					name += t
				}
				width, _ := strconv.ParseUint(sizeStr, 10, 32)
				scopePath := strings.Join(scopeStack, ".")
				vid := NewVariableID(path, scopePath, name)
				idToVar[id] = vid
				series[vid] = &Series{Variable: Variable{ID: vid, Name: name, ScopePath: scopePath, WidthBits: uint32(width)}}
				continue
			case "$enddefinitions":
				skipToEnd()
				inDefs = false
				continue
			default:
				continue
			}
		}

		switch {
		case strings.HasPrefix(tok, "#"):
			n, err := strconv.ParseUint(tok[1:], 10, 64)
			if err != nil {
				continue
			}
			curTime = wavetime.TimeNs(float64(n) * h.Timescale.UnitPerNs)
		case tok == "$dumpvars", tok == "$dumpon", tok == "$dumpoff", tok == "$dumpall":
			// Markers only; values follow as ordinary change tokens.
		case tok == "$end":
			// closes $dumpvars etc.
		case strings.HasPrefix(tok, "b") || strings.HasPrefix(tok, "B"):
			bits := tok[1:]
			id, ok := next()
			if !ok {
				continue
			}
			vid, ok := idToVar[id]
			if !ok {
				continue
			}
			recordTransition(vid, logicValue(bits))
		case strings.HasPrefix(tok, "r") || strings.HasPrefix(tok, "R"):
			real := tok[1:]
			id, ok := next()
			if !ok {
				continue
			}
			vid, ok := idToVar[id]
			if !ok {
				continue
			}
			recordTransition(vid, Value{Bits: real})
		default:
			// Scalar change: single value character immediately followed by
			// the identifier, no space, e.g. "1!" or "x#".
			if len(tok) < 2 {
				continue
			}
			valCh, id := tok[0], tok[1:]
			vid, ok := idToVar[id]
			if !ok {
				continue
			}
			recordTransition(vid, decodeVCDScalar(valCh))
		}
	}

	for vid, s := range series {
		if len(s.Transitions) == 0 {
			delete(series, vid)
		}
	}

	return series, nil
}

func decodeVCDScalar(c byte) Value {
	switch c {
	case '0', '1':
		return Value{Bits: string(c)}
	case 'x', 'X':
		return Value{Special: SpecialUnknown}
	case 'z', 'Z':
		return Value{Special: SpecialHighZ}
	default:
		return Value{Special: SpecialUnknown}
	}
}

